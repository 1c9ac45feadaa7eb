package am

import (
	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/trans"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Channel capacity: 0 = rowset default, negative = invalid (per-hop unbounded
	// queues are declared on the hop, not globally)
	if c.Engine.ChannelCapacity < 0 {
		return errors.Newf("engine.channel_capacity must be >= 0, got %d", c.Engine.ChannelCapacity)
	}
	if c.Engine.PutTimeoutMS < 0 {
		return errors.Newf("engine.put_timeout_ms must be >= 0, got %d", c.Engine.PutTimeoutMS)
	}
	if _, ok := trans.ParseFailurePolicy(c.Engine.FailurePolicy); !ok {
		return errors.WithHint(
			errors.Newf("engine.failure_policy %q is not a failure policy", c.Engine.FailurePolicy),
			"use global or isolated")
	}
	if c.Engine.MaxLoopIterations < 0 {
		return errors.Newf("engine.max_loop_iterations must be >= 0, got %d", c.Engine.MaxLoopIterations)
	}
	if c.Engine.StopTimeoutSeconds < 0 {
		return errors.Newf("engine.stop_timeout_seconds must be >= 0, got %d", c.Engine.StopTimeoutSeconds)
	}
	// Nesting depth: 0 = entries.DefaultMaxNestingDepth
	if c.Engine.MaxNestingDepth < 0 {
		return errors.Newf("engine.max_nesting_depth must be >= 0, got %d", c.Engine.MaxNestingDepth)
	}

	if c.Database.HistoryEnabled && c.Database.Path == "" {
		return errors.WithHint(
			errors.New("database.path cannot be empty while history is enabled"),
			"set database.path or history_enabled = false")
	}

	if c.Log.Verbosity < 0 {
		return errors.Newf("log.verbosity must be >= 0, got %d", c.Log.Verbosity)
	}

	return nil
}

package am

import (
	"time"

	"github.com/teranos/weir/trans"
)

// File permissions for config files and the ~/.weir directory.
const (
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)

// Config represents the weir configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine" toml:"engine" json:"engine" yaml:"engine"`
	Database DatabaseConfig `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Log      LogConfig      `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
}

// EngineConfig tunes transformation and job runs.
type EngineConfig struct {
	ChannelCapacity    int    `mapstructure:"channel_capacity" toml:"channel_capacity" json:"channel_capacity" yaml:"channel_capacity"`
	PutTimeoutMS       int    `mapstructure:"put_timeout_ms" toml:"put_timeout_ms" json:"put_timeout_ms" yaml:"put_timeout_ms"` // 0 = wait forever
	FailurePolicy      string `mapstructure:"failure_policy" toml:"failure_policy" json:"failure_policy" yaml:"failure_policy"`
	MaxLoopIterations  int    `mapstructure:"max_loop_iterations" toml:"max_loop_iterations" json:"max_loop_iterations" yaml:"max_loop_iterations"` // 0 = unlimited
	StopTimeoutSeconds int    `mapstructure:"stop_timeout_seconds" toml:"stop_timeout_seconds" json:"stop_timeout_seconds" yaml:"stop_timeout_seconds"`
	MaxNestingDepth    int    `mapstructure:"max_nesting_depth" toml:"max_nesting_depth" json:"max_nesting_depth" yaml:"max_nesting_depth"`
}

// DatabaseConfig configures the SQLite run history.
type DatabaseConfig struct {
	Path           string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
	HistoryEnabled bool   `mapstructure:"history_enabled" toml:"history_enabled" json:"history_enabled" yaml:"history_enabled"`
	// DataPath is the database table_input and table_output work on. Empty
	// means the history database at Path.
	DataPath string `mapstructure:"data_path" toml:"data_path" json:"data_path" yaml:"data_path"`
}

// DataDatabase returns the database file the table steps use, or "" when
// there is none.
func (d DatabaseConfig) DataDatabase() string {
	if d.DataPath != "" {
		return d.DataPath
	}
	if d.HistoryEnabled {
		return d.Path
	}
	return ""
}

// LogConfig configures the process logger.
type LogConfig struct {
	JSON      bool `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
	Verbosity int  `mapstructure:"verbosity" toml:"verbosity" json:"verbosity" yaml:"verbosity"`
}

// PutTimeout is put_timeout_ms as a duration.
func (e EngineConfig) PutTimeout() time.Duration {
	return time.Duration(e.PutTimeoutMS) * time.Millisecond
}

// StopTimeout is how long the CLI waits for a stopped run to wind down.
func (e EngineConfig) StopTimeout() time.Duration {
	return time.Duration(e.StopTimeoutSeconds) * time.Second
}

// TransOptions maps the engine settings onto graph options. Logger and
// hooks are left for the caller.
func (e EngineConfig) TransOptions() trans.Options {
	policy, ok := trans.ParseFailurePolicy(e.FailurePolicy)
	if !ok {
		policy = trans.FailGlobal
	}
	return trans.Options{
		ChannelCapacity: e.ChannelCapacity,
		PutTimeout:      e.PutTimeout(),
		FailurePolicy:   policy,
	}
}

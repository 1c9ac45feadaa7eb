// Package entries provides the built-in job entry kinds.
//
// Control-flow kinds (start, success, abort, dummy, log, delay) act on the
// incoming result. The transformation and job kinds load another definition
// and drive it through a job.Runner, so the nested outcome becomes the
// entry's result and Stop on the parent job reaches the nested run.
package entries

import (
	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/trans"
)

// Type ids of the built-in entries.
const (
	TypeStart          = "start"
	TypeSuccess        = "success"
	TypeAbort          = "abort"
	TypeDummy          = "dummy"
	TypeLog            = "log"
	TypeDelay          = "delay"
	TypeTransformation = "transformation"
	TypeJob            = "job"
)

// DefaultMaxNestingDepth bounds job-in-job recursion when Env leaves it unset.
const DefaultMaxNestingDepth = 16

// Loader resolves the definition files nested entries refer to.
type Loader interface {
	LoadTransformation(path string) (*trans.Meta, error)
	LoadJob(path string) (*job.Meta, error)
}

// Env carries what nested entries need to build their runs.
type Env struct {
	// Steps resolves the step types of nested transformations.
	Steps  *trans.Registry
	Loader Loader

	// Trans is the template for nested transformation options. Logger,
	// Hooks, ParentRunID, PreviousResult, and Nested are set per run.
	Trans trans.Options

	MaxLoopIterations int
	// MaxNestingDepth is the deepest job nesting allowed. Zero means
	// DefaultMaxNestingDepth.
	MaxNestingDepth int
}

// RegisterBuiltins registers every built-in entry kind on reg. Nested jobs
// resolve their entries from reg as well.
func RegisterBuiltins(reg *job.Registry, env Env) {
	if env.Steps == nil {
		env.Steps = trans.NewRegistry()
	}
	if env.MaxNestingDepth == 0 {
		env.MaxNestingDepth = DefaultMaxNestingDepth
	}

	reg.Register(TypeStart, func(cfg job.Config) (job.Entry, error) { return newStart(cfg) })
	reg.Register(TypeSuccess, func(job.Config) (job.Entry, error) { return success{}, nil })
	reg.Register(TypeAbort, newAbort)
	reg.Register(TypeDummy, func(job.Config) (job.Entry, error) { return dummy{}, nil })
	reg.Register(TypeLog, newLog)
	reg.Register(TypeDelay, newDelay)
	reg.Register(TypeTransformation, func(cfg job.Config) (job.Entry, error) { return newTransformation(cfg, env) })
	reg.Register(TypeJob, func(cfg job.Config) (job.Entry, error) { return newNestedJob(cfg, env, reg) })
}

func decode(cfg job.Config, v any) error {
	if cfg == nil {
		return nil
	}
	return errors.Wrap(cfg.Decode(v), "decode settings")
}

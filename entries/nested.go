package entries

import (
	"context"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/result"
	"github.com/teranos/weir/trans"
)

// NestedSettings name the definition file a nested entry runs.
type NestedSettings struct {
	File string `yaml:"file" toml:"file"`
}

func decodeNested(cfg job.Config, env Env) (NestedSettings, error) {
	var settings NestedSettings
	if err := decode(cfg, &settings); err != nil {
		return settings, err
	}
	if settings.File == "" {
		return settings, errors.New("nested entry needs a file")
	}
	if env.Loader == nil {
		return settings, errors.New("nested entries need a definition loader")
	}
	return settings, nil
}

// transformation runs a transformation definition as one entry.
type transformation struct {
	settings NestedSettings
	env      Env
}

func newTransformation(cfg job.Config, env Env) (job.Entry, error) {
	settings, err := decodeNested(cfg, env)
	if err != nil {
		return nil, err
	}
	return &transformation{settings: settings, env: env}, nil
}

func (t *transformation) Execute(ctx context.Context, p job.Parent, prev *result.Result, nr int) (*result.Result, error) {
	meta, err := t.env.Loader.LoadTransformation(t.settings.File)
	if err != nil {
		return nil, errors.Wrapf(err, "load transformation %s", t.settings.File)
	}

	opts := t.env.Trans
	opts.Logger = p.Logger()
	opts.Hooks = p.Hooks()
	opts.ParentRunID = p.RunID()
	opts.PreviousResult = prev
	opts.Nested = true
	g := trans.NewGraph(meta, t.env.Steps, opts)

	return runNested(ctx, p, g, prev, nr), nil
}

// nestedJob runs a job definition as one entry of its parent job.
type nestedJob struct {
	settings NestedSettings
	env      Env
	registry *job.Registry
}

func newNestedJob(cfg job.Config, env Env, registry *job.Registry) (job.Entry, error) {
	settings, err := decodeNested(cfg, env)
	if err != nil {
		return nil, err
	}
	return &nestedJob{settings: settings, env: env, registry: registry}, nil
}

func (n *nestedJob) Execute(ctx context.Context, p job.Parent, prev *result.Result, nr int) (*result.Result, error) {
	depth := p.Depth() + 1
	if depth > n.env.MaxNestingDepth {
		return nil, errors.WithHint(
			errors.Newf("job %s would nest %d levels deep, the limit is %d", n.settings.File, depth, n.env.MaxNestingDepth),
			"a job that includes itself needs a condition that ends the recursion",
		)
	}
	meta, err := n.env.Loader.LoadJob(n.settings.File)
	if err != nil {
		return nil, errors.Wrapf(err, "load job %s", n.settings.File)
	}

	child := job.New(meta, n.registry, job.Options{
		Logger:            p.Logger(),
		Hooks:             p.Hooks(),
		ParentRunID:       p.RunID(),
		PreviousResult:    prev,
		MaxLoopIterations: n.env.MaxLoopIterations,
		Depth:             depth,
		Nested:            true,
	})
	return runNested(ctx, p, child, prev, nr), nil
}

// runNested drives nested through a Runner tracked by the parent, so stopping
// the parent stops the nested run. Nested failures are already part of the
// returned result.
func runNested(ctx context.Context, p job.Parent, nested job.Nested, prev *result.Result, nr int) *result.Result {
	r := job.NewRunner(nested, prev, nr, job.RunnerOptions{Hooks: p.Hooks(), Logger: p.Logger()})
	untrack := p.Track(r)
	defer untrack()

	return r.Run(ctx)
}

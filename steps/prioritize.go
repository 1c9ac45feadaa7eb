package steps

import (
	"context"
	"slices"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/row"
	"github.com/teranos/weir/trans"
)

// PrioritizeStreamsSettings configure prioritize_streams.
type PrioritizeStreamsSettings struct {
	// Streams names the input steps from highest to lowest priority. Inputs not
	// listed are read last, in hop order.
	Streams []string `yaml:"streams" toml:"streams"`
}

// prioritizeStreams empties its inputs one at a time in priority order. Every
// stream must carry the same layout. Rows arriving on lower streams while a
// higher one is still open are held in memory, so an upstream step feeding
// several of the streams never waits on a hop nobody reads.
type prioritizeStreams struct {
	trans.BaseWorker
	settings PrioritizeStreamsSettings
	order    []string
	current  int
	layout   *row.Schema

	held  map[string][]row.Row
	ended map[string]bool
}

func newPrioritizeStreams(cfg trans.Config) (trans.Worker, error) {
	var settings PrioritizeStreamsSettings
	if err := decode(cfg, &settings); err != nil {
		return nil, err
	}
	return &prioritizeStreams{
		settings: settings,
		held:     make(map[string][]row.Row),
		ended:    make(map[string]bool),
	}, nil
}

func (p *prioritizeStreams) Init(_ context.Context, s *trans.Step) error {
	inputs := s.InputNames()
	for _, name := range p.settings.Streams {
		if !slices.Contains(inputs, name) {
			return errors.NewNotFoundError("stream %q is not an input of %s", name, s.Name())
		}
		if slices.Contains(p.order, name) {
			return errors.Newf("stream %q is listed twice", name)
		}
		p.order = append(p.order, name)
	}
	for _, name := range inputs {
		if !slices.Contains(p.order, name) {
			p.order = append(p.order, name)
		}
	}
	return nil
}

func (p *prioritizeStreams) ProcessRow(ctx context.Context, s *trans.Step) (trans.Outcome, error) {
	for p.current < len(p.order) {
		from := p.order[p.current]
		if q := p.held[from]; len(q) > 0 {
			p.held[from] = q[1:]
			return p.emit(ctx, s, from, q[0])
		}
		if p.ended[from] {
			p.current++
			continue
		}

		if !p.lowerOpen() {
			r, ok, err := s.GetRowFrom(ctx, from)
			if err != nil {
				return trans.Failed, err
			}
			if !ok {
				p.ended[from] = true
				continue
			}
			return p.emit(ctx, s, from, r)
		}

		r, got, ended, err := s.TryGetRowFrom(from)
		switch {
		case err != nil:
			return trans.Failed, err
		case ended:
			p.ended[from] = true
			continue
		case got:
			return p.emit(ctx, s, from, r)
		}

		moved, err := p.hold(s)
		if err != nil {
			return trans.Failed, err
		}
		if !moved {
			if err := s.WaitForInput(ctx); err != nil {
				return trans.Failed, err
			}
		}
	}
	return trans.NoMoreRows, nil
}

// lowerOpen reports whether a stream after the current one can still deliver.
func (p *prioritizeStreams) lowerOpen() bool {
	for _, name := range p.order[p.current+1:] {
		if !p.ended[name] {
			return true
		}
	}
	return false
}

// hold moves every row buffered on lower streams into memory. It reports
// whether anything changed.
func (p *prioritizeStreams) hold(s *trans.Step) (bool, error) {
	moved := false
	for _, name := range p.order[p.current+1:] {
		for !p.ended[name] {
			r, got, ended, err := s.TryGetRowFrom(name)
			if err != nil {
				return moved, err
			}
			if ended {
				p.ended[name] = true
				moved = true
				break
			}
			if !got {
				break
			}
			p.held[name] = append(p.held[name], r)
			moved = true
		}
	}
	return moved, nil
}

func (p *prioritizeStreams) emit(ctx context.Context, s *trans.Step, from string, r row.Row) (trans.Outcome, error) {
	if p.layout == nil {
		p.layout = r.Schema
	} else if !p.layout.Equal(r.Schema) {
		return trans.Failed, errors.Newf("stream %s has layout %s, expected %s", from, r.Schema, p.layout)
	}
	if err := s.PutRow(ctx, r); err != nil {
		return trans.Failed, err
	}
	return trans.MoreRows, nil
}

package entries

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/result"
)

// StartSettings configure the start entry. Without Repeat the job walks once.
// A repeating job walks again on Schedule (a standard five-field cron
// expression or a descriptor such as @daily), or Interval after each walk.
type StartSettings struct {
	Repeat   bool   `yaml:"repeat" toml:"repeat"`
	Schedule string `yaml:"schedule" toml:"schedule"`
	Interval string `yaml:"interval" toml:"interval"`
	// Times caps the number of repeats. Zero repeats until the job is stopped.
	Times int `yaml:"times" toml:"times"`
}

// start is the first entry of a job. It passes the incoming result on and,
// when repeating, implements job.Repeater.
type start struct {
	settings StartSettings
	schedule cron.Schedule

	mu       sync.Mutex
	repeated int
}

func newStart(cfg job.Config) (*start, error) {
	s := &start{}
	if err := decode(cfg, &s.settings); err != nil {
		return nil, err
	}
	if !s.settings.Repeat {
		return s, nil
	}

	switch {
	case s.settings.Schedule != "" && s.settings.Interval != "":
		return nil, errors.New("start entry takes either a schedule or an interval, not both")
	case s.settings.Schedule != "":
		sched, err := cron.ParseStandard(s.settings.Schedule)
		if err != nil {
			return nil, errors.Wrapf(err, "parse schedule %q", s.settings.Schedule)
		}
		s.schedule = sched
	case s.settings.Interval != "":
		d, err := time.ParseDuration(s.settings.Interval)
		if err != nil {
			return nil, errors.Wrapf(err, "parse interval %q", s.settings.Interval)
		}
		if d <= 0 {
			return nil, errors.Newf("interval must be positive, got %s", d)
		}
		s.schedule = every(d)
	default:
		return nil, errors.WithHint(
			errors.New("repeating start entry has no schedule"),
			"set schedule to a cron expression or interval to a duration such as 10m",
		)
	}
	if s.settings.Times < 0 {
		return nil, errors.Newf("times must not be negative, got %d", s.settings.Times)
	}
	return s, nil
}

// Execute begins a walk from a clean status, whatever result the job was
// handed.
func (s *start) Execute(_ context.Context, _ job.Parent, prev *result.Result, _ int) (*result.Result, error) {
	return succeeded(prev), nil
}

// Next implements job.Repeater.
func (s *start) Next(after time.Time) (time.Time, bool) {
	if s.schedule == nil {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.Times > 0 && s.repeated >= s.settings.Times {
		return time.Time{}, false
	}
	s.repeated++
	return s.schedule.Next(after), true
}

// every is a cron.Schedule with a fixed delay. cron.Every rounds to whole
// seconds, which is too coarse for sub-second intervals.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

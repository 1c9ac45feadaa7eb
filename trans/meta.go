package trans

import (
	"sort"
	"strings"

	"github.com/teranos/weir/errors"
)

// StepMeta describes one step of a transformation.
type StepMeta struct {
	Name string
	// Type selects the worker factory from the Registry.
	Type string
	// Config is handed to the factory. Nil means NoConfig.
	Config Config
	// Worker, when set, is used as is and Type is only informational.
	Worker Worker
	// CopyRows sends every row to every output instead of distributing rows
	// round-robin across outputs.
	CopyRows bool
}

// Hop connects the output of one step to the input of another.
type Hop struct {
	From string
	To   string
	// Capacity overrides the graph's channel capacity. Negative means unbounded.
	Capacity int
}

func (h Hop) String() string {
	return h.From + " -> " + h.To
}

// Meta is a parsed transformation topology.
type Meta struct {
	Name  string
	Steps []StepMeta
	Hops  []Hop
}

// Step returns the named step definition.
func (m *Meta) Step(name string) (StepMeta, bool) {
	for _, s := range m.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepMeta{}, false
}

// Validate checks that the topology can be executed: step names are unique,
// hops reference known steps, no hop is repeated or loops back on its step,
// and the dataflow has no cycle.
func (m *Meta) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.NewInvalidTopologyError("transformation has no name")
	}
	if len(m.Steps) == 0 {
		return errors.NewInvalidTopologyError("transformation %s has no steps", m.Name)
	}

	names := make(map[string]bool, len(m.Steps))
	for i, s := range m.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return errors.NewInvalidTopologyError("step %d of %s has no name", i, m.Name)
		}
		if names[s.Name] {
			return errors.NewInvalidTopologyError("duplicate step name %q", s.Name)
		}
		if s.Worker == nil && s.Type == "" {
			return errors.NewInvalidTopologyError("step %q has neither a type nor a worker", s.Name)
		}
		names[s.Name] = true
	}

	seen := make(map[Hop]bool, len(m.Hops))
	for _, h := range m.Hops {
		key := Hop{From: h.From, To: h.To}
		switch {
		case !names[h.From]:
			return errors.NewInvalidTopologyError("hop %s references unknown step %q", h, h.From)
		case !names[h.To]:
			return errors.NewInvalidTopologyError("hop %s references unknown step %q", h, h.To)
		case h.From == h.To:
			return errors.NewInvalidTopologyError("hop %s loops back on its own step", h)
		case seen[key]:
			return errors.NewInvalidTopologyError("duplicate hop %s", h)
		}
		seen[key] = true
	}

	if cycle := m.findCycle(); len(cycle) > 0 {
		return errors.NewInvalidTopologyError("hops form a cycle through %s", strings.Join(cycle, ", "))
	}
	return nil
}

// findCycle runs Kahn's algorithm and returns the steps left on a cycle, sorted.
func (m *Meta) findCycle() []string {
	indegree := make(map[string]int, len(m.Steps))
	next := make(map[string][]string, len(m.Steps))
	for _, s := range m.Steps {
		indegree[s.Name] = 0
	}
	for _, h := range m.Hops {
		indegree[h.To]++
		next[h.From] = append(next[h.From], h.To)
	}

	queue := make([]string, 0, len(m.Steps))
	for _, s := range m.Steps {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, to := range next[n] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
		delete(indegree, n)
	}

	if len(indegree) == 0 {
		return nil
	}
	left := make([]string, 0, len(indegree))
	for name := range indegree {
		left = append(left, name)
	}
	sort.Strings(left)
	return left
}

// components groups step names into weakly connected components.
func (m *Meta) components() map[string]int {
	parent := make(map[string]string, len(m.Steps))
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, s := range m.Steps {
		parent[s.Name] = s.Name
	}
	for _, h := range m.Hops {
		a, b := find(h.From), find(h.To)
		if a != b {
			parent[a] = b
		}
	}

	ids := make(map[string]int)
	out := make(map[string]int, len(m.Steps))
	for _, s := range m.Steps {
		root := find(s.Name)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		out[s.Name] = id
	}
	return out
}

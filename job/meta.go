package job

import (
	"sort"
	"strings"

	"github.com/teranos/weir/errors"
)

// Condition decides when an edge is followed.
type Condition string

const (
	OnSuccess     Condition = "success"
	OnFailure     Condition = "failure"
	Unconditional Condition = "always"
)

// ParseCondition accepts success, failure, always, or empty for always.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(s))) {
	case OnSuccess, "true":
		return OnSuccess, nil
	case OnFailure, "false":
		return OnFailure, nil
	case Unconditional, "", "unconditional":
		return Unconditional, nil
	}
	return "", errors.Newf("unknown edge condition %q", s)
}

// conditional reports whether the edge depends on the outcome. The zero
// Condition is unconditional.
func (c Condition) conditional() bool {
	return c == OnSuccess || c == OnFailure
}

// matches reports whether a conditional edge fires for the given outcome.
func (c Condition) matches(success bool) bool {
	return (c == OnSuccess && success) || (c == OnFailure && !success)
}

// Edge connects two entries.
type Edge struct {
	From      string
	To        string
	Condition Condition
	// Loop allows this edge to close a cycle. Revisiting an entry is only
	// possible through loop edges.
	Loop bool
}

func (e Edge) String() string {
	return e.From + " -[" + string(e.Condition) + "]-> " + e.To
}

// EntryMeta describes one entry of a job.
type EntryMeta struct {
	Name string
	// Type selects the entry factory from the Registry.
	Type   string
	Config Config
	// Entry, when set, is used as is.
	Entry Entry
}

// Meta is a parsed job topology.
type Meta struct {
	Name    string
	Start   string
	Entries []EntryMeta
	Edges   []Edge
}

// Entry returns the named entry definition.
func (m *Meta) Entry(name string) (EntryMeta, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return EntryMeta{}, false
}

// Validate checks that the job can be walked: entry names are unique, the
// start entry exists, edges reference known entries, and every cycle passes
// through an edge marked as loop.
func (m *Meta) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.NewInvalidTopologyError("job has no name")
	}
	if len(m.Entries) == 0 {
		return errors.NewInvalidTopologyError("job %s has no entries", m.Name)
	}

	names := make(map[string]bool, len(m.Entries))
	for i, e := range m.Entries {
		switch {
		case strings.TrimSpace(e.Name) == "":
			return errors.NewInvalidTopologyError("entry %d of %s has no name", i, m.Name)
		case names[e.Name]:
			return errors.NewInvalidTopologyError("duplicate entry name %q", e.Name)
		case e.Entry == nil && e.Type == "":
			return errors.NewInvalidTopologyError("entry %q has neither a type nor an implementation", e.Name)
		}
		names[e.Name] = true
	}
	if !names[m.Start] {
		return errors.NewInvalidTopologyError("start entry %q does not exist", m.Start)
	}

	type edgeKey struct {
		from, to string
		cond     Condition
	}
	seen := make(map[edgeKey]bool, len(m.Edges))
	for _, e := range m.Edges {
		switch {
		case !names[e.From]:
			return errors.NewInvalidTopologyError("edge %s references unknown entry %q", e, e.From)
		case !names[e.To]:
			return errors.NewInvalidTopologyError("edge %s references unknown entry %q", e, e.To)
		case e.Condition != "" && e.Condition != Unconditional && !e.Condition.conditional():
			return errors.NewInvalidTopologyError("edge %s has unknown condition", e)
		case seen[edgeKey{e.From, e.To, e.Condition}]:
			return errors.NewInvalidTopologyError("duplicate edge %s", e)
		}
		seen[edgeKey{e.From, e.To, e.Condition}] = true
	}

	if cycle := m.findCycle(); len(cycle) > 0 {
		return errors.WithHint(
			errors.NewInvalidTopologyError("edges form a cycle through %s", strings.Join(cycle, ", ")),
			"mark the edge that returns to an earlier entry with loop: true",
		)
	}
	return nil
}

// findCycle returns the entries left on a cycle of non-loop edges, sorted.
func (m *Meta) findCycle() []string {
	indegree := make(map[string]int, len(m.Entries))
	next := make(map[string][]string, len(m.Entries))
	for _, e := range m.Entries {
		indegree[e.Name] = 0
	}
	for _, e := range m.Edges {
		if e.Loop {
			continue
		}
		indegree[e.To]++
		next[e.From] = append(next[e.From], e.To)
	}

	var queue []string
	for name, d := range indegree {
		if d == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		delete(indegree, n)
		for _, to := range next[n] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	left := make([]string, 0, len(indegree))
	for name := range indegree {
		left = append(left, name)
	}
	sort.Strings(left)
	return left
}

// nextEntry picks the edge to follow after from: the first conditional edge
// in declaration order that matches the outcome, otherwise the first
// unconditional edge. It returns false when no edge applies.
func (m *Meta) nextEntry(from string, success bool) (Edge, bool) {
	var fallback *Edge
	for i, e := range m.Edges {
		if e.From != from {
			continue
		}
		if !e.Condition.conditional() {
			if fallback == nil {
				fallback = &m.Edges[i]
			}
			continue
		}
		if e.Condition.matches(success) {
			return e, true
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Edge{}, false
}

package definition

import (
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/teranos/weir/trans"
)

type tomlDoc struct {
	Kind        string `toml:"kind"`
	Name        string `toml:"name"`
	Description string `toml:"description"`

	Steps []struct {
		Name   string         `toml:"name"`
		Type   string         `toml:"type"`
		Copy   bool           `toml:"copy"`
		Config toml.Primitive `toml:"config"`
	} `toml:"steps"`
	Hops []struct {
		From     string `toml:"from"`
		To       string `toml:"to"`
		Capacity int    `toml:"capacity"`
	} `toml:"hops"`

	Start   string `toml:"start"`
	Entries []struct {
		Name   string         `toml:"name"`
		Type   string         `toml:"type"`
		Config toml.Primitive `toml:"config"`
	} `toml:"entries"`
	Edges []struct {
		From      string `toml:"from"`
		To        string `toml:"to"`
		Condition string `toml:"condition"`
		Loop      bool   `toml:"loop"`
	} `toml:"edges"`
}

// tomlSettings decodes deferred config tables. MetaData.PrimitiveDecode
// is not safe for concurrent use, and nested runs may decode at once.
type tomlSettings struct {
	mu sync.Mutex
	md toml.MetaData
}

func (s *tomlSettings) config(p toml.Primitive) trans.Config {
	return trans.ConfigFunc(func(v any) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.md.PrimitiveDecode(p, v)
	})
}

func parseTOML(data []byte) (*document, error) {
	var raw tomlDoc
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}
	settings := &tomlSettings{md: md}

	doc := &document{Kind: raw.Kind, Name: raw.Name, Description: raw.Description, Start: raw.Start}
	for _, s := range raw.Steps {
		doc.Steps = append(doc.Steps, stepDoc{Name: s.Name, Type: s.Type, Copy: s.Copy, Config: settings.config(s.Config)})
	}
	for _, h := range raw.Hops {
		doc.Hops = append(doc.Hops, hopDoc{From: h.From, To: h.To, Capacity: h.Capacity})
	}
	for _, e := range raw.Entries {
		doc.Entries = append(doc.Entries, entryDoc{Name: e.Name, Type: e.Type, Config: settings.config(e.Config)})
	}
	for _, e := range raw.Edges {
		doc.Edges = append(doc.Edges, edgeDoc{From: e.From, To: e.To, Condition: e.Condition, Loop: e.Loop})
	}
	return doc, nil
}

package definition

import (
	"gopkg.in/yaml.v3"

	"github.com/teranos/weir/trans"
)

type yamlDoc struct {
	Kind        string `yaml:"kind"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Steps []struct {
		Name   string    `yaml:"name"`
		Type   string    `yaml:"type"`
		Copy   bool      `yaml:"copy"`
		Config yaml.Node `yaml:"config"`
	} `yaml:"steps"`
	Hops []struct {
		From     string `yaml:"from"`
		To       string `yaml:"to"`
		Capacity int    `yaml:"capacity"`
	} `yaml:"hops"`

	Start   string `yaml:"start"`
	Entries []struct {
		Name   string    `yaml:"name"`
		Type   string    `yaml:"type"`
		Config yaml.Node `yaml:"config"`
	} `yaml:"entries"`
	Edges []struct {
		From      string `yaml:"from"`
		To        string `yaml:"to"`
		Condition string `yaml:"condition"`
		Loop      bool   `yaml:"loop"`
	} `yaml:"edges"`
}

func parseYAML(data []byte) (*document, error) {
	var raw yamlDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	doc := &document{Kind: raw.Kind, Name: raw.Name, Description: raw.Description, Start: raw.Start}
	for _, s := range raw.Steps {
		doc.Steps = append(doc.Steps, stepDoc{Name: s.Name, Type: s.Type, Copy: s.Copy, Config: yamlConfig(s.Config)})
	}
	for _, h := range raw.Hops {
		doc.Hops = append(doc.Hops, hopDoc{From: h.From, To: h.To, Capacity: h.Capacity})
	}
	for _, e := range raw.Entries {
		doc.Entries = append(doc.Entries, entryDoc{Name: e.Name, Type: e.Type, Config: yamlConfig(e.Config)})
	}
	for _, e := range raw.Edges {
		doc.Edges = append(doc.Edges, edgeDoc{From: e.From, To: e.To, Condition: e.Condition, Loop: e.Loop})
	}
	return doc, nil
}

func yamlConfig(node yaml.Node) trans.Config {
	if node.Kind == 0 {
		return trans.NoConfig{}
	}
	return trans.ConfigFunc(func(v any) error {
		return node.Decode(v)
	})
}

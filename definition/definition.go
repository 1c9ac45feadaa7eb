// Package definition reads transformation and job definition files.
//
// A file holds one definition in YAML or TOML, chosen by extension. Step and
// entry settings stay undecoded until the kind's factory asks for them, so
// each kind decodes its own settings struct from either format:
//
//	kind: transformation
//	name: load_customers
//	steps:
//	  - name: read
//	    type: table_input
//	    config:
//	      query: SELECT * FROM customers
//	  - name: log
//	    type: write_to_log
//	hops:
//	  - from: read
//	    to: log
//
// ${NAME} references are replaced with environment variables before parsing.
package definition

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/trans"
)

// Kind tells transformations and jobs apart.
type Kind string

const (
	KindTransformation Kind = "transformation"
	KindJob            Kind = "job"
)

// Format is the syntax of a definition file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", errors.WithHint(
		errors.Newf("unsupported definition file %s", path),
		"definition files end in .yaml, .yml or .toml",
	)
}

// Definition is a parsed file. Exactly one of Trans and Job is set.
type Definition struct {
	Path        string
	Kind        Kind
	Description string

	Trans *trans.Meta
	Job   *job.Meta
}

// Name returns the name of the defined transformation or job.
func (d *Definition) Name() string {
	if d.Trans != nil {
		return d.Trans.Name
	}
	if d.Job != nil {
		return d.Job.Name
	}
	return ""
}

// document is the format-neutral shape of a definition file.
type document struct {
	Kind        string
	Name        string
	Description string

	Steps []stepDoc
	Hops  []hopDoc

	Start   string
	Entries []entryDoc
	Edges   []edgeDoc
}

type stepDoc struct {
	Name   string
	Type   string
	Copy   bool
	Config trans.Config
}

type hopDoc struct {
	From     string
	To       string
	Capacity int
}

type entryDoc struct {
	Name   string
	Type   string
	Config trans.Config
}

type edgeDoc struct {
	From      string
	To        string
	Condition string
	Loop      bool
}

// Parse reads one definition. path is only used for messages.
func Parse(data []byte, format Format, path string) (*Definition, error) {
	data = expandEnv(data)

	var (
		doc *document
		err error
	)
	switch format {
	case FormatYAML:
		doc, err = parseYAML(data)
	case FormatTOML:
		doc, err = parseTOML(data)
	default:
		return nil, errors.Newf("unknown definition format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	def, err := doc.resolve()
	if err != nil {
		return nil, errors.Wrapf(err, "definition %s", path)
	}
	def.Path = path
	return def, nil
}

// LoadFile reads and parses the definition at path.
func LoadFile(path string) (*Definition, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("definition file %s", path)
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return Parse(data, format, path)
}

func (doc *document) resolve() (*Definition, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(doc.Kind)))
	if kind == "" {
		switch {
		case len(doc.Steps) > 0 && len(doc.Entries) == 0:
			kind = KindTransformation
		case len(doc.Entries) > 0 && len(doc.Steps) == 0:
			kind = KindJob
		default:
			return nil, errors.WithHint(
				errors.New("cannot tell whether this is a transformation or a job"),
				"set kind: transformation or kind: job",
			)
		}
	}

	def := &Definition{Kind: kind, Description: doc.Description}
	switch kind {
	case KindTransformation:
		if len(doc.Entries) > 0 || len(doc.Edges) > 0 {
			return nil, errors.New("a transformation has steps and hops, not entries or edges")
		}
		def.Trans = doc.transMeta()
	case KindJob:
		if len(doc.Steps) > 0 || len(doc.Hops) > 0 {
			return nil, errors.New("a job has entries and edges, not steps or hops")
		}
		meta, err := doc.jobMeta()
		if err != nil {
			return nil, err
		}
		def.Job = meta
	default:
		return nil, errors.Newf("unknown kind %q", doc.Kind)
	}
	return def, nil
}

func (doc *document) transMeta() *trans.Meta {
	meta := &trans.Meta{Name: doc.Name}
	for _, s := range doc.Steps {
		meta.Steps = append(meta.Steps, trans.StepMeta{Name: s.Name, Type: s.Type, Config: s.Config, CopyRows: s.Copy})
	}
	for _, h := range doc.Hops {
		meta.Hops = append(meta.Hops, trans.Hop{From: h.From, To: h.To, Capacity: h.Capacity})
	}
	return meta
}

func (doc *document) jobMeta() (*job.Meta, error) {
	meta := &job.Meta{Name: doc.Name, Start: doc.Start}
	for _, e := range doc.Entries {
		meta.Entries = append(meta.Entries, job.EntryMeta{Name: e.Name, Type: e.Type, Config: e.Config})
	}
	if meta.Start == "" && len(meta.Entries) > 0 {
		meta.Start = meta.Entries[0].Name
	}
	for _, e := range doc.Edges {
		cond, err := job.ParseCondition(e.Condition)
		if err != nil {
			return nil, errors.Wrapf(err, "edge %s -> %s", e.From, e.To)
		}
		meta.Edges = append(meta.Edges, job.Edge{From: e.From, To: e.To, Condition: cond, Loop: e.Loop})
	}
	return meta, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the environment value of NAME. Other uses
// of $ are left alone, so SQL parameters survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// Validate checks the topology and that every step and entry type is
// registered. Nested definition files are not opened.
func Validate(def *Definition, steps *trans.Registry, entries *job.Registry) error {
	var unknown []string
	switch {
	case def.Trans != nil:
		if err := def.Trans.Validate(); err != nil {
			return err
		}
		for _, s := range def.Trans.Steps {
			if s.Worker == nil && steps != nil && !steps.Has(s.Type) {
				unknown = append(unknown, "step "+s.Name+" ("+s.Type+")")
			}
		}
	case def.Job != nil:
		if err := def.Job.Validate(); err != nil {
			return err
		}
		for _, e := range def.Job.Entries {
			if e.Entry == nil && entries != nil && !entries.Has(e.Type) {
				unknown = append(unknown, "entry "+e.Name+" ("+e.Type+")")
			}
		}
	default:
		return errors.New("empty definition")
	}
	if len(unknown) > 0 {
		return errors.WithDetailf(
			errors.NewNotFoundError("unknown types: %s", strings.Join(unknown, ", ")),
			"registered step types: %s; entry types: %s",
			strings.Join(namesOf(steps), ", "), strings.Join(namesOfEntries(entries), ", "),
		)
	}
	return nil
}

func namesOf(r *trans.Registry) []string {
	if r == nil {
		return nil
	}
	return r.Names()
}

func namesOfEntries(r *job.Registry) []string {
	if r == nil {
		return nil
	}
	return r.Names()
}

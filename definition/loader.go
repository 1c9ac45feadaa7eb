package definition

import (
	"path/filepath"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/trans"
)

// Loader opens the definition files nested entries refer to. Relative paths
// are resolved against Dir.
type Loader struct {
	Dir string
}

// NewLoader returns a Loader resolving paths next to the definition at root.
func NewLoader(root string) *Loader {
	return &Loader{Dir: filepath.Dir(root)}
}

func (l *Loader) resolve(path string) string {
	if filepath.IsAbs(path) || l.Dir == "" {
		return path
	}
	return filepath.Join(l.Dir, path)
}

func (l *Loader) load(path string, want Kind) (*Definition, error) {
	def, err := LoadFile(l.resolve(path))
	if err != nil {
		return nil, err
	}
	if def.Kind != want {
		return nil, errors.Newf("%s defines a %s, expected a %s", path, def.Kind, want)
	}
	return def, nil
}

// LoadTransformation reads a transformation definition.
func (l *Loader) LoadTransformation(path string) (*trans.Meta, error) {
	def, err := l.load(path, KindTransformation)
	if err != nil {
		return nil, err
	}
	return def.Trans, nil
}

// LoadJob reads a job definition.
func (l *Loader) LoadJob(path string) (*job.Meta, error) {
	def, err := l.load(path, KindJob)
	if err != nil {
		return nil, err
	}
	return def.Job, nil
}

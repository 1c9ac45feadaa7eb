package definition

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/logger"
)

// DefaultSettle is how long a definition file must stay untouched before a
// change is handed out. Editors often write a file in several steps.
const DefaultSettle = 500 * time.Millisecond

// Watcher follows a job definition file so a repeating job picks up edits
// between walks. It implements job.Source.
type Watcher struct {
	path    string
	loader  *Loader
	watcher *fsnotify.Watcher
	log     *zap.SugaredLogger
	settle  time.Duration

	mu      sync.Mutex
	dirty   bool
	touched time.Time

	done chan struct{}
}

var _ job.Source = (*Watcher)(nil)

// NewWatcher starts watching the job definition at path.
func NewWatcher(path string, log *zap.SugaredLogger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	// The directory is watched because editors replace files rather than
	// writing them in place, which drops a watch on the file itself.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}

	w := &Watcher{
		path:    abs,
		loader:  NewLoader(abs),
		watcher: fw,
		log:     logger.Or(log).Named("definition").With(logger.FieldFile, abs),
		settle:  DefaultSettle,
		done:    make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.log.Debugw("Definition changed on disk", "op", ev.Op.String())
			w.mu.Lock()
			w.dirty = true
			w.touched = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("Definition watcher error", logger.FieldError, err)
		}
	}
}

// Changed reports whether the file was modified since the last Load and has
// settled since.
func (w *Watcher) Changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty && time.Since(w.touched) >= w.settle
}

// Load reads the job definition from disk and clears the change flag, even
// when the file does not parse: a broken edit is reported once, not on every
// repeat.
func (w *Watcher) Load() (*job.Meta, error) {
	w.mu.Lock()
	w.dirty = false
	w.mu.Unlock()

	meta, err := w.loader.LoadJob(w.path)
	if err != nil {
		return nil, errors.Wrapf(err, "reload %s", filepath.Base(w.path))
	}
	return meta, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

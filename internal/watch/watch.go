// Package watch turns file writes on disk into document changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"pulldiag/internal/lsp"
)

// ErrClosed is returned by Track after Run returned.
var ErrClosed = errors.New("watcher closed")

// WriteFunc is called for every write to a tracked file.
type WriteFunc func(ctx context.Context, path string) error

// Watcher watches the directories of tracked files. Events on untracked
// files in the same directories are ignored.
type Watcher struct {
	fs      *fsnotify.Watcher
	log     *zap.Logger
	onWrite WriteFunc

	mu     sync.Mutex
	files  map[string]struct{}
	dirs   map[string]struct{}
	closed bool

	writes int
}

// New creates a watcher that calls onWrite for writes to tracked files.
func New(log *zap.Logger, onWrite WriteFunc) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		fs:      fs,
		log:     log.Named("watch"),
		onWrite: onWrite,
		files:   make(map[string]struct{}),
		dirs:    make(map[string]struct{}),
	}, nil
}

// Track starts watching path.
func (w *Watcher) Track(path string) error {
	canon, err := lsp.CanonicalPath(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.files[canon] = struct{}{}
	dir := filepath.Dir(canon)
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		delete(w.files, canon)
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirs[dir] = struct{}{}
	return nil
}

// Tracked returns the tracked paths, sorted.
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for path := range w.files {
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}

// Writes returns the number of writes handed to the callback.
func (w *Watcher) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

// Run delivers events until ctx is cancelled and closes the underlying
// watcher on return. Callback errors are logged, not returned.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		if err := w.fs.Close(); err != nil {
			w.log.Warn("close watcher", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	// Editors that save by rename produce Create instead of Write.
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	canon, err := lsp.CanonicalPath(ev.Name)
	if err != nil {
		return
	}
	w.mu.Lock()
	_, tracked := w.files[canon]
	if tracked {
		w.writes++
	}
	w.mu.Unlock()
	if !tracked {
		return
	}
	w.log.Debug("file written", zap.String("path", canon), zap.Stringer("op", ev.Op))
	if err := w.onWrite(ctx, canon); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Warn("apply write failed", zap.String("path", canon), zap.Error(err))
	}
}

// Package app constructs the pull pipeline: editor, owner loop, event
// hooks and debounce handlers, and runs them under one errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pulldiag/internal/dispatch"
	"pulldiag/internal/editor"
	"pulldiag/internal/event"
	"pulldiag/internal/handlers"
	"pulldiag/internal/lsp"
)

// ErrNotStarted is returned by Wait before Start was called.
var ErrNotStarted = errors.New("app not started")

const settlePoll = 5 * time.Millisecond

// Options configures an App.
type Options struct {
	Handlers handlers.Options
	Logger   *zap.Logger
}

type serverEntry struct {
	ls         editor.LanguageServer
	languageID string
	extensions []string
}

// App is the assembled pipeline. Editor must only be touched through Do
// once Start was called.
type App struct {
	Editor   *editor.Editor
	Loop     *handlers.Loop
	Handlers *handlers.Handlers
	Hooks    *event.Registry

	log *zap.Logger

	mu      sync.Mutex
	servers []serverEntry

	group *errgroup.Group
	ctx   context.Context
}

// New builds the pipeline without starting any goroutine.
func New(opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hooks := event.NewRegistry()
	ed := editor.New(hooks, log.Named("editor"))
	loop := dispatch.New(ed)
	if opts.Handlers.Logger == nil {
		opts.Handlers.Logger = log
	}
	h := handlers.New(loop, opts.Handlers)
	handlers.RegisterHooks(hooks, h)
	return &App{
		Editor:   ed,
		Loop:     loop,
		Handlers: h,
		Hooks:    hooks,
		log:      log,
	}
}

// Start runs the owner loop and the handlers. The returned context is
// cancelled when ctx is or when any goroutine started with Go fails.
func (a *App) Start(ctx context.Context) context.Context {
	g, gctx := errgroup.WithContext(ctx)
	a.group, a.ctx = g, gctx
	g.Go(func() error { return a.Loop.Run(gctx) })
	g.Go(func() error { return a.Handlers.Run(gctx) })
	a.log.Debug("pipeline started")
	return gctx
}

// Go runs fn in the app's group with the group context.
func (a *App) Go(fn func(ctx context.Context) error) {
	a.group.Go(func() error { return fn(a.ctx) })
}

// Wait blocks until every goroutine of the group returned. Cancellation is
// not reported as an error.
func (a *App) Wait() error {
	if a.group == nil {
		return ErrNotStarted
	}
	err := a.group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// AddServer makes ls available to documents whose extension matches one of
// extensions. Extensions are compared case-insensitively; the leading dot
// is optional.
func (a *App) AddServer(ls editor.LanguageServer, languageID string, extensions ...string) {
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, strings.ToLower(ext))
	}
	a.mu.Lock()
	a.servers = append(a.servers, serverEntry{ls: ls, languageID: languageID, extensions: normalized})
	a.mu.Unlock()
}

// ServersFor returns the language id and servers for path. The language id
// of the first matching server wins.
func (a *App) ServersFor(path string) (string, []editor.LanguageServer) {
	ext := strings.ToLower(filepath.Ext(path))
	a.mu.Lock()
	defer a.mu.Unlock()
	var (
		languageID string
		servers    []editor.LanguageServer
	)
	for _, entry := range a.servers {
		for _, candidate := range entry.extensions {
			if candidate != ext {
				continue
			}
			if languageID == "" {
				languageID = entry.languageID
			}
			servers = append(servers, entry.ls)
			break
		}
	}
	return languageID, servers
}

// Open reads path from disk and opens it on the owner loop with the servers
// registered for its extension.
func (a *App) Open(ctx context.Context, path string) (editor.DocumentID, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	languageID, servers := a.ServersFor(path)
	var id editor.DocumentID
	err = a.Do(ctx, func(ed *editor.Editor) error {
		var openErr error
		id, openErr = ed.OpenDocument(path, string(text), languageID, servers)
		return openErr
	})
	if err != nil {
		return 0, err
	}
	a.log.Debug("opened", zap.String("path", path), zap.Int("servers", len(servers)))
	return id, nil
}

// Reload replaces the text of the open document at path with the file's
// current contents. It reports false when path is not open.
func (a *App) Reload(ctx context.Context, path string) (bool, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	found := false
	err = a.Do(ctx, func(ed *editor.Editor) error {
		doc, ok := ed.DocumentByPath(path)
		if !ok {
			return nil
		}
		found = true
		return ed.ChangeDocument(doc.ID(), string(text))
	})
	return found, err
}

// Do runs fn on the owner loop and waits for it.
func (a *App) Do(ctx context.Context, fn func(*editor.Editor) error) error {
	return a.Loop.Do(ctx, fn)
}

// Diagnostics copies the whole diagnostic store on the owner loop.
func (a *App) Diagnostics(ctx context.Context) (map[lsp.DocumentURI][]editor.DiagnosticEntry, error) {
	out := make(map[lsp.DocumentURI][]editor.DiagnosticEntry)
	err := a.Do(ctx, func(ed *editor.Editor) error {
		for _, uri := range ed.DiagnosticURIs() {
			out[uri] = ed.Diagnostics(uri)
		}
		return nil
	})
	return out, err
}

// WaitSettled waits until no cycle is armed, no request is in flight and
// the owner loop is idle, continuously for quiet.
func (a *App) WaitSettled(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()
	var since time.Time
	for {
		if a.Handlers.Settled() && !a.Loop.Pending() {
			if since.IsZero() {
				since = time.Now()
			}
			if time.Since(since) >= quiet {
				return nil
			}
		} else {
			since = time.Time{}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Package handlers wires editor events to debounced pull diagnostic
// requests and merges the answers back on the owner loop.
package handlers

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pulldiag/internal/debounce"
	"pulldiag/internal/dispatch"
	"pulldiag/internal/editor"
	"pulldiag/internal/lsp"
	"pulldiag/internal/progress"
	"pulldiag/internal/trace"
)

const (
	// DefaultChangeDebounce is the quiet window after text changes.
	DefaultChangeDebounce = 120 * time.Millisecond
	// DefaultOpenDebounce is the quiet window after documents are opened.
	DefaultOpenDebounce = 50 * time.Millisecond
)

// Loop is the owner loop all editor state lives on.
type Loop = dispatch.Loop[*editor.Editor]

// Options configures Handlers. Zero durations select the defaults.
type Options struct {
	ChangeDebounce time.Duration
	OpenDebounce   time.Duration
	// DiscardStale drops reports that arrive after a newer report for the
	// same document and server was merged.
	DiscardStale bool
	Logger       *zap.Logger
	Progress     progress.Sink
	Tracer       trace.Tracer
}

type (
	changeEngine = debounce.Engine[[]lsp.ServerID, debounce.Set[lsp.ServerID]]
	openEngine   = debounce.Engine[editor.DocumentID, debounce.Set[editor.DocumentID]]
)

// Handlers owns the two debounce engines and the request goroutines.
type Handlers struct {
	// PullDiagnostics receives the servers attached to a changed document.
	PullDiagnostics debounce.Sender[[]lsp.ServerID]
	// PullAllDocumentsDiagnostics receives newly opened documents.
	PullAllDocumentsDiagnostics debounce.Sender[editor.DocumentID]

	change *changeEngine
	open   *openEngine
	loop   *Loop

	discardStale bool
	log          *zap.Logger
	sink         progress.Sink
	tracer       trace.Tracer

	ctxMu sync.Mutex
	ctx   context.Context

	inflight atomic.Int64
	requests sync.WaitGroup
}

// New creates the handlers for loop. Run must be called to start the
// engines.
func New(loop *Loop, opts Options) *Handlers {
	if opts.ChangeDebounce <= 0 {
		opts.ChangeDebounce = DefaultChangeDebounce
	}
	if opts.OpenDebounce <= 0 {
		opts.OpenDebounce = DefaultOpenDebounce
	}
	h := &Handlers{
		loop:         loop,
		discardStale: opts.DiscardStale,
		log:          opts.Logger,
		sink:         opts.Progress,
		tracer:       opts.Tracer,
		ctx:          context.Background(),
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.log = h.log.Named("pull")
	if h.sink == nil {
		h.sink = progress.Nop{}
	}
	if h.tracer == nil {
		h.tracer = trace.Nop
	}
	h.change = debounce.New(opts.ChangeDebounce, debounce.Union[lsp.ServerID], h.finishChange)
	h.open = debounce.New(opts.OpenDebounce, debounce.Add[editor.DocumentID], h.finishOpen)
	h.PullDiagnostics = h.change.Sender()
	h.PullAllDocumentsDiagnostics = h.open.Sender()
	return h
}

// Run drives both engines until ctx is cancelled and then waits for the
// request goroutines, which observe the same cancellation.
func (h *Handlers) Run(ctx context.Context) error {
	h.ctxMu.Lock()
	h.ctx = ctx
	h.ctxMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.change.Run(gctx) })
	g.Go(func() error { return h.open.Run(gctx) })
	err := g.Wait()
	h.requests.Wait()
	return err
}

func (h *Handlers) baseContext() context.Context {
	h.ctxMu.Lock()
	defer h.ctxMu.Unlock()
	return h.ctx
}

// RefreshServer re-pulls every open document attached to server. It is
// the answer to workspace/diagnostic/refresh.
func (h *Handlers) RefreshServer(server lsp.ServerID) {
	h.PullDiagnostics.Send([]lsp.ServerID{server})
}

// Settled reports whether nothing is queued, armed or in flight.
func (h *Handlers) Settled() bool {
	return h.inflight.Load() == 0 && !h.change.Pending() && !h.open.Pending()
}

// Cycles returns the number of change and open cycles fired so far.
func (h *Handlers) Cycles() (change, open uint64) {
	return h.change.Cycles(), h.open.Cycles()
}

func (h *Handlers) finishChange(servers debounce.Set[lsp.ServerID]) {
	if len(servers) == 0 {
		return
	}
	h.startCycle("change", func(ed *editor.Editor, parent uint64) int {
		return h.pullDiagnosticsForServers(ed, servers, parent)
	})
}

func (h *Handlers) finishOpen(docs debounce.Set[editor.DocumentID]) {
	if len(docs) == 0 {
		return
	}
	h.startCycle("open", func(ed *editor.Editor, parent uint64) int {
		return h.pullDiagnosticsForDocuments(ed, docs, parent)
	})
}

// startCycle hands a fired accumulator to the owner loop.
func (h *Handlers) startCycle(name string, pull func(*editor.Editor, uint64) int) {
	h.inflight.Add(1)
	span := trace.Begin(h.tracer, trace.ScopeCycle, name, 0)
	err := h.loop.DispatchBlocking(func(ed *editor.Editor) {
		defer h.inflight.Add(-1)
		n := pull(ed, span.ID())
		span.WithExtra("items", strconv.Itoa(n)).End("")
	})
	if err != nil {
		h.inflight.Add(-1)
		span.End("stopped")
		h.log.Debug("owner loop stopped, dropping cycle", zap.String("cycle", name))
	}
}

package handlers

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"pulldiag/internal/debounce"
	"pulldiag/internal/dispatch"
	"pulldiag/internal/editor"
	"pulldiag/internal/lsp"
	"pulldiag/internal/progress"
	"pulldiag/internal/trace"
)

// pullItem is one (document, server) request. It carries everything the
// background goroutine needs so it never has to look at editor state.
type pullItem struct {
	doc        editor.DocumentID
	uri        lsp.DocumentURI
	server     lsp.ServerID
	serverName string
	gen        uint64
}

// pullDiagnosticsForServers pulls every open document attached to one of
// servers. Runs on the owner loop.
func (h *Handlers) pullDiagnosticsForServers(ed *editor.Editor, servers debounce.Set[lsp.ServerID], parent uint64) int {
	n := 0
	for _, doc := range ed.Documents() {
		for _, ls := range doc.LanguageServersWithFeature(lsp.FeaturePullDiagnostics) {
			if !servers.Has(ls.ID()) {
				continue
			}
			if h.pullDiagnosticForDocument(doc, ls, parent) {
				n++
			}
		}
	}
	return n
}

// pullDiagnosticsForDocuments pulls each listed document that is still open
// from all of its capable servers. Runs on the owner loop.
func (h *Handlers) pullDiagnosticsForDocuments(ed *editor.Editor, docs debounce.Set[editor.DocumentID], parent uint64) int {
	n := 0
	for _, id := range slices.Sorted(maps.Keys(docs)) {
		doc, ok := ed.Document(id)
		if !ok {
			continue
		}
		for _, ls := range doc.LanguageServersWithFeature(lsp.FeaturePullDiagnostics) {
			if h.pullDiagnosticForDocument(doc, ls, parent) {
				n++
			}
		}
	}
	return n
}

// pullDiagnosticForDocument issues one request and hands its future to a
// new goroutine. It reports whether a request was sent.
func (h *Handlers) pullDiagnosticForDocument(doc *editor.Document, ls editor.LanguageServer, parent uint64) bool {
	uri, ok := doc.URI()
	if !ok {
		h.log.Debug("document has no uri, skipping pull", zap.Uint64("doc", uint64(doc.ID())))
		return false
	}
	var previous *string
	if id, ok := doc.PreviousDiagnosticID(ls.ID()); ok {
		previous = &id
	}
	future, ok := ls.TextDocumentDiagnostic(lsp.TextDocumentIdentifier{URI: uri}, previous)
	if !ok {
		return false
	}
	item := pullItem{
		doc:        doc.ID(),
		uri:        uri,
		server:     ls.ID(),
		serverName: ls.Name(),
		gen:        doc.NextPullGeneration(ls.ID()),
	}
	h.progress(item, progress.StageRequest, progress.StatusQueued, nil, 0)

	h.inflight.Add(1)
	h.requests.Add(1)
	go h.awaitReport(item, future, parent)
	return true
}

// awaitReport runs off the owner loop. It only touches editor state through
// the dispatched merge.
func (h *Handlers) awaitReport(item pullItem, future lsp.Future, parent uint64) {
	defer h.requests.Done()
	defer h.inflight.Add(-1)

	ctx := h.baseContext()
	log := h.log.With(zap.String("server", item.serverName), zap.String("uri", string(item.uri)))
	span := trace.Begin(h.tracer, trace.ScopeRequest, "pull", parent).
		WithExtra("server", item.serverName).
		WithExtra("uri", string(item.uri))
	h.progress(item, progress.StageRequest, progress.StatusWorking, nil, 0)

	raw, err := future.Await(ctx)
	if err != nil {
		elapsed := span.Fail(err)
		if ctx.Err() != nil {
			log.Debug("pull abandoned", zap.Error(err))
		} else {
			log.Error("pull diagnostics request failed", zap.Error(err))
		}
		h.progress(item, progress.StageRequest, progress.StatusError, err, elapsed)
		return
	}
	h.progress(item, progress.StageRequest, progress.StatusDone, nil, span.End(""))

	start := time.Now()
	report, err := lsp.ParseDocumentDiagnosticReport(raw)
	if err != nil {
		trace.Error(h.tracer, trace.ScopeRequest, "parse", err, span.ID())
		log.Warn("dropping malformed diagnostic report", zap.Error(err))
		h.progress(item, progress.StageParse, progress.StatusError, err, time.Since(start))
		return
	}
	h.progress(item, progress.StageParse, progress.StatusDone, nil, time.Since(start))

	handle := h.loop.Dispatch(func(ed *editor.Editor) {
		h.applyPullReport(ed, item, report, span.ID())
	})
	if err := handle.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, dispatch.ErrStopped) {
		log.Debug("merge not applied", zap.Error(err))
	}
}

func (h *Handlers) progress(item pullItem, stage progress.Stage, status progress.Status, err error, elapsed time.Duration) {
	h.sink.OnEvent(progress.Event{
		Resource: item.uri,
		Server:   item.serverName,
		Stage:    stage,
		Status:   status,
		Err:      err,
		Elapsed:  elapsed,
	})
}

package handlers

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"pulldiag/internal/editor"
	"pulldiag/internal/lsp"
	"pulldiag/internal/progress"
	"pulldiag/internal/trace"
)

// applyPullReport merges a parsed report. Runs on the owner loop.
func (h *Handlers) applyPullReport(ed *editor.Editor, item pullItem, report lsp.DocumentDiagnosticReport, parent uint64) {
	start := time.Now()
	span := trace.Begin(h.tracer, trace.ScopeMerge, "merge", parent)

	doc, ok := ed.Document(item.doc)
	if !ok {
		span.End("closed")
		h.progress(item, progress.StageMerge, progress.StatusSkipped, nil, time.Since(start))
		return
	}
	if h.discardStale && !doc.AcceptPullGeneration(item.server, item.gen) {
		h.log.Debug("discarding stale report",
			zap.String("server", item.serverName),
			zap.String("uri", string(item.uri)),
			zap.Uint64("generation", item.gen))
		span.End("stale")
		h.progress(item, progress.StageMerge, progress.StatusSkipped, nil, time.Since(start))
		return
	}

	switch report.Kind {
	case lsp.ReportFull:
		ed.ReplaceDiagnostics(item.uri, item.server, report.Items)
		updateToken(doc, item.server, report.ResultID)
	case lsp.ReportUnchanged:
		doc.SetPreviousDiagnosticID(item.server, report.ResultID)
	}

	for _, uri := range slices.Sorted(maps.Keys(report.RelatedDocuments)) {
		h.applyRelated(ed, item, uri, report.RelatedDocuments[uri])
	}

	span.WithExtra("related", strconv.Itoa(len(report.RelatedDocuments))).End(string(report.Kind))
	h.sink.OnEvent(progress.Event{
		Resource:    item.uri,
		Server:      item.serverName,
		Stage:       progress.StageMerge,
		Status:      progress.StatusDone,
		Elapsed:     time.Since(start),
		Diagnostics: len(ed.Diagnostics(item.uri)),
	})
}

// applyRelated merges one relatedDocuments entry. A URI that cannot be
// mapped to a local file drops only that entry.
func (h *Handlers) applyRelated(ed *editor.Editor, item pullItem, uri lsp.DocumentURI, related lsp.RelatedReport) {
	path, err := lsp.URIToPath(uri)
	if err != nil {
		h.log.Debug("skipping related document", zap.String("uri", string(uri)), zap.Error(err))
		return
	}
	canonical, err := lsp.PathToURI(path)
	if err != nil {
		h.log.Debug("skipping related document", zap.String("path", path), zap.Error(err))
		return
	}
	doc, open := ed.DocumentByPath(path)

	switch related.Kind {
	case lsp.ReportFull:
		ed.ReplaceDiagnostics(canonical, item.server, related.Items)
		if open {
			updateToken(doc, item.server, related.ResultID)
		}
	case lsp.ReportUnchanged:
		if open {
			doc.SetPreviousDiagnosticID(item.server, related.ResultID)
		}
	}
}

// updateToken stores the token of a full report. A full report without a
// resultId invalidates the previous one.
func updateToken(doc *editor.Document, server lsp.ServerID, resultID string) {
	if resultID == "" {
		doc.ClearPreviousDiagnosticID(server)
		return
	}
	doc.SetPreviousDiagnosticID(server, resultID)
}

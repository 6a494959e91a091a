package handlers

import (
	"pulldiag/internal/editor"
	"pulldiag/internal/event"
	"pulldiag/internal/lsp"
)

// RegisterHooks subscribes h to the editor events that trigger pulls or
// diagnostic refreshes. Hooks only enqueue; they never touch the store.
func RegisterHooks(reg *event.Registry, h *Handlers) {
	event.Register(reg, func(ev *editor.DocumentDidChange) error {
		doc, ok := ev.Editor.Document(ev.Doc)
		if !ok {
			return nil
		}
		servers := doc.LanguageServersWithFeature(lsp.FeaturePullDiagnostics)
		if len(servers) == 0 {
			return nil
		}
		ids := make([]lsp.ServerID, 0, len(servers))
		for _, ls := range servers {
			ids = append(ids, ls.ID())
		}
		h.PullDiagnostics.Send(ids)
		return nil
	})

	event.Register(reg, func(ev *editor.DocumentDidOpen) error {
		doc, ok := ev.Editor.Document(ev.Doc)
		if !ok || !doc.HasLanguageServerWithFeature(lsp.FeaturePullDiagnostics) {
			return nil
		}
		h.PullAllDocumentsDiagnostics.Send(ev.Doc)
		return nil
	})

	event.Register(reg, func(ev *editor.ModeSwitched) error {
		active := ev.New != editor.ModeInsert
		for _, v := range ev.Editor.Views() {
			v.Diagnostics.SetActive(active)
		}
		return nil
	})

	event.Register(reg, func(ev *editor.DiagnosticsDidChange) error {
		if ev.Editor.Mode() == editor.ModeInsert {
			return nil
		}
		for _, v := range ev.Editor.Views() {
			v.Diagnostics.Send(editor.DiagnosticEventRefresh)
		}
		return nil
	})
}

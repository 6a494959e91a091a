package editor

import "sync/atomic"

// ViewID identifies a view. Zero is never assigned.
type ViewID uint64

// DiagnosticEvent is delivered to a view's diagnostics handler.
type DiagnosticEvent uint8

const (
	// DiagnosticEventRefresh asks the view to redraw its inline diagnostics.
	DiagnosticEventRefresh DiagnosticEvent = iota + 1
)

// DiagnosticsHandler holds the per-view diagnostic display state.
type DiagnosticsHandler struct {
	active atomic.Bool
	events chan DiagnosticEvent
}

func newDiagnosticsHandler() *DiagnosticsHandler {
	h := &DiagnosticsHandler{events: make(chan DiagnosticEvent, 1)}
	h.active.Store(true)
	return h
}

func (h *DiagnosticsHandler) Active() bool { return h.active.Load() }

func (h *DiagnosticsHandler) SetActive(active bool) { h.active.Store(active) }

// Send queues ev without blocking. A refresh that is already pending absorbs
// the new one.
func (h *DiagnosticsHandler) Send(ev DiagnosticEvent) bool {
	select {
	case h.events <- ev:
		return true
	default:
		return false
	}
}

// Events is the receive side consumed by the renderer.
func (h *DiagnosticsHandler) Events() <-chan DiagnosticEvent { return h.events }

// View displays one document.
type View struct {
	id          ViewID
	doc         DocumentID
	Diagnostics *DiagnosticsHandler
}

func (v *View) ID() ViewID      { return v.id }
func (v *View) Doc() DocumentID { return v.doc }

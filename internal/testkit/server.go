// Package testkit provides fakes and invariant checks shared by the package
// tests.
package testkit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"pulldiag/internal/lsp"
)

type reply struct {
	raw json.RawMessage
	err error
}

// Request is one textDocument/diagnostic call received by a Server. It is
// also the future handed back to the caller.
type Request struct {
	URI              lsp.DocumentURI
	PreviousResultID *string
	Server           lsp.ServerID

	ch chan reply
}

// Reply answers the request with a raw JSON result.
func (r *Request) Reply(raw string) {
	select {
	case r.ch <- reply{raw: json.RawMessage(raw)}:
	default:
	}
}

// Fail answers the request with a transport error.
func (r *Request) Fail(err error) {
	select {
	case r.ch <- reply{err: err}:
	default:
	}
}

// Await implements lsp.Future.
func (r *Request) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-r.ch:
		return res.raw, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Previous returns the previous result id sent with the request.
func (r *Request) Previous() (string, bool) {
	if r.PreviousResultID == nil {
		return "", false
	}
	return *r.PreviousResultID, true
}

// Server is an in-memory editor.LanguageServer.
type Server struct {
	id      lsp.ServerID
	name    string
	capable atomic.Bool

	// Respond, when set, is called for every request before it is handed
	// out; it usually replies right away.
	Respond func(*Request)

	mu       sync.Mutex
	requests []*Request
	incoming chan *Request

	opened  atomic.Int32
	changed atomic.Int32
	closed  atomic.Int32
}

// NewServer returns a fake server. capable controls pull diagnostic support.
func NewServer(id lsp.ServerID, name string, capable bool) *Server {
	s := &Server{id: id, name: name, incoming: make(chan *Request, 256)}
	s.capable.Store(capable)
	return s
}

func (s *Server) ID() lsp.ServerID { return s.id }
func (s *Server) Name() string     { return s.name }

func (s *Server) SetCapable(capable bool) { s.capable.Store(capable) }

func (s *Server) SupportsFeature(f lsp.Feature) bool {
	return f == lsp.FeaturePullDiagnostics && s.capable.Load()
}

func (s *Server) TextDocumentDiagnostic(doc lsp.TextDocumentIdentifier, previousResultID *string) (lsp.Future, bool) {
	if !s.capable.Load() {
		return nil, false
	}
	req := &Request{URI: doc.URI, Server: s.id, ch: make(chan reply, 1)}
	if previousResultID != nil {
		prev := *previousResultID
		req.PreviousResultID = &prev
	}
	if s.Respond != nil {
		s.Respond(req)
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	select {
	case s.incoming <- req:
	default:
	}
	return req, true
}

func (s *Server) TextDocumentDidOpen(lsp.TextDocumentItem) error {
	s.opened.Add(1)
	return nil
}

func (s *Server) TextDocumentDidChange(lsp.VersionedTextDocumentIdentifier, string) error {
	s.changed.Add(1)
	return nil
}

func (s *Server) TextDocumentDidClose(lsp.TextDocumentIdentifier) error {
	s.closed.Add(1)
	return nil
}

// Requests returns every request received so far.
func (s *Server) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns the number of requests received so far.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// NextRequest waits for the next request that was not yet returned by
// NextRequest.
func (s *Server) NextRequest(timeout time.Duration) (*Request, bool) {
	select {
	case req := <-s.incoming:
		return req, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Notifications returns the didOpen, didChange and didClose counts.
func (s *Server) Notifications() (opened, changed, closed int) {
	return int(s.opened.Load()), int(s.changed.Load()), int(s.closed.Load())
}

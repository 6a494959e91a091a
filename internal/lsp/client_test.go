package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"
)

// fakeServer is the remote end of a Client wired through in-memory pipes.
type fakeServer struct {
	t    *testing.T
	msgs chan rpcMessage
	out  io.WriteCloser
}

func newClientPair(t *testing.T, opts ClientOptions) (*Client, *fakeServer, func()) {
	t.Helper()
	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()
	client := NewClient(clientIn, clientOut, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()
	srv := &fakeServer{t: t, msgs: make(chan rpcMessage, 16), out: serverOut}
	go func() {
		defer close(srv.msgs)
		in := bufio.NewReader(serverIn)
		for {
			payload, err := readMessage(in)
			if err != nil {
				return
			}
			var msg rpcMessage
			if json.Unmarshal(payload, &msg) == nil {
				srv.msgs <- msg
			}
		}
	}()
	stop := func() {
		cancel()
		_ = serverOut.Close()
		_ = serverIn.Close()
		<-done
	}
	return client, srv, stop
}

func (s *fakeServer) read() rpcMessage {
	s.t.Helper()
	select {
	case msg, ok := <-s.msgs:
		if !ok {
			s.t.Fatal("server stream closed")
		}
		return msg
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for client message")
	}
	return rpcMessage{}
}

func (s *fakeServer) write(v any) {
	s.t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		s.t.Fatalf("server encode: %v", err)
	}
	if err := writeMessage(s.out, payload); err != nil {
		s.t.Fatalf("server write: %v", err)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientInitializeDetectsPullDiagnostics(t *testing.T) {
	client, srv, stop := newClientPair(t, ClientOptions{ID: 1, Name: "fake"})
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Initialize(testContext(t), InitializeOptions{ClientName: "pulldiag"})
	}()

	req := srv.read()
	if req.Method != "initialize" {
		t.Fatalf("expected initialize, got %q", req.Method)
	}
	srv.write(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result": map[string]any{
			"capabilities": map[string]any{
				"diagnosticProvider": map[string]any{"identifier": "vet", "interFileDependencies": true},
			},
		},
	})
	if note := srv.read(); note.Method != "initialized" {
		t.Fatalf("expected initialized notification, got %q", note.Method)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !client.SupportsFeature(FeaturePullDiagnostics) {
		t.Fatal("expected pull diagnostics support")
	}

	prev := "r0"
	future, ok := client.TextDocumentDiagnostic(TextDocumentIdentifier{URI: "file:///a.go"}, &prev)
	if !ok {
		t.Fatal("expected diagnostic request to be issued")
	}
	req = srv.read()
	if req.Method != "textDocument/diagnostic" {
		t.Fatalf("expected textDocument/diagnostic, got %q", req.Method)
	}
	var params DocumentDiagnosticParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.PreviousResultID == nil || *params.PreviousResultID != "r0" {
		t.Fatalf("expected previousResultId r0, got %v", params.PreviousResultID)
	}
	if params.Identifier == nil || *params.Identifier != "vet" {
		t.Fatalf("expected identifier vet, got %v", params.Identifier)
	}
	srv.write(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  map[string]any{"kind": "unchanged", "resultId": "r0"},
	})
	raw, err := future.Await(testContext(t))
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	report, err := ParseDocumentDiagnosticReport(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if report.Kind != ReportUnchanged {
		t.Fatalf("unexpected report kind %q", report.Kind)
	}
}

func TestClientWithoutCapabilitySkipsRequest(t *testing.T) {
	client, _, stop := newClientPair(t, ClientOptions{ID: 2})
	defer stop()
	if _, ok := client.TextDocumentDiagnostic(TextDocumentIdentifier{URI: "file:///a.go"}, nil); ok {
		t.Fatal("expected request to be skipped")
	}
	if client.Name() != "server-2" {
		t.Fatalf("unexpected default name %q", client.Name())
	}
}

func TestClientOmitsPreviousResultIDWhenAbsent(t *testing.T) {
	client, srv, stop := newClientPair(t, ClientOptions{ID: 1})
	defer stop()
	client.setDiagnosticProvider(nil)

	if _, ok := client.TextDocumentDiagnostic(TextDocumentIdentifier{URI: "file:///a.go"}, nil); !ok {
		t.Fatal("expected request")
	}
	req := srv.read()
	var params map[string]json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if _, ok := params["previousResultId"]; ok {
		t.Fatalf("expected previousResultId to be omitted, got %s", req.Params)
	}
}

func TestClientResponseError(t *testing.T) {
	client, srv, stop := newClientPair(t, ClientOptions{ID: 1})
	defer stop()

	call := client.Call("textDocument/diagnostic", struct{}{})
	req := srv.read()
	srv.write(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"error":   map[string]any{"code": -32803, "message": "request failed"},
	})
	_, err := call.Await(testContext(t))
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.Code != -32803 {
		t.Fatalf("unexpected code %d", respErr.Code)
	}
	// A second Await returns the cached outcome.
	if _, again := call.Await(testContext(t)); !errors.As(again, &respErr) {
		t.Fatalf("expected cached error, got %v", again)
	}
}

func TestClientPendingCallsFailOnClose(t *testing.T) {
	client, srv, stop := newClientPair(t, ClientOptions{ID: 1})

	call := client.Call("textDocument/diagnostic", struct{}{})
	srv.read()
	stop()

	if _, err := call.Await(testContext(t)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := client.Call("shutdown", nil).Await(testContext(t)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestClientRefreshRequest(t *testing.T) {
	refreshed := make(chan ServerID, 1)
	_, srv, stop := newClientPair(t, ClientOptions{ID: 7, OnRefresh: func(id ServerID) { refreshed <- id }})
	defer stop()

	srv.write(map[string]any{"jsonrpc": "2.0", "id": 99, "method": "workspace/diagnostic/refresh"})
	reply := srv.read()
	if string(reply.ID) != "99" {
		t.Fatalf("expected reply to id 99, got %s", reply.ID)
	}
	select {
	case id := <-refreshed:
		if id != 7 {
			t.Fatalf("unexpected server id %d", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("refresh callback not invoked")
	}
}

func TestClientDynamicRegistration(t *testing.T) {
	client, srv, stop := newClientPair(t, ClientOptions{ID: 1})
	defer stop()

	srv.write(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "client/registerCapability",
		"params": map[string]any{
			"registrations": []map[string]any{{
				"id":              "diag",
				"method":          "textDocument/diagnostic",
				"registerOptions": map[string]any{"identifier": "lint"},
			}},
		},
	})
	srv.read()
	if !client.SupportsFeature(FeaturePullDiagnostics) {
		t.Fatal("expected registration to enable pull diagnostics")
	}
	if id := client.diagnosticIdentity.Load(); id == nil || *id != "lint" {
		t.Fatalf("unexpected identifier %v", id)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"pulldiag/internal/dispatch"
	"pulldiag/internal/editor"
	"pulldiag/internal/event"
	"pulldiag/internal/lsp"
	"pulldiag/internal/progress"
	"pulldiag/internal/testkit"
)

const waitFor = 5 * time.Second

type harness struct {
	t         *testing.T
	ed        *editor.Editor
	loop      *Loop
	h         *Handlers
	collector *progress.Collector
	cancel    context.CancelFunc
	group     *errgroup.Group
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	hooks := event.NewRegistry()
	ed := editor.New(hooks, nil)
	loop := dispatch.New(ed)
	collector := &progress.Collector{}
	opts.Progress = collector
	if opts.ChangeDebounce == 0 {
		opts.ChangeDebounce = 30 * time.Millisecond
	}
	if opts.OpenDebounce == 0 {
		opts.OpenDebounce = 10 * time.Millisecond
	}
	h := New(loop, opts)
	RegisterHooks(hooks, h)

	ctx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return h.Run(ctx) })
	return &harness{t: t, ed: ed, loop: loop, h: h, collector: collector, cancel: cancel, group: g}
}

func (hs *harness) stop() {
	hs.cancel()
	err := hs.group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		hs.t.Fatalf("shutdown: %v", err)
	}
}

func (hs *harness) do(fn func(ed *editor.Editor)) {
	hs.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(hs.t, hs.loop.Do(ctx, func(ed *editor.Editor) error {
		fn(ed)
		return nil
	}))
}

func (hs *harness) open(path string, servers ...editor.LanguageServer) editor.DocumentID {
	hs.t.Helper()
	var id editor.DocumentID
	hs.do(func(ed *editor.Editor) {
		var err error
		id, err = ed.OpenDocument(path, "", "go", servers)
		require.NoError(hs.t, err)
	})
	return id
}

func (hs *harness) settle() {
	hs.t.Helper()
	require.Eventually(hs.t, func() bool {
		return hs.h.Settled() && !hs.loop.Pending()
	}, waitFor, 2*time.Millisecond)
}

func (hs *harness) diagnostics(uri lsp.DocumentURI) []editor.DiagnosticEntry {
	var out []editor.DiagnosticEntry
	hs.do(func(ed *editor.Editor) { out = ed.Diagnostics(uri) })
	return out
}

func (hs *harness) token(doc editor.DocumentID, server lsp.ServerID) (string, bool) {
	var (
		id string
		ok bool
	)
	hs.do(func(ed *editor.Editor) {
		d, exists := ed.Document(doc)
		require.True(hs.t, exists)
		id, ok = d.PreviousDiagnosticID(server)
	})
	return id, ok
}

func nextRequest(t *testing.T, srv *testkit.Server) *testkit.Request {
	t.Helper()
	req, ok := srv.NextRequest(waitFor)
	require.True(t, ok, "expected a request to %s", srv.Name())
	return req
}

func diagnostic(line uint32, msg string) lsp.Diagnostic {
	return lsp.Diagnostic{
		Range:    lsp.Range{Start: lsp.Position{Line: line}, End: lsp.Position{Line: line, Character: 1}},
		Severity: lsp.SeverityError,
		Message:  msg,
	}
}

func fullJSON(t *testing.T, resultID string, items ...lsp.Diagnostic) string {
	t.Helper()
	if items == nil {
		items = []lsp.Diagnostic{}
	}
	report := map[string]any{"kind": "full", "items": items}
	if resultID != "" {
		report["resultId"] = resultID
	}
	data, err := json.Marshal(report)
	require.NoError(t, err)
	return string(data)
}

func unchangedJSON(resultID string) string {
	return `{"kind":"unchanged","resultId":"` + resultID + `"}`
}

func tempPath(t *testing.T, name string) (string, lsp.DocumentURI) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	uri, err := lsp.PathToURI(path)
	require.NoError(t, err)
	return path, uri
}

func messages(entries []editor.DiagnosticEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Diagnostic.Message)
	}
	return out
}

func TestOpenPullsThenTokenRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	mute := testkit.NewServer(2, "push-only", false)
	path, uri := tempPath(t, "main.go")
	doc := hs.open(path, srv, mute)

	req := nextRequest(t, srv)
	require.Equal(t, uri, req.URI)
	_, hasPrev := req.Previous()
	require.False(t, hasPrev, "first pull must not carry a previous result id")
	req.Reply(fullJSON(t, "r1", diagnostic(2, "unused variable")))
	hs.settle()

	require.Equal(t, []string{"unused variable"}, messages(hs.diagnostics(uri)))
	token, ok := hs.token(doc, 1)
	require.True(t, ok)
	require.Equal(t, "r1", token)
	require.Equal(t, 0, mute.RequestCount())

	hs.do(func(ed *editor.Editor) { require.NoError(t, ed.ChangeDocument(doc, "package main")) })
	req = nextRequest(t, srv)
	prev, hasPrev := req.Previous()
	require.True(t, hasPrev)
	require.Equal(t, "r1", prev)
	req.Reply(unchangedJSON("r1"))
	hs.settle()

	require.Equal(t, []string{"unused variable"}, messages(hs.diagnostics(uri)), "unchanged must leave the store alone")
	require.Equal(t, 2, hs.collector.Count(progress.StageMerge, progress.StatusDone))
}

func TestChangeBurstCoalesces(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{ChangeDebounce: 60 * time.Millisecond})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	srv.Respond = func(r *testkit.Request) { r.Reply(fullJSON(t, "")) }
	path, _ := tempPath(t, "main.go")
	doc := hs.open(path, srv)
	hs.settle()
	require.Equal(t, 1, srv.RequestCount())

	for _, text := range []string{"a", "ab", "abc", "abcd", "abcde"} {
		hs.do(func(ed *editor.Editor) { require.NoError(t, ed.ChangeDocument(doc, text)) })
	}
	hs.settle()

	require.Equal(t, 2, srv.RequestCount(), "five changes inside one window must produce one pull")
	change, open := hs.h.Cycles()
	require.Equal(t, uint64(1), change)
	require.Equal(t, uint64(1), open)
}

func TestChangePullsEveryDocumentOfTheServer(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	shared := testkit.NewServer(1, "shared", true)
	other := testkit.NewServer(2, "other", true)
	reply := func(r *testkit.Request) { r.Reply(fullJSON(t, "")) }
	shared.Respond = reply
	other.Respond = reply

	pathA, uriA := tempPath(t, "a.go")
	pathB, uriB := tempPath(t, "b.go")
	pathC, _ := tempPath(t, "c.go")
	docA := hs.open(pathA, shared)
	hs.open(pathB, shared)
	hs.open(pathC, other)
	hs.settle()
	baseShared, baseOther := shared.RequestCount(), other.RequestCount()

	hs.do(func(ed *editor.Editor) { require.NoError(t, ed.ChangeDocument(docA, "x")) })
	hs.settle()

	requests := shared.Requests()[baseShared:]
	require.Len(t, requests, 2)
	require.ElementsMatch(t, []lsp.DocumentURI{uriA, uriB}, []lsp.DocumentURI{requests[0].URI, requests[1].URI})
	require.Equal(t, baseOther, other.RequestCount())
}

func TestOpenBurstPullsEachDocumentOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{OpenDebounce: 50 * time.Millisecond})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	srv.Respond = func(r *testkit.Request) { r.Reply(fullJSON(t, "")) }
	hs.do(func(ed *editor.Editor) {
		for _, name := range []string{"a.go", "b.go", "c.go"} {
			_, err := ed.OpenDocument(filepath.Join(t.TempDir(), name), "", "go", []editor.LanguageServer{srv})
			require.NoError(t, err)
		}
	})
	hs.settle()

	require.Equal(t, 3, srv.RequestCount())
	_, open := hs.h.Cycles()
	require.Equal(t, uint64(1), open)
}

func TestScratchDocumentIsNotPulled(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	hs.do(func(ed *editor.Editor) { ed.OpenScratch("text", "go", []editor.LanguageServer{srv}) })
	hs.settle()

	_, open := hs.h.Cycles()
	require.Equal(t, uint64(1), open)
	require.Zero(t, srv.RequestCount())
}

func TestUnparseableReportNeverMerges(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	path, uri := tempPath(t, "main.go")
	doc := hs.open(path, srv)
	nextRequest(t, srv).Reply(`{"kind":"partial","items":[]}`)
	hs.settle()

	require.Empty(t, hs.diagnostics(uri))
	_, ok := hs.token(doc, 1)
	require.False(t, ok)
	require.Equal(t, 1, hs.collector.Count(progress.StageParse, progress.StatusError))
	require.Zero(t, hs.collector.Count(progress.StageMerge, progress.StatusDone))
}

func TestTransportErrorIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	path, uri := tempPath(t, "main.go")
	hs.open(path, srv)
	nextRequest(t, srv).Fail(&lsp.ResponseError{Code: -32803, Message: "server busy"})
	hs.settle()

	require.Empty(t, hs.diagnostics(uri))
	require.Equal(t, 1, hs.collector.Count(progress.StageRequest, progress.StatusError))
	require.Equal(t, 1, srv.RequestCount(), "failed pulls are not retried")
}

func TestClosedDocumentMergeIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	path, uri := tempPath(t, "main.go")
	doc := hs.open(path, srv)
	req := nextRequest(t, srv)
	hs.do(func(ed *editor.Editor) { require.NoError(t, ed.CloseDocument(doc)) })
	req.Reply(fullJSON(t, "r1", diagnostic(0, "late")))
	hs.settle()

	require.Empty(t, hs.diagnostics(uri))
	require.Equal(t, 1, hs.collector.Count(progress.StageMerge, progress.StatusSkipped))
}

func TestRefreshServerRepulls(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	srv.Respond = func(r *testkit.Request) { r.Reply(fullJSON(t, "r")) }
	path, _ := tempPath(t, "main.go")
	hs.open(path, srv)
	hs.settle()

	hs.h.RefreshServer(1)
	hs.settle()
	require.Equal(t, 2, srv.RequestCount())
	prev, ok := srv.Requests()[1].Previous()
	require.True(t, ok)
	require.Equal(t, "r", prev)
}

func TestStaleResponseOverwritesByDefault(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	path, uri := tempPath(t, "main.go")
	doc := hs.open(path, srv)
	older := nextRequest(t, srv)
	hs.do(func(ed *editor.Editor) { require.NoError(t, ed.ChangeDocument(doc, "x")) })
	newer := nextRequest(t, srv)

	newer.Reply(fullJSON(t, "new", diagnostic(0, "fresh")))
	require.Eventually(t, func() bool { return len(hs.diagnostics(uri)) == 1 }, waitFor, 2*time.Millisecond)
	older.Reply(fullJSON(t, "old", diagnostic(0, "stale")))
	hs.settle()

	require.Equal(t, []string{"stale"}, messages(hs.diagnostics(uri)))
	token, _ := hs.token(doc, 1)
	require.Equal(t, "old", token)
}

func TestDiscardStaleKeepsNewest(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{DiscardStale: true})
	defer hs.stop()

	srv := testkit.NewServer(1, "capable", true)
	path, uri := tempPath(t, "main.go")
	doc := hs.open(path, srv)
	older := nextRequest(t, srv)
	hs.do(func(ed *editor.Editor) { require.NoError(t, ed.ChangeDocument(doc, "x")) })
	newer := nextRequest(t, srv)

	newer.Reply(fullJSON(t, "new", diagnostic(0, "fresh")))
	require.Eventually(t, func() bool { return len(hs.diagnostics(uri)) == 1 }, waitFor, 2*time.Millisecond)
	older.Reply(fullJSON(t, "old", diagnostic(0, "stale")))
	hs.settle()

	require.Equal(t, []string{"fresh"}, messages(hs.diagnostics(uri)))
	token, _ := hs.token(doc, 1)
	require.Equal(t, "new", token)
}

func TestModeSwitchTogglesViews(t *testing.T) {
	defer goleak.VerifyNone(t)
	hs := newHarness(t, Options{})
	defer hs.stop()

	path, uri := tempPath(t, "main.go")
	doc := hs.open(path)
	var view *editor.View
	hs.do(func(ed *editor.Editor) {
		var err error
		view, err = ed.NewView(doc)
		require.NoError(t, err)
		ed.SetMode(editor.ModeInsert)
	})
	require.False(t, view.Diagnostics.Active())

	hs.do(func(ed *editor.Editor) { ed.ReplaceDiagnostics(uri, 1, []lsp.Diagnostic{diagnostic(0, "x")}) })
	select {
	case <-view.Diagnostics.Events():
		t.Fatal("no refresh while inserting")
	default:
	}

	hs.do(func(ed *editor.Editor) {
		ed.SetMode(editor.ModeNormal)
		ed.ReplaceDiagnostics(uri, 1, nil)
	})
	require.True(t, view.Diagnostics.Active())
	select {
	case ev := <-view.Diagnostics.Events():
		require.Equal(t, editor.DiagnosticEventRefresh, ev)
	case <-time.After(waitFor):
		t.Fatal("expected refresh")
	}
}

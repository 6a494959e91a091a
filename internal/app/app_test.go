package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pulldiag/internal/editor"
	"pulldiag/internal/handlers"
	"pulldiag/internal/lsp"
	"pulldiag/internal/testkit"
)

func fastOptions() Options {
	return Options{Handlers: handlers.Options{
		ChangeDebounce: 20 * time.Millisecond,
		OpenDebounce:   10 * time.Millisecond,
	}}
}

// replyFull answers every request with a full report whose result id counts
// up per server.
func replyFull(message string) func(*testkit.Request) {
	var n atomic.Int32
	return func(req *testkit.Request) {
		id := n.Add(1)
		req.Reply(fmt.Sprintf(`{"kind":"full","resultId":"r%d","items":[{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"message":%q}]}`, id, message))
	}
}

func writeFile(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func TestServersForMatchesExtension(t *testing.T) {
	a := New(Options{})
	gopls := testkit.NewServer(1, "gopls", true)
	vet := testkit.NewServer(2, "vet", true)
	rust := testkit.NewServer(3, "rust-analyzer", true)
	a.AddServer(gopls, "go", ".go")
	a.AddServer(vet, "golang", "GO")
	a.AddServer(rust, "rust", ".rs", "")

	lang, servers := a.ServersFor("/x/Main.GO")
	require.Equal(t, "go", lang)
	require.Equal(t, []editor.LanguageServer{gopls, vet}, servers)

	lang, servers = a.ServersFor("/x/lib.rs")
	require.Equal(t, "rust", lang)
	require.Len(t, servers, 1)

	lang, servers = a.ServersFor("/x/README")
	require.Empty(t, lang)
	require.Empty(t, servers)
}

func TestWaitBeforeStart(t *testing.T) {
	require.ErrorIs(t, New(Options{}).Wait(), ErrNotStarted)
}

func TestOpenPullsAndSettles(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(fastOptions())
	srv := testkit.NewServer(1, "gopls", true)
	srv.Respond = replyFull("unused variable")
	a.AddServer(srv, "go", ".go")

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)

	dir := t.TempDir()
	main := writeFile(t, dir, "main.go", "package main\n")
	util := writeFile(t, dir, "util.go", "package main\n")
	_, err := a.Open(ctx, main)
	require.NoError(t, err)
	_, err = a.Open(ctx, util)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, a.WaitSettled(waitCtx, 30*time.Millisecond))

	store, err := a.Diagnostics(ctx)
	require.NoError(t, err)
	require.Len(t, store, 2)
	for _, entries := range store {
		require.Len(t, entries, 1)
		require.Equal(t, "unused variable", entries[0].Diagnostic.Message)
	}
	require.Equal(t, 2, srv.RequestCount())

	cancel()
	require.NoError(t, a.Wait())
}

func TestReloadSendsPreviousResultID(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(fastOptions())
	srv := testkit.NewServer(1, "gopls", true)
	srv.Respond = replyFull("x")
	a.AddServer(srv, "go", ".go")

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	defer func() {
		cancel()
		require.NoError(t, a.Wait())
	}()

	path := writeFile(t, t.TempDir(), "main.go", "package main\n")
	_, err := a.Open(ctx, path)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, a.WaitSettled(waitCtx, 30*time.Millisecond))

	require.NoError(t, os.WriteFile(path, []byte("package main\n\nvar x int\n"), 0o600))
	found, err := a.Reload(ctx, path)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, a.WaitSettled(waitCtx, 30*time.Millisecond))

	requests := srv.Requests()
	require.Len(t, requests, 2)
	_, ok := requests[0].Previous()
	require.False(t, ok)
	prev, ok := requests[1].Previous()
	require.True(t, ok)
	require.Equal(t, "r1", prev)

	found, err = a.Reload(ctx, writeFile(t, t.TempDir(), "other.go", ""))
	require.NoError(t, err)
	require.False(t, found)
}

func TestRefreshServerRepullsOpenDocuments(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(fastOptions())
	srv := testkit.NewServer(7, "lint", true)
	srv.Respond = replyFull("lint")
	a.AddServer(srv, "go", ".go")

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	defer func() {
		cancel()
		require.NoError(t, a.Wait())
	}()

	_, err := a.Open(ctx, writeFile(t, t.TempDir(), "main.go", "package main\n"))
	require.NoError(t, err)
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, a.WaitSettled(waitCtx, 30*time.Millisecond))

	a.Handlers.RefreshServer(lsp.ServerID(7))
	a.Handlers.RefreshServer(lsp.ServerID(7))
	require.NoError(t, a.WaitSettled(waitCtx, 30*time.Millisecond))
	require.Equal(t, 2, srv.RequestCount())
	change, _ := a.Handlers.Cycles()
	require.Equal(t, uint64(1), change)
}

func TestGoFailureCancelsGroup(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := New(Options{})
	gctx := a.Start(context.Background())
	boom := fmt.Errorf("boom")
	a.Go(func(context.Context) error { return boom })

	select {
	case <-gctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("group context not cancelled")
	}
	require.ErrorIs(t, a.Wait(), boom)
}

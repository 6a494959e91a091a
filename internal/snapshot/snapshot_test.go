package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulldiag/internal/editor"
	"pulldiag/internal/lsp"
)

func diagnostic(line uint32, msg string) lsp.Diagnostic {
	return lsp.Diagnostic{
		Range:    lsp.Range{Start: lsp.Position{Line: line}, End: lsp.Position{Line: line, Character: 4}},
		Severity: lsp.SeverityWarning,
		Code:     "U1000",
		Source:   "staticcheck",
		Message:  msg,
	}
}

func populated(t *testing.T) (*editor.Editor, lsp.DocumentURI) {
	t.Helper()
	ed := editor.New(nil, nil)
	uri, err := lsp.PathToURI(filepath.Join(t.TempDir(), "main.go"))
	require.NoError(t, err)
	ed.ReplaceDiagnostics(uri, 1, []lsp.Diagnostic{diagnostic(2, "a")})
	ed.ReplaceDiagnostics(uri, 2, []lsp.Diagnostic{diagnostic(1, "b"), diagnostic(9, "c")})
	ed.ReplaceDiagnostics("untitled:1", 1, []lsp.Diagnostic{diagnostic(0, "scratch")})
	return ed, uri
}

func TestCaptureCopiesStore(t *testing.T) {
	ed, uri := populated(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := Capture(ed, map[lsp.ServerID]string{1: "gopls", 2: "staticcheck"}, now)

	require.Equal(t, FormatVersion, snap.Version)
	require.Equal(t, 4, snap.Count())
	require.Len(t, snap.Documents, 2)

	var file Document
	for _, doc := range snap.Documents {
		if doc.URI == uri {
			file = doc
		}
	}
	require.NotEmpty(t, file.Path)
	require.Equal(t, []string{"b", "a", "c"}, []string{file.Entries[0].Diagnostic.Message, file.Entries[1].Diagnostic.Message, file.Entries[2].Diagnostic.Message})
}

func TestFileRoundTripBothEncodings(t *testing.T) {
	ed, _ := populated(t)
	snap := Capture(ed, map[lsp.ServerID]string{1: "gopls"}, time.Unix(1700000000, 0).UTC())
	dir := t.TempDir()

	for _, name := range []string{"out.json", "out.mp", "nested/out.msgpack"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteFile(path, snap))
			got, err := ReadFile(path)
			require.NoError(t, err)
			require.True(t, snap.CreatedAt.Equal(got.CreatedAt))
			require.Equal(t, snap.Documents, got.Documents)
			require.Equal(t, "gopls", got.Servers[1])
		})
	}

	raw, err := os.ReadFile(filepath.Join(dir, "out.json"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"createdAt"`)
	packed, err := os.ReadFile(filepath.Join(dir, "out.mp"))
	require.NoError(t, err)
	require.NotEqual(t, byte('{'), packed[0])
}

func TestRestoreReplacesPerServer(t *testing.T) {
	src, uri := populated(t)
	snap := Capture(src, nil, time.Now())

	dst := editor.New(nil, nil)
	dst.ReplaceDiagnostics(uri, 2, []lsp.Diagnostic{diagnostic(5, "old")})
	dst.ReplaceDiagnostics(uri, 3, []lsp.Diagnostic{diagnostic(5, "other server")})
	Restore(dst, snap)

	var got []string
	for _, entry := range dst.Diagnostics(uri) {
		got = append(got, entry.Diagnostic.Message)
	}
	require.Equal(t, []string{"b", "a", "other server", "c"}, got)
	require.Len(t, dst.Diagnostics("untitled:1"), 1)
}

func TestDecodeRejectsOtherVersion(t *testing.T) {
	_, err := Decode(bytes.NewBufferString(`{"version":99,"documents":[]}`), false)
	require.ErrorIs(t, err, ErrVersion)
}

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"pulldiag/internal/editor"
	"pulldiag/internal/lsp"
)

func entry(server lsp.ServerID, line uint32, severity lsp.DiagnosticSeverity, msg string) editor.DiagnosticEntry {
	return editor.DiagnosticEntry{
		Server: server,
		Diagnostic: lsp.Diagnostic{
			Range:    lsp.Range{Start: lsp.Position{Line: line, Character: 2}},
			Severity: severity,
			Message:  msg,
		},
	}
}

func TestRenderDiagnostics(t *testing.T) {
	color.NoColor = true
	root := t.TempDir()
	uriA, err := lsp.PathToURI(filepath.Join(root, "a.go"))
	if err != nil {
		t.Fatal(err)
	}
	uriB, err := lsp.PathToURI(filepath.Join(root, "b.go"))
	if err != nil {
		t.Fatal(err)
	}
	store := map[lsp.DocumentURI][]editor.DiagnosticEntry{
		uriB: {entry(2, 0, lsp.SeverityWarning, "unused")},
		uriA: {entry(1, 4, 0, "no severity\nsecond line")},
	}

	var out bytes.Buffer
	counts, err := renderDiagnostics(&out, store, renderOptions{cwd: root, names: map[lsp.ServerID]string{1: "gopls"}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if counts.errors != 1 || counts.warnings != 1 || counts.files != 2 {
		t.Fatalf("counts = %+v", counts)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{
		"a.go:5:3: error: no severity ... [gopls]",
		"b.go:1:3: warning: unused [server-2]",
		"1 error, 1 warning, 0 other in 2 files",
	}
	if len(lines) != len(want) {
		t.Fatalf("output:\n%s", out.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRenderDiagnosticsLimit(t *testing.T) {
	color.NoColor = true
	store := map[lsp.DocumentURI][]editor.DiagnosticEntry{
		"untitled:1": {
			entry(1, 0, lsp.SeverityHint, "one"),
			entry(1, 1, lsp.SeverityHint, "two"),
			entry(1, 2, lsp.SeverityHint, "three"),
		},
	}
	var out bytes.Buffer
	counts, err := renderDiagnostics(&out, store, renderOptions{max: 1})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if counts.other != 3 {
		t.Fatalf("counts = %+v", counts)
	}
	if !strings.Contains(out.String(), "... and 2 more") {
		t.Fatalf("missing limit line:\n%s", out.String())
	}
}

func TestServerLabel(t *testing.T) {
	names := map[lsp.ServerID]string{1: "gopls"}
	cases := []struct {
		id     lsp.ServerID
		source string
		want   string
	}{
		{1, "", "gopls"},
		{1, "gopls", "gopls"},
		{1, "staticcheck", "gopls/staticcheck"},
		{7, "", "server-7"},
	}
	for _, tc := range cases {
		if got := serverLabel(tc.id, tc.source, names); got != tc.want {
			t.Fatalf("serverLabel(%d, %q) = %q, want %q", tc.id, tc.source, got, tc.want)
		}
	}
}

package lsp

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"
)

func TestURIToPathRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}
	path, err := URIToPath("file:///tmp/dir/a%20b.go")
	if err != nil {
		t.Fatalf("uri to path: %v", err)
	}
	if path != "/tmp/dir/a b.go" {
		t.Fatalf("unexpected path %q", path)
	}
	uri, err := PathToURI(path)
	if err != nil {
		t.Fatalf("path to uri: %v", err)
	}
	if uri != "file:///tmp/dir/a%20b.go" {
		t.Fatalf("unexpected uri %q", uri)
	}
}

func TestURIToPathRejectsNonFile(t *testing.T) {
	for _, uri := range []DocumentURI{"untitled:Untitled-1", "https://example.com/a.go", "file://remote/a.go"} {
		if _, err := URIToPath(uri); !errors.Is(err, ErrNotFileURI) {
			t.Fatalf("%s: expected ErrNotFileURI, got %v", uri, err)
		}
	}
	if _, err := URIToPath(""); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
}

func TestPathToURIResolvesRelative(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	uri, err := PathToURI("x/../main.go")
	if err != nil {
		t.Fatalf("path to uri: %v", err)
	}
	path, err := URIToPath(uri)
	if err != nil {
		t.Fatalf("uri to path: %v", err)
	}
	want, err := CanonicalPath(filepath.Join(dir, "main.go"))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if path != want {
		t.Fatalf("expected %q, got %q", want, path)
	}
}

func TestCanonicalPathNormalizesNFC(t *testing.T) {
	decomposed := "/tmp/cafe\u0301.go"
	composed := "/tmp/caf\u00e9.go"
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}
	got, err := CanonicalPath(decomposed)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if got != composed {
		t.Fatalf("expected %q, got %q", composed, got)
	}
}

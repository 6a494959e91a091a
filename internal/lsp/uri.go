package lsp

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotFileURI is returned for URIs that do not name a local file.
	ErrNotFileURI = errors.New("not a file uri")
	// ErrEmptyPath is returned when there is no path to convert.
	ErrEmptyPath = errors.New("empty path")
)

// URIToPath converts a file:// URI into an absolute local path.
func URIToPath(uri DocumentURI) (string, error) {
	if uri == "" {
		return "", ErrEmptyPath
	}
	parsed, err := url.Parse(string(uri))
	if err != nil {
		return "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("%w: %q", ErrNotFileURI, uri)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("%w: remote host %q", ErrNotFileURI, parsed.Host)
	}
	path := parsed.Path
	if path == "" {
		return "", fmt.Errorf("%w: %q has no path", ErrNotFileURI, uri)
	}
	// file:///C:/x parses to "/C:/x" on every platform.
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	path = filepath.FromSlash(path)
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrNotFileURI, uri)
	}
	return filepath.Clean(path), nil
}

// PathToURI converts a local path into a canonical file:// URI. Relative
// paths are resolved against the working directory and the result is NFC
// normalized so that the same file always maps to the same key.
func PathToURI(path string) (DocumentURI, error) {
	canon, err := CanonicalPath(path)
	if err != nil {
		return "", err
	}
	slashed := filepath.ToSlash(canon)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: "file", Path: slashed}
	return DocumentURI(u.String()), nil
}

// CanonicalPath returns the absolute, cleaned, NFC normalized form of path.
func CanonicalPath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	abs, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	return norm.NFC.String(filepath.Clean(abs)), nil
}

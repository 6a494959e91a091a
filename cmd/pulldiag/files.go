package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// collectFiles returns the regular files under root that match any of the
// patterns and are accepted by keep. Patterns are doublestar globs relative
// to root; an argument naming an existing file is taken as is. Hidden
// directories are skipped.
func collectFiles(root string, args []string, keep func(string) bool) ([]string, error) {
	var (
		patterns []string
		files    []string
	)
	for _, arg := range args {
		if info, err := os.Stat(arg); err == nil && !info.IsDir() {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return nil, err
			}
			files = append(files, abs)
			continue
		}
		pattern, err := relativePattern(root, arg)
		if err != nil {
			return nil, err
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q: %w", arg, doublestar.ErrBadPattern)
		}
		patterns = append(patterns, pattern)
	}
	if len(args) == 0 {
		patterns = []string{"**"}
	}

	if len(patterns) > 0 {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			for _, pattern := range patterns {
				if ok, _ := doublestar.Match(pattern, rel); ok {
					files = append(files, path)
					break
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := files[:0]
	for _, path := range files {
		if keep(path) {
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// relativePattern turns a pattern given on the command line into one
// relative to root.
func relativePattern(root, arg string) (string, error) {
	pattern := arg
	if !filepath.IsAbs(pattern) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		pattern = filepath.Join(cwd, pattern)
	}
	rel, err := filepath.Rel(root, pattern)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("pattern %q is outside of the project root %s", arg, root)
	}
	if info, err := os.Stat(pattern); err == nil && info.IsDir() {
		if rel == "." {
			return "**", nil
		}
		rel += "/**"
	}
	return rel, nil
}

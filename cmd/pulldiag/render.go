package main

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"fortio.org/safecast"
	"github.com/fatih/color"

	"pulldiag/internal/editor"
	"pulldiag/internal/lsp"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	hintColor    = color.New(color.Faint)
	pathColor    = color.New(color.Bold)
)

type severityCounts struct {
	errors   int
	warnings int
	other    int
	files    int
}

func (c severityCounts) total() int { return c.errors + c.warnings + c.other }

type renderOptions struct {
	cwd   string
	max   int
	names map[lsp.ServerID]string
}

// renderDiagnostics prints the store as path:line:col lines, ordered by
// path and position, followed by a summary.
func renderDiagnostics(out io.Writer, store map[lsp.DocumentURI][]editor.DiagnosticEntry, opts renderOptions) (severityCounts, error) {
	var counts severityCounts
	printed := 0
	for _, uri := range sortedURIs(store) {
		entries := store[uri]
		if len(entries) == 0 {
			continue
		}
		counts.files++
		name := displayPath(uri, opts.cwd)
		for _, entry := range entries {
			d := entry.Diagnostic
			// Servers may omit the severity; clients treat that as an error.
			severity := d.Severity
			if severity == 0 {
				severity = lsp.SeverityError
			}
			switch severity {
			case lsp.SeverityError:
				counts.errors++
			case lsp.SeverityWarning:
				counts.warnings++
			default:
				counts.other++
			}
			if opts.max > 0 && printed >= opts.max {
				continue
			}
			line, err := safecast.Conv[int](d.Range.Start.Line)
			if err != nil {
				return counts, err
			}
			col, err := safecast.Conv[int](d.Range.Start.Character)
			if err != nil {
				return counts, err
			}
			label := severityColor(severity).Sprint(severity.String())
			source := serverLabel(entry.Server, d.Source, opts.names)
			if d.Code != "" {
				source += " " + string(d.Code)
			}
			if _, err := fmt.Fprintf(out, "%s:%d:%d: %s: %s [%s]\n", pathColor.Sprint(name), line+1, col+1, label, firstLine(d.Message), source); err != nil {
				return counts, err
			}
			printed++
		}
	}
	if hidden := counts.total() - printed; hidden > 0 {
		if _, err := fmt.Fprintf(out, "... and %d more (raise --max-diagnostics)\n", hidden); err != nil {
			return counts, err
		}
	}
	_, err := fmt.Fprintln(out, summaryLine(counts))
	return counts, err
}

func summaryLine(c severityCounts) string {
	if c.total() == 0 {
		return color.GreenString("no diagnostics")
	}
	return fmt.Sprintf("%s, %s, %d other in %d %s",
		errorColor.Sprint(plural(c.errors, "error")),
		warningColor.Sprint(plural(c.warnings, "warning")),
		c.other, c.files, pluralWord(c.files, "file"))
}

func plural(n int, word string) string {
	return fmt.Sprintf("%d %s", n, pluralWord(n, word))
}

func pluralWord(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func severityColor(s lsp.DiagnosticSeverity) *color.Color {
	switch s {
	case lsp.SeverityError:
		return errorColor
	case lsp.SeverityWarning:
		return warningColor
	case lsp.SeverityInformation:
		return infoColor
	default:
		return hintColor
	}
}

func serverLabel(id lsp.ServerID, source string, names map[lsp.ServerID]string) string {
	name, ok := names[id]
	if !ok {
		name = fmt.Sprintf("server-%d", id)
	}
	if source != "" && source != name {
		return name + "/" + source
	}
	return name
}

func sortedURIs(store map[lsp.DocumentURI][]editor.DiagnosticEntry) []lsp.DocumentURI {
	uris := make([]lsp.DocumentURI, 0, len(store))
	for uri := range store {
		uris = append(uris, uri)
	}
	slices.Sort(uris)
	return uris
}

// displayPath shows file URIs relative to cwd when they are below it.
func displayPath(uri lsp.DocumentURI, cwd string) string {
	path, err := lsp.URIToPath(uri)
	if err != nil {
		return string(uri)
	}
	if cwd == "" {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

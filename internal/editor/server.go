package editor

import "pulldiag/internal/lsp"

// LanguageServer is the part of a language server client the editor and the
// pull pipeline rely on. *lsp.Client implements it.
type LanguageServer interface {
	ID() lsp.ServerID
	Name() string
	SupportsFeature(lsp.Feature) bool
	// TextDocumentDiagnostic starts a pull request. It returns false when
	// the server cannot serve it.
	TextDocumentDiagnostic(doc lsp.TextDocumentIdentifier, previousResultID *string) (lsp.Future, bool)
	TextDocumentDidOpen(item lsp.TextDocumentItem) error
	TextDocumentDidChange(doc lsp.VersionedTextDocumentIdentifier, text string) error
	TextDocumentDidClose(doc lsp.TextDocumentIdentifier) error
}

package editor

import "pulldiag/internal/lsp"

// DocumentDidOpen is emitted after a document was opened and announced to
// its servers.
type DocumentDidOpen struct {
	Editor *Editor
	Doc    DocumentID
}

// DocumentDidChange is emitted after a document's text changed.
type DocumentDidChange struct {
	Editor  *Editor
	Doc     DocumentID
	Version int32
}

// ModeSwitched is emitted when the editor mode changes.
type ModeSwitched struct {
	Editor *Editor
	Old    Mode
	New    Mode
}

// DiagnosticsDidChange is emitted whenever the stored diagnostics of a
// resource were replaced. Doc is zero when no open document has that URI.
type DiagnosticsDidChange struct {
	Editor *Editor
	URI    lsp.DocumentURI
	Doc    DocumentID
}

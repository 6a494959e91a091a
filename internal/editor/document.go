package editor

import (
	"slices"

	"pulldiag/internal/lsp"
)

// DocumentID identifies an open document. Zero is never assigned.
type DocumentID uint64

// Document is an open text buffer attached to zero or more language servers.
// It is owned by the editor loop and must not be touched elsewhere.
type Document struct {
	id         DocumentID
	path       string
	uri        lsp.DocumentURI
	text       string
	version    int32
	languageID string
	servers    []LanguageServer

	previousDiagnosticIDs map[lsp.ServerID]string
	issuedGen             map[lsp.ServerID]uint64
	appliedGen            map[lsp.ServerID]uint64
}

func (d *Document) ID() DocumentID { return d.id }

// Path returns the canonical path, or "" for a scratch buffer.
func (d *Document) Path() string { return d.path }

// URI returns the document URI; scratch buffers have none.
func (d *Document) URI() (lsp.DocumentURI, bool) {
	return d.uri, d.uri != ""
}

func (d *Document) Text() string       { return d.text }
func (d *Document) Version() int32     { return d.version }
func (d *Document) LanguageID() string { return d.languageID }

// LanguageServers returns the attached servers in attachment order.
func (d *Document) LanguageServers() []LanguageServer {
	return slices.Clone(d.servers)
}

// LanguageServersWithFeature returns the attached servers advertising f.
func (d *Document) LanguageServersWithFeature(f lsp.Feature) []LanguageServer {
	var out []LanguageServer
	for _, ls := range d.servers {
		if ls.SupportsFeature(f) {
			out = append(out, ls)
		}
	}
	return out
}

// HasLanguageServerWithFeature reports whether any attached server has f.
func (d *Document) HasLanguageServerWithFeature(f lsp.Feature) bool {
	for _, ls := range d.servers {
		if ls.SupportsFeature(f) {
			return true
		}
	}
	return false
}

// PreviousDiagnosticID returns the last result token received from server
// for this document.
func (d *Document) PreviousDiagnosticID(server lsp.ServerID) (string, bool) {
	id, ok := d.previousDiagnosticIDs[server]
	return id, ok
}

func (d *Document) SetPreviousDiagnosticID(server lsp.ServerID, id string) {
	if d.previousDiagnosticIDs == nil {
		d.previousDiagnosticIDs = make(map[lsp.ServerID]string)
	}
	d.previousDiagnosticIDs[server] = id
}

func (d *Document) ClearPreviousDiagnosticID(server lsp.ServerID) {
	delete(d.previousDiagnosticIDs, server)
}

// NextPullGeneration stamps a new pull request for server.
func (d *Document) NextPullGeneration(server lsp.ServerID) uint64 {
	if d.issuedGen == nil {
		d.issuedGen = make(map[lsp.ServerID]uint64)
	}
	d.issuedGen[server]++
	return d.issuedGen[server]
}

// AcceptPullGeneration records gen as applied unless a newer pull for the
// same server was applied already.
func (d *Document) AcceptPullGeneration(server lsp.ServerID, gen uint64) bool {
	if gen <= d.appliedGen[server] {
		return false
	}
	if d.appliedGen == nil {
		d.appliedGen = make(map[lsp.ServerID]uint64)
	}
	d.appliedGen[server] = gen
	return true
}

func (d *Document) identifier() lsp.TextDocumentIdentifier {
	return lsp.TextDocumentIdentifier{URI: d.uri}
}

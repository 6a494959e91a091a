// Package editor holds the state shared by the pull pipeline: open
// documents, views, the editor mode and the diagnostic store. None of it is
// synchronized; every method must be called from the owner loop.
package editor

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"pulldiag/internal/event"
	"pulldiag/internal/lsp"
)

var (
	// ErrDocumentNotFound is returned for ids that are not open.
	ErrDocumentNotFound = errors.New("document not found")
)

// DiagnosticEntry is a stored diagnostic tagged with the server that
// produced it.
type DiagnosticEntry struct {
	Diagnostic lsp.Diagnostic `json:"diagnostic"`
	Server     lsp.ServerID   `json:"server"`
}

// Editor owns documents, views and the diagnostic store.
type Editor struct {
	mode   Mode
	hooks  *event.Registry
	log    *zap.Logger
	nextID DocumentID
	nextVw ViewID

	documents   map[DocumentID]*Document
	byPath      map[string]DocumentID
	byURI       map[lsp.DocumentURI]DocumentID
	views       map[ViewID]*View
	diagnostics map[lsp.DocumentURI][]DiagnosticEntry
}

// New creates an empty editor in normal mode. hooks may be nil.
func New(hooks *event.Registry, log *zap.Logger) *Editor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Editor{
		hooks:       hooks,
		log:         log,
		documents:   make(map[DocumentID]*Document),
		byPath:      make(map[string]DocumentID),
		byURI:       make(map[lsp.DocumentURI]DocumentID),
		views:       make(map[ViewID]*View),
		diagnostics: make(map[lsp.DocumentURI][]DiagnosticEntry),
	}
}

func (ed *Editor) Mode() Mode { return ed.mode }

// SetMode switches the editor mode and emits ModeSwitched on change.
func (ed *Editor) SetMode(mode Mode) {
	if mode == ed.mode {
		return
	}
	old := ed.mode
	ed.mode = mode
	ed.emit(event.Dispatch(ed.hooks, &ModeSwitched{Editor: ed, Old: old, New: mode}))
}

// OpenDocument opens path with the given text and attaches servers. Opening
// an already open path returns the existing document unchanged.
func (ed *Editor) OpenDocument(path, text, languageID string, servers []LanguageServer) (DocumentID, error) {
	canon, err := lsp.CanonicalPath(path)
	if err != nil {
		return 0, err
	}
	if id, ok := ed.byPath[canon]; ok {
		return id, nil
	}
	uri, err := lsp.PathToURI(canon)
	if err != nil {
		return 0, err
	}
	doc := ed.insert(canon, uri, text, languageID, servers)
	for _, ls := range doc.servers {
		item := lsp.TextDocumentItem{URI: uri, LanguageID: languageID, Version: doc.version, Text: text}
		if err := ls.TextDocumentDidOpen(item); err != nil {
			ed.log.Warn("didOpen failed", zap.String("server", ls.Name()), zap.String("uri", string(uri)), zap.Error(err))
		}
	}
	ed.emit(event.Dispatch(ed.hooks, &DocumentDidOpen{Editor: ed, Doc: doc.id}))
	return doc.id, nil
}

// OpenScratch opens a buffer that has no path and therefore no URI. Its
// servers are attached but never notified.
func (ed *Editor) OpenScratch(text, languageID string, servers []LanguageServer) DocumentID {
	doc := ed.insert("", "", text, languageID, servers)
	ed.emit(event.Dispatch(ed.hooks, &DocumentDidOpen{Editor: ed, Doc: doc.id}))
	return doc.id
}

func (ed *Editor) insert(path string, uri lsp.DocumentURI, text, languageID string, servers []LanguageServer) *Document {
	ed.nextID++
	doc := &Document{
		id:         ed.nextID,
		path:       path,
		uri:        uri,
		text:       text,
		languageID: languageID,
		servers:    slices.Clone(servers),
	}
	ed.documents[doc.id] = doc
	if path != "" {
		ed.byPath[path] = doc.id
		ed.byURI[uri] = doc.id
	}
	return doc
}

// ChangeDocument replaces the full text of a document, bumps its version
// and emits DocumentDidChange. Identical text is a no-op.
func (ed *Editor) ChangeDocument(id DocumentID, text string) error {
	doc, ok := ed.documents[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	if doc.text == text {
		return nil
	}
	doc.text = text
	doc.version++
	if doc.uri != "" {
		versioned := lsp.VersionedTextDocumentIdentifier{URI: doc.uri, Version: doc.version}
		for _, ls := range doc.servers {
			if err := ls.TextDocumentDidChange(versioned, text); err != nil {
				ed.log.Warn("didChange failed", zap.String("server", ls.Name()), zap.String("uri", string(doc.uri)), zap.Error(err))
			}
		}
	}
	ed.emit(event.Dispatch(ed.hooks, &DocumentDidChange{Editor: ed, Doc: id, Version: doc.version}))
	return nil
}

// CloseDocument closes a document and its views. Stored diagnostics for its
// URI are kept.
func (ed *Editor) CloseDocument(id DocumentID) error {
	doc, ok := ed.documents[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	if doc.uri != "" {
		for _, ls := range doc.servers {
			if err := ls.TextDocumentDidClose(doc.identifier()); err != nil {
				ed.log.Warn("didClose failed", zap.String("server", ls.Name()), zap.Error(err))
			}
		}
		delete(ed.byPath, doc.path)
		delete(ed.byURI, doc.uri)
	}
	delete(ed.documents, id)
	for vid, v := range ed.views {
		if v.doc == id {
			delete(ed.views, vid)
		}
	}
	return nil
}

// Document returns an open document.
func (ed *Editor) Document(id DocumentID) (*Document, bool) {
	doc, ok := ed.documents[id]
	return doc, ok
}

// Documents returns all open documents ordered by id.
func (ed *Editor) Documents() []*Document {
	docs := slices.Collect(maps.Values(ed.documents))
	slices.SortFunc(docs, func(a, b *Document) int { return cmp.Compare(a.id, b.id) })
	return docs
}

// DocumentByPath looks up an open document by filesystem path.
func (ed *Editor) DocumentByPath(path string) (*Document, bool) {
	canon, err := lsp.CanonicalPath(path)
	if err != nil {
		return nil, false
	}
	id, ok := ed.byPath[canon]
	if !ok {
		return nil, false
	}
	return ed.documents[id], true
}

// NewView opens a view on an existing document.
func (ed *Editor) NewView(doc DocumentID) (*View, error) {
	if _, ok := ed.documents[doc]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, doc)
	}
	ed.nextVw++
	v := &View{id: ed.nextVw, doc: doc, Diagnostics: newDiagnosticsHandler()}
	ed.views[v.id] = v
	return v, nil
}

// Views returns all views ordered by id.
func (ed *Editor) Views() []*View {
	views := slices.Collect(maps.Values(ed.views))
	slices.SortFunc(views, func(a, b *View) int { return cmp.Compare(a.id, b.id) })
	return views
}

// ReplaceDiagnostics swaps the entries stored for (uri, server) with items.
// Entries from other servers are kept. An empty result removes the key.
func (ed *Editor) ReplaceDiagnostics(uri lsp.DocumentURI, server lsp.ServerID, items []lsp.Diagnostic) {
	old := ed.diagnostics[uri]
	next := make([]DiagnosticEntry, 0, len(old)+len(items))
	for _, entry := range old {
		if entry.Server != server {
			next = append(next, entry)
		}
	}
	for _, d := range items {
		next = append(next, DiagnosticEntry{Diagnostic: d, Server: server})
	}
	slices.SortStableFunc(next, compareEntries)
	if len(next) == 0 {
		delete(ed.diagnostics, uri)
	} else {
		ed.diagnostics[uri] = next
	}
	ed.emit(event.Dispatch(ed.hooks, &DiagnosticsDidChange{Editor: ed, URI: uri, Doc: ed.byURI[uri]}))
}

func compareEntries(a, b DiagnosticEntry) int {
	as, bs := a.Diagnostic.Range.Start, b.Diagnostic.Range.Start
	if c := cmp.Compare(as.Line, bs.Line); c != 0 {
		return c
	}
	if c := cmp.Compare(as.Character, bs.Character); c != 0 {
		return c
	}
	return cmp.Compare(a.Server, b.Server)
}

// Diagnostics returns a copy of the entries stored for uri.
func (ed *Editor) Diagnostics(uri lsp.DocumentURI) []DiagnosticEntry {
	return slices.Clone(ed.diagnostics[uri])
}

// DiagnosticURIs returns every URI with stored diagnostics, sorted.
func (ed *Editor) DiagnosticURIs() []lsp.DocumentURI {
	return slices.Sorted(maps.Keys(ed.diagnostics))
}

func (ed *Editor) emit(err error) {
	if err != nil {
		ed.log.Error("event hook failed", zap.Error(err))
	}
}

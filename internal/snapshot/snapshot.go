// Package snapshot exports and imports the diagnostic store.
//
// Files ending in .mp or .msgpack are written with msgpack, everything else
// as indented JSON. Both encodings use the json struct tags.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"pulldiag/internal/editor"
	"pulldiag/internal/lsp"
)

// FormatVersion is bumped whenever the layout changes incompatibly.
const FormatVersion = 1

// ErrVersion is returned when reading a snapshot of another format version.
var ErrVersion = errors.New("unsupported snapshot version")

// Snapshot is a point-in-time copy of the diagnostic store.
type Snapshot struct {
	Version   int                     `json:"version"`
	CreatedAt time.Time               `json:"createdAt"`
	Servers   map[lsp.ServerID]string `json:"servers,omitempty"`
	Documents []Document              `json:"documents"`
}

// Document holds the stored entries of one resource.
type Document struct {
	URI     lsp.DocumentURI          `json:"uri"`
	Path    string                   `json:"path,omitempty"`
	Entries []editor.DiagnosticEntry `json:"entries"`
}

// Count returns the total number of entries.
func (s Snapshot) Count() int {
	n := 0
	for _, doc := range s.Documents {
		n += len(doc.Entries)
	}
	return n
}

// Capture copies the store of ed. It must run on the owner loop. names maps
// server ids to display names and may be nil.
func Capture(ed *editor.Editor, names map[lsp.ServerID]string, now time.Time) Snapshot {
	snap := Snapshot{Version: FormatVersion, CreatedAt: now, Servers: names}
	for _, uri := range ed.DiagnosticURIs() {
		doc := Document{URI: uri, Entries: ed.Diagnostics(uri)}
		if path, err := lsp.URIToPath(uri); err == nil {
			doc.Path = path
		}
		snap.Documents = append(snap.Documents, doc)
	}
	return snap
}

// Restore replaces the store entries of every (resource, server) pair found
// in snap. It must run on the owner loop.
func Restore(ed *editor.Editor, snap Snapshot) {
	for _, doc := range snap.Documents {
		byServer := make(map[lsp.ServerID][]lsp.Diagnostic)
		for _, entry := range doc.Entries {
			byServer[entry.Server] = append(byServer[entry.Server], entry.Diagnostic)
		}
		servers := make([]lsp.ServerID, 0, len(byServer))
		for id := range byServer {
			servers = append(servers, id)
		}
		slices.Sort(servers)
		for _, id := range servers {
			ed.ReplaceDiagnostics(doc.URI, id, byServer[id])
		}
	}
}

func isMsgpack(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp", ".msgpack":
		return true
	default:
		return false
	}
}

// Encode writes snap to w in msgpack or JSON.
func Encode(w io.Writer, snap Snapshot, useMsgpack bool) error {
	if useMsgpack {
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		return enc.Encode(snap)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader, useMsgpack bool) (Snapshot, error) {
	var snap Snapshot
	if useMsgpack {
		dec := msgpack.NewDecoder(r)
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&snap); err != nil {
			return Snapshot{}, err
		}
	} else if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, err
	}
	if snap.Version != FormatVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrVersion, snap.Version)
	}
	return snap, nil
}

// WriteFile atomically replaces path with snap.
func WriteFile(path string, snap Snapshot) error {
	var buf bytes.Buffer
	if err := Encode(&buf, snap, isMsgpack(path)); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ReadFile loads a snapshot written by WriteFile.
func ReadFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()
	snap, err := Decode(f, isMsgpack(path))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

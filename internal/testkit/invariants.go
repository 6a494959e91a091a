package testkit

import (
	"fmt"

	"pulldiag/internal/editor"
)

// CheckStoreInvariants runs a minimal set of invariants on the diagnostic
// store:
// 1) no URI is kept with an empty entry list
// 2) entries of a URI are ordered by start position
// 3) every range is non-inverted
func CheckStoreInvariants(ed *editor.Editor) error {
	if ed == nil {
		return fmt.Errorf("nil editor")
	}
	for _, uri := range ed.DiagnosticURIs() {
		entries := ed.Diagnostics(uri)
		if len(entries) == 0 {
			return fmt.Errorf("%s: stored with no entries", uri)
		}
		for i, entry := range entries {
			r := entry.Diagnostic.Range
			if r.End.Line < r.Start.Line || (r.End.Line == r.Start.Line && r.End.Character < r.Start.Character) {
				return fmt.Errorf("%s[%d]: inverted range %v", uri, i, r)
			}
			if i == 0 {
				continue
			}
			prev := entries[i-1].Diagnostic.Range.Start
			cur := r.Start
			if cur.Line < prev.Line || (cur.Line == prev.Line && cur.Character < prev.Character) {
				return fmt.Errorf("%s[%d]: entries out of order", uri, i)
			}
		}
	}
	return nil
}

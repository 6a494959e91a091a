package lsp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedReport is returned when a diagnostic response does not have the
// shape of a document diagnostic report.
var ErrMalformedReport = errors.New("malformed document diagnostic report")

// ReportKind discriminates full and unchanged reports.
type ReportKind string

const (
	// ReportFull carries the complete diagnostic list.
	ReportFull ReportKind = "full"
	// ReportUnchanged means the previously delivered list is still valid.
	ReportUnchanged ReportKind = "unchanged"
)

// RelatedReport is a nested report for a resource other than the requested one.
type RelatedReport struct {
	Kind     ReportKind
	ResultID string
	Items    []Diagnostic
}

// DocumentDiagnosticReport is the parsed result of textDocument/diagnostic.
type DocumentDiagnosticReport struct {
	Kind     ReportKind
	ResultID string
	Items    []Diagnostic
	// RelatedDocuments is nil when the server attached none.
	RelatedDocuments map[DocumentURI]RelatedReport
}

type wireReport struct {
	Kind             ReportKind                     `json:"kind"`
	ResultID         *string                        `json:"resultId,omitempty"`
	Items            *[]Diagnostic                  `json:"items,omitempty"`
	RelatedDocuments map[DocumentURI]wireReportKind `json:"relatedDocuments,omitempty"`
}

type wireReportKind struct {
	Kind     ReportKind    `json:"kind"`
	ResultID *string       `json:"resultId,omitempty"`
	Items    *[]Diagnostic `json:"items,omitempty"`
}

// ParseDocumentDiagnosticReport decodes and validates a raw response.
func ParseDocumentDiagnosticReport(raw json.RawMessage) (DocumentDiagnosticReport, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return DocumentDiagnosticReport{}, fmt.Errorf("%w: empty result", ErrMalformedReport)
	}
	var wire wireReport
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return DocumentDiagnosticReport{}, fmt.Errorf("%w: %w", ErrMalformedReport, err)
	}
	kind, resultID, items, err := validateKind(wire.Kind, wire.ResultID, wire.Items)
	if err != nil {
		return DocumentDiagnosticReport{}, err
	}
	report := DocumentDiagnosticReport{
		Kind:     kind,
		ResultID: resultID,
		Items:    items,
	}
	if len(wire.RelatedDocuments) > 0 {
		report.RelatedDocuments = make(map[DocumentURI]RelatedReport, len(wire.RelatedDocuments))
		for uri, nested := range wire.RelatedDocuments {
			kind, resultID, items, err := validateKind(nested.Kind, nested.ResultID, nested.Items)
			if err != nil {
				return DocumentDiagnosticReport{}, fmt.Errorf("related document %s: %w", uri, err)
			}
			report.RelatedDocuments[uri] = RelatedReport{Kind: kind, ResultID: resultID, Items: items}
		}
	}
	return report, nil
}

func validateKind(kind ReportKind, resultID *string, items *[]Diagnostic) (ReportKind, string, []Diagnostic, error) {
	switch kind {
	case ReportFull:
		if items == nil {
			return "", "", nil, fmt.Errorf("%w: full report without items", ErrMalformedReport)
		}
		id := ""
		if resultID != nil {
			id = *resultID
		}
		out := *items
		if out == nil {
			out = []Diagnostic{}
		}
		return kind, id, out, nil
	case ReportUnchanged:
		if resultID == nil || *resultID == "" {
			return "", "", nil, fmt.Errorf("%w: unchanged report without resultId", ErrMalformedReport)
		}
		return kind, *resultID, nil, nil
	default:
		return "", "", nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedReport, kind)
	}
}

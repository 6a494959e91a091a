package lsp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ServerID identifies one running language server inside the editor.
type ServerID uint32

// DocumentURI is a resource identifier as used on the wire.
type DocumentURI string

// Feature is a capability a language server may or may not provide.
type Feature uint8

const (
	// FeaturePullDiagnostics is the textDocument/diagnostic request.
	FeaturePullDiagnostics Feature = iota + 1
)

func (f Feature) String() string {
	switch f {
	case FeaturePullDiagnostics:
		return "pull-diagnostics"
	default:
		return "unknown"
	}
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is a JSON-RPC error returned by the server.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Position is a zero-based line/UTF-16 column pair.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TextDocumentIdentifier names a document by URI.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier names a specific document version.
type VersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version int32       `json:"version"`
}

// TextDocumentItem carries a document's full content on open.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int32       `json:"version"`
	Text       string      `json:"text"`
}

type textDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

type didOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

type didChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []textDocumentContentChangeEvent `json:"contentChanges"`
}

type didCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DiagnosticSeverity follows the protocol numbering (1 = error .. 4 = hint).
type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// DiagnosticCode holds a diagnostic code; servers send either a number or a string.
type DiagnosticCode string

// UnmarshalJSON accepts both integer and string codes.
func (c *DiagnosticCode) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = DiagnosticCode(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("diagnostic code must be a string or integer: %w", err)
	}
	*c = DiagnosticCode(strconv.FormatInt(n, 10))
	return nil
}

// Diagnostic is a single problem reported by a server.
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     DiagnosticCode     `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

type initializeParams struct {
	ProcessID    *int               `json:"processId"`
	RootURI      *DocumentURI       `json:"rootUri"`
	ClientInfo   clientInfo         `json:"clientInfo"`
	Capabilities clientCapabilities `json:"capabilities"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type clientCapabilities struct {
	TextDocument textDocumentClientCapabilities `json:"textDocument"`
	Workspace    workspaceClientCapabilities    `json:"workspace"`
}

type textDocumentClientCapabilities struct {
	Diagnostic diagnosticClientCapabilities `json:"diagnostic"`
}

type diagnosticClientCapabilities struct {
	DynamicRegistration    bool `json:"dynamicRegistration"`
	RelatedDocumentSupport bool `json:"relatedDocumentSupport"`
}

type workspaceClientCapabilities struct {
	Diagnostics diagnosticWorkspaceClientCapabilities `json:"diagnostics"`
}

type diagnosticWorkspaceClientCapabilities struct {
	RefreshSupport bool `json:"refreshSupport"`
}

type initializeResult struct {
	Capabilities serverCapabilities `json:"capabilities"`
	ServerInfo   *clientInfo        `json:"serverInfo,omitempty"`
}

type serverCapabilities struct {
	DiagnosticProvider json.RawMessage `json:"diagnosticProvider,omitempty"`
}

type diagnosticOptions struct {
	Identifier string `json:"identifier,omitempty"`
}

type registrationParams struct {
	Registrations []registration `json:"registrations"`
}

type registration struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	RegisterOptions json.RawMessage `json:"registerOptions,omitempty"`
}

type logMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// DocumentDiagnosticParams is the textDocument/diagnostic request payload.
type DocumentDiagnosticParams struct {
	TextDocument     TextDocumentIdentifier `json:"textDocument"`
	Identifier       *string                `json:"identifier,omitempty"`
	PreviousResultID *string                `json:"previousResultId,omitempty"`
}

package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// InitializeOptions describes the client side of the initialize handshake.
type InitializeOptions struct {
	RootURI       DocumentURI
	ClientName    string
	ClientVersion string
}

// Initialize performs the initialize/initialized handshake and records the
// server's diagnostic capability.
func (c *Client) Initialize(ctx context.Context, opts InitializeOptions) error {
	pid := os.Getpid()
	params := initializeParams{
		ProcessID: &pid,
		ClientInfo: clientInfo{
			Name:    opts.ClientName,
			Version: opts.ClientVersion,
		},
		Capabilities: clientCapabilities{
			TextDocument: textDocumentClientCapabilities{
				Diagnostic: diagnosticClientCapabilities{
					DynamicRegistration:    true,
					RelatedDocumentSupport: true,
				},
			},
			Workspace: workspaceClientCapabilities{
				Diagnostics: diagnosticWorkspaceClientCapabilities{RefreshSupport: true},
			},
		},
	}
	if opts.RootURI != "" {
		root := opts.RootURI
		params.RootURI = &root
	}
	raw, err := c.Call("initialize", params).Await(ctx)
	if err != nil {
		return err
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	provider := bytes.TrimSpace(result.Capabilities.DiagnosticProvider)
	if len(provider) > 0 && !bytes.Equal(provider, []byte("null")) && !bytes.Equal(provider, []byte("false")) {
		c.setDiagnosticProvider(provider)
	}
	c.log.Debug("initialized", zap.Bool("pullDiagnostics", c.pullDiagnostics.Load()))
	return c.Notify("initialized", struct{}{})
}

// Shutdown asks the server to shut down and then sends exit.
func (c *Client) Shutdown(ctx context.Context) error {
	if _, err := c.Call("shutdown", nil).Await(ctx); err != nil {
		return err
	}
	return c.Notify("exit", nil)
}

// TextDocumentDiagnostic issues a textDocument/diagnostic request. It returns
// false when the server does not support pull diagnostics.
func (c *Client) TextDocumentDiagnostic(doc TextDocumentIdentifier, previousResultID *string) (Future, bool) {
	if !c.SupportsFeature(FeaturePullDiagnostics) {
		return nil, false
	}
	params := DocumentDiagnosticParams{
		TextDocument:     doc,
		Identifier:       c.diagnosticIdentity.Load(),
		PreviousResultID: previousResultID,
	}
	return c.Call("textDocument/diagnostic", params), true
}

// TextDocumentDidOpen notifies the server about a newly opened document.
func (c *Client) TextDocumentDidOpen(item TextDocumentItem) error {
	return c.Notify("textDocument/didOpen", didOpenTextDocumentParams{TextDocument: item})
}

// TextDocumentDidChange sends the full new text of a document.
func (c *Client) TextDocumentDidChange(doc VersionedTextDocumentIdentifier, text string) error {
	return c.Notify("textDocument/didChange", didChangeTextDocumentParams{
		TextDocument:   doc,
		ContentChanges: []textDocumentContentChangeEvent{{Text: text}},
	})
}

// TextDocumentDidClose notifies the server that a document was closed.
func (c *Client) TextDocumentDidClose(doc TextDocumentIdentifier) error {
	return c.Notify("textDocument/didClose", didCloseTextDocumentParams{TextDocument: doc})
}

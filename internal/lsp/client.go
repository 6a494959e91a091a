package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClosed is returned for requests that can no longer be answered because
// the connection to the server is gone.
var ErrClosed = errors.New("lsp connection closed")

// Future is a pending request result.
type Future interface {
	Await(ctx context.Context) (json.RawMessage, error)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	ID     ServerID
	Name   string
	Logger *zap.Logger
	// OnRefresh is invoked (on the read goroutine) when the server sends
	// workspace/diagnostic/refresh.
	OnRefresh func(ServerID)
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Client speaks JSON-RPC to one language server over a byte stream.
type Client struct {
	id        ServerID
	name      string
	in        *bufio.Reader
	out       *bufio.Writer
	log       *zap.Logger
	onRefresh func(ServerID)

	sendMu sync.Mutex
	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan callResult
	closed   bool
	closeErr error

	pullDiagnostics    atomic.Bool
	diagnosticIdentity atomic.Pointer[string]
}

// NewClient wraps the server's stdout (r) and stdin (w).
func NewClient(r io.Reader, w io.Writer, opts ClientOptions) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	name := opts.Name
	if name == "" {
		name = "server-" + strconv.FormatUint(uint64(opts.ID), 10)
	}
	return &Client{
		id:        opts.ID,
		name:      name,
		in:        bufio.NewReader(r),
		out:       bufio.NewWriter(w),
		log:       log.With(zap.String("server", name)),
		onRefresh: opts.OnRefresh,
		pending:   make(map[int64]chan callResult),
	}
}

// ID returns the server identifier assigned by the editor.
func (c *Client) ID() ServerID { return c.id }

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// SupportsFeature reports whether the server advertised the feature.
func (c *Client) SupportsFeature(f Feature) bool {
	switch f {
	case FeaturePullDiagnostics:
		return c.pullDiagnostics.Load()
	default:
		return false
	}
}

// Run reads messages until the stream ends or ctx is cancelled. Every request
// still pending afterwards fails with ErrClosed.
func (c *Client) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.readLoop()
	}()
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	c.fail(ErrClosed)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) readLoop() error {
	for {
		payload, err := readMessage(c.in)
		if err != nil {
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.Warn("failed to parse message", zap.Error(err))
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *rpcMessage) {
	switch {
	case msg.Method != "" && len(msg.ID) > 0:
		c.handleServerRequest(msg)
	case msg.Method != "":
		c.handleNotification(msg)
	case len(msg.ID) > 0:
		c.handleResponse(msg)
	}
}

func (c *Client) handleResponse(msg *rpcMessage) {
	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		c.log.Warn("response with unexpected id", zap.ByteString("id", msg.ID))
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.log.Debug("response for unknown request", zap.Int64("id", id))
		return
	}
	if msg.Error != nil {
		ch <- callResult{err: msg.Error}
		return
	}
	result := msg.Result
	if result == nil {
		result = json.RawMessage("null")
	}
	ch <- callResult{result: result}
}

func (c *Client) handleServerRequest(msg *rpcMessage) {
	switch msg.Method {
	case "workspace/diagnostic/refresh":
		if c.onRefresh != nil {
			c.onRefresh(c.id)
		}
		c.reply(msg.ID, nil)
	case "client/registerCapability":
		c.applyRegistrations(msg.Params)
		c.reply(msg.ID, nil)
	case "client/unregisterCapability", "window/workDoneProgress/create", "workspace/configuration":
		c.reply(msg.ID, nil)
	default:
		if err := c.sendError(msg.ID, -32601, "method not found"); err != nil {
			c.log.Warn("failed to answer server request", zap.String("method", msg.Method), zap.Error(err))
		}
	}
}

func (c *Client) reply(id json.RawMessage, result any) {
	if err := c.sendResponse(id, result); err != nil {
		c.log.Warn("failed to answer server request", zap.Error(err))
	}
}

func (c *Client) handleNotification(msg *rpcMessage) {
	switch msg.Method {
	case "window/logMessage", "window/showMessage":
		var params logMessageParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			c.log.Debug("server message", zap.Int("type", params.Type), zap.String("message", params.Message))
		}
	default:
		c.log.Debug("ignored notification", zap.String("method", msg.Method))
	}
}

func (c *Client) applyRegistrations(raw json.RawMessage) {
	var params registrationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.log.Warn("invalid registerCapability params", zap.Error(err))
		return
	}
	for _, reg := range params.Registrations {
		if reg.Method != "textDocument/diagnostic" {
			continue
		}
		c.setDiagnosticProvider(reg.RegisterOptions)
	}
}

func (c *Client) setDiagnosticProvider(raw json.RawMessage) {
	c.pullDiagnostics.Store(true)
	var opts diagnosticOptions
	if len(raw) > 0 && json.Unmarshal(raw, &opts) == nil && opts.Identifier != "" {
		identifier := opts.Identifier
		c.diagnosticIdentity.Store(&identifier)
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = make(map[int64]chan callResult)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

// Call sends a request and returns immediately; the result arrives through
// the returned Call.
func (c *Client) Call(method string, params any) *Call {
	id := c.nextID.Add(1)
	ch := make(chan callResult, 1)
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		ch <- callResult{err: err}
		return &Call{method: method, ch: ch}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	if err := c.send(msg); err != nil {
		c.mu.Lock()
		_, stillPending := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if stillPending {
			ch <- callResult{err: fmt.Errorf("send %s: %w", method, err)}
		}
	}
	return &Call{method: method, ch: ch}
}

// Notify sends a notification.
func (c *Client) Notify(method string, params any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	return c.send(msg)
}

func (c *Client) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	return c.send(msg)
}

func (c *Client) sendError(id json.RawMessage, code int, message string) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": ResponseError{
			Code:    code,
			Message: message,
		},
	}
	return c.send(msg)
}

func (c *Client) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := writeMessage(c.out, payload); err != nil {
		return err
	}
	return c.out.Flush()
}

// Call is an in-flight request.
type Call struct {
	method string
	ch     chan callResult
	res    *callResult
}

// Await blocks until the server answers, the connection fails or ctx ends.
// A Call has a single consumer; repeated Awaits return the same result.
func (call *Call) Await(ctx context.Context) (json.RawMessage, error) {
	if call.res == nil {
		select {
		case res := <-call.ch:
			call.res = &res
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if call.res.err != nil {
		return nil, fmt.Errorf("%s: %w", call.method, call.res.err)
	}
	return call.res.result, nil
}

// Package mcp connects agents to out-of-process tool servers speaking
// JSON-RPC 2.0 (initialize, tools/list, tools/call) over one of two
// transports:
//
//   - StdioTransport: a long-lived child process exchanging one JSON object
//     per line over its standard streams
//   - SSETransport: a persistent server-sent-event stream for responses plus
//     HTTP POSTs for requests
//
// A Client multiplexes concurrent calls over a single transport using request
// ids, so results are never cross-delivered. Attach turns every tool a server
// lists into an individually registered tool.Tool.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentswarm/logging"
	"github.com/tidwall/gjson"
)

var (
	// ErrConnectionLost is returned for every pending and future call once the
	// transport has closed. Connections are not re-established.
	ErrConnectionLost = errors.New("tool server connection lost")
	// ErrNotConnected is returned when calling before Connect.
	ErrNotConnected = errors.New("tool server not connected")
)

// Handler receives inbound traffic from a Transport.
type Handler interface {
	// HandleMessage is called with each inbound JSON-RPC message.
	HandleMessage(msg []byte)
	// HandleClose is called once when the transport stops delivering messages.
	HandleClose(err error)
}

// Transport moves raw JSON-RPC messages between the client and a tool server.
type Transport interface {
	// Start opens the connection and begins delivering inbound messages to h.
	Start(ctx context.Context, h Handler) error
	// Send writes one message. Implementations must be safe for concurrent use.
	Send(ctx context.Context, msg []byte) error
	// Close tears the connection down.
	Close() error
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Logger     logging.Logger
	ClientInfo Implementation
}

type callResult struct {
	resp *Response
	err  error
}

// Client is a JSON-RPC client bound to a single transport.
//
// The pending table maps request ids to waiting callers: the caller registers
// before sending, the transport's reader goroutine resolves it.
type Client struct {
	transport Transport
	opts      ClientOptions

	nextID atomic.Int64

	mu        sync.Mutex
	pending   map[int64]chan callResult
	connected bool
	closed    bool
	closeErr  error

	serverInfo Implementation
}

// NewClient creates a client for transport. Call Connect before use.
func NewClient(transport Transport, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		Logger:     logging.NoOpLogger{},
		ClientInfo: Implementation{Name: "agentswarm", Version: "0.1.0"},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{
		transport: transport,
		opts:      opts,
		pending:   make(map[int64]chan callResult),
	}
}

// Connect starts the transport and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Start(ctx, c); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	var res InitializeResult
	if err := c.call(ctx, "initialize", InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.opts.ClientInfo,
	}, &res); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	c.serverInfo = res.ServerInfo

	if err := c.notify(ctx, "notifications/initialized", nil); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialized notification: %w", err)
	}

	c.opts.Logger.Info("mcp.client.connected", "server", res.ServerInfo.Name, "protocol", res.ProtocolVersion)

	return nil
}

// ServerInfo returns the server identity reported during the handshake.
func (c *Client) ServerInfo() Implementation { return c.serverInfo }

// ListTools returns every tool the server exposes, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var (
		tools  []ToolInfo
		cursor string
	)

	for {
		var res ListToolsResult
		if err := c.call(ctx, "tools/list", ListToolsParams{Cursor: cursor}, &res); err != nil {
			return nil, err
		}

		tools = append(tools, res.Tools...)

		if res.NextCursor == "" || res.NextCursor == cursor {
			return tools, nil
		}

		cursor = res.NextCursor
	}
}

// CallTool invokes a remote tool.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	var res CallToolResult
	if err := c.call(ctx, "tools/call", CallToolParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()

		return err
	}

	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}

	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(Request{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	if err := c.transport.Send(ctx, data); err != nil {
		c.forget(id)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return res.err
		}

		if res.resp.Error != nil {
			return res.resp.Error
		}

		if out == nil || len(res.resp.Result) == 0 {
			return nil
		}

		if err := json.Unmarshal(res.resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}

		return nil
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	data, err := json.Marshal(Request{JSONRPC: jsonrpcVersion, Method: method, Params: params})
	if err != nil {
		return err
	}

	return c.transport.Send(ctx, data)
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// HandleMessage implements Handler by resolving the pending call with the
// message's id. Server requests and notifications are logged and dropped.
func (c *Client) HandleMessage(msg []byte) {
	if !gjson.ValidBytes(msg) {
		c.opts.Logger.Warn("mcp.client.invalid_message", "bytes", len(msg))
		return
	}

	id := gjson.GetBytes(msg, "id")
	if !id.Exists() || id.Type == gjson.Null {
		c.opts.Logger.Debug("mcp.client.notification", "method", gjson.GetBytes(msg, "method").String())
		return
	}

	if gjson.GetBytes(msg, "method").Exists() {
		c.opts.Logger.Debug("mcp.client.server_request_ignored", "method", gjson.GetBytes(msg, "method").String())
		return
	}

	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		c.opts.Logger.Warn("mcp.client.decode_failed", "error", err.Error())
		return
	}

	key := id.Int()

	c.mu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	if !ok {
		c.opts.Logger.Warn("mcp.client.unknown_response", "id", key)
		return
	}

	ch <- callResult{resp: &resp}
}

// HandleClose implements Handler by failing every pending call.
func (c *Client) HandleClose(err error) {
	cause := ErrConnectionLost
	if err != nil && !errors.Is(err, io.EOF) {
		cause = fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true
	c.closeErr = cause
	pending := c.pending
	c.pending = make(map[int64]chan callResult)
	c.mu.Unlock()

	if len(pending) > 0 {
		c.opts.Logger.Warn("mcp.client.connection_lost", "pending", len(pending), "error", cause.Error())
	}

	for _, ch := range pending {
		ch <- callResult{err: cause}
	}
}

// Close shuts the transport down and fails outstanding calls.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.HandleClose(nil)

	return err
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/tool"
)

// RemoteTool exposes one server-side tool as a tool.Tool. Many RemoteTools
// share one Client; concurrent calls are multiplexed by request id.
type RemoteTool struct {
	client *Client
	info   ToolInfo
	name   string
}

// NewRemoteTool wraps info. name overrides the registered name (e.g. a
// prefixed form); the server always receives info.Name.
func NewRemoteTool(client *Client, info ToolInfo, name string) *RemoteTool {
	if name == "" {
		name = info.Name
	}

	return &RemoteTool{client: client, info: info, name: name}
}

// Name returns the registered tool name.
func (t *RemoteTool) Name() string { return t.name }

// Description returns the server supplied description.
func (t *RemoteTool) Description() string { return t.info.Description }

// Parameters returns the server supplied input schema.
func (t *RemoteTool) Parameters() map[string]any {
	if t.info.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return t.info.InputSchema
}

// Call invokes the tool on the server. Transport failures map to
// TRANSPORT_ERROR; server-reported failures (JSON-RPC errors or isError
// results) map to REMOTE_ERROR.
func (t *RemoteTool) Call(ctx context.Context, args map[string]any) (any, error) {
	res, err := t.client.CallTool(ctx, t.info.Name, args)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, &tool.ToolError{Tool: t.name, Message: rpcErr.Message, Code: tool.CodeRemote, Details: rpcErr, Err: err}
		}

		return nil, tool.AsToolError(t.name, err, tool.CodeTransport)
	}

	text := joinContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}

		return nil, &tool.ToolError{Tool: t.name, Message: text, Code: tool.CodeRemote}
	}

	return text, nil
}

func joinContent(content []Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch c.Type {
		case "text", "":
			parts = append(parts, c.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s content]", c.Type))
		}
	}

	return strings.Join(parts, "\n")
}

// AttachOptions configures Attach.
type AttachOptions struct {
	// Prefix is prepended to every registered tool name.
	Prefix string
	// Filter, when set, selects which server tools are registered.
	Filter func(ToolInfo) bool
}

// Attach lists the tools of a connected client and registers each of them in
// reg. On a name collision nothing is registered. The client is tied to the
// registry's lifetime and closed with it. It returns the registered names.
func Attach(ctx context.Context, reg *tool.Registry, client *Client, optFns ...func(o *AttachOptions)) ([]string, error) {
	opts := AttachOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	infos, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	names := make([]string, 0, len(infos))
	tools := make([]tool.Tool, 0, len(infos))

	for _, info := range infos {
		if opts.Filter != nil && !opts.Filter(info) {
			continue
		}

		rt := NewRemoteTool(client, info, opts.Prefix+info.Name)
		tools = append(tools, rt)
		names = append(names, rt.Name())
	}

	// All or nothing: a partial attach would leave tools bound to a client
	// the caller closes on error.
	if err := reg.RegisterAll(tools...); err != nil {
		return nil, err
	}

	reg.AddCloser(client)

	return names, nil
}

// ConnectStdio starts command as a tool server, performs the handshake and
// attaches its tools to reg.
func ConnectStdio(ctx context.Context, reg *tool.Registry, command string, stdioOpts StdioOptions, optFns ...func(o *AttachOptions)) ([]string, error) {
	transport := NewStdioTransport(command, func(o *StdioOptions) {
		o.Args = stdioOpts.Args
		o.Env = stdioOpts.Env
		o.Dir = stdioOpts.Dir

		if stdioOpts.Logger != nil {
			o.Logger = stdioOpts.Logger
		}

		if stdioOpts.KillTimeout > 0 {
			o.KillTimeout = stdioOpts.KillTimeout
		}

		if stdioOpts.MaxLineSize > 0 {
			o.MaxLineSize = stdioOpts.MaxLineSize
		}
	})

	return connect(ctx, reg, transport, stdioOpts.Logger, optFns...)
}

// ConnectSSE opens the event stream at url, performs the handshake and
// attaches the server's tools to reg.
func ConnectSSE(ctx context.Context, reg *tool.Registry, url string, sseOpts SSEOptions, optFns ...func(o *AttachOptions)) ([]string, error) {
	transport := NewSSETransport(url, func(o *SSEOptions) {
		o.Headers = sseOpts.Headers

		if sseOpts.HTTPClient != nil {
			o.HTTPClient = sseOpts.HTTPClient
		}

		if sseOpts.Logger != nil {
			o.Logger = sseOpts.Logger
		}

		if sseOpts.EndpointTimeout > 0 {
			o.EndpointTimeout = sseOpts.EndpointTimeout
		}
	})

	return connect(ctx, reg, transport, sseOpts.Logger, optFns...)
}

func connect(ctx context.Context, reg *tool.Registry, transport Transport, logger logging.Logger, optFns ...func(o *AttachOptions)) ([]string, error) {
	client := NewClient(transport, func(o *ClientOptions) {
		if logger != nil {
			o.Logger = logger
		}
	})

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	names, err := Attach(ctx, reg, client, optFns...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return names, nil
}

package mcp

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
	"testing"
	"time"
)

const fakeServerEnv = "AGENTSWARM_FAKE_TOOL_SERVER"

// TestMain doubles as a stdio tool server when the test binary is re-executed
// with fakeServerEnv set.
func TestMain(m *testing.M) {
	if os.Getenv(fakeServerEnv) == "1" {
		runStdioServer(os.Stdin, os.Stdout)
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func fakeStdioOptions() StdioOptions {
	return StdioOptions{
		Args: []string{"-test.run=^$"},
		Env:  append(os.Environ(), fakeServerEnv+"=1"),
	}
}

type rawRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

var fakeTools = []ToolInfo{
	{Name: "echo", Description: "Echo text", InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	}},
	{Name: "slow", Description: "Echo text after ms milliseconds"},
	{Name: "fail", Description: "Always reports an error result"},
	{Name: "rpcfail", Description: "Always returns a JSON-RPC error"},
	{Name: "crash", Description: "Terminates the server"},
}

// handleFakeRequest implements the server side of the tool protocol. It
// returns nil for notifications.
func handleFakeRequest(req rawRequest) *Response {
	if len(req.ID) == 0 {
		return nil
	}

	resp := &Response{JSONRPC: jsonrpcVersion, ID: req.ID}

	setResult := func(v any) {
		data, _ := json.Marshal(v)
		resp.Result = data
	}

	switch req.Method {
	case "initialize":
		setResult(InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      Implementation{Name: "fake", Version: "1.0.0"},
		})
	case "tools/list":
		var p ListToolsParams
		_ = json.Unmarshal(req.Params, &p)

		if p.Cursor == "" {
			setResult(ListToolsResult{Tools: fakeTools[:2], NextCursor: "page-2"})
		} else {
			setResult(ListToolsResult{Tools: fakeTools[2:]})
		}
	case "tools/call":
		var p CallToolParams
		_ = json.Unmarshal(req.Params, &p)

		text, _ := p.Arguments["text"].(string)

		switch p.Name {
		case "echo":
			setResult(CallToolResult{Content: []Content{{Type: "text", Text: text}}})
		case "slow":
			ms, _ := p.Arguments["ms"].(float64)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			setResult(CallToolResult{Content: []Content{{Type: "text", Text: text}}})
		case "fail":
			setResult(CallToolResult{Content: []Content{{Type: "text", Text: "bad input"}, {Type: "text", Text: "try again"}}, IsError: true})
		case "rpcfail":
			resp.Error = &RPCError{Code: InvalidParams, Message: "invalid params"}
		case "crash":
			os.Exit(3)
		default:
			resp.Error = &RPCError{Code: InvalidParams, Message: "unknown tool " + p.Name}
		}
	default:
		resp.Error = &RPCError{Code: MethodNotFound, Message: "method not found"}
	}

	return resp
}

func runStdioServer(in io.Reader, out io.Writer) {
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req rawRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			resp := handleFakeRequest(req)
			if resp == nil {
				return
			}

			data, _ := json.Marshal(resp)

			writeMu.Lock()
			_, _ = out.Write(append(data, '\n'))
			writeMu.Unlock()
		}()
	}

	wg.Wait()
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentswarm/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSSEServer serves the tool protocol over an event stream. Requests are
// accepted with 202 and answered asynchronously on the stream.
type fakeSSEServer struct {
	mu      sync.Mutex
	streams map[string]chan []byte
	drop    chan struct{}
	nextID  int
}

func newFakeSSEServer(t *testing.T) (*fakeSSEServer, *httptest.Server) {
	t.Helper()

	s := &fakeSSEServer{
		streams: make(map[string]chan []byte),
		drop:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleStream)
	mux.HandleFunc("/messages", s.handlePost)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return s, srv
}

func (s *fakeSSEServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.nextID++
	session := fmt.Sprintf("s%d", s.nextID)
	out := make(chan []byte, 64)
	s.streams[session] = out
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /messages?session=%s\n\n", session)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.drop:
			return
		case msg := <-out:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *fakeSSEServer) handlePost(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out, ok := s.streams[r.URL.Query().Get("session")]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var req rawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go func() {
		if resp := handleFakeRequest(req); resp != nil {
			data, _ := json.Marshal(resp)
			out <- data
		}
	}()
}

func (s *fakeSSEServer) dropStreams() { close(s.drop) }

func attachFakeSSE(t *testing.T, optFns ...func(o *AttachOptions)) (*fakeSSEServer, *tool.Registry, []string) {
	t.Helper()

	s, srv := newFakeSSEServer(t)

	reg := tool.NewRegistry()
	names, err := ConnectSSE(context.Background(), reg, srv.URL+"/sse", SSEOptions{}, optFns...)
	require.NoError(t, err)

	// Registered after the server cleanup so it runs first.
	t.Cleanup(func() { _ = reg.Close() })

	return s, reg, names
}

func TestSSE_AttachWithPrefixAndFilter(t *testing.T) {
	_, reg, names := attachFakeSSE(t, func(o *AttachOptions) {
		o.Prefix = "remote_"
		o.Filter = func(info ToolInfo) bool { return info.Name != "crash" }
	})

	assert.Equal(t, []string{"remote_echo", "remote_slow", "remote_fail", "remote_rpcfail"}, names)

	out, err := reg.Invoke(context.Background(), "remote_echo", `{"text":"over sse"}`)
	require.NoError(t, err)
	assert.Equal(t, "over sse", out)
}

func TestSSE_ConcurrentCallsAreCorrelated(t *testing.T) {
	_, reg, _ := attachFakeSSE(t)

	var wg sync.WaitGroup

	results := make([]string, 8)
	errs := make([]error, 8)

	for i := range results {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			args := fmt.Sprintf(`{"text":"r%d","ms":%d}`, i, (len(results)-i)*10)
			results[i], errs[i] = reg.Invoke(context.Background(), "slow", args)
		}(i)
	}

	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("r%d", i), results[i])
	}
}

func TestSSE_StreamLossFailsPendingAndFutureCalls(t *testing.T) {
	s, reg, _ := attachFakeSSE(t)

	errCh := make(chan error, 1)

	go func() {
		_, err := reg.Invoke(context.Background(), "slow", `{"text":"never","ms":2000}`)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	s.dropStreams()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("pending call was not failed after the stream dropped")
	}

	_, err := reg.Invoke(context.Background(), "echo", `{"text":"again"}`)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestSSE_MissingEndpointEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	transport := NewSSETransport(srv.URL, func(o *SSEOptions) {
		o.EndpointTimeout = 50 * time.Millisecond
	})

	client := NewClient(transport)
	err := client.Connect(context.Background())
	assert.ErrorContains(t, err, "no endpoint event")
}

func TestSSE_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	reg := tool.NewRegistry()
	_, err := ConnectSSE(context.Background(), reg, srv.URL, SSEOptions{})
	assert.ErrorContains(t, err, "unexpected status 401")
}

package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentswarm/logging"
	"github.com/openai/openai-go/packages/ssestream"
)

// SSEOptions configures an SSETransport.
type SSEOptions struct {
	HTTPClient *http.Client
	Headers    map[string]string
	Logger     logging.Logger
	// EndpointTimeout bounds how long Start waits for the server's endpoint event.
	EndpointTimeout time.Duration
}

// SSETransport talks to a tool server over a server-sent-event stream.
//
// Start opens a GET stream and waits for the "endpoint" event naming the URL
// requests are POSTed to. Responses arrive as "message" events on the stream.
// When the stream drops, every pending call fails with ErrConnectionLost and
// the transport stays closed.
type SSETransport struct {
	url  string
	opts SSEOptions

	mu       sync.RWMutex
	endpoint string
	closed   bool

	handler   Handler
	cancel    context.CancelFunc
	decoder   ssestream.Decoder
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSETransport creates a transport for the stream at rawURL.
func NewSSETransport(rawURL string, optFns ...func(o *SSEOptions)) *SSETransport {
	opts := SSEOptions{
		HTTPClient:      http.DefaultClient,
		Logger:          logging.NoOpLogger{},
		EndpointTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &SSETransport{
		url:  rawURL,
		opts: opts,
		done: make(chan struct{}),
	}
}

// Start opens the event stream. The stream outlives ctx; ctx only bounds the
// connection and endpoint discovery.
func (t *SSETransport) Start(ctx context.Context, h Handler) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return err
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}

	stop := context.AfterFunc(ctx, cancel)

	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		stop()
		cancel()

		return fmt.Errorf("open event stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()

		stop()
		cancel()

		return fmt.Errorf("open event stream: unexpected status %d", resp.StatusCode)
	}

	t.mu.Lock()
	t.handler = h
	t.cancel = cancel
	t.decoder = ssestream.NewDecoder(resp)
	t.mu.Unlock()

	endpointCh := make(chan string, 1)

	go t.readLoop(h, endpointCh)

	timer := time.NewTimer(t.opts.EndpointTimeout)
	defer timer.Stop()

	select {
	case endpoint := <-endpointCh:
		// The stream is established; later cancellation of ctx must not tear it down.
		if !stop() {
			_ = t.Close()
			return ctx.Err()
		}

		t.opts.Logger.Info("mcp.sse.connected", "url", t.url, "endpoint", endpoint)

		return nil
	case <-t.done:
		stop()
		_ = t.Close()

		return fmt.Errorf("%w: stream closed before endpoint event", ErrConnectionLost)
	case <-timer.C:
		stop()
		_ = t.Close()

		return fmt.Errorf("no endpoint event within %s", t.opts.EndpointTimeout)
	case <-ctx.Done():
		_ = t.Close()
		return ctx.Err()
	}
}

func (t *SSETransport) readLoop(h Handler, endpointCh chan<- string) {
	defer close(t.done)

	announced := false

	for t.decoder.Next() {
		ev := t.decoder.Event()

		data := bytes.TrimSpace(ev.Data)
		if len(data) == 0 {
			continue
		}

		switch ev.Type {
		case "endpoint":
			endpoint, err := t.resolve(string(data))
			if err != nil {
				t.opts.Logger.Warn("mcp.sse.bad_endpoint", "data", string(data), "error", err.Error())
				continue
			}

			t.mu.Lock()
			t.endpoint = endpoint
			t.mu.Unlock()

			if !announced {
				announced = true
				endpointCh <- endpoint
			}
		case "", "message":
			h.HandleMessage(append([]byte(nil), data...))
		default:
			t.opts.Logger.Debug("mcp.sse.event_ignored", "type", ev.Type)
		}
	}

	err := t.decoder.Err()

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.opts.Logger.Warn("mcp.sse.stream_closed", "url", t.url, "error", errString(err))
	h.HandleClose(err)
}

func (t *SSETransport) resolve(ref string) (string, error) {
	base, err := url.Parse(t.url)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}

	return base.ResolveReference(u).String(), nil
}

// Send POSTs msg to the announced endpoint. A JSON body in the reply is
// treated as an inbound message.
func (t *SSETransport) Send(ctx context.Context, msg []byte) error {
	t.mu.RLock()
	endpoint, closed, h := t.endpoint, t.closed, t.handler
	t.mu.RUnlock()

	if closed {
		return ErrConnectionLost
	}

	if endpoint == "" {
		return ErrNotConnected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(msg))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("post message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read post reply: %w", err)
	}

	if body = bytes.TrimSpace(body); len(body) > 0 {
		h.HandleMessage(body)
	}

	return nil
}

// Close cancels the stream and waits for the reader to finish.
func (t *SSETransport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		cancel, decoder := t.cancel, t.decoder
		t.mu.Unlock()

		if cancel == nil {
			return
		}

		cancel()
		<-t.done

		err = decoder.Close()
	})

	return err
}

package stream

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// SSETransport opens text/event-stream connections over HTTP.
type SSETransport struct {
	Client *http.Client
	Header http.Header
}

// NewSSETransport creates an SSE transport. The client must not set an
// overall timeout since event streams are long-lived.
func NewSSETransport(client *http.Client) *SSETransport {
	if client == nil {
		client = &http.Client{}
	}
	return &SSETransport{Client: client, Header: make(http.Header)}
}

// Open issues the GET request and validates the response.
func (t *SSETransport) Open(ctx context.Context, rawURL string) (Conn, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range t.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.Client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("event stream returned status code: %d", resp.StatusCode)
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("event stream returned content type %q", resp.Header.Get("Content-Type"))
	}

	c := &sseConn{
		body:   resp.Body,
		cancel: cancel,
		events: make(chan []byte),
		done:   make(chan struct{}),
	}
	go c.read()
	return c, nil
}

type sseConn struct {
	body   io.ReadCloser
	cancel context.CancelFunc

	events chan []byte
	err    error // set before events is closed
	done   chan struct{}

	closeOnce sync.Once
}

// read parses the body until it fails or the connection is closed. Events
// without data, comments and the event, id and retry fields never reach
// Receive.
func (c *sseConn) read() {
	defer close(c.events)

	c.err = io.ErrUnexpectedEOF
	for ev, err := range sse.Read(c.body, nil) {
		if err != nil {
			c.err = err
			return
		}
		if ev.Data == "" {
			continue
		}
		select {
		case c.events <- []byte(ev.Data):
		case <-c.done:
			c.err = ErrClosed
			return
		}
	}
}

// Receive returns the data of the next dispatched event.
func (c *sseConn) Receive() ([]byte, error) {
	data, ok := <-c.events
	if !ok {
		return nil, c.err
	}
	return data, nil
}

func (c *sseConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		err = c.body.Close()
	})
	return err
}

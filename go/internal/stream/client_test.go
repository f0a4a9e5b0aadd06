package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = time.Second

type message struct {
	Command string `json:"command"`
}

// fakeConn yields scripted payloads and then blocks until closed or failed.
type fakeConn struct {
	msgs   chan []byte
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
}

func newFakeConn(payloads ...string) *fakeConn {
	c := &fakeConn{
		msgs:   make(chan []byte, len(payloads)+8),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	for _, p := range payloads {
		c.msgs <- []byte(p)
	}
	return c
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		close(c.closed)
	})
	return nil
}

// scriptedTransport returns the next scripted result for each Open.
type scriptedTransport struct {
	mu      sync.Mutex
	results []func() (Conn, error)
	opens   int
}

func (t *scriptedTransport) Open(ctx context.Context, rawURL string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if len(t.results) == 0 {
		return nil, errors.New("relay unreachable")
	}
	next := t.results[0]
	t.results = t.results[1:]
	return next()
}

func failing() func() (Conn, error) {
	return func() (Conn, error) { return nil, errors.New("connection refused") }
}

func succeeding(c *fakeConn) func() (Conn, error) {
	return func() (Conn, error) { return c, nil }
}

func waitDelay(t *testing.T, ch <-chan time.Duration) time.Duration {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for reconnect to be scheduled")
		return 0
	}
}

func newTestClient(transport Transport, handler func(message), clock clockwork.Clock, delays chan time.Duration, opened chan struct{}) *Client[message] {
	cfg := DefaultConfig("test")
	cfg.Clock = clock
	cfg.OnRetry = func(_ int, d time.Duration) { delays <- d }
	cfg.OnOpen = func() {
		if opened != nil {
			opened <- struct{}{}
		}
	}
	return NewClient("http://relay.test/command/stream", transport, handler, cfg)
}

func TestClientBackoffDoublesAndCaps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	delays := make(chan time.Duration, 16)
	c := newTestClient(&scriptedTransport{}, func(message) {}, clock, delays, nil)

	c.Start()
	defer c.Stop()

	want := []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
	}
	for i, w := range want {
		got := waitDelay(t, delays)
		require.Equal(t, w, got, "failure %d", i+1)
		require.Equal(t, StateDisconnected, c.State(), "failure %d", i+1)
		clock.Advance(got)
	}
}

func TestClientSuccessfulOpenResetsBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	delays := make(chan time.Duration, 16)
	opened := make(chan struct{}, 4)
	conn := newFakeConn()
	transport := &scriptedTransport{results: []func() (Conn, error){
		failing(), failing(), succeeding(conn),
	}}
	c := newTestClient(transport, func(message) {}, clock, delays, opened)

	c.Start()
	defer c.Stop()

	clock.Advance(waitDelay(t, delays))
	clock.Advance(waitDelay(t, delays))

	select {
	case <-opened:
	case <-time.After(waitTimeout):
		t.Fatal("expected connection to open")
	}
	require.True(t, c.IsConnected())
	assert.Equal(t, 500*time.Millisecond, c.RetryDelay(), "open resets the delay")

	conn.Close()
	assert.Equal(t, 500*time.Millisecond, waitDelay(t, delays), "first retry after a reset")
}

func TestClientDiscardsMalformedMessages(t *testing.T) {
	clock := clockwork.NewFakeClock()
	delays := make(chan time.Duration, 4)
	received := make(chan message, 4)
	conn := newFakeConn(`not json`, `{"command":"sync_play"}`)
	transport := &scriptedTransport{results: []func() (Conn, error){succeeding(conn)}}

	c := newTestClient(transport, func(m message) { received <- m }, clock, delays, nil)
	c.Start()
	defer c.Stop()

	select {
	case m := <-received:
		assert.Equal(t, "sync_play", m.Command)
	case <-time.After(waitTimeout):
		t.Fatal("expected valid message to be delivered")
	}

	select {
	case d := <-delays:
		t.Fatalf("malformed payload must not tear down the connection, got retry %v", d)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, c.IsConnected(), "connection stays open")
}

func TestClientStopDisablesReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	delays := make(chan time.Duration, 4)
	opened := make(chan struct{}, 4)
	conn := newFakeConn()
	transport := &scriptedTransport{results: []func() (Conn, error){succeeding(conn)}}

	c := newTestClient(transport, func(message) {}, clock, delays, opened)
	c.Start()

	select {
	case <-opened:
	case <-time.After(waitTimeout):
		t.Fatal("expected connection to open")
	}

	c.Stop()
	select {
	case <-conn.closed:
	case <-time.After(waitTimeout):
		t.Fatal("expected Stop to close the connection")
	}
	select {
	case d := <-delays:
		t.Fatalf("stopped client must not reconnect, got retry %v", d)
	case <-time.After(50 * time.Millisecond):
	}

	c.Start()
	assert.Equal(t, StateDisconnected, c.State(), "Start after Stop is a no-op")

	c.Restart()
	assert.Equal(t, 500*time.Millisecond, waitDelay(t, delays), "Restart reconnects")
	c.Stop()
}

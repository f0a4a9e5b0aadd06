package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds the reconnect behaviour of a Client.
type Config struct {
	Name         string
	InitialRetry time.Duration
	MaxRetry     time.Duration
	Clock        clockwork.Clock

	// OnOpen is called each time a connection is established.
	OnOpen func()
	// OnRetry is called each time a reconnect is scheduled.
	OnRetry func(attempt int, delay time.Duration)
}

// DefaultConfig returns the default reconnect configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		InitialRetry: 500 * time.Millisecond,
		MaxRetry:     5000 * time.Millisecond,
		Clock:        clockwork.NewRealClock(),
	}
}

// Client keeps a server-push connection open, decoding each message as JSON
// into T and handing it to the handler. It carries no protocol logic.
type Client[T any] struct {
	url       string
	transport Transport
	handler   func(T)
	config    Config

	mu       sync.Mutex
	state    State
	stopped  bool
	gen      uint64
	cancel   context.CancelFunc
	retry    clockwork.Timer
	backoff  *Backoff
	attempts int
}

// NewClient creates a stream client for rawURL. The handler runs on the
// client's reader goroutine.
func NewClient[T any](rawURL string, transport Transport, handler func(T), config Config) *Client[T] {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Client[T]{
		url:       rawURL,
		transport: transport,
		handler:   handler,
		config:    config,
		backoff:   NewBackoff(config.InitialRetry, config.MaxRetry),
	}
}

// Start opens the connection. It does nothing once the client has been stopped.
func (c *Client[T]) Start() {
	c.connect()
}

// Stop closes the connection and disables automatic reconnection.
func (c *Client[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.gen++
	c.teardownLocked()
	c.state = StateDisconnected

	log.Debug().Str("stream", c.config.Name).Msg("stream stopped")
}

// Restart re-enables reconnection and connects again.
func (c *Client[T]) Restart() {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()

	c.connect()
}

// State returns the current connection state.
func (c *Client[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is open.
func (c *Client[T]) IsConnected() bool {
	return c.State() == StateConnected
}

// RetryDelay returns the delay the next reconnect will wait.
func (c *Client[T]) RetryDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Current()
}

// URL returns the endpoint the client connects to.
func (c *Client[T]) URL() string {
	return c.url
}

func (c *Client[T]) connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.teardownLocked()

	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateConnecting

	go c.run(ctx, c.gen)
}

// teardownLocked closes the current connection and cancels any pending reconnect.
func (c *Client[T]) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client[T]) run(ctx context.Context, gen uint64) {
	conn, err := c.transport.Open(ctx, c.url)
	if err != nil {
		c.fail(gen, err)
		return
	}
	if !c.opened(gen) {
		conn.Close()
		return
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		data, err := conn.Receive()
		if err != nil {
			conn.Close()
			c.fail(gen, err)
			return
		}
		if !c.current(gen) {
			conn.Close()
			return
		}
		c.dispatch(data)
	}
}

func (c *Client[T]) opened(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return false
	}
	c.state = StateConnected
	c.backoff.Reset()
	c.attempts = 0
	onOpen := c.config.OnOpen
	c.mu.Unlock()

	log.Info().Str("stream", c.config.Name).Msg("stream connected")
	if onOpen != nil {
		onOpen()
	}
	return true
}

func (c *Client[T]) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && !c.stopped
}

// dispatch decodes one payload; malformed payloads are dropped without
// affecting the connection.
func (c *Client[T]) dispatch(data []byte) {
	if len(data) == 0 {
		return
	}
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().
			Err(err).
			Str("stream", c.config.Name).
			Msg("discarding malformed stream message")
		return
	}
	c.handler(msg)
}

// fail schedules a reconnect after the current backoff delay unless the
// failing connection is stale or the client has been stopped.
func (c *Client[T]) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateDisconnected
	c.attempts++
	attempt := c.attempts
	delay := c.backoff.Next()
	c.retry = c.config.Clock.AfterFunc(delay, c.connect)
	onRetry := c.config.OnRetry
	c.mu.Unlock()

	log.Debug().
		Err(err).
		Str("stream", c.config.Name).
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Msg("stream disconnected, scheduling reconnect")

	if onRetry != nil {
		onRetry(attempt, delay)
	}
}

package stream

import (
	"context"
	"errors"
)

// ErrClosed is returned by Receive once a connection has been closed.
var ErrClosed = errors.New("stream: connection closed")

// Conn is one open server-push connection. Receive blocks until the next
// complete message payload arrives.
type Conn interface {
	Receive() ([]byte, error)
	Close() error
}

// Transport opens server-push connections.
type Transport interface {
	Open(ctx context.Context, rawURL string) (Conn, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, rawURL string) (Conn, error)

// Open calls f.
func (f TransportFunc) Open(ctx context.Context, rawURL string) (Conn, error) {
	return f(ctx, rawURL)
}

package stream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport opens the command channel over a WebSocket instead of
// an event stream. Text frames carry the same JSON payloads.
type WebSocketTransport struct {
	Dialer         *websocket.Dialer
	Header         http.Header
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// NewWebSocketTransport returns a transport with the gateway's connection defaults.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		Dialer:         websocket.DefaultDialer,
		Header:         make(http.Header),
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Open dials the WebSocket endpoint, rewriting http(s) schemes to ws(s).
func (t *WebSocketTransport) Open(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := t.Dialer.DialContext(ctx, toWebSocketURL(rawURL), t.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}

	conn.SetReadLimit(t.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(t.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(t.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(t.WriteTimeout))
	})

	return &wsConn{conn: conn, readTimeout: t.ReadTimeout}, nil
}

func toWebSocketURL(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "wss://" + strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		return "ws://" + strings.TrimPrefix(rawURL, "http://")
	default:
		return rawURL
	}
}

type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
}

// Receive returns the next text frame; binary frames are skipped.
func (c *wsConn) Receive() ([]byte, error) {
	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		if kind == websocket.TextMessage {
			return message, nil
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

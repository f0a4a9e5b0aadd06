package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tmaxmax/go-sse"

	"github.com/mcdev12/couchsync/go/internal/models"
)

// StreamConfig holds configuration for stream connections.
type StreamConfig struct {
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	PingInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxMessageSize    int64
	ReadBufferSize    int
	WriteBufferSize   int
	CheckOrigin       func(r *http.Request) bool
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		MaxMessageSize:    1024,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin: func(r *http.Request) bool {
			// Extension pages connect from arbitrary origins
			return true
		},
	}
}

// handleSSE serves one event stream until the client goes away or the hub
// drops the subscriber.
func (s *Server) handleSSE(stream string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")

		w.Header().Set("X-Accel-Buffering", "no")
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub := s.hub.Subscribe(stream, user)
		defer sub.Close()

		if err := sendComment(sess, "connected"); err != nil {
			return
		}

		log.Info().
			Str("subscriber_id", sub.ID).
			Str("user", user).
			Str("stream", stream).
			Msg("event stream opened")

		if stream == StreamInvite {
			if err := sendJSON(sess, s.inviteInit(user)); err != nil {
				return
			}
		}

		heartbeat := s.clock.NewTicker(s.streamConfig.HeartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-sub.Send:
				if !ok {
					return
				}
				if err := sendData(sess, data); err != nil {
					log.Debug().Err(err).Str("subscriber_id", sub.ID).Msg("failed to write event")
					return
				}
			case <-heartbeat.Chan():
				if stream == StreamInvite {
					err = sendJSON(sess, models.InviteEvent{Event: models.InviteEventHeartbeat})
				} else {
					err = sendComment(sess, "ping")
				}
				if err != nil {
					return
				}
			}
		}
	}
}

func sendJSON(sess *sse.Session, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return sendData(sess, data)
}

func sendData(sess *sse.Session, data []byte) error {
	msg := &sse.Message{}
	msg.AppendData(string(data))
	return send(sess, msg)
}

func sendComment(sess *sse.Session, comment string) error {
	msg := &sse.Message{}
	msg.AppendComment(comment)
	return send(sess, msg)
}

func send(sess *sse.Session, msg *sse.Message) error {
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

// inviteInit describes the current session to a newly connected user.
func (s *Server) inviteInit(user string) models.InviteEvent {
	ev := models.InviteEvent{Event: models.InviteEventInit}
	users := s.hub.Users()
	if models.Partner(users, user) != "" {
		ev.Connection = &models.Connection{Users: users}
	}
	return ev
}

// handleWebSocket mirrors the command stream over a WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.Error().Err(err).Str("user", user).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &wsConnection{
		sub:    s.hub.Subscribe(StreamCommand, user),
		conn:   conn,
		config: s.streamConfig,
	}

	log.Info().
		Str("subscriber_id", c.sub.ID).
		Str("user", user).
		Msg("WebSocket connection established")

	go c.writePump()
	c.readPump()
}

type wsConnection struct {
	sub    *Subscriber
	conn   *websocket.Conn
	config StreamConfig
}

// writePump forwards hub messages and keeps the connection alive with pings.
func (c *wsConnection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sub.Send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("subscriber_id", c.sub.ID).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("subscriber_id", c.sub.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump discards client frames and unsubscribes once the socket closes.
func (c *wsConnection) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("subscriber_id", c.sub.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}

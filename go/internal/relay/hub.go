// Package relay is a reference server for the sync protocol: it accepts
// playback reports and commands over HTTP and fans them out to the other
// clients over SSE and WebSocket streams.
package relay

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/models"
)

// Stream names. They double as bus subjects.
const (
	StreamCommand = "command"
	StreamNav     = "nav"
	StreamInvite  = "invite"
)

// Message is one payload addressed to a stream.
type Message struct {
	Stream string `json:"stream"`
	// SourceUser is never delivered its own message.
	SourceUser string `json:"source_user,omitempty"`
	// TargetUser, when set, restricts delivery to that user.
	TargetUser string          `json:"target_user,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// NewMessage marshals payload into a message for stream.
func NewMessage(stream, source, target string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Stream: stream, SourceUser: source, TargetUser: target, Data: data}, nil
}

// deliverable reports whether a subscriber of user should receive m.
func (m Message) deliverable(user string) bool {
	if m.SourceUser != "" && m.SourceUser == user {
		return false
	}
	return m.TargetUser == "" || m.TargetUser == user
}

// Subscriber is one open stream connection.
type Subscriber struct {
	ID          string
	User        string
	Stream      string
	Send        chan []byte
	ConnectedAt time.Time

	hub *Hub
}

// Close unregisters the subscriber. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.hub.Unsubscribe(s)
}

// HubConfig sizes the hub's buffers.
type HubConfig struct {
	BroadcastBuffer  int
	SubscriberBuffer int
}

// DefaultHubConfig returns the default buffer sizes.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BroadcastBuffer:  1000,
		SubscriberBuffer: 64,
	}
}

// PresenceFunc is told when a user's first command stream opens or last one closes.
type PresenceFunc func(user string, online bool)

// Hub tracks stream subscribers and delivers messages to them. Slow
// subscribers whose buffer is full are dropped.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]bool

	config      HubConfig
	broadcastCh chan Message
	presence    PresenceFunc
}

// NewHub creates a hub; call Start to begin delivering.
func NewHub(config HubConfig) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]bool),
		config:      config,
		broadcastCh: make(chan Message, config.BroadcastBuffer),
	}
}

// OnPresence installs the presence callback. It runs without hub locks held.
func (h *Hub) OnPresence(fn PresenceFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence = fn
}

// Start delivers queued messages until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hub shutting down")
			h.CloseAll()
			return
		case msg := <-h.broadcastCh:
			h.deliver(msg)
		}
	}
}

// Subscribe registers a new subscriber of stream for user.
func (h *Hub) Subscribe(stream, user string) *Subscriber {
	sub := &Subscriber{
		ID:          uuid.New().String(),
		User:        user,
		Stream:      stream,
		Send:        make(chan []byte, h.config.SubscriberBuffer),
		ConnectedAt: time.Now(),
		hub:         h,
	}

	h.mu.Lock()
	if h.subscribers[stream] == nil {
		h.subscribers[stream] = make(map[*Subscriber]bool)
	}
	first := stream == StreamCommand && user != "" && h.countLocked(stream, user) == 0
	h.subscribers[stream][sub] = true
	total := len(h.subscribers[stream])
	presence := h.presence
	h.mu.Unlock()

	log.Debug().
		Str("subscriber_id", sub.ID).
		Str("user", user).
		Str("stream", stream).
		Int("total_subscribers", total).
		Msg("subscriber registered")

	if first && presence != nil {
		presence(user, true)
	}
	return sub
}

// Unsubscribe removes sub and closes its Send channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	subs, ok := h.subscribers[sub.Stream]
	if !ok || !subs[sub] {
		h.mu.Unlock()
		return
	}
	delete(subs, sub)
	close(sub.Send)
	if len(subs) == 0 {
		delete(h.subscribers, sub.Stream)
	}
	last := sub.Stream == StreamCommand && sub.User != "" && h.countLocked(sub.Stream, sub.User) == 0
	presence := h.presence
	h.mu.Unlock()

	log.Info().
		Str("subscriber_id", sub.ID).
		Str("user", sub.User).
		Str("stream", sub.Stream).
		Msg("subscriber unregistered")

	if last && presence != nil {
		presence(sub.User, false)
	}
}

// Broadcast queues msg for delivery. It drops msg when the queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcastCh <- msg:
	default:
		log.Warn().Str("stream", msg.Stream).Msg("broadcast channel full, dropping message")
	}
}

// deliver sends under the read lock so Unsubscribe cannot close a channel
// mid-send.
func (h *Hub) deliver(msg Message) {
	var delivered int
	var slow []*Subscriber

	h.mu.RLock()
	for sub := range h.subscribers[msg.Stream] {
		if !msg.deliverable(sub.User) {
			continue
		}
		select {
		case sub.Send <- msg.Data:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		log.Warn().
			Str("subscriber_id", sub.ID).
			Str("user", sub.User).
			Msg("subscriber buffer full, dropping subscriber")
		h.Unsubscribe(sub)
	}

	log.Debug().
		Str("stream", msg.Stream).
		Str("source_user", msg.SourceUser).
		Int("subscribers", delivered).
		Msg("message delivered")
}

// CloseAll drops every subscriber, ending their streams.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Subscriber
	for _, subs := range h.subscribers {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		h.Unsubscribe(sub)
	}
}

// Users returns the users with an open command stream, sorted.
func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	for sub := range h.subscribers[StreamCommand] {
		if sub.User != "" {
			seen[sub.User] = true
		}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Stats returns subscriber counts per stream.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	streams := make(map[string]int)
	for name, subs := range h.subscribers {
		streams[name] = len(subs)
		total += len(subs)
	}
	return map[string]any{
		"total_subscribers": total,
		"streams":           streams,
	}
}

func (h *Hub) countLocked(stream, user string) int {
	n := 0
	for sub := range h.subscribers[stream] {
		if sub.User == user {
			n++
		}
	}
	return n
}

// partnerLeft is the command sent to the remaining users when user's last
// command stream closes.
func partnerLeft(user string) models.Command {
	return models.Command{Command: models.CommandPartnerLeft, SourceUser: user}
}

package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("relay: bus closed")

// Bus carries messages between relay instances. Every message published on
// any instance is handed to the deliver func of every running instance.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Run delivers messages until ctx is done.
	Run(ctx context.Context, deliver func(Message)) error
	Close() error
}

// LocalBus is an in-process Bus for a single relay instance.
type LocalBus struct {
	ch chan Message

	mu     sync.RWMutex
	closed bool
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(buffer int) *LocalBus {
	return &LocalBus{ch: make(chan Message, buffer)}
}

// Publish queues msg; it blocks while the buffer is full.
func (b *LocalBus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBus) Run(ctx context.Context, deliver func(Message)) error {
	log.Info().Msg("local bus started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("local bus shutting down")
			return nil
		case msg := <-b.ch:
			deliver(msg)
		}
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

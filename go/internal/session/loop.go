package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

const loopBufferSize = 256

// ErrLoopStopped is returned by Call once the loop has exited.
var ErrLoopStopped = errors.New("session: loop stopped")

// Loop runs closures one at a time on a single goroutine. Everything that
// touches sync state is funnelled through it, so that state needs no locks.
type Loop struct {
	workCh chan func()
	done   chan struct{}
}

// NewLoop creates a loop; call Run to start draining it.
func NewLoop() *Loop {
	return &Loop{
		workCh: make(chan func(), loopBufferSize),
		done:   make(chan struct{}),
	}
}

// Run drains the loop until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	log.Debug().Msg("session loop started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("session loop shutting down")
			return
		case fn := <-l.workCh:
			l.runSafely(fn)
		}
	}
}

// Post schedules fn without waiting. It is dropped once the loop has exited.
func (l *Loop) Post(fn func()) {
	select {
	case l.workCh <- fn:
	case <-l.done:
	}
}

// Call runs fn on the loop and waits for its result. It must not be called
// from the loop itself.
func (l *Loop) Call(fn func() error) error {
	result := make(chan error, 1)
	l.Post(func() { result <- fn() })

	select {
	case err := <-result:
		return err
	case <-l.done:
		return ErrLoopStopped
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("session loop task panicked")
		}
	}()
	fn()
}

package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Throttler fires on the leading edge and ignores further triggers until the
// window has elapsed.
type Throttler struct {
	name   string
	clock  clockwork.Clock
	window time.Duration
	fire   func(action string)

	mu       sync.Mutex
	lastFire time.Time
	fired    bool
}

// NewThrottler creates a leading-edge throttler.
func NewThrottler(name string, clock clockwork.Clock, window time.Duration, fire func(action string)) *Throttler {
	return &Throttler{
		name:   name,
		clock:  clock,
		window: window,
		fire:   fire,
	}
}

// Trigger fires immediately unless the previous fire is within the window.
// It reports whether the action was emitted.
func (t *Throttler) Trigger(action string) bool {
	t.mu.Lock()
	now := t.clock.Now()
	if t.fired && now.Sub(t.lastFire) < t.window {
		t.mu.Unlock()
		log.Debug().
			Str("throttler", t.name).
			Str("action", action).
			Msg("throttled")
		return false
	}
	t.fired = true
	t.lastFire = now
	t.mu.Unlock()

	runSafely(t.name, func() { t.fire(action) })
	return true
}

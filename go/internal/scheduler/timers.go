package scheduler

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// stopAndDrainTimer stops a timer and drains its channel so a pending value
// cannot be observed later. AfterFunc timers have no channel; draining is a no-op.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// runSafely invokes fn and logs, rather than propagates, a panic.
func runSafely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("scheduler", name).
				Interface("panic", r).
				Msg("scheduled callback panicked")
		}
	}()
	fn()
}

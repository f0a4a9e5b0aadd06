package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Debouncer coalesces bursts of triggers into a single call carrying the
// most recent action once the window has passed without a new trigger.
type Debouncer struct {
	name   string
	clock  clockwork.Clock
	window time.Duration
	fire   func(action string)

	mu     sync.Mutex
	timer  clockwork.Timer
	gen    uint64
	action string
}

// NewDebouncer creates a debouncer that calls fire window after the last Trigger.
func NewDebouncer(name string, clock clockwork.Clock, window time.Duration, fire func(action string)) *Debouncer {
	return &Debouncer{
		name:   name,
		clock:  clock,
		window: window,
		fire:   fire,
	}
}

// Trigger records action and restarts the quiet window.
func (d *Debouncer) Trigger(action string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.action = action
	d.gen++
	if d.timer != nil {
		stopAndDrainTimer(d.timer)
	}

	gen := d.gen
	d.timer = d.clock.AfterFunc(d.window, func() { d.flush(gen) })
}

// flush fires the pending action unless a newer Trigger superseded it.
func (d *Debouncer) flush(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	action := d.action
	d.action = ""
	d.timer = nil
	d.mu.Unlock()

	log.Debug().
		Str("debouncer", d.name).
		Str("action", action).
		Msg("debounce window elapsed")

	runSafely(d.name, func() { d.fire(action) })
}

// Pending reports whether a trigger is waiting for its window to elapse.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer != nil {
		stopAndDrainTimer(d.timer)
		d.timer = nil
	}
	d.action = ""
}

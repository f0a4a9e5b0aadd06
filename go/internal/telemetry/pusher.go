// Package telemetry reports local playback state to the relay, periodically
// and in response to user actions, at a bounded rate.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/scheduler"
)

// Poster delivers telemetry reports.
type Poster interface {
	Telemetry(ctx context.Context, t models.Telemetry) (models.StatusResponse, error)
}

// Source returns the current playback state, or false when no player is active.
// It is called from timer goroutines and must be safe for concurrent use.
type Source func() (models.PlaybackSnapshot, bool)

// Pusher sends telemetry reports without ever blocking its caller.
type Pusher struct {
	poster  Poster
	source  Source
	clock   clockwork.Clock
	timeout time.Duration
	ticker  *scheduler.Ticker

	slow *scheduler.Debouncer
	fast *scheduler.Debouncer
	skip *scheduler.Throttler

	mu      sync.Mutex
	user    string
	reg     scheduler.Registration
	stopped bool
	wg      sync.WaitGroup
}

// NewPusher creates a pusher. Periodic reports run on ticker's slow loop once Start is called.
func NewPusher(poster Poster, source Source, ticker *scheduler.Ticker, clock clockwork.Clock, timing config.Timing) *Pusher {
	p := &Pusher{
		poster:  poster,
		source:  source,
		clock:   clock,
		timeout: timing.RequestTimeout,
		ticker:  ticker,
	}
	p.slow = scheduler.NewDebouncer("telemetry-slow", clock, timing.SlowDebounce, p.Push)
	p.fast = scheduler.NewDebouncer("telemetry-fast", clock, timing.FastDebounce, p.Push)
	p.skip = scheduler.NewThrottler("telemetry-skip", clock, timing.Throttle, p.Push)
	return p
}

// SetUser sets the identity reported with every push.
func (p *Pusher) SetUser(user string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}

// Start sends an initial report and then one per slow tick.
func (p *Pusher) Start() {
	p.mu.Lock()
	if p.reg != 0 {
		p.mu.Unlock()
		return
	}
	p.reg = p.ticker.OnSlowTick(func() { p.Push("") })
	p.stopped = false
	p.mu.Unlock()

	p.Push("")
	log.Info().Msg("telemetry started")
}

// Stop cancels periodic and pending reports and waits for in-flight posts.
// Pushes after Stop are dropped.
func (p *Pusher) Stop() {
	p.mu.Lock()
	reg := p.reg
	p.reg = 0
	p.stopped = true
	p.mu.Unlock()

	if reg != 0 {
		p.ticker.Unregister(reg)
	}
	p.slow.Stop()
	p.fast.Stop()
	p.wg.Wait()
}

// Push sends a report tagged with action.
func (p *Pusher) Push(action string) {
	p.send(action, false)
}

// PushInstant sends a report the dashboard should display without smoothing.
func (p *Pusher) PushInstant(action string) {
	p.send(action, true)
}

// Slow coalesces bursts of spammy actions, such as held arrow keys, into one
// report carrying the latest action.
func (p *Pusher) Slow(action string) {
	p.slow.Trigger(action)
}

// Fast coalesces closely spaced clicks.
func (p *Pusher) Fast(action string) {
	p.fast.Trigger(action)
}

// Skip reports a skip button press at most once per throttle window.
func (p *Pusher) Skip(action string) {
	p.skip.Trigger(action)
}

func (p *Pusher) send(action string, instant bool) {
	snap, ok := p.source()
	if !ok {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	report := models.NewTelemetry(p.user, snap, p.clock.Now())
	p.wg.Add(1)
	p.mu.Unlock()
	report.Action = action
	report.DashboardInstant = instant

	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if _, err := p.poster.Telemetry(ctx, report); err != nil {
			log.Debug().Err(err).Str("action", action).Msg("telemetry push failed")
		}
	}()
}

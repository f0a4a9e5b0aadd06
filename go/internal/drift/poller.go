// Package drift periodically asks the relay how far the local player is from
// the partner's and offers a one-off correction when it is clearly ahead.
package drift

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/notify"
)

// Fetcher queries the relay's drift bookkeeping.
type Fetcher interface {
	Drift(ctx context.Context, user string) (models.DriftReport, error)
}

// Target is the local playback the poller reports on and corrects.
type Target interface {
	// Identity returns the local user.
	Identity() string
	// Watching reports whether media is loaded and playing back.
	Watching() bool
	// SyncTo seeks to seconds with echo suppression.
	SyncTo(seconds float64) error
}

// Poller checks drift on a fixed interval and rate-limits its prompts to one per interval.
type Poller struct {
	fetcher   Fetcher
	target    Target
	notifier  notify.Notifier
	clock     clockwork.Clock
	interval  time.Duration
	threshold float64
	timeout   time.Duration

	mu           sync.Mutex
	lastNotified time.Time
	notified     bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewPoller creates a poller using the drift interval and threshold of timing.
func NewPoller(fetcher Fetcher, target Target, notifier notify.Notifier, clock clockwork.Clock, timing config.Timing) *Poller {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Poller{
		fetcher:   fetcher,
		target:    target,
		notifier:  notifier,
		clock:     clock,
		interval:  timing.DriftCheckInterval,
		threshold: timing.DriftThreshold.Seconds(),
		timeout:   timing.RequestTimeout,
	}
}

// Start begins polling. It is a no-op while already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)

	log.Info().Dur("interval", p.interval).Msg("drift checker started")
}

// Stop halts polling and waits for an in-progress check to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.Check(ctx)
		}
	}
}

// Check runs one drift check. Failures are logged and otherwise ignored.
func (p *Poller) Check(ctx context.Context) {
	user := p.target.Identity()
	if user == "" || user == config.UnknownUser {
		return
	}
	if !p.target.Watching() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	report, err := p.fetcher.Drift(ctx, user)
	if err != nil {
		log.Debug().Err(err).Msg("drift check failed")
		return
	}
	if report.Status != models.DriftAhead || report.Drift <= p.threshold {
		return
	}

	p.mu.Lock()
	now := p.clock.Now()
	if p.notified && now.Sub(p.lastNotified) < p.interval {
		p.mu.Unlock()
		return
	}
	p.notified = true
	p.lastNotified = now
	p.mu.Unlock()

	log.Info().
		Float64("drift", report.Drift).
		Str("partner", report.Partner).
		Msg("drift detected")
	p.prompt(report)
}

func (p *Poller) prompt(report models.DriftReport) {
	syncTo := report.SyncTo
	p.notifier.Show(notify.Notification{
		Kind:    notify.KindSync,
		Title:   fmt.Sprintf("You're %ds ahead", int(math.Round(report.Drift))),
		Message: fmt.Sprintf("%s is at %s. Sync up?", report.Partner, models.FormatClock(syncTo)),
		Actions: []notify.Action{
			{Label: "Sync Now", Primary: true, Do: func() { p.syncToPartner(syncTo) }},
			{Label: "Ignore"},
		},
	})
}

func (p *Poller) syncToPartner(seconds float64) {
	log.Info().Float64("seconds", seconds).Msg("syncing to partner's position")
	if err := p.target.SyncTo(seconds); err != nil {
		log.Debug().Err(err).Msg("sync to partner failed")
		return
	}
	p.notifier.Note("Synced with partner!", 2*time.Second)
}

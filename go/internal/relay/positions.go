package relay

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/couchsync/go/internal/models"
)

const (
	// DriftTolerance is the largest |drift| in seconds still reported as ok.
	DriftTolerance = 2.0
	// PositionTTL is how long a report counts towards drift.
	PositionTTL = 30 * time.Second
)

// Position is the last known playhead of one user.
type Position struct {
	User       string
	TitleID    string
	URL        string
	Seconds    float64
	Rate       float64
	Paused     bool
	ReportedAt time.Time
}

// at extrapolates the playhead to now.
func (p Position) at(now time.Time) float64 {
	if p.Paused {
		return p.Seconds
	}
	return p.Seconds + now.Sub(p.ReportedAt).Seconds()*p.Rate
}

// Positions keeps the latest playhead per user and derives drift reports.
type Positions struct {
	mu     sync.RWMutex
	clock  clockwork.Clock
	byUser map[string]Position
}

// NewPositions creates an empty tracker.
func NewPositions(clock clockwork.Clock) *Positions {
	return &Positions{
		clock:  clock,
		byUser: make(map[string]Position),
	}
}

// Report records a telemetry report. It returns true when the user moved to
// a different title.
func (p *Positions) Report(t models.Telemetry) bool {
	if t.User == "" {
		return false
	}
	rate := t.Rate
	if rate <= 0 {
		rate = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prev, seen := p.byUser[t.User]
	p.byUser[t.User] = Position{
		User:       t.User,
		TitleID:    t.ID,
		URL:        t.URL,
		Seconds:    t.PositionSeconds,
		Rate:       rate,
		Paused:     t.Paused,
		ReportedAt: p.clock.Now(),
	}
	return knownTitle(t.ID) && (!seen || prev.TitleID != t.ID)
}

// ReportSync applies the position carried by an outbound sync command.
func (p *Positions) ReportSync(cmd models.Command) {
	seconds, ok := cmd.SecondsValue()
	if !ok || cmd.SourceUser == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, seen := p.byUser[cmd.SourceUser]
	if !seen {
		pos = Position{User: cmd.SourceUser, Rate: 1}
	}
	pos.Seconds = seconds
	pos.ReportedAt = p.clock.Now()
	switch cmd.Command {
	case models.CommandSyncPause:
		pos.Paused = true
	case models.CommandSyncPlay:
		pos.Paused = false
	}
	p.byUser[cmd.SourceUser] = pos
}

// Get returns the last position of user.
func (p *Positions) Get(user string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.byUser[user]
	return pos, ok
}

// Forget drops user's position.
func (p *Positions) Forget(user string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byUser, user)
}

// Partner returns the most recently reporting other user on a live report.
func (p *Positions) Partner(user string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.partnerLocked(user, p.clock.Now())
}

func (p *Positions) partnerLocked(user string, now time.Time) (Position, bool) {
	var best Position
	found := false
	for u, pos := range p.byUser {
		if u == user || now.Sub(pos.ReportedAt) > PositionTTL {
			continue
		}
		if !found || pos.ReportedAt.After(best.ReportedAt) {
			best, found = pos, true
		}
	}
	return best, found
}

// Drift compares user with their partner. Positive drift means user is ahead.
// Without a live partner on the same title the report is ok.
func (p *Positions) Drift(user string) models.DriftReport {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.clock.Now()
	self, ok := p.byUser[user]
	if !ok || now.Sub(self.ReportedAt) > PositionTTL {
		return models.DriftReport{Status: models.DriftOK}
	}
	partner, ok := p.partnerLocked(user, now)
	if !ok {
		return models.DriftReport{Status: models.DriftOK}
	}
	if knownTitle(self.TitleID) && knownTitle(partner.TitleID) && self.TitleID != partner.TitleID {
		return models.DriftReport{Status: models.DriftOK, Partner: partner.User}
	}

	partnerAt := partner.at(now)
	drift := math.Round((self.at(now)-partnerAt)*10) / 10

	status := models.DriftOK
	switch {
	case drift > DriftTolerance:
		status = models.DriftAhead
	case drift < -DriftTolerance:
		status = models.DriftBehind
	}
	return models.DriftReport{
		Status:  status,
		Drift:   math.Abs(drift),
		Partner: partner.User,
		SyncTo:  models.FloorSeconds(partnerAt),
	}
}

func knownTitle(id string) bool {
	return id != "" && id != "unknown"
}

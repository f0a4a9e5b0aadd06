// Package playertest provides an in-memory player for tests. Mutations queue
// the native events a media element would fire; tests drain and deliver them.
package playertest

import (
	"sync"

	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/player"
)

// Call records one mutating call made on the player.
type Call struct {
	Method string
	Arg    float64
	URL    string
}

// Player is a scriptable fake implementing player.Player and player.Loader.
type Player struct {
	mu      sync.Mutex
	snap    models.PlaybackSnapshot
	calls   []Call
	pending []player.Event
	err     error
}

// New returns a paused, fully buffered player at position 0 and rate 1.
func New() *Player {
	return &Player{
		snap: models.PlaybackSnapshot{
			PlaybackRate: 1,
			Paused:       true,
			ReadyState:   models.ReadyStateHaveEnoughData,
			NetworkState: models.NetworkStateIdle,
			Volume:       1,
			SourceURL:    "https://www.netflix.com/watch/81234567?trackId=1",
		},
	}
}

// Set mutates the snapshot directly without recording a call or queueing events.
func (p *Player) Set(fn func(s *models.PlaybackSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.snap)
}

// FailWith makes every subsequent call return err.
func (p *Player) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Snapshot returns the current state.
func (p *Player) Snapshot() (models.PlaybackSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return models.PlaybackSnapshot{}, p.err
	}
	return p.snap, nil
}

// Play resumes playback; a play event is queued only on a real transition.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "play"})
	if p.err != nil {
		return p.err
	}
	if p.snap.Paused {
		p.snap.Paused = false
		p.queue(player.EventPlay)
	}
	return nil
}

// Pause pauses playback; a pause event is queued only on a real transition.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "pause"})
	if p.err != nil {
		return p.err
	}
	if !p.snap.Paused {
		p.snap.Paused = true
		p.queue(player.EventPause)
	}
	return nil
}

// Seek moves the position and queues timeupdate followed by seeked.
func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "seek", Arg: seconds})
	if p.err != nil {
		return p.err
	}
	p.snap.PositionSeconds = seconds
	p.queue(player.EventTimeUpdate)
	p.queue(player.EventSeeked)
	return nil
}

// SetRate changes the playback rate and queues ratechange when it differs.
func (p *Player) SetRate(rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "rate", Arg: rate})
	if p.err != nil {
		return p.err
	}
	if p.snap.PlaybackRate != rate {
		p.snap.PlaybackRate = rate
		p.queue(player.EventRateChange)
	}
	return nil
}

// Load opens url from the start and queues the seeked event of the restart.
func (p *Player) Load(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: "load", URL: url})
	if p.err != nil {
		return p.err
	}
	p.snap.SourceURL = url
	p.snap.PositionSeconds = 0
	p.queue(player.EventSeeked)
	return nil
}

// Advance moves the playhead forward as normal playback would and returns
// the resulting timeupdate event.
func (p *Player) Advance(seconds float64) player.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.PositionSeconds += seconds
	return player.Event{Type: player.EventTimeUpdate, Snapshot: p.snap}
}

// Calls returns the mutating calls recorded so far.
func (p *Player) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Mutations returns the number of mutating calls recorded so far.
func (p *Player) Mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Drain returns and clears the queued native events.
func (p *Player) Drain() []player.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

func (p *Player) queue(t player.EventType) {
	p.pending = append(p.pending, player.Event{Type: t, Snapshot: p.snap})
}

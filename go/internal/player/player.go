// Package player defines the port between the sync core and a concrete media
// player, along with the native playback events a player reports.
package player

import (
	"errors"

	"github.com/mcdev12/couchsync/go/internal/models"
)

// ErrNoPlayer is returned when an operation needs a player and none is attached.
var ErrNoPlayer = errors.New("player: no active player")

// ErrLoadUnsupported is returned when the attached player cannot open new media.
var ErrLoadUnsupported = errors.New("player: loading media is not supported")

// Player is a controllable media player.
type Player interface {
	Snapshot() (models.PlaybackSnapshot, error)
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetRate(rate float64) error
}

// Loader is implemented by players that can open new media.
type Loader interface {
	Load(url string) error
}

// EventType is a native playback event.
type EventType string

const (
	EventPlay       EventType = "play"
	EventPause      EventType = "pause"
	EventSeeked     EventType = "seeked"
	EventTimeUpdate EventType = "timeupdate"
	EventRateChange EventType = "ratechange"
)

// Event is a native playback event together with the player state at the
// time it fired.
type Event struct {
	Type     EventType
	Snapshot models.PlaybackSnapshot
}

// EventHandler receives native playback events.
type EventHandler func(Event)

package models

import (
	"math"
	"time"
)

// Telemetry is the periodic playback report pushed to the relay.
type Telemetry struct {
	User             string    `json:"user"`
	Time             time.Time `json:"time"`
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	Rate             float64   `json:"rate"`
	Paused           bool      `json:"paused"`
	PositionSeconds  float64   `json:"position_s"`
	PositionMillis   int64     `json:"position_ms"`
	ReadyState       int       `json:"ready_state"`
	Network          string    `json:"network"`
	Frames           int64     `json:"frames"`
	Dropped          int64     `json:"dropped"`
	Action           string    `json:"action,omitempty"`
	DashboardInstant bool      `json:"dashboard_instant,omitempty"`
}

// NewTelemetry builds a telemetry report from a snapshot taken at now.
func NewTelemetry(user string, snap PlaybackSnapshot, now time.Time) Telemetry {
	id := snap.SourceID()
	if id == "" {
		id = "unknown"
	}
	rate := snap.PlaybackRate
	if !isFinite(rate) {
		rate = 1
	}
	pos := snap.PositionSeconds
	if !isFinite(pos) {
		pos = 0
	}
	return Telemetry{
		User:            user,
		Time:            now.UTC(),
		ID:              id,
		URL:             snap.CleanSourceURL(),
		Rate:            rate,
		Paused:          !snap.IsPlaying(),
		PositionSeconds: pos,
		PositionMillis:  int64(math.Round(pos * 1000)),
		ReadyState:      int(snap.ReadyState),
		Network:         snap.NetworkState.Label(),
		Frames:          snap.FramesDecoded,
		Dropped:         snap.FramesDropped,
	}
}

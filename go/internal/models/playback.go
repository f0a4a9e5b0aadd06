package models

import (
	"net/url"
	"strings"
)

// ReadyState mirrors the media element "how much is buffered" scale.
type ReadyState int

const (
	ReadyStateHaveNothing     ReadyState = 0
	ReadyStateHaveMetadata    ReadyState = 1
	ReadyStateHaveCurrentData ReadyState = 2
	ReadyStateHaveFutureData  ReadyState = 3
	ReadyStateHaveEnoughData  ReadyState = 4
)

// NetworkState defines the network activity of a player.
type NetworkState int

const (
	NetworkStateEmpty    NetworkState = 0
	NetworkStateIdle     NetworkState = 1
	NetworkStateLoading  NetworkState = 2
	NetworkStateNoSource NetworkState = 3
)

// Label returns the wire label reported in telemetry.
func (s NetworkState) Label() string {
	switch s {
	case NetworkStateEmpty:
		return "NETWORK_EMPTY"
	case NetworkStateIdle:
		return "NETWORK_IDLE"
	case NetworkStateLoading:
		return "NETWORK_LOADING"
	case NetworkStateNoSource:
		return "NETWORK_NO_SOURCE"
	default:
		return "UNKNOWN"
	}
}

// PlaybackSnapshot is a read-only view of player state at an instant.
type PlaybackSnapshot struct {
	PositionSeconds float64      `json:"position_s"`
	DurationSeconds *float64     `json:"duration_s,omitempty"`
	PlaybackRate    float64      `json:"playback_rate"`
	Paused          bool         `json:"paused"`
	Ended           bool         `json:"ended"`
	Seeking         bool         `json:"seeking"`
	ReadyState      ReadyState   `json:"ready_state"`
	NetworkState    NetworkState `json:"network_state"`
	FramesDecoded   int64        `json:"frames"`
	FramesDropped   int64        `json:"dropped"`
	Volume          float64      `json:"volume"`
	Muted           bool         `json:"muted"`
	SourceURL       string       `json:"source_url,omitempty"`
}

// IsPlaying reports whether playback is actually advancing.
func (s PlaybackSnapshot) IsPlaying() bool {
	return !s.Paused && !s.Ended && s.PlaybackRate > 0 && s.ReadyState >= ReadyStateHaveCurrentData
}

// CanApplySync reports whether enough data is buffered to apply a sync command.
func (s PlaybackSnapshot) CanApplySync() bool {
	return s.ReadyState >= ReadyStateHaveCurrentData
}

// CleanSourceURL returns the source URL without its query string.
func (s PlaybackSnapshot) CleanSourceURL() string {
	u, _, _ := strings.Cut(s.SourceURL, "?")
	return u
}

// SourceID extracts the last path segment of the source URL.
func (s PlaybackSnapshot) SourceID() string {
	return ExtractSourceID(s.CleanSourceURL())
}

// ExtractSourceID returns the last non-empty path segment of rawURL,
// tolerating blob: prefixes and inputs that do not parse as URLs.
func ExtractSourceID(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	candidate := strings.TrimPrefix(rawURL, "blob:")
	if u, err := url.Parse(candidate); err == nil && u.Scheme != "" {
		if id := lastSegment(u.Path); id != "" {
			return id
		}
	}
	return lastSegment(candidate)
}

func lastSegment(p string) string {
	parts := strings.Split(p, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}

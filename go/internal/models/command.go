package models

import (
	"math"
)

// CommandType identifies a command travelling through the relay.
type CommandType string

const (
	// Control-plane commands issued by a dashboard or an explicit partner action.
	CommandPlay  CommandType = "play"
	CommandPause CommandType = "pause"
	CommandSeek  CommandType = "seek"

	// Sync commands mirrored between partners.
	CommandSyncPlay    CommandType = "sync_play"
	CommandSyncPause   CommandType = "sync_pause"
	CommandSyncSeek    CommandType = "sync_seek"
	CommandSyncSpeed   CommandType = "sync_speed"
	CommandSyncSkip    CommandType = "sync_skip"
	CommandSyncTabAway CommandType = "sync_tab_away"
	CommandSyncTabBack CommandType = "sync_tab_back"

	// Informational commands, surfaced as notifications only.
	CommandShare            CommandType = "share"
	CommandWatchlistAdded   CommandType = "watchlist_added"
	CommandWatchlistRemoved CommandType = "watchlist_removed"
	CommandPartnerLeft      CommandType = "partner_left"
)

// IsSync reports whether the command is one of the partner sync variants.
func (t CommandType) IsSync() bool {
	switch t {
	case CommandSyncPlay, CommandSyncPause, CommandSyncSeek, CommandSyncSpeed,
		CommandSyncSkip, CommandSyncTabAway, CommandSyncTabBack:
		return true
	}
	return false
}

// Known reports whether t is a command this client understands.
func (t CommandType) Known() bool {
	switch t {
	case CommandPlay, CommandPause, CommandSeek,
		CommandShare, CommandWatchlistAdded, CommandWatchlistRemoved, CommandPartnerLeft:
		return true
	}
	return t.IsSync()
}

// SkipType names the kind of skip a partner performed.
type SkipType string

const (
	SkipIntro   SkipType = "intro"
	SkipRecap   SkipType = "recap"
	SkipCredits SkipType = "credits"
)

// Known reports whether s is one of the defined skip types.
func (s SkipType) Known() bool {
	switch s {
	case SkipIntro, SkipRecap, SkipCredits:
		return true
	}
	return false
}

// Label returns the notification text for a synced skip.
func (s SkipType) Label() string {
	switch s {
	case SkipIntro:
		return "Skipped intro"
	case SkipRecap:
		return "Skipped recap"
	default:
		return "Skipped credits"
	}
}

// Command is the wire shape of every message on the command channel.
// Only the fields relevant to a given variant are populated.
type Command struct {
	Command      CommandType `json:"command"`
	Seconds      *float64    `json:"seconds,omitempty"`
	PlaybackRate *float64    `json:"playback_rate,omitempty"`
	SkipType     SkipType    `json:"skip_type,omitempty"`
	URL          string      `json:"url,omitempty"`
	Title        string      `json:"title,omitempty"`
	AddedBy      string      `json:"added_by,omitempty"`
	RemovedBy    string      `json:"removed_by,omitempty"`
	SourceUser   string      `json:"source_user,omitempty"`
	TargetUser   string      `json:"target_user,omitempty"`
}

// IsFor reports whether the command should be applied by user.
// Commands without a target are broadcast to everyone.
func (c Command) IsFor(user string) bool {
	return c.TargetUser == "" || c.TargetUser == user
}

// SecondsValue returns the seconds field when present and finite.
func (c Command) SecondsValue() (float64, bool) {
	if c.Seconds == nil || !isFinite(*c.Seconds) {
		return 0, false
	}
	return *c.Seconds, true
}

// RateValue returns the playback rate when present, finite and positive.
func (c Command) RateValue() (float64, bool) {
	if c.PlaybackRate == nil || !isFinite(*c.PlaybackRate) || *c.PlaybackRate <= 0 {
		return 0, false
	}
	return *c.PlaybackRate, true
}

// NewSyncCommand builds an outbound sync command at a position floored to whole seconds.
func NewSyncCommand(t CommandType, position float64, sourceUser string) Command {
	seconds := FloorSeconds(position)
	return Command{
		Command:    t,
		Seconds:    &seconds,
		SourceUser: sourceUser,
	}
}

// FloorSeconds floors a playback position to whole seconds. Non-finite or
// negative positions collapse to zero.
func FloorSeconds(position float64) float64 {
	if !isFinite(position) || position < 0 {
		return 0
	}
	return math.Floor(position)
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

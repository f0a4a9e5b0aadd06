// Package playsync turns native player events into outbound sync commands
// and applies inbound commands to the local player without echoing them back.
//
// Nothing in this package is safe for concurrent use. Every call into a
// Machine or Dispatcher must come from the single session loop.
package playsync

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/player"
)

// Sender delivers outbound sync commands. SendSync must not block; failures
// are the sender's to swallow.
type Sender interface {
	SendSync(cmd models.Command)
}

// Telemetry receives playback telemetry triggers.
type Telemetry interface {
	// Push sends a report tagged with action without waiting for it.
	Push(action string)
	// PushInstant sends a report flagged for immediate dashboard display.
	PushInstant(action string)
	// Slow routes action through the slow debounce.
	Slow(action string)
}

type nopTelemetry struct{}

func (nopTelemetry) Push(string)        {}
func (nopTelemetry) PushInstant(string) {}
func (nopTelemetry) Slow(string)        {}

// Machine observes the local player and emits sync commands for changes the
// user made, suppressing the events caused by its own mutations.
type Machine struct {
	state     *State
	player    player.Player
	user      string
	sender    Sender
	telemetry Telemetry
	timing    config.Timing
}

// NewMachine creates a machine. A nil telemetry disables telemetry hooks.
func NewMachine(sender Sender, telemetry Telemetry, timing config.Timing) *Machine {
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	return &Machine{
		state:     NewState(),
		sender:    sender,
		telemetry: telemetry,
		timing:    timing,
	}
}

// State exposes the sync state for inspection.
func (m *Machine) State() *State {
	return m.state
}

// SetUser sets the local identity stamped on outbound commands.
func (m *Machine) SetUser(user string) {
	m.user = user
}

// User returns the local identity.
func (m *Machine) User() string {
	return m.user
}

// Player returns the attached player, or nil.
func (m *Machine) Player() player.Player {
	return m.player
}

// Attach starts observing p and seeds change detection from its current state.
func (m *Machine) Attach(p player.Player) error {
	snap, err := p.Snapshot()
	if err != nil {
		return err
	}
	m.player = p
	m.state.reset(snap.PositionSeconds, snap.Paused, snap.PlaybackRate)

	log.Debug().
		Float64("position", snap.PositionSeconds).
		Bool("paused", snap.Paused).
		Msg("player attached")
	return nil
}

// Detach stops observing the current player.
func (m *Machine) Detach() {
	m.player = nil
}

// Unload marks the page as unloading; no sync is emitted afterwards.
func (m *Machine) Unload() {
	m.state.PageUnloading = true
}

// HandleEvent processes one native player event.
func (m *Machine) HandleEvent(ev player.Event) {
	if m.player == nil {
		return
	}
	switch ev.Type {
	case player.EventPlay:
		m.onPlay(ev.Snapshot)
	case player.EventPause:
		m.onPause(ev.Snapshot)
	case player.EventSeeked:
		m.onSeeked(ev.Snapshot)
	case player.EventTimeUpdate:
		m.onTimeUpdate(ev.Snapshot)
	case player.EventRateChange:
		m.onRateChange(ev.Snapshot)
	}
}

func (m *Machine) onPlay(snap models.PlaybackSnapshot) {
	m.telemetry.Push("video_play")

	wasPaused := m.state.LastPaused
	m.state.LastPaused = false
	if m.state.consumeEcho() {
		return
	}
	if wasPaused {
		m.emit(models.CommandSyncPlay, snap.PositionSeconds)
	}
}

func (m *Machine) onPause(snap models.PlaybackSnapshot) {
	m.telemetry.Push("video_pause")

	wasPaused := m.state.LastPaused
	m.state.LastPaused = true
	if m.state.consumeEcho() {
		return
	}
	if !wasPaused {
		m.emit(models.CommandSyncPause, snap.PositionSeconds)
	}
}

func (m *Machine) onSeeked(snap models.PlaybackSnapshot) {
	m.telemetry.Slow("video_seeked")

	last := m.state.LastKnownTimeSeconds
	m.state.LastKnownTimeSeconds = snap.PositionSeconds
	if m.state.consumeEcho() {
		return
	}

	diff := math.Abs(snap.PositionSeconds - last)
	if diff > m.timing.LocalSeekThreshold {
		log.Debug().Float64("diff", diff).Msg("seek detected")
		m.emit(models.CommandSyncSeek, snap.PositionSeconds)
	}
}

// onTimeUpdate catches seeks the player never reported with a seeked event.
// It shares LastKnownTimeSeconds with onSeeked, so whichever detector sees a
// jump first absorbs it and the other observes no delta.
func (m *Machine) onTimeUpdate(snap models.PlaybackSnapshot) {
	last := m.state.LastKnownTimeSeconds
	m.state.LastKnownTimeSeconds = snap.PositionSeconds

	diff := math.Abs(snap.PositionSeconds - last)
	if diff > m.timing.RemoteSeekThreshold && !m.state.IgnoringEvents() {
		log.Debug().Float64("diff", diff).Msg("time jump detected")
		m.emit(models.CommandSyncSeek, snap.PositionSeconds)
	}
}

func (m *Machine) onRateChange(snap models.PlaybackSnapshot) {
	m.telemetry.Push("video_ratechange")

	last := m.state.LastPlaybackRate
	m.state.LastPlaybackRate = snap.PlaybackRate
	if m.state.IgnoreNextRateChange {
		m.state.IgnoreNextRateChange = false
		return
	}
	if snap.PlaybackRate == last || snap.PlaybackRate <= 0 {
		return
	}

	cmd := m.command(models.CommandSyncSpeed, snap.PositionSeconds)
	cmd.PlaybackRate = models.Float64(snap.PlaybackRate)
	m.send(cmd)
}

// EmitSkip reports that the local user skipped an intro, recap or credits.
func (m *Machine) EmitSkip(skip models.SkipType) {
	snap, ok := m.snapshot()
	if !ok {
		return
	}
	cmd := m.command(models.CommandSyncSkip, snap.PositionSeconds)
	cmd.SkipType = skip
	m.send(cmd)
}

// EmitVisibility reports the local user leaving or returning to the player.
func (m *Machine) EmitVisibility(away bool) {
	t := models.CommandSyncTabBack
	if away {
		t = models.CommandSyncTabAway
	}
	var position float64
	if snap, ok := m.snapshot(); ok {
		position = snap.PositionSeconds
	}
	m.send(m.command(t, position))
}

// SuppressedPlay resumes playback without the resulting play event being
// re-emitted. Playing players are left untouched.
func (m *Machine) SuppressedPlay() error {
	return m.suppressed(func(s models.PlaybackSnapshot) bool { return s.Paused }, player.Player.Play)
}

// SuppressedPause pauses playback without the resulting pause event being
// re-emitted. Paused players are left untouched.
func (m *Machine) SuppressedPause() error {
	return m.suppressed(func(s models.PlaybackSnapshot) bool { return !s.Paused }, player.Player.Pause)
}

// SuppressedSeek seeks without the resulting seeked event being re-emitted.
func (m *Machine) SuppressedSeek(seconds float64) error {
	return m.suppressed(nil, func(p player.Player) error { return p.Seek(seconds) })
}

// SuppressedSetRate changes the playback rate without the resulting
// ratechange being re-emitted.
func (m *Machine) SuppressedSetRate(rate float64) error {
	if m.player == nil {
		return player.ErrNoPlayer
	}
	m.state.IgnoreNextRateChange = true
	if err := m.player.SetRate(rate); err != nil {
		m.state.IgnoreNextRateChange = false
		return err
	}
	return nil
}

// Load opens url on the attached player. Change detection restarts at zero
// so the restart is not reported as a seek.
func (m *Machine) Load(url string) error {
	if m.player == nil {
		return player.ErrNoPlayer
	}
	loader, ok := m.player.(player.Loader)
	if !ok {
		return player.ErrLoadUnsupported
	}
	m.state.LastKnownTimeSeconds = 0
	return loader.Load(url)
}

// suppressed arms echo suppression and then applies mutate. When changes is
// non-nil and reports no state change, nothing is armed or mutated since the
// player would fire no event to consume the suppression.
func (m *Machine) suppressed(changes func(models.PlaybackSnapshot) bool, mutate func(player.Player) error) error {
	if m.player == nil {
		return player.ErrNoPlayer
	}
	if changes != nil {
		snap, err := m.player.Snapshot()
		if err != nil {
			return err
		}
		if !changes(snap) {
			return nil
		}
	}

	m.state.expectEcho()
	if err := mutate(m.player); err != nil {
		m.state.cancelEcho()
		return err
	}
	return nil
}

func (m *Machine) snapshot() (models.PlaybackSnapshot, bool) {
	if m.player == nil {
		return models.PlaybackSnapshot{}, false
	}
	snap, err := m.player.Snapshot()
	if err != nil {
		log.Debug().Err(err).Msg("failed to read player state")
		return models.PlaybackSnapshot{}, false
	}
	return snap, true
}

func (m *Machine) command(t models.CommandType, position float64) models.Command {
	return models.NewSyncCommand(t, position, m.user)
}

func (m *Machine) emit(t models.CommandType, position float64) {
	m.send(m.command(t, position))
}

func (m *Machine) send(cmd models.Command) {
	if m.state.PageUnloading || m.user == "" {
		return
	}
	log.Info().
		Str("command", string(cmd.Command)).
		Float64("seconds", *cmd.Seconds).
		Msg("sending sync")
	m.sender.SendSync(cmd)
}

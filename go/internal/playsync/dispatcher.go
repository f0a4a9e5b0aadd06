package playsync

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/notify"
)

// Dispatcher applies inbound relay commands to the local player through the
// Machine's suppressed primitives.
type Dispatcher struct {
	machine   *Machine
	notifier  notify.Notifier
	telemetry Telemetry
	open      func(url string)
}

// NewDispatcher creates a dispatcher. A nil notifier or telemetry falls back
// to a no-op.
func NewDispatcher(machine *Machine, notifier notify.Notifier, telemetry Telemetry) *Dispatcher {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	return &Dispatcher{
		machine:   machine,
		notifier:  notifier,
		telemetry: telemetry,
	}
}

// OnOpen installs the function behind a share's "Watch Now" action. Without
// it shares are shown as plain notes.
func (d *Dispatcher) OnOpen(open func(url string)) {
	d.open = open
}

// Handle applies one inbound command. Commands addressed to another user,
// commands that need a missing player and malformed commands are dropped.
func (d *Dispatcher) Handle(cmd models.Command) {
	if cmd.Command == "" {
		return
	}
	if !cmd.IsFor(d.machine.User()) {
		log.Debug().
			Str("command", string(cmd.Command)).
			Str("target_user", cmd.TargetUser).
			Msg("ignoring command for another user")
		return
	}

	switch cmd.Command {
	case models.CommandShare:
		d.share(cmd)
		return
	case models.CommandPartnerLeft:
		d.notifier.Note(fmt.Sprintf("%s stopped watching", sourceOr(cmd, "Partner")), notify.DefaultNoteDuration)
		return
	case models.CommandWatchlistAdded:
		d.watchlist(cmd, cmd.AddedBy, true)
		return
	case models.CommandWatchlistRemoved:
		d.watchlist(cmd, cmd.RemovedBy, false)
		return
	}

	if d.machine.Player() == nil {
		log.Debug().Str("command", string(cmd.Command)).Msg("no player, dropping command")
		return
	}

	var err error
	switch cmd.Command {
	case models.CommandPlay:
		err = d.machine.Player().Play()
		d.telemetry.PushInstant("dashboard_play")
	case models.CommandPause:
		err = d.machine.Player().Pause()
		d.telemetry.PushInstant("dashboard_pause")
	case models.CommandSeek:
		if seconds, ok := cmd.SecondsValue(); ok {
			err = d.machine.Player().Seek(seconds)
			d.telemetry.PushInstant("dashboard_seek")
		}
	case models.CommandSyncPause:
		err = d.syncPause(cmd)
	case models.CommandSyncPlay:
		err = d.syncPlay(cmd)
	case models.CommandSyncSeek:
		err = d.syncSeek(cmd)
	case models.CommandSyncSpeed:
		err = d.syncSpeed(cmd)
	case models.CommandSyncSkip:
		err = d.syncSkip(cmd)
	case models.CommandSyncTabAway:
		err = d.machine.SuppressedPause()
		d.notifier.Note(fmt.Sprintf("%s stepped away", sourceOr(cmd, "Partner")), notify.DefaultNoteDuration)
		d.telemetry.Push("sync_tab_away_received")
	case models.CommandSyncTabBack:
		d.notifier.Note(fmt.Sprintf("%s is back!", sourceOr(cmd, "Partner")), 2*time.Second)
		d.telemetry.Push("sync_tab_back_received")
	default:
		log.Debug().Str("command", string(cmd.Command)).Msg("unknown command")
	}

	if err != nil {
		log.Debug().Err(err).Str("command", string(cmd.Command)).Msg("failed to apply command")
	}
}

// ready reads the player state and reports whether sync commands may be applied.
func (d *Dispatcher) ready(cmd models.Command) (models.PlaybackSnapshot, bool) {
	snap, err := d.machine.Player().Snapshot()
	if err != nil {
		log.Debug().Err(err).Str("command", string(cmd.Command)).Msg("failed to read player state")
		return snap, false
	}
	if !snap.CanApplySync() {
		log.Debug().
			Str("command", string(cmd.Command)).
			Int("ready_state", int(snap.ReadyState)).
			Msg("player not ready, skipping")
		return snap, false
	}
	return snap, true
}

func (d *Dispatcher) drifted(position, target float64) bool {
	return math.Abs(position-target) > d.machine.timing.RemoteSeekThreshold
}

func (d *Dispatcher) syncPause(cmd models.Command) error {
	snap, ok := d.ready(cmd)
	if !ok {
		return nil
	}
	log.Info().Interface("seconds", cmd.Seconds).Msg("sync pause received")

	if err := d.machine.SuppressedPause(); err != nil {
		return err
	}
	if seconds, ok := cmd.SecondsValue(); ok && seconds > 0 && d.drifted(snap.PositionSeconds, seconds) {
		if err := d.machine.SuppressedSeek(seconds); err != nil {
			return err
		}
	}
	d.telemetry.Push("sync_pause_received")
	return nil
}

func (d *Dispatcher) syncPlay(cmd models.Command) error {
	snap, ok := d.ready(cmd)
	if !ok {
		return nil
	}
	log.Info().Interface("seconds", cmd.Seconds).Msg("sync play received")

	if seconds, ok := cmd.SecondsValue(); ok && d.drifted(snap.PositionSeconds, seconds) {
		if err := d.machine.SuppressedSeek(seconds); err != nil {
			return err
		}
	}
	if err := d.machine.SuppressedPlay(); err != nil {
		return err
	}
	d.telemetry.Push("sync_play_received")
	return nil
}

func (d *Dispatcher) syncSeek(cmd models.Command) error {
	seconds, ok := cmd.SecondsValue()
	if !ok {
		return nil
	}
	snap, ok := d.ready(cmd)
	if !ok {
		return nil
	}

	diff := math.Abs(snap.PositionSeconds - seconds)
	if !d.drifted(snap.PositionSeconds, seconds) {
		log.Debug().Float64("diff", diff).Msg("skipping seek, within tolerance")
		return nil
	}
	log.Info().Float64("seconds", seconds).Float64("diff", diff).Msg("sync seek received")

	if err := d.machine.SuppressedSeek(seconds); err != nil {
		return err
	}
	d.telemetry.Push("sync_seek_received")
	return nil
}

func (d *Dispatcher) syncSpeed(cmd models.Command) error {
	rate, ok := cmd.RateValue()
	if !ok {
		return nil
	}
	snap, err := d.machine.Player().Snapshot()
	if err != nil {
		return err
	}
	if snap.PlaybackRate == rate {
		return nil
	}
	log.Info().Float64("rate", rate).Msg("sync speed received")

	if err := d.machine.SuppressedSetRate(rate); err != nil {
		return err
	}
	d.notifier.Note("Speed changed to "+strconv.FormatFloat(rate, 'f', -1, 64)+"x", 2*time.Second)
	d.telemetry.Push("sync_speed_received")
	return nil
}

func (d *Dispatcher) syncSkip(cmd models.Command) error {
	seconds, ok := cmd.SecondsValue()
	if !ok {
		return nil
	}
	if _, ok := d.ready(cmd); !ok {
		return nil
	}
	log.Info().Str("skip_type", string(cmd.SkipType)).Float64("seconds", seconds).Msg("sync skip received")

	if err := d.machine.SuppressedSeek(seconds); err != nil {
		return err
	}
	d.notifier.Note(cmd.SkipType.Label()+" (synced)", 2*time.Second)
	d.telemetry.Push("sync_skip_" + string(cmd.SkipType) + "_received")
	return nil
}

func (d *Dispatcher) share(cmd models.Command) {
	if cmd.URL == "" {
		return
	}
	title := cmd.Title
	if title == "" {
		title = "content"
	}
	log.Info().Str("title", title).Str("url", cmd.URL).Msg("share received")

	n := notify.Notification{
		Kind:    notify.KindShare,
		Title:   fmt.Sprintf("%s shared something", sourceOr(cmd, "Partner")),
		Message: fmt.Sprintf("%q %s", title, cmd.URL),
	}
	if open := d.open; open != nil {
		url := cmd.URL
		n.Actions = []notify.Action{
			{Label: "Watch Now", Primary: true, Do: func() { open(url) }},
			{Label: "Later"},
		}
	} else {
		n.Duration = 5 * time.Second
	}
	d.notifier.Show(n)
}

func (d *Dispatcher) watchlist(cmd models.Command, by string, added bool) {
	n := notify.Notification{
		Kind:     notify.KindInfo,
		Message:  strconv.Quote(cmd.Title),
		Duration: 4 * time.Second,
	}
	self := by == d.machine.User()
	switch {
	case added && self:
		n.Title = "Added to Watchlist"
		n.Message = strconv.Quote(cmd.Title) + " saved for later"
		n.Duration = 3 * time.Second
	case added:
		n.Title = by + " added to Watchlist"
	case self:
		n.Title = "Removed from Watchlist"
		n.Duration = 3 * time.Second
	default:
		n.Title = by + " removed from Watchlist"
	}
	d.notifier.Show(n)
}

func sourceOr(cmd models.Command, fallback string) string {
	if cmd.SourceUser == "" {
		return fallback
	}
	return cmd.SourceUser
}

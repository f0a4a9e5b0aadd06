package playsync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/notify"
	"github.com/mcdev12/couchsync/go/internal/player"
	"github.com/mcdev12/couchsync/go/internal/player/playertest"
)

type recordingSender struct {
	sent []models.Command
}

func (r *recordingSender) SendSync(cmd models.Command) {
	r.sent = append(r.sent, cmd)
}

type recordingTelemetry struct {
	pushed  []string
	instant []string
	slow    []string
}

func (r *recordingTelemetry) Push(action string)        { r.pushed = append(r.pushed, action) }
func (r *recordingTelemetry) PushInstant(action string) { r.instant = append(r.instant, action) }
func (r *recordingTelemetry) Slow(action string)        { r.slow = append(r.slow, action) }

type harness struct {
	t          *testing.T
	player     *playertest.Player
	machine    *Machine
	dispatcher *Dispatcher
	sender     *recordingSender
	telemetry  *recordingTelemetry
	notes      *notify.Recorder
}

// newHarness attaches a player in the state set up by configure.
func newHarness(t *testing.T, configure func(s *models.PlaybackSnapshot)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		player:    playertest.New(),
		sender:    &recordingSender{},
		telemetry: &recordingTelemetry{},
		notes:     &notify.Recorder{},
	}
	if configure != nil {
		h.player.Set(configure)
	}
	h.machine = NewMachine(h.sender, h.telemetry, config.DefaultTiming())
	h.machine.SetUser("alice")
	require.NoError(t, h.machine.Attach(h.player))
	h.dispatcher = NewDispatcher(h.machine, h.notes, h.telemetry)
	return h
}

func playingAt(position float64) func(s *models.PlaybackSnapshot) {
	return func(s *models.PlaybackSnapshot) {
		s.Paused = false
		s.PositionSeconds = position
	}
}

func pausedAt(position float64) func(s *models.PlaybackSnapshot) {
	return func(s *models.PlaybackSnapshot) {
		s.Paused = true
		s.PositionSeconds = position
	}
}

// deliver feeds every queued native event back into the machine.
func (h *harness) deliver() {
	for _, ev := range h.player.Drain() {
		h.machine.HandleEvent(ev)
	}
}

func (h *harness) expectSent(n int) {
	h.t.Helper()
	require.Len(h.t, h.sender.sent, n, "outbound commands")
}

func (h *harness) expectNoPendingSuppression() {
	h.t.Helper()
	assert.Zero(h.t, h.machine.State().PendingEchoes(), "pending echoes")
	assert.False(h.t, h.machine.State().IgnoreNextRateChange, "rate change suppression is consumed")
}

func seconds(v float64) *float64 { return models.Float64(v) }

func TestLocalPauseEmitsFlooredSyncPause(t *testing.T) {
	h := newHarness(t, playingAt(83.9))

	require.NoError(t, h.player.Pause())
	h.deliver()

	h.expectSent(1)
	cmd := h.sender.sent[0]
	assert.Equal(t, models.CommandSyncPause, cmd.Command)
	require.NotNil(t, cmd.Seconds)
	assert.Equal(t, 83.0, *cmd.Seconds, "seconds are floored")
	assert.Equal(t, "alice", cmd.SourceUser)
	assert.Equal(t, []string{"video_pause"}, h.telemetry.pushed)
}

func TestRepeatedPauseEventDoesNotEmit(t *testing.T) {
	h := newHarness(t, pausedAt(10))

	snap, _ := h.player.Snapshot()
	h.machine.HandleEvent(player.Event{Type: player.EventPause, Snapshot: snap})

	h.expectSent(0)
}

func TestLocalPlayEmitsSyncPlay(t *testing.T) {
	h := newHarness(t, pausedAt(42.2))

	h.player.Play()
	h.deliver()

	h.expectSent(1)
	got := h.sender.sent[0]
	assert.Equal(t, models.CommandSyncPlay, got.Command)
	assert.Equal(t, 42.0, *got.Seconds)
}

func TestEchoSuppression(t *testing.T) {
	tests := []struct {
		name      string
		configure func(s *models.PlaybackSnapshot)
		cmd       models.Command
		mutations int
	}{
		{
			name:      "sync_pause with drift",
			configure: playingAt(100),
			cmd:       models.Command{Command: models.CommandSyncPause, Seconds: seconds(150)},
			mutations: 2,
		},
		{
			name:      "sync_pause in tolerance",
			configure: playingAt(100),
			cmd:       models.Command{Command: models.CommandSyncPause, Seconds: seconds(101)},
			mutations: 1,
		},
		{
			name:      "sync_play with drift",
			configure: pausedAt(100),
			cmd:       models.Command{Command: models.CommandSyncPlay, Seconds: seconds(50)},
			mutations: 2,
		},
		{
			name:      "sync_seek",
			configure: playingAt(100),
			cmd:       models.Command{Command: models.CommandSyncSeek, Seconds: seconds(300)},
			mutations: 1,
		},
		{
			name:      "sync_speed",
			configure: playingAt(100),
			cmd:       models.Command{Command: models.CommandSyncSpeed, PlaybackRate: models.Float64(1.5)},
			mutations: 1,
		},
		{
			name:      "sync_skip",
			configure: playingAt(20),
			cmd:       models.Command{Command: models.CommandSyncSkip, Seconds: seconds(95), SkipType: models.SkipIntro},
			mutations: 1,
		},
		{
			name:      "sync_tab_away",
			configure: playingAt(100),
			cmd:       models.Command{Command: models.CommandSyncTabAway, SourceUser: "bob"},
			mutations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.configure)

			h.dispatcher.Handle(tt.cmd)
			require.Equal(t, tt.mutations, h.player.Mutations(), "calls: %+v", h.player.Calls())
			h.deliver()

			h.expectSent(0)
			h.expectNoPendingSuppression()
		})
	}
}

func TestUserActionAfterRemotePauseStillSyncs(t *testing.T) {
	h := newHarness(t, playingAt(100))

	h.dispatcher.Handle(models.Command{Command: models.CommandSyncPause, Seconds: seconds(100)})
	h.deliver()
	h.expectSent(0)

	h.player.Play()
	h.deliver()

	h.expectSent(1)
	assert.Equal(t, models.CommandSyncPlay, h.sender.sent[0].Command)
}

func TestSyncSeekWithinToleranceIsNoop(t *testing.T) {
	h := newHarness(t, playingAt(119.0))

	h.dispatcher.Handle(models.Command{Command: models.CommandSyncSeek, Seconds: seconds(120.7)})

	assert.Empty(t, h.player.Calls())
	h.expectNoPendingSuppression()
	assert.Empty(t, h.telemetry.pushed, "no telemetry for a skipped seek")
}

func TestSyncSpeedSameRateIsNoop(t *testing.T) {
	h := newHarness(t, func(s *models.PlaybackSnapshot) {
		s.Paused = false
		s.PlaybackRate = 1.5
	})

	h.dispatcher.Handle(models.Command{Command: models.CommandSyncSpeed, PlaybackRate: models.Float64(1.5)})

	assert.Empty(t, h.player.Calls())
	h.expectNoPendingSuppression()
	assert.Empty(t, h.notes.Shown(), "no speed notification")
}

func TestSyncPauseOnPausedPlayerLeavesNoSuppression(t *testing.T) {
	h := newHarness(t, pausedAt(60))

	h.dispatcher.Handle(models.Command{Command: models.CommandSyncPause, Seconds: seconds(60)})

	assert.Empty(t, h.player.Calls())
	h.expectNoPendingSuppression()
}

func TestReadinessGating(t *testing.T) {
	commands := []models.Command{
		{Command: models.CommandSyncPause, Seconds: seconds(500)},
		{Command: models.CommandSyncPlay, Seconds: seconds(500)},
		{Command: models.CommandSyncSeek, Seconds: seconds(500)},
		{Command: models.CommandSyncSkip, Seconds: seconds(500), SkipType: models.SkipRecap},
	}

	for _, cmd := range commands {
		t.Run(string(cmd.Command), func(t *testing.T) {
			h := newHarness(t, func(s *models.PlaybackSnapshot) {
				s.Paused = false
				s.ReadyState = models.ReadyStateHaveMetadata
			})

			h.dispatcher.Handle(cmd)

			assert.Empty(t, h.player.Calls(), "no mutation while not ready")
			h.expectNoPendingSuppression()
		})
	}
}

func TestTargetedCommandForAnotherUserIsDropped(t *testing.T) {
	h := newHarness(t, playingAt(100))

	h.dispatcher.Handle(models.Command{Command: models.CommandSyncSeek, Seconds: seconds(300), TargetUser: "carol"})
	require.Empty(t, h.player.Calls(), "command for another user is dropped")

	h.dispatcher.Handle(models.Command{Command: models.CommandSyncSeek, Seconds: seconds(300), TargetUser: "alice"})
	assert.Equal(t, 1, h.player.Mutations(), "command for alice applies")
}

func TestControlCommandsApplyUnconditionally(t *testing.T) {
	h := newHarness(t, func(s *models.PlaybackSnapshot) {
		s.Paused = true
		s.PositionSeconds = 10
		s.ReadyState = models.ReadyStateHaveNothing
	})

	h.dispatcher.Handle(models.Command{Command: models.CommandPlay})
	h.dispatcher.Handle(models.Command{Command: models.CommandSeek, Seconds: seconds(33)})
	h.dispatcher.Handle(models.Command{Command: models.CommandSeek})

	require.Equal(t, []playertest.Call{
		{Method: "play"},
		{Method: "seek", Arg: 33},
	}, h.player.Calls())
	assert.Equal(t, []string{"dashboard_play", "dashboard_seek"}, h.telemetry.instant)

	// Control commands are not suppressed; the partner follows through sync.
	h.deliver()
	require.NotEmpty(t, h.sender.sent)
	assert.Equal(t, models.CommandSyncPlay, h.sender.sent[0].Command)
}

func TestCommandsWithoutPlayerAreDropped(t *testing.T) {
	h := newHarness(t, playingAt(100))
	h.machine.Detach()

	h.dispatcher.Handle(models.Command{Command: models.CommandSyncSeek, Seconds: seconds(300)})
	h.dispatcher.Handle(models.Command{Command: models.CommandPause})
	assert.Empty(t, h.player.Calls(), "no mutation without a player")

	h.dispatcher.Handle(models.Command{Command: models.CommandPartnerLeft, SourceUser: "bob"})
	n, ok := h.notes.Last()
	require.True(t, ok, "partner_left is noted without a player")
	assert.Equal(t, "bob stopped watching", n.Message)
}

func TestSeekDetection(t *testing.T) {
	t.Run("seeked below threshold", func(t *testing.T) {
		h := newHarness(t, playingAt(100))
		h.player.Set(func(s *models.PlaybackSnapshot) { s.PositionSeconds = 100.6 })
		snap, _ := h.player.Snapshot()
		h.machine.HandleEvent(player.Event{Type: player.EventSeeked, Snapshot: snap})
		h.expectSent(0)
	})

	t.Run("seeked above threshold", func(t *testing.T) {
		h := newHarness(t, playingAt(100))
		h.player.Set(func(s *models.PlaybackSnapshot) { s.PositionSeconds = 101.5 })
		snap, _ := h.player.Snapshot()
		h.machine.HandleEvent(player.Event{Type: player.EventSeeked, Snapshot: snap})
		h.expectSent(1)
		assert.Equal(t, 101.0, *h.sender.sent[0].Seconds)
		assert.Equal(t, []string{"video_seeked"}, h.telemetry.slow)
	})

	t.Run("user seek emits once", func(t *testing.T) {
		h := newHarness(t, playingAt(100))
		h.player.Seek(160)
		h.deliver()
		h.expectSent(1)
		got := h.sender.sent[0]
		assert.Equal(t, models.CommandSyncSeek, got.Command)
		assert.Equal(t, 160.0, *got.Seconds)
	})

	t.Run("normal playback", func(t *testing.T) {
		h := newHarness(t, playingAt(100))
		for range 10 {
			h.machine.HandleEvent(h.player.Advance(0.25))
		}
		h.expectSent(0)
	})

	t.Run("timeupdate jump", func(t *testing.T) {
		h := newHarness(t, playingAt(100))
		h.machine.HandleEvent(h.player.Advance(30))
		h.expectSent(1)
		assert.Equal(t, 130.0, *h.sender.sent[0].Seconds)
	})
}

func TestLocalRateChangeEmitsSyncSpeed(t *testing.T) {
	h := newHarness(t, playingAt(12.4))

	h.player.SetRate(1.25)
	h.deliver()

	h.expectSent(1)
	cmd := h.sender.sent[0]
	require.Equal(t, models.CommandSyncSpeed, cmd.Command)
	require.NotNil(t, cmd.PlaybackRate)
	assert.Equal(t, 1.25, *cmd.PlaybackRate)
	assert.Equal(t, 12.0, *cmd.Seconds, "position is floored")
}

func TestUnloadSuppressesEmission(t *testing.T) {
	h := newHarness(t, playingAt(100))
	h.machine.Unload()

	h.player.Pause()
	h.deliver()
	h.machine.EmitSkip(models.SkipCredits)

	h.expectSent(0)
}

func TestNoIdentityNoEmission(t *testing.T) {
	h := newHarness(t, playingAt(100))
	h.machine.SetUser("")

	h.player.Pause()
	h.deliver()

	h.expectSent(0)
}

func TestEmitSkipAndVisibility(t *testing.T) {
	h := newHarness(t, playingAt(95.8))

	h.machine.EmitSkip(models.SkipIntro)
	h.machine.EmitVisibility(true)
	h.machine.EmitVisibility(false)

	h.expectSent(3)
	skip := h.sender.sent[0]
	assert.Equal(t, models.CommandSyncSkip, skip.Command)
	assert.Equal(t, models.SkipIntro, skip.SkipType)
	assert.Equal(t, 95.0, *skip.Seconds)
	assert.Equal(t, models.CommandSyncTabAway, h.sender.sent[1].Command)
	assert.Equal(t, models.CommandSyncTabBack, h.sender.sent[2].Command)
}

func TestFailedMutationReleasesSuppression(t *testing.T) {
	h := newHarness(t, playingAt(100))
	h.player.FailWith(errors.New("player crashed"))

	require.Error(t, h.machine.SuppressedSeek(200))
	require.Error(t, h.machine.SuppressedSetRate(2))
	h.expectNoPendingSuppression()
}

func TestDispatcherNotifications(t *testing.T) {
	tests := []struct {
		name  string
		cmd   models.Command
		title string
		msg   string
	}{
		{
			name: "speed",
			cmd:  models.Command{Command: models.CommandSyncSpeed, PlaybackRate: models.Float64(1.5)},
			msg:  "Speed changed to 1.5x",
		},
		{
			name: "skip",
			cmd:  models.Command{Command: models.CommandSyncSkip, Seconds: seconds(200), SkipType: models.SkipRecap},
			msg:  "Skipped recap (synced)",
		},
		{
			name: "tab back",
			cmd:  models.Command{Command: models.CommandSyncTabBack, SourceUser: "bob"},
			msg:  "bob is back!",
		},
		{
			name:  "watchlist added by partner",
			cmd:   models.Command{Command: models.CommandWatchlistAdded, Title: "Dark", AddedBy: "bob"},
			title: "bob added to Watchlist",
			msg:   `"Dark"`,
		},
		{
			name:  "watchlist added by self",
			cmd:   models.Command{Command: models.CommandWatchlistAdded, Title: "Dark", AddedBy: "alice"},
			title: "Added to Watchlist",
			msg:   `"Dark" saved for later`,
		},
		{
			name:  "watchlist removed by self",
			cmd:   models.Command{Command: models.CommandWatchlistRemoved, Title: "Dark", RemovedBy: "alice"},
			title: "Removed from Watchlist",
			msg:   `"Dark"`,
		},
		{
			name:  "share",
			cmd:   models.Command{Command: models.CommandShare, URL: "https://www.netflix.com/title/80100172", SourceUser: "bob"},
			title: "bob shared something",
			msg:   `"content" https://www.netflix.com/title/80100172`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, playingAt(100))
			h.dispatcher.Handle(tt.cmd)

			n, ok := h.notes.Last()
			require.True(t, ok, "expected a notification")
			if tt.title != "" {
				assert.Equal(t, tt.title, n.Title)
			}
			assert.Equal(t, tt.msg, n.Message)
		})
	}
}

func TestReceivedTelemetryActions(t *testing.T) {
	h := newHarness(t, playingAt(100))

	h.dispatcher.Handle(models.Command{Command: models.CommandSyncSeek, Seconds: seconds(300)})
	h.dispatcher.Handle(models.Command{Command: models.CommandSyncSkip, Seconds: seconds(400), SkipType: models.SkipCredits})

	assert.Equal(t, []string{"sync_seek_received", "sync_skip_credits_received"}, h.telemetry.pushed)
}

func TestShareOffersWatchNowWhenOpenerIsSet(t *testing.T) {
	h := newHarness(t, playingAt(100))
	var opened []string
	h.dispatcher.OnOpen(func(url string) { opened = append(opened, url) })

	h.dispatcher.Handle(models.Command{
		Command:    models.CommandShare,
		URL:        "https://www.netflix.com/title/80100172",
		Title:      "Dark",
		SourceUser: "bob",
	})

	n, ok := h.notes.Last()
	require.True(t, ok)
	assert.Equal(t, notify.KindShare, n.Kind)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, "Watch Now", n.Actions[0].Label)
	require.NotNil(t, n.Actions[0].Do)

	n.Actions[0].Do()
	assert.Equal(t, []string{"https://www.netflix.com/title/80100172"}, opened)
}

func TestShareWithoutOpenerIsPlainNote(t *testing.T) {
	h := newHarness(t, playingAt(100))

	h.dispatcher.Handle(models.Command{Command: models.CommandShare, URL: "https://www.netflix.com/title/80100172"})

	n, ok := h.notes.Last()
	require.True(t, ok)
	assert.Empty(t, n.Actions, "nothing to act on without an opener")
	assert.NotZero(t, n.Duration)
}

// plainPlayer hides the Load method of the fake.
type plainPlayer struct{ player.Player }

func TestLoad(t *testing.T) {
	t.Run("restart is not emitted as a seek", func(t *testing.T) {
		h := newHarness(t, playingAt(1200))

		require.NoError(t, h.machine.Load("https://www.netflix.com/watch/80100172"))
		h.deliver()

		assert.Equal(t, []playertest.Call{{Method: "load", URL: "https://www.netflix.com/watch/80100172"}}, h.player.Calls())
		h.expectSent(0)
	})

	t.Run("player without load support", func(t *testing.T) {
		h := newHarness(t, playingAt(10))
		require.NoError(t, h.machine.Attach(plainPlayer{h.player}))

		assert.ErrorIs(t, h.machine.Load("https://www.netflix.com/watch/80100172"), player.ErrLoadUnsupported)
	})

	t.Run("no player", func(t *testing.T) {
		h := newHarness(t, playingAt(10))
		h.machine.Detach()

		assert.ErrorIs(t, h.machine.Load("https://www.netflix.com/watch/80100172"), player.ErrNoPlayer)
	})
}

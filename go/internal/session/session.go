// Package session wires the sync core to a player, the relay and the user.
package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/clients/relay_client"
	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/drift"
	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/notify"
	"github.com/mcdev12/couchsync/go/internal/player"
	"github.com/mcdev12/couchsync/go/internal/playsync"
	"github.com/mcdev12/couchsync/go/internal/scheduler"
	"github.com/mcdev12/couchsync/go/internal/stream"
	"github.com/mcdev12/couchsync/go/internal/telemetry"
)

// Options configures a Session. Zero-valued fields get defaults.
type Options struct {
	Config   config.Client
	Timing   config.Timing
	Clock    clockwork.Clock
	Notifier notify.Notifier

	// Relay overrides the client built from Config.
	Relay *relay_client.RelayClient
	// SSE and WebSocket override the stream transports.
	SSE       stream.Transport
	WebSocket stream.Transport
}

// Session owns the sync core of one client. Player events and inbound
// commands are applied on its Loop; its exported methods are safe for
// concurrent use.
type Session struct {
	cfg      config.Client
	timing   config.Timing
	clock    clockwork.Clock
	notifier notify.Notifier
	relay    *relay_client.RelayClient
	sse      stream.Transport
	ws       stream.Transport

	loop       *Loop
	machine    *playsync.Machine
	dispatcher *playsync.Dispatcher
	ticker     *scheduler.Ticker
	telemetry  *telemetry.Pusher
	drift      *drift.Poller

	mu      sync.RWMutex
	user    string
	player  player.Player
	streams *streams
	running bool
	closed  bool
}

// New builds a session from opts.
func New(opts Options) *Session {
	if opts.Timing == (config.Timing{}) {
		opts.Timing = config.DefaultTiming()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Relay == nil {
		opts.Relay = relay_client.NewRelayClient(opts.Config.RelayURL, opts.Config.APIKey)
	}
	if opts.SSE == nil {
		opts.SSE = stream.NewSSETransport(&http.Client{})
	}
	if opts.WebSocket == nil {
		opts.WebSocket = stream.NewWebSocketTransport()
	}

	s := &Session{
		cfg:      opts.Config,
		timing:   opts.Timing,
		clock:    opts.Clock,
		notifier: opts.Notifier,
		relay:    opts.Relay,
		sse:      opts.SSE,
		ws:       opts.WebSocket,
		loop:     NewLoop(),
		ticker:   scheduler.NewTicker(opts.Clock, opts.Timing.FastTick, opts.Timing.TelemetryInterval),
		user:     opts.Config.User,
	}

	s.telemetry = telemetry.NewPusher(s.relay, s.snapshot, s.ticker, s.clock, s.timing)
	s.telemetry.SetUser(s.user)
	s.machine = playsync.NewMachine(s.relay, s.telemetry, s.timing)
	s.machine.SetUser(s.user)
	s.dispatcher = playsync.NewDispatcher(s.machine, s.notifier, s.telemetry)
	s.dispatcher.OnOpen(s.openShared)
	s.drift = drift.NewPoller(s.relay, s, s.notifier, s.clock, s.timing)
	return s
}

// Run starts every component and blocks until ctx is done, then closes the session.
func (s *Session) Run(ctx context.Context) error {
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	go s.loop.Run(loopCtx)
	defer func() {
		cancelLoop()
		<-s.loop.Done()
	}()

	s.ticker.Start(ctx)
	s.telemetry.Start()
	s.drift.Start(ctx)

	s.mu.Lock()
	s.running = true
	s.streams = s.openStreams(s.user)
	s.mu.Unlock()

	log.Info().
		Str("user", s.Identity()).
		Str("relay_url", s.cfg.RelayURL).
		Str("transport", string(s.cfg.Transport)).
		Msg("session started")

	<-ctx.Done()
	s.Close()
	return nil
}

// Close marks the page as unloading and stops every component. No sync is
// emitted once Close has begun.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	running := s.running
	st := s.streams
	s.streams = nil
	s.mu.Unlock()

	if running {
		if err := s.loop.Call(func() error {
			s.machine.Unload()
			return nil
		}); err != nil {
			log.Debug().Err(err).Msg("loop already stopped during close")
		}
	} else {
		s.machine.Unload()
	}

	st.stop()
	s.drift.Stop()
	s.telemetry.Stop()
	s.ticker.Stop()

	log.Info().Msg("session closed")
}

// AttachPlayer starts observing p.
func (s *Session) AttachPlayer(p player.Player) error {
	return s.loop.Call(func() error {
		if err := s.machine.Attach(p); err != nil {
			return err
		}
		s.mu.Lock()
		s.player = p
		s.mu.Unlock()
		return nil
	})
}

// DetachPlayer stops observing the current player.
func (s *Session) DetachPlayer() {
	s.loop.Post(func() {
		s.machine.Detach()
		s.mu.Lock()
		s.player = nil
		s.mu.Unlock()
	})
}

// HandlePlayerEvent queues a native player event. It never blocks on the
// sync core and may be called from any goroutine.
func (s *Session) HandlePlayerEvent(ev player.Event) {
	s.loop.Post(func() { s.machine.HandleEvent(ev) })
}

// HandleCommand queues an inbound command.
func (s *Session) HandleCommand(cmd models.Command) {
	s.loop.Post(func() { s.dispatcher.Handle(cmd) })
}

// SetUser switches identity and reconnects the streams that carry it.
func (s *Session) SetUser(user string) {
	s.mu.Lock()
	if s.user == user {
		s.mu.Unlock()
		return
	}
	s.user = user
	old := s.streams
	if old != nil && !s.closed {
		s.streams = s.openStreams(user)
	}
	s.mu.Unlock()

	old.stop()
	s.telemetry.SetUser(user)
	s.loop.Post(func() { s.machine.SetUser(user) })

	log.Info().Str("user", user).Msg("identity changed")
}

// Skip reports an intro, recap or credits skip to the partner.
func (s *Session) Skip(skip models.SkipType) {
	s.telemetry.Fast("click_skip_" + string(skip))
	s.loop.Post(func() { s.machine.EmitSkip(skip) })
}

// SetAway reports the local user leaving or returning to the player.
func (s *Session) SetAway(away bool) {
	s.loop.Post(func() { s.machine.EmitVisibility(away) })
}

// KeyPress reports a player key press through the matching telemetry shaper.
func (s *Session) KeyPress(action string) {
	switch action {
	case "key_left", "key_right", "key_up", "key_down":
		s.telemetry.Slow(action)
	case "forward10", "back10":
		s.telemetry.Skip(action)
	default:
		s.telemetry.Fast(action)
	}
}

// Share sends a title to the partner.
func (s *Session) Share(ctx context.Context, url, title string) error {
	_, err := s.relay.Command(ctx, models.Command{
		Command:    models.CommandShare,
		URL:        url,
		Title:      title,
		SourceUser: s.Identity(),
	})
	return err
}

// Identity returns the current user.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Watching reports whether a player with loaded media is attached.
func (s *Session) Watching() bool {
	snap, ok := s.snapshot()
	return ok && snap.SourceURL != "" && snap.NetworkState != models.NetworkStateEmpty
}

// SyncTo seeks to seconds with echo suppression.
func (s *Session) SyncTo(seconds float64) error {
	return s.loop.Call(func() error { return s.machine.SuppressedSeek(seconds) })
}

// Connected reports whether the command stream is open.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams != nil && s.streams.commands.IsConnected()
}

func (s *Session) snapshot() (models.PlaybackSnapshot, bool) {
	s.mu.RLock()
	p := s.player
	s.mu.RUnlock()
	if p == nil {
		return models.PlaybackSnapshot{}, false
	}
	snap, err := p.Snapshot()
	if err != nil {
		return models.PlaybackSnapshot{}, false
	}
	return snap, true
}

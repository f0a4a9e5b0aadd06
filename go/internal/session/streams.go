package session

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/clients/relay_client"
	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/notify"
	"github.com/mcdev12/couchsync/go/internal/stream"
)

// streams are the three push channels of one identity.
type streams struct {
	commands *stream.Client[models.Command]
	nav      *stream.Client[models.NavMessage]
	invites  *stream.Client[models.InviteEvent]
}

// openStreams connects the push channels for user. Callers hold s.mu.
func (s *Session) openStreams(user string) *streams {
	commandTransport, commandPath := s.sse, relay_client.CommandStreamPath
	if s.cfg.Transport == config.TransportWebSocket {
		commandTransport, commandPath = s.ws, relay_client.CommandSocketPath
	}

	st := &streams{
		commands: stream.NewClient(
			s.relay.StreamURL(commandPath, user),
			commandTransport,
			s.HandleCommand,
			s.streamConfig("command"),
		),
		nav: stream.NewClient(
			s.relay.StreamURL(relay_client.NavStreamPath, user),
			s.sse,
			s.handleNav,
			s.streamConfig("nav"),
		),
		invites: stream.NewClient(
			s.relay.StreamURL(relay_client.InviteStreamPath, user),
			s.sse,
			s.handleInvite,
			s.streamConfig("invite"),
		),
	}
	st.commands.Start()
	st.nav.Start()
	st.invites.Start()
	return st
}

func (s *Session) streamConfig(name string) stream.Config {
	cfg := stream.DefaultConfig(name)
	cfg.InitialRetry = s.timing.InitialRetry
	cfg.MaxRetry = s.timing.MaxRetry
	cfg.Clock = s.clock
	return cfg
}

func (st *streams) stop() {
	if st == nil {
		return
	}
	st.commands.Stop()
	st.nav.Stop()
	st.invites.Stop()
}

// handleNav surfaces a partner's navigation. Following it is left to the user.
func (s *Session) handleNav(msg models.NavMessage) {
	if msg.Action != "navigate" {
		return
	}
	if msg.TargetUser != "" && msg.TargetUser != s.Identity() {
		return
	}
	reason := msg.Reason
	if reason == "" {
		reason = "Following your partner..."
	}
	log.Info().Str("url", msg.URL).Str("reason", reason).Msg("partner navigated")
	s.notifier.Show(notify.Notification{
		Kind:     notify.KindSync,
		Title:    "Syncing",
		Message:  reason,
		Duration: 2 * time.Second,
	})
}

func (s *Session) handleInvite(ev models.InviteEvent) {
	me := s.Identity()
	if me == "" || ev.Event == models.InviteEventHeartbeat {
		return
	}

	switch ev.Event {
	case models.InviteEventInit:
		if ev.Invite != nil && ev.Invite.To == me {
			s.showInvite(ev.Invite.From)
		}
		if ev.Connection != nil {
			if partner := models.Partner(ev.Connection.Users, me); partner != "" {
				log.Info().Str("partner", partner).Msg("already connected")
			}
		}
	case models.InviteEventReceived:
		if ev.To == me {
			s.showInvite(ev.From)
		}
	case models.InviteEventConnected:
		if partner := models.Partner(ev.Users, me); partner != "" {
			s.notifier.Show(notify.Notification{
				Kind:     notify.KindInvite,
				Title:    "Connected with " + partner,
				Message:  "Playback is now synced",
				Duration: 3 * time.Second,
			})
		}
	case models.InviteEventEnded:
		for _, u := range ev.Users {
			if u == me {
				s.notifier.Show(notify.Notification{Kind: notify.KindInfo, Title: "Session ended", Duration: 2500 * time.Millisecond})
				break
			}
		}
	case models.InviteEventRejected:
		if ev.From == me {
			s.notifier.Note(ev.RejectedBy+" declined", notify.DefaultNoteDuration)
		}
	case models.InviteEventShare:
		if ev.TargetUser == me {
			s.HandleCommand(models.Command{
				Command:    models.CommandShare,
				URL:        ev.URL,
				Title:      ev.Title,
				SourceUser: ev.SourceUser,
				TargetUser: ev.TargetUser,
			})
		}
	}
}

func (s *Session) showInvite(from string) {
	s.notifier.Show(notify.Notification{
		Kind:    notify.KindInvite,
		Title:   from + " wants to watch together",
		Message: "Accept from the relay dashboard to sync playback",
	})
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/notify"
)

// ScriptMessageTarget is the first argument of mpv script-message bindings
// meant for the client, e.g. in input.conf:
//
//	Ctrl+i script-message couchsync skip intro
//	LEFT   script-message couchsync key key_left
const ScriptMessageTarget = "couchsync"

// ErrUnknownControl is returned by Control for verbs it does not know.
var ErrUnknownControl = errors.New("session: unknown control")

// Control runs one user control: "skip <intro|recap|credits>", "away",
// "back", "key <action>", "share <url> [title]" or "user <name>".
func (s *Session) Control(verb, args string) error {
	switch verb {
	case "skip":
		skip := models.SkipType(args)
		if !skip.Known() {
			return fmt.Errorf("invalid skip type %q", args)
		}
		s.Skip(skip)
	case "away":
		s.SetAway(true)
	case "back":
		s.SetAway(false)
	case "key":
		if args == "" {
			return errors.New("key needs an action")
		}
		s.KeyPress(args)
	case "share":
		url, title, _ := strings.Cut(args, " ")
		if url == "" {
			return errors.New("share needs a url")
		}
		go s.shareAsync(url, strings.TrimSpace(title))
	case "user":
		if args == "" {
			return errors.New("user needs a name")
		}
		s.SetUser(args)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownControl, verb)
	}
	return nil
}

// HandleScriptMessage runs script-message bindings addressed to
// ScriptMessageTarget and ignores the rest.
func (s *Session) HandleScriptMessage(args []string) {
	if len(args) < 2 || args[0] != ScriptMessageTarget {
		return
	}
	if err := s.Control(args[1], strings.Join(args[2:], " ")); err != nil {
		log.Warn().Err(err).Strs("args", args).Msg("ignoring script message")
	}
}

// HandleVisibility reports the player being hidden or shown again.
func (s *Session) HandleVisibility(hidden bool) {
	s.SetAway(hidden)
}

// Open loads url on the attached player.
func (s *Session) Open(url string) error {
	return s.loop.Call(func() error { return s.machine.Load(url) })
}

// openShared backs the "Watch Now" action of a share. It runs on the
// notifier's goroutine.
func (s *Session) openShared(url string) {
	if err := s.Open(url); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to open shared title")
		s.notifier.Note("Could not open the shared title", notify.DefaultNoteDuration)
		return
	}
	s.telemetry.Fast("share_opened")
}

func (s *Session) shareAsync(url, title string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timing.RequestTimeout)
	defer cancel()
	if err := s.Share(ctx, url, title); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to share")
		return
	}
	s.notifier.Note("Shared with partner", notify.DefaultNoteDuration)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/notify"
	"github.com/mcdev12/couchsync/go/internal/player"
	"github.com/mcdev12/couchsync/go/internal/session"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadClient(config.GetEnv("COUCHSYNC_CONFIG", "couchsync.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.HasIdentity() {
		log.Warn().Msg("no user configured, sync commands will not be sent")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole(os.Stdin)
	go console.Run(ctx)

	sess := session.New(session.Options{
		Config:   cfg,
		Notifier: console,
	})

	mpv := player.NewMpvPlayer(player.MpvConfig{
		Binary:     cfg.Player.Binary,
		SocketPath: cfg.Player.SocketPath,
	})
	mpv.OnEvent(sess.HandlePlayerEvent)
	mpv.OnVisibility(sess.HandleVisibility)
	mpv.OnMessage(sess.HandleScriptMessage)
	console.OnCommand(sess.Control)

	if err := mpv.Start(ctx, cfg.Player.Media); err != nil {
		log.Fatal().Err(err).Msg("failed to start mpv")
	}
	defer mpv.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Run(ctx); err != nil {
			log.Error().Err(err).Msg("session failed")
		}
	}()

	if err := sess.AttachPlayer(mpv); err != nil {
		log.Fatal().Err(err).Msg("failed to attach player")
	}

	log.Info().
		Str("user", cfg.User).
		Str("relay_url", cfg.RelayURL).
		Str("media", cfg.Player.Media).
		Msg("couchsync client running")

	// Quitting mpv ends the session as well
	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case <-mpv.Done():
		log.Info().Msg("player exited")
		cancel()
	}

	<-done
	log.Info().Msg("couchsync client shutdown complete")
}

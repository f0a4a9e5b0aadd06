package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/dbconfig"
	"github.com/mcdev12/couchsync/go/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(config.GetEnv("RELAY_LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	cfg := relay.ConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fan-out bus
	var bus relay.Bus
	if cfg.NATSURL != "" {
		natsBus, err := relay.NewNATSBus(cfg.JetStream)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		bus = natsBus
	} else {
		bus = relay.NewLocalBus(cfg.Hub.BroadcastBuffer)
	}
	defer bus.Close()

	// Watchlist storage
	var watchlist relay.WatchlistStore
	switch cfg.Watchlist {
	case relay.WatchlistPostgres:
		dbCfg := dbconfig.NewConfigFromEnv()
		pool, err := dbCfg.Open(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		pg := relay.NewPgWatchlist(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare watchlist schema")
		}
		log.Info().Str("database", dbCfg.Database).Msg("using postgres watchlist")
		watchlist = pg
	default:
		watchlist = relay.NewMemoryWatchlist()
	}

	log.Info().
		Str("port", cfg.Port).
		Str("nats_url", cfg.NATSURL).
		Str("watchlist", cfg.Watchlist).
		Bool("auth", cfg.APIKey != "").
		Msg("starting couchsync relay")

	srv := relay.NewServer(cfg, bus, watchlist, nil)
	server := srv.HTTPServer()

	// Start hub and bus consumer
	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Error().Err(err).Msg("relay failed")
			cancel()
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	// Cancelling the hub ends open event streams so Shutdown can drain
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("couchsync relay shutdown complete")
}

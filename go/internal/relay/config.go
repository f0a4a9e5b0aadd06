package relay

import (
	"time"

	"github.com/mcdev12/couchsync/go/internal/config"
)

// Watchlist backends.
const (
	WatchlistMemory   = "memory"
	WatchlistPostgres = "postgres"
)

// Config holds the relay's runtime configuration.
type Config struct {
	Port      string
	APIKey    string
	NATSURL   string // empty selects the in-process bus
	Watchlist string
	Hub       HubConfig
	Streams   StreamConfig
	JetStream JetStreamConfig
}

// DefaultConfig returns a single-instance relay with an in-memory watchlist.
func DefaultConfig() Config {
	return Config{
		Port:      "8765",
		APIKey:    config.DefaultAPIKey,
		Watchlist: WatchlistMemory,
		Hub:       DefaultHubConfig(),
		Streams:   DefaultStreamConfig(),
		JetStream: DefaultJetStreamConfig(),
	}
}

// ConfigFromEnv overlays RELAY_* and NATS_URL environment variables on the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Port = config.GetEnv("RELAY_PORT", config.GetEnv("PORT", cfg.Port))
	cfg.APIKey = config.GetEnv("RELAY_API_KEY", cfg.APIKey)
	cfg.NATSURL = config.GetEnv("NATS_URL", "")
	cfg.Watchlist = config.GetEnv("RELAY_WATCHLIST", cfg.Watchlist)
	cfg.Streams.HeartbeatInterval = time.Duration(config.GetEnvAsInt("RELAY_HEARTBEAT_SECONDS", 15)) * time.Second
	if cfg.NATSURL != "" {
		cfg.JetStream.URL = cfg.NATSURL
	}
	return cfg
}

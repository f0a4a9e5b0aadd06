package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Compile-time relay defaults.
const (
	DefaultRelayURL = "http://localhost:8765"
	DefaultAPIKey   = "changeme-supersecret-key"
)

// UnknownUser is the identity used when none has been configured.
const UnknownUser = "unknown"

// Timing holds every interval and threshold of the sync client. The values
// are fixed; they are grouped here so components receive them explicitly.
type Timing struct {
	TelemetryInterval   time.Duration
	FastTick            time.Duration
	SlowDebounce        time.Duration
	FastDebounce        time.Duration
	Throttle            time.Duration
	DriftCheckInterval  time.Duration
	DriftThreshold      time.Duration
	InitialRetry        time.Duration
	MaxRetry            time.Duration
	LocalSeekThreshold  float64 // seconds
	RemoteSeekThreshold float64 // seconds
	RequestTimeout      time.Duration
}

// DefaultTiming returns the timing constants of the sync protocol.
func DefaultTiming() Timing {
	return Timing{
		TelemetryInterval:   2000 * time.Millisecond,
		FastTick:            300 * time.Millisecond,
		SlowDebounce:        400 * time.Millisecond,
		FastDebounce:        100 * time.Millisecond,
		Throttle:            300 * time.Millisecond,
		DriftCheckInterval:  2 * time.Minute,
		DriftThreshold:      5 * time.Second,
		InitialRetry:        500 * time.Millisecond,
		MaxRetry:            5000 * time.Millisecond,
		LocalSeekThreshold:  1.0,
		RemoteSeekThreshold: 2.0,
		RequestTimeout:      10 * time.Second,
	}
}

// Transport names the stream transport used for the command channel.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

// Client is the runtime configuration of the sync client.
type Client struct {
	User      string    `yaml:"user"`
	RelayURL  string    `yaml:"relay_url"`
	APIKey    string    `yaml:"api_key"`
	Transport Transport `yaml:"transport"`
	Player    Player    `yaml:"player"`
	LogLevel  string    `yaml:"log_level"`
}

// Player configures the local mpv instance.
type Player struct {
	Binary     string `yaml:"binary"`
	SocketPath string `yaml:"socket_path"`
	Media      string `yaml:"media"`
}

// DefaultClient returns the client configuration used when nothing is set.
func DefaultClient() Client {
	return Client{
		User:      UnknownUser,
		RelayURL:  DefaultRelayURL,
		APIKey:    DefaultAPIKey,
		Transport: TransportSSE,
		Player: Player{
			Binary:     "mpv",
			SocketPath: "/tmp/couchsync-mpv.sock",
		},
		LogLevel: "info",
	}
}

// LoadClient builds the client configuration from defaults, an optional YAML
// file and COUCHSYNC_* environment variables, in that order of precedence.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.User = GetEnv("COUCHSYNC_USER", cfg.User)
	cfg.RelayURL = GetEnv("COUCHSYNC_RELAY_URL", cfg.RelayURL)
	cfg.APIKey = GetEnv("COUCHSYNC_API_KEY", cfg.APIKey)
	cfg.Transport = Transport(GetEnv("COUCHSYNC_TRANSPORT", string(cfg.Transport)))
	cfg.Player.Binary = GetEnv("COUCHSYNC_MPV_BINARY", cfg.Player.Binary)
	cfg.Player.SocketPath = GetEnv("COUCHSYNC_MPV_SOCKET", cfg.Player.SocketPath)
	cfg.Player.Media = GetEnv("COUCHSYNC_MEDIA", cfg.Player.Media)
	cfg.LogLevel = GetEnv("COUCHSYNC_LOG_LEVEL", cfg.LogLevel)

	if cfg.User == "" {
		cfg.User = UnknownUser
	}
	switch cfg.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return cfg, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	return cfg, nil
}

// HasIdentity reports whether a real user identity is configured.
func (c Client) HasIdentity() bool {
	return c.User != "" && c.User != UnknownUser
}

// GetEnv reads an environment variable, returning defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt reads an integer environment variable, falling back on parse errors.
func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

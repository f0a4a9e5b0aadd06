package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTiming(t *testing.T) {
	timing := DefaultTiming()
	assert.Equal(t, 400*time.Millisecond, timing.SlowDebounce)
	assert.Equal(t, 100*time.Millisecond, timing.FastDebounce)
	assert.Equal(t, 500*time.Millisecond, timing.InitialRetry)
	assert.Equal(t, 5*time.Second, timing.MaxRetry)
	assert.Equal(t, 2*time.Minute, timing.DriftCheckInterval)
	assert.Equal(t, 5*time.Second, timing.DriftThreshold)
}

func TestLoadClientMissingFile(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultClient(), cfg)
	assert.False(t, cfg.HasIdentity(), "default config must not carry an identity")
}

func TestLoadClientFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "couchsync.yaml")
	yaml := `
user: alice
relay_url: http://relay.local:8765
transport: websocket
player:
  media: /srv/media/show.mkv
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("COUCHSYNC_RELAY_URL", "http://override:9000")
	t.Setenv("COUCHSYNC_LOG_LEVEL", "debug")

	cfg, err := LoadClient(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.User)
	assert.True(t, cfg.HasIdentity())
	assert.Equal(t, "http://override:9000", cfg.RelayURL, "env overrides the file")
	assert.Equal(t, TransportWebSocket, cfg.Transport)
	assert.Equal(t, "/srv/media/show.mkv", cfg.Player.Media)
	assert.Equal(t, "mpv", cfg.Player.Binary)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadClientRejectsUnknownTransport(t *testing.T) {
	t.Setenv("COUCHSYNC_TRANSPORT", "carrier-pigeon")
	_, err := LoadClient("")
	assert.Error(t, err)
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("COUCHSYNC_TEST_INT", "42")
	t.Setenv("COUCHSYNC_TEST_BAD", "forty-two")

	assert.Equal(t, 42, GetEnvAsInt("COUCHSYNC_TEST_INT", 1))
	assert.Equal(t, 7, GetEnvAsInt("COUCHSYNC_TEST_BAD", 7))
	assert.Equal(t, "fallback", GetEnv("COUCHSYNC_TEST_UNSET", "fallback"))
}

package relay_client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/couchsync/go/clients"
	"github.com/mcdev12/couchsync/go/internal/models"
)

const testKey = "test-key"

func TestSyncCarriesAPIKeyEverywhere(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, SyncPath, r.URL.Path)
		assert.Equal(t, testKey, r.Header.Get(APIKeyHeader))
		assert.Equal(t, testKey, r.URL.Query().Get(APIKeyParam))
		assert.NotEmpty(t, r.Header.Get(clients.RequestIDHeader), "every request carries an id")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewRelayClient(srv.URL, testKey)
	resp, err := c.Sync(context.Background(), models.NewSyncCommand(models.CommandSyncPause, 83.9, "alice"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, resp.Status)

	assert.Equal(t, testKey, body[APIKeyParam])
	assert.Equal(t, "sync_pause", body["command"])
	assert.Equal(t, float64(83), body["seconds"])
	assert.Equal(t, "alice", body["source_user"])
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewRelayClient(srv.URL, "wrong").Telemetry(context.Background(), models.Telemetry{User: "alice"})
	var statusErr *clients.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestDrift(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DriftPath, r.URL.Path)
		assert.Equal(t, "alice bob", r.URL.Query().Get("user"))
		w.Write([]byte(`{"status":"ahead","drift":9.4,"partner":"bob","sync_to":611}`))
	}))
	defer srv.Close()

	report, err := NewRelayClient(srv.URL, testKey).Drift(context.Background(), "alice bob")
	require.NoError(t, err)
	assert.Equal(t, models.DriftReport{Status: models.DriftAhead, Drift: 9.4, Partner: "bob", SyncTo: 611}, report)
}

func TestWatchlistStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case WatchlistAddPath:
			w.Write([]byte(`{"status":"exists"}`))
		case WatchlistRemovePath:
			w.Write([]byte(`{"status":"missing"}`))
		}
	}))
	defer srv.Close()

	c := NewRelayClient(srv.URL, testKey)
	added, err := c.WatchlistAdd(context.Background(), models.WatchlistItem{TitleID: "80100172", Title: "Dark", AddedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusExists, added.Status)

	removed, err := c.WatchlistRemove(context.Background(), models.WatchlistRemoval{TitleID: "1", RemovedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusMissing, removed.Status)
}

func TestStreamURL(t *testing.T) {
	c := NewRelayClient("http://relay.test:8765", testKey)

	u, err := url.Parse(c.StreamURL(InviteStreamPath, "alice"))
	require.NoError(t, err)
	assert.Equal(t, InviteStreamPath, u.Path)
	assert.Equal(t, "alice", u.Query().Get("user"))
	assert.Equal(t, testKey, u.Query().Get(APIKeyParam))

	u, err = url.Parse(c.StreamURL(CommandStreamPath, ""))
	require.NoError(t, err)
	assert.False(t, u.Query().Has("user"), "no user param without a user")
}

func TestSendSyncIsFireAndForget(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cmd models.Command
		json.NewDecoder(r.Body).Decode(&cmd)
		received <- string(cmd.Command)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	NewRelayClient(srv.URL, testKey).SendSync(models.NewSyncCommand(models.CommandSyncSeek, 12, "alice"))

	select {
	case got := <-received:
		assert.Equal(t, "sync_seek", got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the sync to be posted")
	}
}

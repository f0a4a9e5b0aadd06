package relay

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/couchsync/go/clients/relay_client"
	"github.com/mcdev12/couchsync/go/internal/models"
)

const (
	maxBodyBytes   = 64 << 10
	publishTimeout = 5 * time.Second
	serviceVersion = "1.0.0"
)

// Server is the relay's HTTP surface.
type Server struct {
	config       Config
	streamConfig StreamConfig
	clock        clockwork.Clock

	hub       *Hub
	bus       Bus
	positions *Positions
	watchlist WatchlistStore
	upgrader  websocket.Upgrader
}

// NewServer wires a relay. A nil clock uses the real clock.
func NewServer(cfg Config, bus Bus, watchlist WatchlistStore, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Server{
		config:       cfg,
		streamConfig: cfg.Streams,
		clock:        clock,
		hub:          NewHub(cfg.Hub),
		bus:          bus,
		positions:    NewPositions(clock),
		watchlist:    watchlist,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Streams.ReadBufferSize,
			WriteBufferSize: cfg.Streams.WriteBufferSize,
			CheckOrigin:     cfg.Streams.CheckOrigin,
		},
	}
	s.hub.OnPresence(s.presenceChanged)
	return s
}

// Hub exposes the subscriber hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and the bus consumer until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	log.Info().Msg("starting relay")

	go s.hub.Start(ctx)

	if err := s.bus.Run(ctx, s.hub.Broadcast); err != nil {
		return fmt.Errorf("bus failed: %w", err)
	}
	log.Info().Msg("relay shutting down")
	return nil
}

// Handler returns the relay routes wrapped with CORS and h2c.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// HTTPServer returns a server for Handler. No write timeout is set since
// event streams stay open.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// RegisterRoutes registers every relay route with mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	auth := s.requireAPIKey

	mux.Handle("POST "+relay_client.SyncPath, auth(http.HandlerFunc(s.handleSync)))
	mux.Handle("POST "+relay_client.TelemetryPath, auth(http.HandlerFunc(s.handleTelemetry)))
	mux.Handle("POST "+relay_client.CommandPath, auth(http.HandlerFunc(s.handleCommand)))
	mux.Handle("POST "+relay_client.WatchlistAddPath, auth(http.HandlerFunc(s.handleWatchlistAdd)))
	mux.Handle("POST "+relay_client.WatchlistRemovePath, auth(http.HandlerFunc(s.handleWatchlistRemove)))
	mux.Handle("GET /watchlist", auth(http.HandlerFunc(s.handleWatchlist)))
	mux.Handle("GET "+relay_client.DriftPath, auth(http.HandlerFunc(s.handleDrift)))

	mux.Handle("GET "+relay_client.CommandStreamPath, auth(s.handleSSE(StreamCommand)))
	mux.Handle("GET "+relay_client.NavStreamPath, auth(s.handleSSE(StreamNav)))
	mux.Handle("GET "+relay_client.InviteStreamPath, auth(s.handleSSE(StreamInvite)))
	mux.Handle("GET "+relay_client.CommandSocketPath, auth(http.HandlerFunc(s.handleWebSocket)))

	mux.HandleFunc("GET "+relay_client.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Debug().Err(err).Msg("failed to write health check response")
		}
	})
	mux.HandleFunc("GET /info", s.handleInfo)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var cmd models.Command
	if !decodeBody(w, r, &cmd) {
		return
	}
	if !cmd.Command.IsSync() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("not a sync command: %q", cmd.Command))
		return
	}

	s.positions.ReportSync(cmd)
	s.publish(r.Context(), StreamCommand, cmd.SourceUser, cmd.TargetUser, cmd)

	log.Info().
		Str("command", string(cmd.Command)).
		Str("source_user", cmd.SourceUser).
		Interface("seconds", cmd.Seconds).
		Msg("sync relayed")
	writeStatus(w, models.StatusOK)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var t models.Telemetry
	if !decodeBody(w, r, &t) {
		return
	}

	if s.positions.Report(t) && t.URL != "" {
		s.publish(r.Context(), StreamNav, t.User, "", models.NavMessage{
			Action:     "navigate",
			URL:        t.URL,
			Reason:     t.User + " started watching",
			SourceUser: t.User,
		})
	}

	log.Debug().
		Str("user", t.User).
		Str("action", t.Action).
		Float64("position_s", t.PositionSeconds).
		Bool("paused", t.Paused).
		Msg("telemetry received")
	writeStatus(w, models.StatusOK)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd models.Command
	if !decodeBody(w, r, &cmd) {
		return
	}
	if !cmd.Command.Known() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown command: %q", cmd.Command))
		return
	}
	if cmd.Command == models.CommandShare && cmd.URL == "" {
		writeError(w, http.StatusBadRequest, "share needs a url")
		return
	}

	if cmd.Command.IsSync() {
		s.positions.ReportSync(cmd)
	}
	s.publish(r.Context(), StreamCommand, cmd.SourceUser, cmd.TargetUser, cmd)

	log.Info().
		Str("command", string(cmd.Command)).
		Str("source_user", cmd.SourceUser).
		Str("target_user", cmd.TargetUser).
		Msg("command relayed")
	writeStatus(w, models.StatusOK)
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var item models.WatchlistItem
	if !decodeBody(w, r, &item) {
		return
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = s.clock.Now().UTC()
	}

	added, err := s.watchlist.Add(r.Context(), item)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !added {
		writeStatus(w, models.StatusExists)
		return
	}

	// Delivered to everyone so the adder gets a confirmation too.
	s.publish(r.Context(), StreamCommand, "", "", models.Command{
		Command: models.CommandWatchlistAdded,
		Title:   item.Title,
		AddedBy: item.AddedBy,
	})
	log.Info().Str("title_id", item.TitleID).Str("added_by", item.AddedBy).Msg("watchlist item added")
	writeStatus(w, models.StatusAdded)
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	var removal models.WatchlistRemoval
	if !decodeBody(w, r, &removal) {
		return
	}

	removed, err := s.watchlist.Remove(r.Context(), removal.TitleID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !removed {
		writeStatus(w, models.StatusMissing)
		return
	}

	s.publish(r.Context(), StreamCommand, "", "", models.Command{
		Command:   models.CommandWatchlistRemoved,
		Title:     removal.Title,
		RemovedBy: removal.RemovedBy,
	})
	log.Info().Str("title_id", removal.TitleID).Str("removed_by", removal.RemovedBy).Msg("watchlist item removed")
	writeStatus(w, models.StatusRemoved)
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.watchlist.List(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	writeJSON(w, http.StatusOK, s.positions.Drift(user))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "couchsync-relay",
		"version": serviceVersion,
		"users":   s.hub.Users(),
		"stats":   s.hub.Stats(),
	})
}

// presenceChanged announces sessions forming and ending.
func (s *Server) presenceChanged(user string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	users := s.hub.Users()
	if online {
		log.Info().Str("user", user).Strs("users", users).Msg("user online")
		if len(users) >= 2 {
			s.publish(ctx, StreamInvite, "", "", models.InviteEvent{
				Event: models.InviteEventConnected,
				Users: users,
			})
		}
		return
	}

	log.Info().Str("user", user).Strs("users", users).Msg("user offline")
	s.positions.Forget(user)
	s.publish(ctx, StreamCommand, user, "", partnerLeft(user))
	if len(users) > 0 {
		s.publish(ctx, StreamInvite, user, "", models.InviteEvent{
			Event: models.InviteEventEnded,
			Users: append([]string{user}, users...),
		})
	}
}

func (s *Server) publish(ctx context.Context, stream, source, target string, payload any) {
	msg, err := NewMessage(stream, source, target, payload)
	if err != nil {
		log.Error().Err(err).Str("stream", stream).Msg("failed to encode message")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, msg); err != nil {
		log.Error().Err(err).Str("stream", stream).Msg("failed to publish message")
	}
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidWatchlistItem) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Error().Err(err).Msg("watchlist store failed")
	writeError(w, http.StatusInternalServerError, "watchlist unavailable")
}

// requireAPIKey accepts the key as header, query parameter or JSON body field.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" || s.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		log.Warn().Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).Msg("rejected request with invalid api key")
		writeError(w, http.StatusUnauthorized, "invalid api key")
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.keyMatches(r.Header.Get(relay_client.APIKeyHeader)) ||
		s.keyMatches(r.URL.Query().Get(relay_client.APIKeyParam)) {
		return true
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return false
	}
	var keyed struct {
		APIKey string `json:"api_key"`
	}
	return json.Unmarshal(body, &keyed) == nil && s.keyMatches(keyed.APIKey)
}

func (s *Server) keyMatches(candidate string) bool {
	return candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(s.config.APIKey)) == 1
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeStatus(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: status})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, models.StatusResponse{Status: "error", Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

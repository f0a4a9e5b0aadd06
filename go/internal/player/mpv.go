package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/internal/models"
)

const (
	socketCheckRetries  = 50
	socketCheckInterval = 100 * time.Millisecond
	requestTimeout      = 2 * time.Second
)

// Property observer ids used with observe_property.
const (
	observePause = iota + 1
	observeSpeed
	observeTimePos
	observeDuration
	observeSeeking
	observePausedForCache
	observeIdleActive
	observeFrameDropCount
	observeEstimatedFrame
	observeEOFReached
	observeVolume
	observeMute
	observePath
	observeWindowMinimized
)

var observedProperties = map[int]string{
	observePause:           "pause",
	observeSpeed:           "speed",
	observeTimePos:         "time-pos",
	observeDuration:        "duration",
	observeSeeking:         "seeking",
	observePausedForCache:  "paused-for-cache",
	observeIdleActive:      "idle-active",
	observeFrameDropCount:  "frame-drop-count",
	observeEstimatedFrame:  "estimated-frame-number",
	observeEOFReached:      "eof-reached",
	observeVolume:          "volume",
	observeMute:            "mute",
	observePath:            "path",
	// Not playback state; reported through OnVisibility.
	observeWindowMinimized: "window-minimized",
}

// ErrMpvClosed is returned by calls made after the mpv connection went away.
var ErrMpvClosed = errors.New("player: mpv connection closed")

type mpvCommand struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id,omitempty"`
}

type mpvMessage struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int             `json:"request_id"`
	Event     string          `json:"event"`
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Args      []string        `json:"args"`
}

// MpvConfig configures the mpv process and its IPC socket.
type MpvConfig struct {
	Binary     string
	SocketPath string
	ExtraArgs  []string
}

// mpvState is the raw property set mpv reports; the snapshot is derived from it.
type mpvState struct {
	paused         bool
	speed          float64
	timePos        float64
	duration       *float64
	seeking        bool
	pausedForCache bool
	idle           bool
	dropped        int64
	frame          int64
	eof            bool
	volume         float64
	muted          bool
	path           string
}

// MpvPlayer drives an mpv process over its JSON IPC socket and reports
// property changes as native playback events.
type MpvPlayer struct {
	config MpvConfig
	cmd    *exec.Cmd

	writeMu sync.Mutex
	conn    net.Conn
	enc     *json.Encoder

	mu         sync.Mutex
	nextID     int
	pending    map[int]chan mpvMessage
	state      mpvState
	handler    EventHandler
	visibility func(hidden bool)
	messages   func(args []string)
	minimized  *bool
	closed     bool
	done       chan struct{}
}

// NewMpvPlayer creates a player; call Start to launch mpv.
func NewMpvPlayer(config MpvConfig) *MpvPlayer {
	if config.Binary == "" {
		config.Binary = "mpv"
	}
	return &MpvPlayer{
		config:  config,
		pending: make(map[int]chan mpvMessage),
		state:   mpvState{paused: true, speed: 1, idle: true, volume: 100},
		done:    make(chan struct{}),
	}
}

// OnEvent installs the handler that receives playback events. It runs on the
// socket reader goroutine and must not block.
func (p *MpvPlayer) OnEvent(h EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// OnVisibility installs the handler called when the mpv window is minimized
// or restored. It runs on the socket reader goroutine and must not block.
func (p *MpvPlayer) OnVisibility(fn func(hidden bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visibility = fn
}

// OnMessage installs the handler for script-message commands, e.g. from an
// input.conf binding such as "Ctrl+i script-message couchsync skip intro".
// It runs on the socket reader goroutine and must not block.
func (p *MpvPlayer) OnMessage(fn func(args []string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = fn
}

// Start launches mpv, connects to its IPC socket, subscribes to the
// properties the sync core needs and loads media when given.
func (p *MpvPlayer) Start(ctx context.Context, media string) error {
	os.Remove(p.config.SocketPath)

	args := []string{
		"--idle=yes",
		"--force-window=yes",
		"--keep-open=yes",
		"--input-ipc-server=" + p.config.SocketPath,
	}
	args = append(args, p.config.ExtraArgs...)

	log.Info().Str("binary", p.config.Binary).Str("socket", p.config.SocketPath).Msg("starting mpv")
	p.cmd = exec.CommandContext(ctx, p.config.Binary, args...)
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("could not start mpv process: %w", err)
	}

	conn, err := p.dial(ctx)
	if err != nil {
		p.cmd.Process.Kill()
		return err
	}
	p.conn = conn
	p.enc = json.NewEncoder(conn)
	go p.readLoop()

	for id, name := range observedProperties {
		if err := p.write(mpvCommand{Command: []any{"observe_property", id, name}}); err != nil {
			p.Close()
			return fmt.Errorf("failed to observe %s: %w", name, err)
		}
	}

	if media != "" {
		if err := p.Load(media); err != nil {
			p.Close()
			return fmt.Errorf("failed to load %s: %w", media, err)
		}
	}
	return nil
}

func (p *MpvPlayer) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	for range socketCheckRetries {
		conn, err := d.DialContext(ctx, "unix", p.config.SocketPath)
		if err == nil {
			log.Info().Msg("mpv socket ready")
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(socketCheckInterval):
		}
	}
	return nil, fmt.Errorf("mpv process started but socket did not appear at %s", p.config.SocketPath)
}

// Snapshot returns the player state derived from the latest observed properties.
func (p *MpvPlayer) Snapshot() (models.PlaybackSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return models.PlaybackSnapshot{}, ErrMpvClosed
	}
	return p.state.snapshot(), nil
}

func (p *MpvPlayer) Play() error {
	_, err := p.request("set_property", "pause", false)
	return err
}

func (p *MpvPlayer) Pause() error {
	_, err := p.request("set_property", "pause", true)
	return err
}

func (p *MpvPlayer) Seek(seconds float64) error {
	_, err := p.request("seek", seconds, "absolute", "exact")
	return err
}

func (p *MpvPlayer) SetRate(rate float64) error {
	_, err := p.request("set_property", "speed", rate)
	return err
}

// Load replaces the current media with url.
func (p *MpvPlayer) Load(url string) error {
	_, err := p.request("loadfile", url, "replace")
	return err
}

// Close stops mpv and releases the socket.
func (p *MpvPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.enc != nil {
		p.write(mpvCommand{Command: []any{"quit"}})
	}
	if p.conn != nil {
		p.conn.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Error().Err(err).Msg("error terminating mpv process")
		}
		p.cmd.Wait()
	}
	os.Remove(p.config.SocketPath)
	return nil
}

// Done is closed when the IPC connection ends.
func (p *MpvPlayer) Done() <-chan struct{} {
	return p.done
}

func (p *MpvPlayer) write(cmd mpvCommand) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.enc == nil {
		return ErrMpvClosed
	}
	if err := p.enc.Encode(cmd); err != nil {
		return fmt.Errorf("error sending mpv command: %w", err)
	}
	return nil
}

// request sends a command and waits for the matching response.
func (p *MpvPlayer) request(args ...any) (json.RawMessage, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrMpvClosed
	}
	p.nextID++
	id := p.nextID
	ch := make(chan mpvMessage, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.write(mpvCommand{Command: args, RequestID: id}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "success" {
			return nil, fmt.Errorf("mpv %v: %s", args[0], resp.Error)
		}
		return resp.Data, nil
	case <-p.done:
		return nil, ErrMpvClosed
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("mpv %v: timed out", args[0])
	}
}

func (p *MpvPlayer) readLoop() {
	defer close(p.done)

	scanner := bufio.NewScanner(p.conn)
	for scanner.Scan() {
		var msg mpvMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			log.Warn().Str("line", scanner.Text()).Err(err).Msg("could not parse line from mpv")
			continue
		}
		p.handle(msg)
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("mpv socket closed")
	}
}

func (p *MpvPlayer) handle(msg mpvMessage) {
	if msg.Event == "" {
		p.mu.Lock()
		ch, ok := p.pending[msg.RequestID]
		p.mu.Unlock()
		if ok {
			ch <- msg
		}
		return
	}

	var (
		event   EventType
		hidden  *bool
		message []string
	)
	p.mu.Lock()
	switch msg.Event {
	case "property-change":
		if msg.ID == observeWindowMinimized {
			hidden = p.minimizedChange(msg.Data)
		} else {
			event = p.state.apply(msg.ID, msg.Data)
		}
	case "playback-restart":
		event = EventSeeked
	case "client-message":
		message = msg.Args
	}
	handler := p.handler
	visibility := p.visibility
	messages := p.messages
	snap := p.state.snapshot()
	p.mu.Unlock()

	switch {
	case event != "" && handler != nil:
		handler(Event{Type: event, Snapshot: snap})
	case hidden != nil && visibility != nil:
		visibility(*hidden)
	case len(message) > 0 && messages != nil:
		messages(message)
	}
}

// minimizedChange records window-minimized and returns the new value when it
// changed. The first report only sets the baseline. Callers hold p.mu.
func (p *MpvPlayer) minimizedChange(data json.RawMessage) *bool {
	var v bool
	if json.Unmarshal(data, &v) != nil {
		return nil
	}
	prev := p.minimized
	p.minimized = &v
	if prev == nil || *prev == v {
		return nil
	}
	return &v
}

// apply records a property change and returns the playback event it maps to.
func (s *mpvState) apply(id int, data json.RawMessage) EventType {
	switch id {
	case observePause:
		var v bool
		if json.Unmarshal(data, &v) != nil || v == s.paused {
			return ""
		}
		s.paused = v
		if v {
			return EventPause
		}
		return EventPlay
	case observeSpeed:
		var v float64
		if json.Unmarshal(data, &v) != nil || v == s.speed {
			return ""
		}
		s.speed = v
		return EventRateChange
	case observeTimePos:
		var v *float64
		if json.Unmarshal(data, &v) != nil || v == nil {
			return ""
		}
		s.timePos = *v
		return EventTimeUpdate
	case observeDuration:
		var v *float64
		if json.Unmarshal(data, &v) == nil {
			s.duration = v
		}
	case observeSeeking:
		json.Unmarshal(data, &s.seeking)
	case observePausedForCache:
		json.Unmarshal(data, &s.pausedForCache)
	case observeIdleActive:
		json.Unmarshal(data, &s.idle)
	case observeFrameDropCount:
		json.Unmarshal(data, &s.dropped)
	case observeEstimatedFrame:
		json.Unmarshal(data, &s.frame)
	case observeEOFReached:
		json.Unmarshal(data, &s.eof)
	case observeVolume:
		json.Unmarshal(data, &s.volume)
	case observeMute:
		json.Unmarshal(data, &s.muted)
	case observePath:
		var v *string
		if json.Unmarshal(data, &v) == nil {
			s.path = ""
			if v != nil {
				s.path = *v
			}
		}
	}
	return ""
}

func (s *mpvState) snapshot() models.PlaybackSnapshot {
	ready := models.ReadyStateHaveEnoughData
	network := models.NetworkStateIdle
	switch {
	case s.idle && s.path == "":
		ready = models.ReadyStateHaveNothing
		network = models.NetworkStateEmpty
	case s.pausedForCache:
		ready = models.ReadyStateHaveMetadata
		network = models.NetworkStateLoading
	case s.seeking:
		ready = models.ReadyStateHaveMetadata
	case s.duration == nil:
		ready = models.ReadyStateHaveMetadata
		network = models.NetworkStateLoading
	}

	return models.PlaybackSnapshot{
		PositionSeconds: max(s.timePos, 0),
		DurationSeconds: s.duration,
		PlaybackRate:    s.speed,
		Paused:          s.paused,
		Ended:           s.eof,
		Seeking:         s.seeking,
		ReadyState:      ready,
		NetworkState:    network,
		FramesDecoded:   s.frame,
		FramesDropped:   s.dropped,
		Volume:          s.volume / 100,
		Muted:           s.muted,
		SourceURL:       s.path,
	}
}

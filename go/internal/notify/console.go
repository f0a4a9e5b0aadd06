package notify

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CommandFunc runs a non-numeric console line split into its verb and the rest.
type CommandFunc func(verb, args string) error

// Console logs notifications and answers actionable ones from lines read
// on an input stream: "1" picks the first action of the oldest unanswered
// notification, "2" the second, and so on. Other lines go to the command
// handler.
type Console struct {
	in io.Reader

	mu      sync.Mutex
	pending []Notification
	command CommandFunc
}

// NewConsole creates a console notifier reading choices from in.
func NewConsole(in io.Reader) *Console {
	return &Console{in: in}
}

// OnCommand installs the handler for lines that are not choices.
func (c *Console) OnCommand(fn CommandFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.command = fn
}

func (c *Console) Note(message string, d time.Duration) {
	c.Show(Notification{Kind: KindInfo, Title: "couchsync", Message: message, Duration: d})
}

// Show logs n. Actionable notifications queue behind unanswered ones; a newer
// notification of the same kind replaces the queued one.
func (c *Console) Show(n Notification) {
	if len(n.Actions) == 0 {
		logNotification(n).Msg("notification")
		return
	}

	c.mu.Lock()
	pos := -1
	for i, p := range c.pending {
		if p.Kind == n.Kind {
			c.pending[i] = n
			pos = i
			break
		}
	}
	if pos < 0 {
		c.pending = append(c.pending, n)
		pos = len(c.pending) - 1
	}
	c.mu.Unlock()

	if pos == 0 {
		announce(n)
		return
	}
	logNotification(n).Int("queued_behind", pos).Msg("notification queued")
}

// Pending returns the unanswered actionable notifications, oldest first.
func (c *Console) Pending() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.pending))
	copy(out, c.pending)
	return out
}

// Run reads lines until ctx is done or the input ends.
func (c *Console) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.handle(line)
		}
	}
}

func (c *Console) handle(line string) {
	if line == "" {
		return
	}
	if idx, err := strconv.Atoi(line); err == nil {
		c.choose(idx)
		return
	}

	c.mu.Lock()
	command := c.command
	c.mu.Unlock()
	if command == nil {
		return
	}

	verb, args, _ := strings.Cut(line, " ")
	if err := command(verb, strings.TrimSpace(args)); err != nil {
		log.Warn().Err(err).Str("verb", verb).Msg("command failed")
	}
}

func (c *Console) choose(idx int) {
	c.mu.Lock()
	if len(c.pending) == 0 || idx < 1 || idx > len(c.pending[0].Actions) {
		c.mu.Unlock()
		return
	}
	n := c.pending[0]
	c.pending = c.pending[1:]
	var next Notification
	hasNext := len(c.pending) > 0
	if hasNext {
		next = c.pending[0]
	}
	c.mu.Unlock()

	action := n.Actions[idx-1]
	log.Debug().Str("title", n.Title).Str("choice", action.Label).Msg("notification answered")
	if action.Do != nil {
		action.Do()
	}
	if hasNext {
		announce(next)
	}
}

func announce(n Notification) {
	labels := make([]string, len(n.Actions))
	for i, a := range n.Actions {
		labels[i] = strconv.Itoa(i+1) + ") " + a.Label
	}
	logNotification(n).Str("choices", strings.Join(labels, "  ")).Msg("notification awaiting choice")
}

func logNotification(n Notification) *zerolog.Event {
	event := log.Info().
		Str("kind", string(n.Kind)).
		Str("title", n.Title)
	if n.Message != "" {
		event = event.Str("message", n.Message)
	}
	return event
}

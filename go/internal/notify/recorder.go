package notify

import (
	"sync"
	"time"
)

// Recorder keeps every notification it is given. Useful in tests.
type Recorder struct {
	mu    sync.Mutex
	shown []Notification
}

func (r *Recorder) Show(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
}

func (r *Recorder) Note(message string, d time.Duration) {
	r.Show(Notification{Kind: KindInfo, Message: message, Duration: d})
}

// Shown returns the recorded notifications in order.
func (r *Recorder) Shown() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.shown))
	copy(out, r.shown)
	return out
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.shown) == 0 {
		return Notification{}, false
	}
	return r.shown[len(r.shown)-1], true
}

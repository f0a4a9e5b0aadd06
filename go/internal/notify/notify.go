// Package notify surfaces user-facing notifications from the sync client.
package notify

import "time"

// Kind classifies a notification.
type Kind string

const (
	KindInfo   Kind = "info"
	KindSync   Kind = "sync"
	KindShare  Kind = "share"
	KindInvite Kind = "invite"
)

// DefaultNoteDuration is how long a plain note stays visible.
const DefaultNoteDuration = 3 * time.Second

// Action is a button offered with a notification.
type Action struct {
	Label   string
	Primary bool
	Do      func()
}

// Notification is a titled message, optionally with actions. A zero
// Duration means the notification stays until the user picks an action.
type Notification struct {
	Kind     Kind
	Title    string
	Message  string
	Duration time.Duration
	Actions  []Action
}

// Notifier renders notifications.
type Notifier interface {
	Show(n Notification)
	Note(message string, d time.Duration)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Show(Notification)          {}
func (Nop) Note(string, time.Duration) {}

package models

// NavMessage is a message on the navigation stream.
type NavMessage struct {
	Action     string `json:"action"`
	URL        string `json:"url"`
	Reason     string `json:"reason,omitempty"`
	SourceUser string `json:"source_user,omitempty"`
	TargetUser string `json:"target_user,omitempty"`
}

// Invite events carried on the invite stream.
const (
	InviteEventInit      = "init"
	InviteEventHeartbeat = "heartbeat"
	InviteEventReceived  = "invite_received"
	InviteEventConnected = "connected"
	InviteEventEnded     = "disconnected"
	InviteEventRejected  = "rejected"
	InviteEventShare     = "share"
)

// Invite is a pending invitation between two users.
type Invite struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Connection lists the users of an established watch session.
type Connection struct {
	Users []string `json:"users"`
}

// InviteEvent is a message on the invite stream.
type InviteEvent struct {
	Event      string      `json:"event"`
	From       string      `json:"from,omitempty"`
	To         string      `json:"to,omitempty"`
	RejectedBy string      `json:"rejected_by,omitempty"`
	Users      []string    `json:"users,omitempty"`
	Invite     *Invite     `json:"invite,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
	SourceUser string      `json:"source_user,omitempty"`
	TargetUser string      `json:"target_user,omitempty"`
	Title      string      `json:"title,omitempty"`
	URL        string      `json:"url,omitempty"`
}

// Partner returns the first user of users other than self.
func Partner(users []string, self string) string {
	for _, u := range users {
		if u != self {
			return u
		}
	}
	return ""
}

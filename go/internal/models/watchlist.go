package models

import "time"

// WatchlistItem is a title saved to the shared watchlist.
type WatchlistItem struct {
	TitleID  string    `json:"netflix_id"`
	Title    string    `json:"title"`
	ImageURL string    `json:"image_url,omitempty"`
	AddedBy  string    `json:"added_by"`
	AddedAt  time.Time `json:"added_at"`
}

// Statuses returned by mutating relay endpoints.
const (
	StatusOK      = "ok"
	StatusAdded   = "added"
	StatusExists  = "exists"
	StatusRemoved = "removed"
	StatusMissing = "missing"
)

// StatusResponse is the generic JSON body returned by relay POST endpoints.
type StatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// WatchlistRemoval is the body of POST /watchlist/remove.
type WatchlistRemoval struct {
	TitleID   string `json:"netflix_id"`
	Title     string `json:"title,omitempty"`
	RemovedBy string `json:"removed_by"`
}

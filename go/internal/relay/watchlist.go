package relay

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mcdev12/couchsync/go/internal/models"
)

// ErrInvalidWatchlistItem is returned for items without a title ID.
var ErrInvalidWatchlistItem = errors.New("relay: watchlist item needs a title id")

// WatchlistStore persists the shared watchlist.
type WatchlistStore interface {
	// Add saves item and reports false when the title was already present.
	Add(ctx context.Context, item models.WatchlistItem) (bool, error)
	// Remove deletes titleID and reports false when it was not present.
	Remove(ctx context.Context, titleID string) (bool, error)
	// List returns the watchlist, newest first.
	List(ctx context.Context) ([]models.WatchlistItem, error)
}

// MemoryWatchlist is a WatchlistStore kept in memory.
type MemoryWatchlist struct {
	mu    sync.RWMutex
	items map[string]models.WatchlistItem
}

func NewMemoryWatchlist() *MemoryWatchlist {
	return &MemoryWatchlist{items: make(map[string]models.WatchlistItem)}
}

func (w *MemoryWatchlist) Add(ctx context.Context, item models.WatchlistItem) (bool, error) {
	if item.TitleID == "" {
		return false, ErrInvalidWatchlistItem
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.items[item.TitleID]; ok {
		return false, nil
	}
	w.items[item.TitleID] = item
	return true, nil
}

func (w *MemoryWatchlist) Remove(ctx context.Context, titleID string) (bool, error) {
	if titleID == "" {
		return false, ErrInvalidWatchlistItem
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.items[titleID]; !ok {
		return false, nil
	}
	delete(w.items, titleID)
	return true, nil
}

func (w *MemoryWatchlist) List(ctx context.Context) ([]models.WatchlistItem, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.WatchlistItem, 0, len(w.items))
	for _, item := range w.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AddedAt.After(out[j].AddedAt)
	})
	return out, nil
}

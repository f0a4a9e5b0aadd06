package relay

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mcdev12/couchsync/go/internal/models"
)

const watchlistSchema = `
CREATE TABLE IF NOT EXISTS watchlist (
    title_id   TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    image_url  TEXT NOT NULL DEFAULT '',
    added_by   TEXT NOT NULL DEFAULT '',
    added_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgWatchlist is a WatchlistStore backed by Postgres.
type PgWatchlist struct {
	db DBTX
}

// NewPgWatchlist wraps db; call EnsureSchema before first use.
func NewPgWatchlist(db DBTX) *PgWatchlist {
	return &PgWatchlist{db: db}
}

// EnsureSchema creates the watchlist table when missing.
func (w *PgWatchlist) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, watchlistSchema); err != nil {
		return fmt.Errorf("failed to create watchlist table: %w", err)
	}
	return nil
}

func (w *PgWatchlist) Add(ctx context.Context, item models.WatchlistItem) (bool, error) {
	if item.TitleID == "" {
		return false, ErrInvalidWatchlistItem
	}
	tag, err := w.db.Exec(ctx, `
        INSERT INTO watchlist (title_id, title, image_url, added_by, added_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (title_id) DO NOTHING
    `, item.TitleID, item.Title, item.ImageURL, item.AddedBy, item.AddedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert watchlist item %s: %w", item.TitleID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (w *PgWatchlist) Remove(ctx context.Context, titleID string) (bool, error) {
	if titleID == "" {
		return false, ErrInvalidWatchlistItem
	}
	tag, err := w.db.Exec(ctx, `DELETE FROM watchlist WHERE title_id = $1`, titleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete watchlist item %s: %w", titleID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (w *PgWatchlist) List(ctx context.Context) ([]models.WatchlistItem, error) {
	rows, err := w.db.Query(ctx, `
        SELECT title_id, title, image_url, added_by, added_at
        FROM watchlist
        ORDER BY added_at DESC
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.WatchlistItem, error) {
		var item models.WatchlistItem
		err := row.Scan(&item.TitleID, &item.Title, &item.ImageURL, &item.AddedBy, &item.AddedAt)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan watchlist: %w", err)
	}
	return items, nil
}

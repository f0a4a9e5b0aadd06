package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mcdev12/couchsync/go/internal/config"
	"github.com/mcdev12/couchsync/go/internal/dbconfig"
	"github.com/mcdev12/couchsync/go/internal/models"
	"github.com/mcdev12/couchsync/go/internal/relay"
	"github.com/mcdev12/couchsync/go/internal/sqlutil"
)

func main() {
	path := config.GetEnv("WATCHLIST_SEED", "go/internal/assets/watchlist.json")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var items []models.WatchlistItem
	if err := json.Unmarshal(data, &items); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	pool, err := dbconfig.NewConfigFromEnv().Open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := relay.NewPgWatchlist(pool).EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// 3) Insert in one transaction and count
	var (
		total    = len(items)
		inserted int
		skipped  int
		invalid  int
	)
	now := time.Now().UTC()

	err = sqlutil.Run(ctx, pool, func(tx pgx.Tx) *relay.PgWatchlist {
		return relay.NewPgWatchlist(tx)
	}, func(w *relay.PgWatchlist) error {
		for _, item := range items {
			if item.TitleID == "" {
				fmt.Fprintf(os.Stderr, "skipping item without id: %q\n", item.Title)
				invalid++
				continue
			}
			if item.AddedAt.IsZero() {
				item.AddedAt = now
			}
			added, err := w.Add(ctx, item)
			if err != nil {
				return err
			}
			if added {
				inserted++
			} else {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed, rolled back: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"Watchlist seed complete: %d total, %d inserted, %d skipped, %d invalid\n",
		total, inserted, skipped, invalid,
	)
}

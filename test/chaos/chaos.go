// Package chaos injects infrastructure faults into a running stress test.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BackendKiller terminates random Postgres backends serving the store's
// database. Transactions on a killed backend fail and roll back whole.
type BackendKiller struct {
	Pool     *pgxpool.Pool
	Interval time.Duration
	// Odds is the chance, as 1 in Odds, that a tick kills a backend.
	Odds int
}

// Run kills backends until ctx is done or stop closes and returns how many
// terminations it issued.
func (k BackendKiller) Run(ctx context.Context, stop <-chan struct{}) int {
	interval, odds := k.Interval, k.Odds
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if odds <= 0 {
		odds = 5
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	killed := 0
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
			if rand.Intn(odds) != 0 {
				continue
			}
			var n int
			err := k.Pool.QueryRow(ctx, `
				SELECT count(pg_terminate_backend(pid)) FROM (
					SELECT pid FROM pg_stat_activity
					WHERE datname = current_database() AND pid <> pg_backend_pid()
					ORDER BY random() LIMIT 1) victims`).Scan(&n)
			if err == nil {
				killed += n
			}
		}
	}
}

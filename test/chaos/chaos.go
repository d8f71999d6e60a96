// Package chaos injects infrastructure faults while actors run.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend kills, roughly once every five ticks, one backend
// whose application_name is appName. Transactions in flight on it roll back.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appName string, every time.Duration, stop <-chan struct{}) int {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	killed := 0
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			var ok bool
			err := pool.QueryRow(ctx, `SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false)
				FROM (SELECT pid FROM pg_stat_activity
				      WHERE datname = current_database() AND application_name = $1 AND pid <> pg_backend_pid()
				      ORDER BY random() LIMIT 1) victim`, appName).Scan(&ok)
			if err == nil && ok {
				killed++
			}
		}
	}
}

package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"oracleflow/test/actors"
	"oracleflow/test/chaos"
	"oracleflow/test/infra"
	"oracleflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "actors per role")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while running")
)

func TestEngineConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in -short mode")
	}
	seed := *flSeed
	rand.Seed(seed) //nolint:staticcheck
	t.Logf("seed=%d", seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+90*time.Second)
	defer cancel()

	pgC, dsn, shared := startDatabase(t, ctx)
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, shared, 32)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	st, err := infra.NewStack(ctx, pool, infra.Timing{
		Liveness: 3 * time.Second,
		Commit:   2 * time.Second,
		Reveal:   2 * time.Second,
	}, zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel)).Named("stress"))
	if err != nil {
		t.Fatalf("stack: %v", err)
	}

	book := actors.NewBook()
	stop := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *flConcurrency; i++ {
		asserter, disputer, voter := fmt.Sprintf("asserter-%d", i), fmt.Sprintf("disputer-%d", i), fmt.Sprintf("voter-%d", i)
		g.Go(func() error { return actors.Asserter(gctx, st, book, asserter, stop) })
		g.Go(func() error { return actors.Disputer(gctx, st, book, disputer, stop) })
		g.Go(func() error { return actors.Voter(gctx, st, book, voter, stop) })
	}
	for i := 0; i < 2; i++ {
		g.Go(func() error { return actors.Settler(gctx, st, book, stop) })
	}
	killed := make(chan int, 1)
	if *flChaos {
		go func() { killed <- chaos.TerminateRandomBackend(gctx, pool, infra.AppName, 2*time.Second, stop) }()
	} else {
		killed <- 0
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	check := func() {
		name, row, err := oracles.Run(ctx, pool)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			// chaos may have killed the oracle's own connection
			t.Logf("oracle error: %v", err)
			return
		}
		if name != "" {
			dumpRecent(t, ctx, pool)
			t.Fatalf("oracle %s failed, first row: %s (seed=%d)", name, row, seed)
		}
	}

loop:
	for time.Now().Before(deadline) {
		select {
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			check()
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("actors errored: %v (seed=%d)", err, seed)
	}
	check()

	t.Logf("assertions=%d requests=%d transfers=%d backends_killed=%d",
		len(book.Assertions()), len(book.Requests()), len(st.Ledger.Transfers()), <-killed)
}

// startDatabase prefers -dsn, then $ORACLEFLOW_PG_DSN, then Docker, then a
// local server. shared reports whether the run must isolate itself in a schema.
func startDatabase(t *testing.T, ctx context.Context) (*infra.PGContainer, string, bool) {
	t.Helper()
	switch {
	case *flDSN != "":
		return &infra.PGContainer{}, *flDSN, true
	case os.Getenv(infra.DSNEnv) != "":
		return &infra.PGContainer{}, os.Getenv(infra.DSNEnv), true
	case dockerAvailable(ctx):
		pgC, dsn, err := infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
		return pgC, dsn, false
	default:
		dsn, err := infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no database available: %v", err)
		}
		return &infra.PGContainer{}, dsn, false
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct{ name, sql string }{
		{"assertions", `SELECT encode(id,'hex') AS id, bond, disputer, settled, settlement_resolution, payout_status FROM assertions ORDER BY created_at DESC LIMIT 20`},
		{"resolution_requests", `SELECT encode(id,'hex') AS id, phase, resolved_price, extensions_used, emergency_required, total_committed, total_revealed FROM resolution_requests ORDER BY created_at DESC LIMIT 20`},
		{"payout_legs", `SELECT source_kind, encode(source_ref,'hex') AS ref, leg, amount, status, attempts FROM payout_legs ORDER BY created_at DESC LIMIT 40`},
		{"oracle_events", `SELECT aggregate_kind, encode(aggregate_id,'hex') AS id, event, created_at FROM oracle_events ORDER BY created_at DESC LIMIT 40`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}

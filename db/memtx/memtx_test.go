package memtx

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestCommitAppliesStagedWrites(t *testing.T) {
	pool := New()
	ctx := context.Background()

	value := 0
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	Stage(tx, func() { value = 7 })
	if value != 0 {
		t.Fatalf("staged write applied before commit")
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if value != 7 {
		t.Fatalf("expected 7 after commit, got %d", value)
	}
	if err := tx.Rollback(ctx); !errors.Is(err, pgx.ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed on rollback after commit, got %v", err)
	}
}

func TestRollbackDiscardsAndReleases(t *testing.T) {
	pool := New()
	ctx := context.Background()

	value := 0
	tx, _ := pool.Begin(ctx)
	Stage(tx, func() { value = 1 })
	_ = tx.Rollback(ctx)
	if value != 0 {
		t.Fatalf("rolled back write leaked")
	}

	// the pool lock must be free again
	tx2, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	_ = tx2.Rollback(ctx)
}

func TestStageWithoutTxRunsImmediately(t *testing.T) {
	ran := false
	Stage(nil, func() { ran = true })
	if !ran {
		t.Fatalf("expected immediate execution")
	}
}

package params

import (
	"context"
	"errors"
	"testing"
	"time"

	"oracleflow/db/memtx"
	"oracleflow/eventlog"
)

func newTestService(t *testing.T) (*Service, *eventlog.MemoryStore) {
	t.Helper()
	store := eventlog.NewMemoryStore()
	svc := NewService(memtx.New(), NewMemoryRepository(), eventlog.NewWriter(store))
	if err := svc.Bootstrap(context.Background(), DefaultOracle("owner", "usdc"), DefaultVoting("owner", "vote")); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return svc, store
}

func TestBootstrapIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Bootstrap(context.Background(), DefaultOracle("other", "dai"), DefaultVoting("other", "x")); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	p, err := svc.Oracle(context.Background())
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	if p.Owner != "owner" || p.DefaultCurrency != "usdc" {
		t.Fatalf("bootstrap overwrote existing params: %+v", p)
	}
	if p.DefaultLiveness != 2*time.Hour {
		t.Fatalf("expected 2h default liveness, got %s", p.DefaultLiveness)
	}
}

func TestUpdateVotingOwnerGatedAndVersioned(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.UpdateVoting(ctx, "mallory", 0, func(p *VotingParams) { p.MaxExtensions = 9 }); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	next, err := svc.UpdateVoting(ctx, "owner", 1, func(p *VotingParams) { p.RevealDuration = time.Hour })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if next.Version != 2 || next.RevealDuration != time.Hour {
		t.Fatalf("unexpected params: %+v", next)
	}

	if _, err := svc.UpdateVoting(ctx, "owner", 1, func(p *VotingParams) {}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected stale version conflict, got %v", err)
	}

	if names := store.Names(eventlog.KindConfig, votingAggregate); len(names) != 1 || names[0] != eventlog.VotingConfigUpdated {
		t.Fatalf("unexpected events: %v", names)
	}
}

func TestUpdateOracleRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UpdateOracle(context.Background(), "owner", 0, func(p *OracleParams) { p.BurnedBondFraction.Clear() })
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for zero burn fraction, got %v", err)
	}
	p, _ := svc.Oracle(context.Background())
	if p.Version != 1 || p.BurnedBondFraction.IsZero() {
		t.Fatalf("rejected update leaked: %+v", p)
	}
}

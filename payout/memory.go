package payout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/db/memtx"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	order []uuid.UUID
	legs  map[uuid.UUID]Leg
	keys  map[string]bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{legs: make(map[uuid.UUID]Leg), keys: make(map[string]bool)}
}

func cloneLeg(l Leg) Leg {
	l.Amount = l.Amount.Clone()
	if l.ClaimedAt != nil {
		at := *l.ClaimedAt
		l.ClaimedAt = &at
	}
	return l
}

func (r *MemoryRepository) InsertLegs(_ context.Context, tx pgx.Tx, legs []Leg) error {
	r.mu.RLock()
	for _, leg := range legs {
		if r.keys[leg.IdempotencyKey] {
			r.mu.RUnlock()
			return ErrDuplicateLeg
		}
	}
	r.mu.RUnlock()

	staged := make([]Leg, len(legs))
	for i, leg := range legs {
		staged[i] = cloneLeg(leg)
	}
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, leg := range staged {
			r.legs[leg.ID] = leg
			r.keys[leg.IdempotencyKey] = true
			r.order = append(r.order, leg.ID)
		}
	})
	return nil
}

func (r *MemoryRepository) ClaimLegs(_ context.Context, tx pgx.Tx, kind string, ref bytes32.ID, now, staleBefore time.Time) ([]Leg, error) {
	r.mu.RLock()
	var claimed []Leg
	for _, id := range r.order {
		leg := r.legs[id]
		if leg.SourceKind != kind || leg.SourceRef != ref {
			continue
		}
		stale := leg.Status == StatusInFlight && leg.ClaimedAt != nil && leg.ClaimedAt.Before(staleBefore)
		if leg.Status != StatusPending && leg.Status != StatusFailed && !stale {
			continue
		}
		leg = cloneLeg(leg)
		leg.Status = StatusInFlight
		leg.Attempts++
		at := now
		leg.ClaimedAt = &at
		claimed = append(claimed, leg)
	}
	r.mu.RUnlock()

	updates := make([]Leg, len(claimed))
	for i, leg := range claimed {
		updates[i] = cloneLeg(leg)
	}
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, leg := range updates {
			r.legs[leg.ID] = leg
		}
	})
	return claimed, nil
}

func (r *MemoryRepository) MarkPaid(_ context.Context, tx pgx.Tx, leg Leg, _ time.Time) error {
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		cur, ok := r.legs[leg.ID]
		if !ok {
			return
		}
		cur.Status = StatusPaid
		cur.LastError = ""
		r.legs[leg.ID] = cur
	})
	return nil
}

func (r *MemoryRepository) MarkFailed(_ context.Context, tx pgx.Tx, leg Leg, reason string) error {
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		cur, ok := r.legs[leg.ID]
		if !ok || cur.Status != StatusInFlight {
			return
		}
		cur.Status = StatusFailed
		cur.LastError = reason
		r.legs[leg.ID] = cur
	})
	return nil
}

func (r *MemoryRepository) ListLegs(_ context.Context, _ db.Querier, kind string, ref bytes32.ID) ([]Leg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Leg
	for _, id := range r.order {
		leg := r.legs[id]
		if leg.SourceKind == kind && leg.SourceRef == ref {
			out = append(out, cloneLeg(leg))
		}
	}
	return out, nil
}

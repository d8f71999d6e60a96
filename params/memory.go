package params

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"oracleflow/db"
	"oracleflow/db/memtx"
)

// MemoryRepository keeps parameter history in process.
type MemoryRepository struct {
	mu     sync.RWMutex
	oracle []OracleParams
	voting []VotingParams
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) LatestOracle(context.Context, db.Querier, bool) (OracleParams, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.oracle) == 0 {
		return OracleParams{}, ErrNotInitialized
	}
	p := r.oracle[len(r.oracle)-1]
	p.BurnedBondFraction = p.BurnedBondFraction.Clone()
	return p, nil
}

func (r *MemoryRepository) InsertOracle(_ context.Context, tx pgx.Tx, p OracleParams) error {
	r.mu.RLock()
	conflict := len(r.oracle) > 0 && r.oracle[len(r.oracle)-1].Version >= p.Version
	r.mu.RUnlock()
	if conflict {
		return ErrVersionConflict
	}
	p.BurnedBondFraction = p.BurnedBondFraction.Clone()
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.oracle = append(r.oracle, p)
	})
	return nil
}

func (r *MemoryRepository) LatestVoting(context.Context, db.Querier, bool) (VotingParams, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.voting) == 0 {
		return VotingParams{}, ErrNotInitialized
	}
	return r.voting[len(r.voting)-1], nil
}

func (r *MemoryRepository) InsertVoting(_ context.Context, tx pgx.Tx, p VotingParams) error {
	r.mu.RLock()
	conflict := len(r.voting) > 0 && r.voting[len(r.voting)-1].Version >= p.Version
	r.mu.RUnlock()
	if conflict {
		return ErrVersionConflict
	}
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.voting = append(r.voting, p)
	})
	return nil
}

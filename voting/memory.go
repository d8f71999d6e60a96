package voting

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/db/memtx"
)

type voteKey struct {
	request bytes32.ID
	voter   string
}

// MemoryRepository keeps requests and votes in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	requests map[bytes32.ID]Request
	votes    map[voteKey]Vote
	order    map[bytes32.ID][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[bytes32.ID]Request),
		votes:    make(map[voteKey]Vote),
		order:    make(map[bytes32.ID][]string),
	}
}

func (m *MemoryRepository) GetRequest(_ context.Context, _ db.Querier, id bytes32.ID, _ bool) (Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return r.clone(), nil
}

func (m *MemoryRepository) InsertRequest(_ context.Context, tx pgx.Tx, r Request) error {
	m.mu.RLock()
	_, exists := m.requests[r.ID]
	m.mu.RUnlock()
	if exists {
		return ErrRequestExists
	}
	r = r.clone()
	memtx.Stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.requests[r.ID] = r
	})
	return nil
}

func (m *MemoryRepository) UpdateRequest(_ context.Context, tx pgx.Tx, r Request) error {
	m.mu.RLock()
	_, exists := m.requests[r.ID]
	m.mu.RUnlock()
	if !exists {
		return ErrRequestNotFound
	}
	r = r.clone()
	memtx.Stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.requests[r.ID] = r
	})
	return nil
}

func (m *MemoryRepository) GetVote(_ context.Context, _ db.Querier, id bytes32.ID, voter string, _ bool) (Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.votes[voteKey{id, voter}]
	if !ok {
		return Vote{}, ErrNoCommit
	}
	return v.clone(), nil
}

func (m *MemoryRepository) InsertVote(_ context.Context, tx pgx.Tx, v Vote) error {
	key := voteKey{v.RequestID, v.Voter}
	m.mu.RLock()
	_, exists := m.votes[key]
	m.mu.RUnlock()
	if exists {
		return ErrAlreadyCommitted
	}
	v = v.clone()
	memtx.Stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.votes[key] = v
		m.order[v.RequestID] = append(m.order[v.RequestID], v.Voter)
	})
	return nil
}

func (m *MemoryRepository) UpdateVote(_ context.Context, tx pgx.Tx, v Vote) error {
	v = v.clone()
	memtx.Stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.votes[voteKey{v.RequestID, v.Voter}] = v
	})
	return nil
}

func (m *MemoryRepository) ListVotes(_ context.Context, _ db.Querier, id bytes32.ID) ([]Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Vote, 0, len(m.order[id]))
	for _, voter := range m.order[id] {
		out = append(out, m.votes[voteKey{id, voter}].clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CommittedAt.Before(out[j].CommittedAt) })
	return out, nil
}

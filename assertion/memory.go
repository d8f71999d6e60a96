package assertion

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/db/memtx"
)

type MemoryRepository struct {
	mu         sync.RWMutex
	assertions map[bytes32.ID]Assertion
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{assertions: make(map[bytes32.ID]Assertion)}
}

func (m *MemoryRepository) Get(_ context.Context, _ db.Querier, id bytes32.ID, _ bool) (Assertion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assertions[id]
	if !ok {
		return Assertion{}, ErrNotFound
	}
	return a.clone(), nil
}

func (m *MemoryRepository) Insert(_ context.Context, tx pgx.Tx, a Assertion) error {
	m.mu.RLock()
	_, exists := m.assertions[a.ID]
	m.mu.RUnlock()
	if exists {
		return ErrExists
	}
	a = a.clone()
	memtx.Stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.assertions[a.ID] = a
	})
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, tx pgx.Tx, a Assertion) error {
	m.mu.RLock()
	_, exists := m.assertions[a.ID]
	m.mu.RUnlock()
	if !exists {
		return ErrNotFound
	}
	a = a.clone()
	memtx.Stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.assertions[a.ID] = a
	})
	return nil
}

package registry

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/db/memtx"
)

type MemoryRepository struct {
	mu          sync.RWMutex
	currencies  map[string]Currency
	identifiers map[bytes32.ID]bool
	requesters  map[string]bool
	directory   map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		currencies:  make(map[string]Currency),
		identifiers: make(map[bytes32.ID]bool),
		requesters:  make(map[string]bool),
		directory:   make(map[string]string),
	}
}

func (r *MemoryRepository) GetCurrency(_ context.Context, _ db.Querier, currency string) (Currency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.currencies[currency]
	if !ok {
		return Currency{}, ErrCurrencyNotWhitelisted
	}
	c.FinalFee = c.FinalFee.Clone()
	return c, nil
}

func (r *MemoryRepository) UpsertCurrency(_ context.Context, tx pgx.Tx, c Currency) error {
	c.FinalFee = c.FinalFee.Clone()
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.currencies[c.Address] = c
	})
	return nil
}

func (r *MemoryRepository) IdentifierWhitelisted(_ context.Context, _ db.Querier, id bytes32.ID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identifiers[id], nil
}

func (r *MemoryRepository) SetIdentifier(_ context.Context, tx pgx.Tx, id bytes32.ID, allowed bool) error {
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.identifiers[id] = allowed
	})
	return nil
}

func (r *MemoryRepository) RequesterAuthorized(_ context.Context, _ db.Querier, account string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requesters[account], nil
}

func (r *MemoryRepository) SetRequester(_ context.Context, tx pgx.Tx, account string, allowed bool) error {
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.requesters[account] = allowed
	})
	return nil
}

func (r *MemoryRepository) LookupAddress(_ context.Context, _ db.Querier, name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.directory[name]
	if !ok {
		return "", ErrUnknownName
	}
	return addr, nil
}

func (r *MemoryRepository) SetAddress(_ context.Context, tx pgx.Tx, name, address string) error {
	memtx.Stage(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.directory[name] = address
	})
	return nil
}

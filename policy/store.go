package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
)

// Store keeps manager whitelists and arbitration resolutions.
type Store interface {
	Listed(ctx context.Context, manager, list, account string) (bool, error)
	SetListed(ctx context.Context, manager, list, account string, allowed bool) error
	Resolution(ctx context.Context, manager string, key bytes32.ID) (*bool, error)
	// SetResolution fails with ErrAlreadyArbitrated when a value exists.
	SetResolution(ctx context.Context, manager string, key bytes32.ID, resolution bool, by string) error
}

type PGStore struct {
	q db.Querier
}

func NewPGStore(q db.Querier) *PGStore {
	return &PGStore{q: q}
}

func (s *PGStore) Listed(ctx context.Context, manager, list, account string) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx, `SELECT allowed FROM policy_whitelists WHERE manager = $1 AND list = $2 AND account = $3`,
		manager, list, account).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("policy: listed: %w", err)
	}
	return ok, nil
}

func (s *PGStore) SetListed(ctx context.Context, manager, list, account string, allowed bool) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO policy_whitelists (manager, list, account, allowed, updated_at) VALUES ($1, $2, $3, $4, now())
ON CONFLICT (manager, list, account) DO UPDATE SET allowed = EXCLUDED.allowed, updated_at = now()`,
		manager, list, account, allowed)
	if err != nil {
		return fmt.Errorf("policy: set listed: %w", err)
	}
	return nil
}

func (s *PGStore) Resolution(ctx context.Context, manager string, key bytes32.ID) (*bool, error) {
	var v bool
	err := s.q.QueryRow(ctx, `SELECT resolution FROM arbitration_resolutions WHERE manager = $1 AND request_id = $2`,
		manager, key.Bytes()).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("policy: resolution: %w", err)
	}
	return &v, nil
}

func (s *PGStore) SetResolution(ctx context.Context, manager string, key bytes32.ID, resolution bool, by string) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO arbitration_resolutions (manager, request_id, resolution, set_by) VALUES ($1, $2, $3, $4)`,
		manager, key.Bytes(), resolution, by)
	if db.IsUniqueViolation(err) {
		return ErrAlreadyArbitrated
	}
	if err != nil {
		return fmt.Errorf("policy: set resolution: %w", err)
	}
	return nil
}

type listKey struct{ manager, list, account string }

type resolutionKey struct {
	manager string
	key     bytes32.ID
}

type MemoryStore struct {
	mu          sync.RWMutex
	lists       map[listKey]bool
	resolutions map[resolutionKey]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[listKey]bool), resolutions: make(map[resolutionKey]bool)}
}

func (s *MemoryStore) Listed(_ context.Context, manager, list, account string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lists[listKey{manager, list, account}], nil
}

func (s *MemoryStore) SetListed(_ context.Context, manager, list, account string, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[listKey{manager, list, account}] = allowed
	return nil
}

func (s *MemoryStore) Resolution(_ context.Context, manager string, key bytes32.ID) (*bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.resolutions[resolutionKey{manager, key}]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *MemoryStore) SetResolution(_ context.Context, manager string, key bytes32.ID, resolution bool, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := resolutionKey{manager, key}
	if _, ok := s.resolutions[k]; ok {
		return ErrAlreadyArbitrated
	}
	s.resolutions[k] = resolution
	return nil
}

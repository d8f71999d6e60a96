package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"oracleflow/db"
	"oracleflow/errs"
)

var (
	// ErrAccountNotFound signals that the account does not exist.
	ErrAccountNotFound = errs.New(errs.NotFound, "auth: account not found")
	// ErrDuplicateAccount signals that the account name is already registered.
	ErrDuplicateAccount = errs.New(errs.Conflict, "auth: account already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetByName(ctx context.Context, name string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
}

// CreateAccountParams contains write parameters for creating accounts.
type CreateAccountParams struct {
	Name         string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	q db.Querier
}

func NewPGRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

func (r *PGRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	const insertSQL = `
		INSERT INTO accounts (id, account, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, account, password_hash, role, created_at
	`

	acct, err := scanAccount(r.q.QueryRow(ctx, insertSQL, uuid.NewString(), params.Name, params.PasswordHash, params.Role))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, fmt.Errorf("auth: create account: %w", err)
	}
	return acct, nil
}

func (r *PGRepository) GetByName(ctx context.Context, name string) (Account, error) {
	const selectSQL = `
		SELECT id::text, account, password_hash, role, created_at
		FROM accounts
		WHERE account = $1
	`

	acct, err := scanAccount(r.q.QueryRow(ctx, selectSQL, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: get account by name: %w", err)
	}
	return acct, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Account, error) {
	const selectSQL = `
		SELECT id::text, account, password_hash, role, created_at
		FROM accounts
		WHERE id = $1
	`

	acct, err := scanAccount(r.q.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: get account by id: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	if err := row.Scan(&acct.ID, &acct.Name, &acct.PasswordHash, &acct.Role, &acct.CreatedAt); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// MemoryRepository keeps accounts in process for dev mode.
type MemoryRepository struct {
	mu     sync.RWMutex
	byName map[string]Account
	byID   map[string]Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byName: make(map[string]Account), byID: make(map[string]Account)}
}

func (m *MemoryRepository) CreateAccount(_ context.Context, params CreateAccountParams) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[params.Name]; exists {
		return Account{}, ErrDuplicateAccount
	}
	acct := Account{
		ID:           uuid.NewString(),
		Name:         params.Name,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now().UTC(),
	}
	m.byName[acct.Name] = acct
	m.byID[acct.ID] = acct
	return acct, nil
}

func (m *MemoryRepository) GetByName(_ context.Context, name string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.byName[name]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

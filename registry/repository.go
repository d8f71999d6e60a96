package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/units"
)

// Repository backs the fee registry, the identifier whitelist, the
// authorization registry and the directory.
type Repository interface {
	GetCurrency(ctx context.Context, q db.Querier, currency string) (Currency, error)
	UpsertCurrency(ctx context.Context, tx pgx.Tx, c Currency) error
	IdentifierWhitelisted(ctx context.Context, q db.Querier, id bytes32.ID) (bool, error)
	SetIdentifier(ctx context.Context, tx pgx.Tx, id bytes32.ID, allowed bool) error
	RequesterAuthorized(ctx context.Context, q db.Querier, account string) (bool, error)
	SetRequester(ctx context.Context, tx pgx.Tx, account string, allowed bool) error
	LookupAddress(ctx context.Context, q db.Querier, name string) (string, error)
	SetAddress(ctx context.Context, tx pgx.Tx, name, address string) error
}

type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) GetCurrency(ctx context.Context, q db.Querier, currency string) (Currency, error) {
	var (
		c   Currency
		fee string
	)
	err := q.QueryRow(ctx, `SELECT currency, whitelisted, final_fee::text FROM currencies WHERE currency = $1`, currency).
		Scan(&c.Address, &c.Whitelisted, &fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return Currency{}, ErrCurrencyNotWhitelisted
	}
	if err != nil {
		return Currency{}, fmt.Errorf("registry: get currency: %w", err)
	}
	if c.FinalFee, err = units.Parse(fee); err != nil {
		return Currency{}, fmt.Errorf("registry: get currency: %w", err)
	}
	return c, nil
}

func (r *PGRepository) UpsertCurrency(ctx context.Context, tx pgx.Tx, c Currency) error {
	_, err := tx.Exec(ctx, `
INSERT INTO currencies (currency, whitelisted, final_fee, updated_at)
VALUES ($1, $2, $3::numeric, now())
ON CONFLICT (currency) DO UPDATE
SET whitelisted = EXCLUDED.whitelisted, final_fee = EXCLUDED.final_fee, updated_at = now()`,
		c.Address, c.Whitelisted, c.FinalFee.Dec())
	if err != nil {
		return fmt.Errorf("registry: upsert currency: %w", err)
	}
	return nil
}

func (r *PGRepository) IdentifierWhitelisted(ctx context.Context, q db.Querier, id bytes32.ID) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT whitelisted FROM identifiers WHERE identifier = $1`, id.Bytes()).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry: identifier: %w", err)
	}
	return ok, nil
}

func (r *PGRepository) SetIdentifier(ctx context.Context, tx pgx.Tx, id bytes32.ID, allowed bool) error {
	_, err := tx.Exec(ctx, `
INSERT INTO identifiers (identifier, whitelisted, updated_at) VALUES ($1, $2, now())
ON CONFLICT (identifier) DO UPDATE SET whitelisted = EXCLUDED.whitelisted, updated_at = now()`,
		id.Bytes(), allowed)
	if err != nil {
		return fmt.Errorf("registry: set identifier: %w", err)
	}
	return nil
}

func (r *PGRepository) RequesterAuthorized(ctx context.Context, q db.Querier, account string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT authorized FROM authorized_requesters WHERE account = $1`, account).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry: requester: %w", err)
	}
	return ok, nil
}

func (r *PGRepository) SetRequester(ctx context.Context, tx pgx.Tx, account string, allowed bool) error {
	_, err := tx.Exec(ctx, `
INSERT INTO authorized_requesters (account, authorized, updated_at) VALUES ($1, $2, now())
ON CONFLICT (account) DO UPDATE SET authorized = EXCLUDED.authorized, updated_at = now()`,
		account, allowed)
	if err != nil {
		return fmt.Errorf("registry: set requester: %w", err)
	}
	return nil
}

func (r *PGRepository) LookupAddress(ctx context.Context, q db.Querier, name string) (string, error) {
	var addr string
	err := q.QueryRow(ctx, `SELECT address FROM directory WHERE name = $1`, name).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnknownName
	}
	if err != nil {
		return "", fmt.Errorf("registry: lookup %s: %w", name, err)
	}
	return addr, nil
}

func (r *PGRepository) SetAddress(ctx context.Context, tx pgx.Tx, name, address string) error {
	_, err := tx.Exec(ctx, `
INSERT INTO directory (name, address, updated_at) VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET address = EXCLUDED.address, updated_at = now()`,
		name, address)
	if err != nil {
		return fmt.Errorf("registry: set address: %w", err)
	}
	return nil
}

package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/units"
)

type Repository interface {
	InsertLegs(ctx context.Context, tx pgx.Tx, legs []Leg) error
	// ClaimLegs moves claimable legs of one source to in_flight and returns them.
	// Claimable means pending, failed, or in_flight with a claim older than staleBefore.
	ClaimLegs(ctx context.Context, tx pgx.Tx, kind string, ref bytes32.ID, now, staleBefore time.Time) ([]Leg, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, leg Leg, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, leg Leg, reason string) error
	ListLegs(ctx context.Context, q db.Querier, kind string, ref bytes32.ID) ([]Leg, error)
}

type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) InsertLegs(ctx context.Context, tx pgx.Tx, legs []Leg) error {
	for _, leg := range legs {
		_, err := tx.Exec(ctx, `
INSERT INTO payout_legs (id, source_kind, source_ref, leg, currency, from_account, to_account, amount, status, idempotency_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10)`,
			leg.ID, leg.SourceKind, leg.SourceRef.Bytes(), leg.Name, leg.Currency, leg.From, leg.To,
			leg.Amount.Dec(), string(leg.Status), leg.IdempotencyKey)
		if db.IsUniqueViolation(err) {
			return ErrDuplicateLeg
		}
		if err != nil {
			return fmt.Errorf("payout: insert leg %s: %w", leg.Name, err)
		}
	}
	return nil
}

const legColumns = `id, source_kind, source_ref, leg, currency, from_account, to_account, amount::text,
       status, attempts, COALESCE(last_error, ''), idempotency_key, claimed_at`

func scanLeg(row pgx.Row) (Leg, error) {
	var (
		leg    Leg
		ref    []byte
		amount string
		status string
	)
	if err := row.Scan(&leg.ID, &leg.SourceKind, &ref, &leg.Name, &leg.Currency, &leg.From, &leg.To, &amount,
		&status, &leg.Attempts, &leg.LastError, &leg.IdempotencyKey, &leg.ClaimedAt); err != nil {
		return Leg{}, err
	}
	var err error
	if leg.SourceRef, err = bytes32.FromBytes(ref); err != nil {
		return Leg{}, err
	}
	if leg.Amount, err = units.Parse(amount); err != nil {
		return Leg{}, err
	}
	leg.Status = Status(status)
	return leg, nil
}

func (r *PGRepository) ClaimLegs(ctx context.Context, tx pgx.Tx, kind string, ref bytes32.ID, now, staleBefore time.Time) ([]Leg, error) {
	rows, err := tx.Query(ctx, `
UPDATE payout_legs
SET status = 'in_flight', attempts = attempts + 1, claimed_at = $3
WHERE id IN (
    SELECT id FROM payout_legs
    WHERE source_kind = $1 AND source_ref = $2
      AND (status IN ('pending', 'failed') OR (status = 'in_flight' AND claimed_at < $4))
    ORDER BY created_at, leg
    FOR UPDATE SKIP LOCKED
)
RETURNING `+legColumns, kind, ref.Bytes(), now, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("payout: claim legs: %w", err)
	}
	defer rows.Close()

	var legs []Leg
	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, fmt.Errorf("payout: scan claimed leg: %w", err)
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

func (r *PGRepository) MarkPaid(ctx context.Context, tx pgx.Tx, leg Leg, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE payout_legs SET status = 'paid', paid_at = $2, last_error = NULL WHERE id = $1`, leg.ID, at); err != nil {
		return fmt.Errorf("payout: mark paid: %w", err)
	}
	return nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, tx pgx.Tx, leg Leg, reason string) error {
	if _, err := tx.Exec(ctx, `UPDATE payout_legs SET status = 'failed', last_error = $2 WHERE id = $1 AND status = 'in_flight'`, leg.ID, reason); err != nil {
		return fmt.Errorf("payout: mark failed: %w", err)
	}
	return nil
}

func (r *PGRepository) ListLegs(ctx context.Context, q db.Querier, kind string, ref bytes32.ID) ([]Leg, error) {
	rows, err := q.Query(ctx, `SELECT `+legColumns+` FROM payout_legs WHERE source_kind = $1 AND source_ref = $2 ORDER BY created_at, leg`,
		kind, ref.Bytes())
	if err != nil {
		return nil, fmt.Errorf("payout: list legs: %w", err)
	}
	defer rows.Close()

	var legs []Leg
	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, fmt.Errorf("payout: scan leg: %w", err)
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

package assertion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/units"
)

type Repository interface {
	Get(ctx context.Context, q db.Querier, id bytes32.ID, forUpdate bool) (Assertion, error)
	Insert(ctx context.Context, tx pgx.Tx, a Assertion) error
	// Update writes the dispute, settlement and payout columns.
	Update(ctx context.Context, tx pgx.Tx, a Assertion) error
}

type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

const columns = `id, claim, asserter, caller, currency, bond::text, identifier, domain_id, assertion_time_ns,
       liveness_ns, expiration_ns, callback_recipient, escalation_manager, validate_disputers,
       arbitrate_via_manager, discard_oracle, disputer, dispute_request_id, disputed_at_ns, settled,
       settlement_resolution, settled_at_ns, payout_status`

func scan(row pgx.Row) (Assertion, error) {
	var (
		a                                  Assertion
		id, claim, identifier, domain, req []byte
		bond, payout                       string
		at, liveness, expiration           int64
		callback, manager, disputer        *string
		disputedAt, settledAt              *int64
	)
	if err := row.Scan(&id, &claim, &a.Asserter, &a.Caller, &a.Currency, &bond, &identifier, &domain, &at,
		&liveness, &expiration, &callback, &manager, &a.Settings.ValidateDisputers,
		&a.Settings.ArbitrateViaManager, &a.Settings.DiscardOracle, &disputer, &req, &disputedAt, &a.Settled,
		&a.Resolution, &settledAt, &payout); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assertion{}, ErrNotFound
		}
		return Assertion{}, fmt.Errorf("assertion: scan: %w", err)
	}

	var err error
	if a.ID, err = bytes32.FromBytes(id); err != nil {
		return Assertion{}, err
	}
	if a.Claim, err = bytes32.FromBytes(claim); err != nil {
		return Assertion{}, err
	}
	if a.Identifier, err = bytes32.FromBytes(identifier); err != nil {
		return Assertion{}, err
	}
	if a.DomainID, err = bytes32.FromBytes(domain); err != nil {
		return Assertion{}, err
	}
	if a.Bond, err = units.Parse(bond); err != nil {
		return Assertion{}, err
	}
	if req != nil {
		rid, err := bytes32.FromBytes(req)
		if err != nil {
			return Assertion{}, err
		}
		a.DisputeRequestID = &rid
	}
	a.AssertionTime = time.Unix(0, at).UTC()
	a.Liveness = time.Duration(liveness)
	a.Expiration = time.Unix(0, expiration).UTC()
	a.CallbackRecipient = deref(callback)
	a.EscalationManager = deref(manager)
	a.Disputer = deref(disputer)
	if disputedAt != nil {
		a.DisputedAt = time.Unix(0, *disputedAt).UTC()
	}
	if settledAt != nil {
		a.SettledAt = time.Unix(0, *settledAt).UTC()
	}
	a.PayoutStatus = PayoutStatus(payout)
	return a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nsOrNil(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ns := t.UnixNano()
	return &ns
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id bytes32.ID, forUpdate bool) (Assertion, error) {
	query := `SELECT ` + columns + ` FROM assertions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scan(q.QueryRow(ctx, query, id.Bytes()))
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, a Assertion) error {
	_, err := tx.Exec(ctx, `
INSERT INTO assertions (id, claim, asserter, caller, currency, bond, identifier, domain_id, assertion_time_ns,
    liveness_ns, expiration_ns, callback_recipient, escalation_manager, validate_disputers,
    arbitrate_via_manager, discard_oracle, payout_status)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID.Bytes(), a.Claim.Bytes(), a.Asserter, a.Caller, a.Currency, a.Bond.Dec(), a.Identifier.Bytes(),
		a.DomainID.Bytes(), a.AssertionTime.UnixNano(), int64(a.Liveness), a.Expiration.UnixNano(),
		nullable(a.CallbackRecipient), nullable(a.EscalationManager), a.Settings.ValidateDisputers,
		a.Settings.ArbitrateViaManager, a.Settings.DiscardOracle, string(a.PayoutStatus))
	if db.IsUniqueViolation(err) {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("assertion: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, a Assertion) error {
	var req []byte
	if a.DisputeRequestID != nil {
		req = a.DisputeRequestID.Bytes()
	}
	tag, err := tx.Exec(ctx, `
UPDATE assertions
SET disputer = $2, dispute_request_id = $3, disputed_at_ns = $4, settled = $5, settlement_resolution = $6,
    settled_at_ns = $7, payout_status = $8
WHERE id = $1`,
		a.ID.Bytes(), nullable(a.Disputer), req, nsOrNil(a.DisputedAt), a.Settled, a.Resolution,
		nsOrNil(a.SettledAt), string(a.PayoutStatus))
	if err != nil {
		return fmt.Errorf("assertion: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

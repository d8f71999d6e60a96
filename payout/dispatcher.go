package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/ledger"
)

// Dispatcher pushes recorded legs to the ledger. Local state is committed
// before each transfer; the transfer outcome is recorded afterwards.
type Dispatcher struct {
	pool   db.TxBeginner
	reader db.Querier
	repo   Repository
	ledger ledger.Ledger
	lease  time.Duration
	now    func() time.Time
	log    *zap.Logger
}

func NewDispatcher(pool db.TxBeginner, repo Repository, l ledger.Ledger) *Dispatcher {
	if repo == nil {
		repo = NewPGRepository()
	}
	return &Dispatcher{
		pool:   pool,
		reader: db.ReaderOf(pool),
		repo:   repo,
		ledger: l,
		lease:  2 * time.Minute,
		now:    time.Now,
		log:    zap.NewNop(),
	}
}

func (d *Dispatcher) WithLogger(log *zap.Logger) *Dispatcher {
	if log != nil {
		d.log = log
	}
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

// WithLease sets how long an in-flight claim blocks other dispatchers.
func (d *Dispatcher) WithLease(lease time.Duration) *Dispatcher {
	if lease > 0 {
		d.lease = lease
	}
	return d
}

// Record writes legs in the caller's transaction.
func (d *Dispatcher) Record(ctx context.Context, tx pgx.Tx, legs []Leg) error {
	if len(legs) == 0 {
		return nil
	}
	return d.repo.InsertLegs(ctx, tx, legs)
}

// Dispatch attempts every claimable leg of a source once. It returns
// ErrInFlight when nothing was claimable because another attempt holds the
// unpaid legs.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, ref bytes32.ID) (Summary, error) {
	now := d.now()

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("payout: begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	legs, err := d.repo.ClaimLegs(ctx, tx, kind, ref, now, now.Add(-d.lease))
	if err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Summary{}, fmt.Errorf("payout: commit claim: %w", err)
	}

	var sum Summary
	var firstErr error
	for _, leg := range legs {
		err := d.send(ctx, leg)
		if recErr := d.recordOutcome(ctx, leg, err); recErr != nil {
			return sum, recErr
		}
		if err != nil {
			sum.Failed++
			if firstErr == nil {
				firstErr = err
			}
			d.log.Warn("payout leg failed",
				zap.String("source", kind), zap.String("ref", ref.String()),
				zap.String("leg", leg.Name), zap.String("account", leg.To),
				zap.String("amount", leg.Amount.Dec()), zap.Error(err))
			continue
		}
		sum.Paid++
	}

	outstanding, err := d.Outstanding(ctx, kind, ref)
	if err != nil {
		return sum, err
	}
	sum.Outstanding = outstanding

	if len(legs) == 0 && outstanding > 0 {
		return sum, ErrInFlight
	}
	if firstErr != nil {
		return sum, fmt.Errorf("%w: %v", ErrTransferFailed, firstErr)
	}
	return sum, nil
}

func (d *Dispatcher) send(ctx context.Context, leg Leg) error {
	if leg.Amount.IsZero() || leg.From == leg.To {
		return nil
	}
	return d.ledger.Transfer(ctx, ledger.Transfer{
		Currency:       leg.Currency,
		From:           leg.From,
		To:             leg.To,
		Amount:         leg.Amount,
		IdempotencyKey: leg.IdempotencyKey,
		Memo:           leg.Name,
	})
}

func (d *Dispatcher) recordOutcome(ctx context.Context, leg Leg, sendErr error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payout: begin record: %w", err)
	}
	defer tx.Rollback(ctx)

	if sendErr == nil {
		err = d.repo.MarkPaid(ctx, tx, leg, d.now())
	} else {
		err = d.repo.MarkFailed(ctx, tx, leg, sendErr.Error())
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payout: commit record: %w", err)
	}
	return nil
}

// Outstanding counts legs of a source that are not paid yet.
func (d *Dispatcher) Outstanding(ctx context.Context, kind string, ref bytes32.ID) (int, error) {
	legs, err := d.repo.ListLegs(ctx, d.reader, kind, ref)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, leg := range legs {
		if leg.Status != StatusPaid {
			n++
		}
	}
	return n, nil
}

// Legs lists every leg of a source.
func (d *Dispatcher) Legs(ctx context.Context, kind string, ref bytes32.ID) ([]Leg, error) {
	return d.repo.ListLegs(ctx, d.reader, kind, ref)
}

// Pending reports whether a source still has unpaid legs.
func (d *Dispatcher) Pending(ctx context.Context, kind string, ref bytes32.ID) (bool, error) {
	n, err := d.Outstanding(ctx, kind, ref)
	return n > 0, err
}

package payout

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"oracleflow/bytes32"
	"oracleflow/errs"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
)

// Source kinds.
const (
	SourceAssertion = "assertion"
	SourceRequest   = "request"
)

var (
	ErrTransferFailed = errs.New(errs.Transfer, "payout: transfer failed, retry pending")
	ErrDuplicateLeg   = errs.New(errs.Conflict, "payout: leg already recorded")
	ErrNothingPending = errs.New(errs.Conflict, "payout: nothing pending")
	ErrInFlight       = errs.New(errs.Temporal, "payout: attempt already in flight")
)

// Leg is one transfer owed by a settled assertion or a resolved request.
type Leg struct {
	ID             uuid.UUID    `json:"id"`
	SourceKind     string       `json:"source_kind"`
	SourceRef      bytes32.ID   `json:"source_ref"`
	Name           string       `json:"leg"`
	Currency       string       `json:"currency"`
	From           string       `json:"from"`
	To             string       `json:"to"`
	Amount         *uint256.Int `json:"amount"`
	Status         Status       `json:"status"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"last_error,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	ClaimedAt      *time.Time   `json:"claimed_at,omitempty"`
}

// NewLeg builds a pending leg with a deterministic idempotency key.
func NewLeg(kind string, ref bytes32.ID, name, currency, from, to string, amount *uint256.Int) Leg {
	return Leg{
		ID:             uuid.New(),
		SourceKind:     kind,
		SourceRef:      ref,
		Name:           name,
		Currency:       currency,
		From:           from,
		To:             to,
		Amount:         amount.Clone(),
		Status:         StatusPending,
		IdempotencyKey: fmt.Sprintf("%s/%s/%s", kind, ref, name),
	}
}

// Summary reports the outcome of one dispatch.
type Summary struct {
	Paid        int `json:"paid"`
	Failed      int `json:"failed"`
	Outstanding int `json:"outstanding"`
}

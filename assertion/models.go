package assertion

import (
	"time"

	"github.com/holiman/uint256"

	"oracleflow/bytes32"
	"oracleflow/errs"
	"oracleflow/policy"
)

type PayoutStatus string

const (
	PayoutNone    PayoutStatus = "none"
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
)

var (
	ErrNotFound              = errs.New(errs.NotFound, "assertion: not found")
	ErrExists                = errs.New(errs.Conflict, "assertion: already exists")
	ErrUnsupportedCurrency   = errs.New(errs.Admission, "assertion: unsupported currency")
	ErrUnsupportedIdentifier = errs.New(errs.Admission, "assertion: unsupported identifier")
	ErrBondTooLow            = errs.New(errs.Admission, "assertion: bond amount too low")
	ErrBondTooLarge          = errs.New(errs.Admission, "assertion: bond amount too large")
	ErrInvalidLiveness       = errs.New(errs.Admission, "assertion: liveness must be positive")
	ErrAssertionRejected     = errs.New(errs.Admission, "assertion: rejected by escalation manager")
	ErrDisputeRejected       = errs.New(errs.Admission, "assertion: dispute rejected by escalation manager")
	ErrBondMismatch          = errs.New(errs.Admission, "assertion: dispute bond must match assertion bond")
	ErrAlreadyDisputed       = errs.New(errs.Conflict, "assertion: already disputed")
	ErrExpired               = errs.New(errs.Temporal, "assertion: liveness has expired")
	ErrNotExpired            = errs.New(errs.Temporal, "assertion: not expired")
	ErrAlreadySettled        = errs.New(errs.Conflict, "assertion: already settled")
	ErrResolutionNotReady    = errs.New(errs.Temporal, "assertion: resolution not ready")
	ErrNotSettled            = errs.New(errs.Temporal, "assertion: not settled")
	ErrNotDisputed           = errs.New(errs.Conflict, "assertion: not disputed")
	ErrEscalated             = errs.New(errs.Conflict, "assertion: dispute is resolved by vote")
	ErrPayoutNotPending      = errs.New(errs.Conflict, "assertion: settlement payout is not pending")
	ErrNotOwner              = errs.New(errs.Forbidden, "assertion: caller is not the owner")
	ErrStateChanged          = errs.New(errs.Temporal, "assertion: disputed while settling")
)

// Input describes a new assertion. Zero fields are filled by AssertWithDefaults.
type Input struct {
	Claim             bytes32.ID
	Asserter          string
	Caller            string
	Currency          string
	Bond              *uint256.Int
	Liveness          time.Duration
	Identifier        bytes32.ID
	DomainID          bytes32.ID
	CallbackRecipient string
	EscalationManager string
	IDOverride        *bytes32.ID
}

// Assertion is a bonded claim. Settings are frozen from the escalation manager
// when the assertion is made.
type Assertion struct {
	ID                bytes32.ID      `json:"id"`
	Claim             bytes32.ID      `json:"claim"`
	Asserter          string          `json:"asserter"`
	Caller            string          `json:"caller"`
	Currency          string          `json:"currency"`
	Bond              *uint256.Int    `json:"bond"`
	Identifier        bytes32.ID      `json:"identifier"`
	DomainID          bytes32.ID      `json:"domain_id"`
	AssertionTime     time.Time       `json:"assertion_time"`
	Liveness          time.Duration   `json:"liveness"`
	Expiration        time.Time       `json:"expiration"`
	CallbackRecipient string          `json:"callback_recipient,omitempty"`
	EscalationManager string          `json:"escalation_manager,omitempty"`
	Settings          policy.Settings `json:"settings"`
	Disputer          string          `json:"disputer,omitempty"`
	DisputeRequestID  *bytes32.ID     `json:"dispute_request_id,omitempty"`
	DisputedAt        time.Time       `json:"disputed_at"`
	Settled           bool            `json:"settled"`
	Resolution        *bool           `json:"settlement_resolution,omitempty"`
	SettledAt         time.Time       `json:"settled_at"`
	PayoutStatus      PayoutStatus    `json:"payout_status"`
}

func (a Assertion) Disputed() bool { return a.Disputer != "" }

// Ancillary is the ancillary data of this assertion's resolution request.
func (a Assertion) Ancillary() []byte {
	return Ancillary(a.ID, a.Asserter, a.Claim, a.DomainID)
}

func (a Assertion) clone() Assertion {
	a.Bond = a.Bond.Clone()
	if a.DisputeRequestID != nil {
		id := *a.DisputeRequestID
		a.DisputeRequestID = &id
	}
	if a.Resolution != nil {
		r := *a.Resolution
		a.Resolution = &r
	}
	return a
}

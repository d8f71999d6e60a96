package ledger

import (
	"context"

	"github.com/holiman/uint256"

	"oracleflow/errs"
)

var (
	ErrRejected          = errs.New(errs.Transfer, "ledger: transfer rejected")
	ErrUnavailable       = errs.New(errs.Transfer, "ledger: ledger unavailable")
	ErrInsufficientFunds = errs.New(errs.Transfer, "ledger: insufficient funds")
)

// Transfer moves Amount of Currency between two accounts. Ledgers treat a
// repeated IdempotencyKey as the same transfer.
type Transfer struct {
	Currency       string       `json:"currency"`
	From           string       `json:"from"`
	To             string       `json:"to"`
	Amount         *uint256.Int `json:"amount"`
	IdempotencyKey string       `json:"idempotency_key"`
	Memo           string       `json:"memo,omitempty"`
}

// Ledger is the external token transfer service.
type Ledger interface {
	Transfer(ctx context.Context, t Transfer) error
}

// Deposit is an inbound transfer carrying an instruction payload.
type Deposit struct {
	Currency string
	Sender   string
	Receiver string
	Amount   *uint256.Int
	Msg      string
}

// Receiver handles deposits and reports how much of the amount to send back.
type Receiver interface {
	OnTransfer(ctx context.Context, d Deposit) (refund *uint256.Int, err error)
}

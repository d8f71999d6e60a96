// Package deposit turns deposits that carry an instruction payload into
// engine calls. A rejected instruction refunds the whole deposit.
package deposit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"oracleflow/assertion"
	"oracleflow/bytes32"
	"oracleflow/ledger"
	"oracleflow/params"
	"oracleflow/registry"
	"oracleflow/units"
	"oracleflow/voting"
)

type Assertions interface {
	AssertWithDefaults(ctx context.Context, in assertion.Input) (assertion.Assertion, error)
	Dispute(ctx context.Context, id bytes32.ID, disputer, caller, currency string, bond *uint256.Int) (assertion.Assertion, error)
}

type Votes interface {
	CommitVote(ctx context.Context, voter string, id, commitHash bytes32.ID, currency string, stake *uint256.Int) (voting.Vote, error)
}

type Directory interface {
	Lookup(ctx context.Context, name string) (string, error)
}

type ParamsSource interface {
	Voting(ctx context.Context) (params.VotingParams, error)
}

// Receiver implements ledger.Receiver for both escrows.
type Receiver struct {
	assertions Assertions
	votes      Votes
	directory  Directory
	params     ParamsSource
	log        *zap.Logger
}

var _ ledger.Receiver = (*Receiver)(nil)

func NewReceiver(assertions Assertions, votes Votes, directory Directory, p ParamsSource) *Receiver {
	return &Receiver{assertions: assertions, votes: votes, directory: directory, params: p, log: zap.NewNop()}
}

func (r *Receiver) WithLogger(log *zap.Logger) *Receiver {
	if log != nil {
		r.log = log
	}
	return r
}

// Decode parses a deposit message, rejecting unknown fields.
func Decode(msg string) (Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader([]byte(msg)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch m.Action {
	case ActionAssertTruth, ActionDispute, ActionCommitVote:
		return m, nil
	case "":
		return Message{}, fmt.Errorf("%w: missing action", ErrMalformed)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownAction, m.Action)
	}
}

// OnTransfer runs the instruction and refunds everything when it fails.
func (r *Receiver) OnTransfer(ctx context.Context, d ledger.Deposit) (*uint256.Int, error) {
	if _, err := r.Handle(ctx, d); err != nil {
		if d.Amount == nil {
			return units.Zero(), err
		}
		return d.Amount.Clone(), err
	}
	return units.Zero(), nil
}

// Handle validates the deposit and its message before calling an engine.
func (r *Receiver) Handle(ctx context.Context, d ledger.Deposit) (Result, error) {
	if d.Amount == nil || d.Amount.IsZero() {
		return Result{}, ErrZeroAmount
	}
	m, err := Decode(d.Msg)
	if err != nil {
		r.log.Debug("deposit rejected", zap.String("account", d.Sender), zap.Error(err))
		return Result{}, err
	}

	var res Result
	switch m.Action {
	case ActionAssertTruth:
		res, err = r.assert(ctx, d, m)
	case ActionDispute:
		res, err = r.dispute(ctx, d, m)
	case ActionCommitVote:
		res, err = r.commit(ctx, d, m)
	}
	if err != nil {
		r.log.Debug("deposit refunded", zap.String("account", d.Sender), zap.String("action", string(m.Action)),
			zap.String("currency", d.Currency), zap.String("amount", d.Amount.Dec()), zap.Error(err))
		return Result{}, err
	}
	res.Action = m.Action
	res.Refund = "0"
	return res, nil
}

func (r *Receiver) expectReceiver(ctx context.Context, d ledger.Deposit, name string) error {
	escrow, err := r.directory.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if d.Receiver != escrow {
		return fmt.Errorf("%w: %s expects %s", ErrWrongReceiver, name, escrow)
	}
	return nil
}

const maxLivenessSeconds = math.MaxInt64 / int64(time.Second)

func (r *Receiver) assert(ctx context.Context, d ledger.Deposit, m Message) (Result, error) {
	claim, err := assertion.ParseClaim(m.Claim)
	if err != nil {
		return Result{}, err
	}
	switch {
	case m.LivenessSeconds < 0:
		return Result{}, fmt.Errorf("%w: negative liveness", ErrMalformed)
	case m.LivenessSeconds > maxLivenessSeconds:
		return Result{}, fmt.Errorf("%w: liveness out of range", ErrMalformed)
	}
	in := assertion.Input{
		Claim:             claim,
		Asserter:          m.Asserter,
		Caller:            d.Sender,
		Currency:          d.Currency,
		Bond:              d.Amount.Clone(),
		Liveness:          time.Duration(m.LivenessSeconds) * time.Second,
		CallbackRecipient: m.CallbackRecipient,
		EscalationManager: m.EscalationManager,
	}
	if in.Identifier, err = parseTag(m.Identifier); err != nil {
		return Result{}, err
	}
	if in.DomainID, err = parseTag(m.DomainID); err != nil {
		return Result{}, err
	}
	if m.AssertionID != "" {
		id, err := parseHex("assertion_id", m.AssertionID)
		if err != nil {
			return Result{}, err
		}
		in.IDOverride = &id
	}
	if err := r.expectReceiver(ctx, d, registry.NameOptimisticOracle); err != nil {
		return Result{}, err
	}

	a, err := r.assertions.AssertWithDefaults(ctx, in)
	if err != nil {
		return Result{}, err
	}
	return Result{AssertionID: &a.ID}, nil
}

func (r *Receiver) dispute(ctx context.Context, d ledger.Deposit, m Message) (Result, error) {
	id, err := parseHex("assertion_id", m.AssertionID)
	if err != nil {
		return Result{}, err
	}
	if err := r.expectReceiver(ctx, d, registry.NameOptimisticOracle); err != nil {
		return Result{}, err
	}
	a, err := r.assertions.Dispute(ctx, id, m.Disputer, d.Sender, d.Currency, d.Amount)
	if err != nil {
		return Result{}, err
	}
	return Result{AssertionID: &a.ID, RequestID: a.DisputeRequestID}, nil
}

func (r *Receiver) commit(ctx context.Context, d ledger.Deposit, m Message) (Result, error) {
	id, err := parseHex("request_id", m.RequestID)
	if err != nil {
		return Result{}, err
	}
	hash, err := parseHex("commit_hash", m.CommitHash)
	if err != nil {
		return Result{}, err
	}
	cfg, err := r.params.Voting(ctx)
	if err != nil {
		return Result{}, err
	}
	if d.Currency != cfg.VotingToken {
		return Result{}, fmt.Errorf("%w: votes are staked in %s", ErrWrongCurrency, cfg.VotingToken)
	}
	if err := r.expectReceiver(ctx, d, registry.NameVoting); err != nil {
		return Result{}, err
	}
	v, err := r.votes.CommitVote(ctx, d.Sender, id, hash, d.Currency, d.Amount)
	if err != nil {
		return Result{}, err
	}
	return Result{RequestID: &v.RequestID}, nil
}

func parseHex(field, s string) (bytes32.ID, error) {
	if s == "" {
		return bytes32.Zero, fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}
	id, err := bytes32.Parse(s)
	if err != nil {
		return bytes32.Zero, fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return id, nil
}

// parseTag accepts 64 hex characters or a short ASCII tag. Empty is zero.
func parseTag(s string) (bytes32.ID, error) {
	if s == "" {
		return bytes32.Zero, nil
	}
	if id, err := bytes32.Parse(s); err == nil {
		return id, nil
	}
	id, err := bytes32.FromString(s)
	if err != nil {
		return bytes32.Zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return id, nil
}

package assertion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/eventlog"
	"oracleflow/notify"
	"oracleflow/params"
	"oracleflow/payout"
	"oracleflow/policy"
	"oracleflow/registry"
	"oracleflow/units"
	"oracleflow/voting"
)

type EventWriter interface {
	Append(ctx context.Context, tx pgx.Tx, ev eventlog.Event) error
	List(ctx context.Context, q db.Querier, kind string, id bytes32.ID) ([]eventlog.Record, error)
}

type ParamsSource interface {
	Oracle(ctx context.Context) (params.OracleParams, error)
}

type Registry interface {
	IsCurrencyWhitelisted(ctx context.Context, currency string) (bool, error)
	IsIdentifierWhitelisted(ctx context.Context, id bytes32.ID) (bool, error)
	MinimumBond(ctx context.Context, currency string, burnedFraction *uint256.Int) (*uint256.Int, error)
	Lookup(ctx context.Context, name string) (string, error)
}

// Requests is the resolution engine as seen by disputes and settlement.
type Requests interface {
	OpenRequestTx(ctx context.Context, tx pgx.Tx, caller string, identifier bytes32.ID, at time.Time, ancillary []byte) (voting.Request, error)
	ResolvedPrice(ctx context.Context, id bytes32.ID) (int64, bool, error)
}

type Policies interface {
	Resolve(address string) (policy.Hook, error)
}

type Payouts interface {
	Record(ctx context.Context, tx pgx.Tx, legs []payout.Leg) error
	Dispatch(ctx context.Context, kind string, ref bytes32.ID) (payout.Summary, error)
	Legs(ctx context.Context, kind string, ref bytes32.ID) ([]payout.Leg, error)
}

type Service struct {
	pool     db.TxBeginner
	reader   db.Querier
	repo     Repository
	params   ParamsSource
	registry Registry
	requests Requests
	policies Policies
	payouts  Payouts
	events   EventWriter
	notifier notify.Sink
	log      *zap.Logger
	now      func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, p ParamsSource, reg Registry, requests Requests,
	policies Policies, payouts Payouts, events EventWriter) *Service {
	if repo == nil {
		repo = NewPGRepository()
	}
	return &Service{
		pool:     pool,
		reader:   db.ReaderOf(pool),
		repo:     repo,
		params:   p,
		registry: reg,
		requests: requests,
		policies: policies,
		payouts:  payouts,
		events:   events,
		notifier: notify.Nop{},
		log:      zap.NewNop(),
		now:      time.Now,
	}
}

func (s *Service) WithLogger(log *zap.Logger) *Service {
	if log != nil {
		s.log = log
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) WithNotifier(sink notify.Sink) *Service {
	if sink != nil {
		s.notifier = sink
	}
	return s
}

func (s *Service) Get(ctx context.Context, id bytes32.ID) (Assertion, error) {
	return s.repo.Get(ctx, s.reader, id, false)
}

func (s *Service) Events(ctx context.Context, id bytes32.ID) ([]eventlog.Record, error) {
	if _, err := s.repo.Get(ctx, s.reader, id, false); err != nil {
		return nil, err
	}
	return s.events.List(ctx, s.reader, eventlog.KindAssertion, id)
}

func (s *Service) Payouts(ctx context.Context, id bytes32.ID) ([]payout.Leg, error) {
	return s.payouts.Legs(ctx, payout.SourceAssertion, id)
}

// MinimumBond is ceil(final_fee * 1e18 / burned_bond_fraction) for currency.
func (s *Service) MinimumBond(ctx context.Context, currency string) (*uint256.Int, error) {
	cfg, err := s.params.Oracle(ctx)
	if err != nil {
		return nil, err
	}
	return s.registry.MinimumBond(ctx, currency, cfg.BurnedBondFraction)
}

func (s *Service) IsCurrencyWhitelisted(ctx context.Context, currency string) (bool, error) {
	return s.registry.IsCurrencyWhitelisted(ctx, currency)
}

func (s *Service) IsIdentifierWhitelisted(ctx context.Context, id bytes32.ID) (bool, error) {
	return s.registry.IsIdentifierWhitelisted(ctx, id)
}

// DisputeRequestID returns the resolution request opened by the dispute, if any.
func (s *Service) DisputeRequestID(ctx context.Context, id bytes32.ID) (*bytes32.ID, error) {
	a, err := s.repo.Get(ctx, s.reader, id, false)
	if err != nil {
		return nil, err
	}
	return a.DisputeRequestID, nil
}

// Result returns the settled resolution.
func (s *Service) Result(ctx context.Context, id bytes32.ID) (bool, error) {
	a, err := s.repo.Get(ctx, s.reader, id, false)
	if err != nil {
		return false, err
	}
	if !a.Settled || a.Resolution == nil {
		return false, ErrNotSettled
	}
	return *a.Resolution, nil
}

// AssertWithDefaults fills the default currency, identifier and liveness and
// bonds the minimum when no bond is given.
func (s *Service) AssertWithDefaults(ctx context.Context, in Input) (Assertion, error) {
	cfg, err := s.params.Oracle(ctx)
	if err != nil {
		return Assertion{}, err
	}
	if in.Currency == "" {
		in.Currency = cfg.DefaultCurrency
	}
	if in.Identifier.IsZero() {
		in.Identifier = cfg.DefaultIdentifier
	}
	if in.Liveness == 0 {
		in.Liveness = cfg.DefaultLiveness
	}
	if in.Bond == nil {
		minBond, err := s.registry.MinimumBond(ctx, in.Currency, cfg.BurnedBondFraction)
		if err != nil {
			if errors.Is(err, registry.ErrCurrencyNotWhitelisted) {
				return Assertion{}, ErrUnsupportedCurrency
			}
			return Assertion{}, err
		}
		in.Bond = minBond
	}
	return s.Assert(ctx, in)
}

// Assert records a bonded claim. The bond is already held by the oracle escrow.
func (s *Service) Assert(ctx context.Context, in Input) (Assertion, error) {
	if in.Asserter == "" {
		in.Asserter = in.Caller
	}
	if in.Liveness <= 0 {
		return Assertion{}, ErrInvalidLiveness
	}
	if in.Bond == nil {
		return Assertion{}, ErrBondTooLow
	}
	if in.Bond.Gt(units.MaxAmount()) {
		return Assertion{}, ErrBondTooLarge
	}

	ok, err := s.registry.IsCurrencyWhitelisted(ctx, in.Currency)
	if err != nil {
		return Assertion{}, err
	}
	if !ok {
		s.log.Debug("assert rejected", zap.String("currency", in.Currency), zap.Error(ErrUnsupportedCurrency))
		return Assertion{}, ErrUnsupportedCurrency
	}
	if ok, err = s.registry.IsIdentifierWhitelisted(ctx, in.Identifier); err != nil {
		return Assertion{}, err
	} else if !ok {
		return Assertion{}, ErrUnsupportedIdentifier
	}
	minBond, err := s.MinimumBond(ctx, in.Currency)
	if err != nil {
		return Assertion{}, err
	}
	if in.Bond.Lt(minBond) {
		s.log.Debug("assert rejected", zap.String("amount", in.Bond.Dec()), zap.String("minimum", minBond.Dec()))
		return Assertion{}, fmt.Errorf("%w: minimum is %s", ErrBondTooLow, minBond.Dec())
	}

	var settings policy.Settings
	if in.EscalationManager != "" {
		hook, err := s.policies.Resolve(in.EscalationManager)
		if err != nil {
			return Assertion{}, err
		}
		settings = hook.Settings()
		if settings.BlockByAssertingCaller || settings.BlockByAsserter {
			allowed, err := hook.IsAssertionAllowed(ctx, in.Claim, in.Asserter, in.Caller)
			if err != nil {
				return Assertion{}, err
			}
			if !allowed {
				return Assertion{}, ErrAssertionRejected
			}
		}
	}

	now := s.now()
	a := Assertion{
		Claim:             in.Claim,
		Asserter:          in.Asserter,
		Caller:            in.Caller,
		Currency:          in.Currency,
		Bond:              in.Bond.Clone(),
		Identifier:        in.Identifier,
		DomainID:          in.DomainID,
		AssertionTime:     now,
		Liveness:          in.Liveness,
		Expiration:        now.Add(in.Liveness),
		CallbackRecipient: in.CallbackRecipient,
		EscalationManager: in.EscalationManager,
		Settings: policy.Settings{
			ValidateDisputers:   settings.ValidateDisputers,
			ArbitrateViaManager: settings.ArbitrateViaManager,
			DiscardOracle:       settings.DiscardOracle,
		},
		PayoutStatus: PayoutNone,
	}
	if in.IDOverride != nil {
		a.ID = *in.IDOverride
	} else {
		a.ID = Fingerprint(in, now.UnixNano())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Assertion{}, fmt.Errorf("assertion: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Insert(ctx, tx, a); err != nil {
		return Assertion{}, err
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindAssertion,
		AggregateID:   a.ID,
		Name:          eventlog.AssertionMade,
		Payload: map[string]any{
			"domain_id":          a.DomainID.String(),
			"claim":              a.Claim.String(),
			"asserter":           a.Asserter,
			"callback_recipient": a.CallbackRecipient,
			"escalation_manager": a.EscalationManager,
			"caller":             a.Caller,
			"expiration_ns":      a.Expiration.UnixNano(),
			"currency":           a.Currency,
			"bond":               a.Bond.Dec(),
			"identifier":         a.Identifier.Tag(),
		},
	}); err != nil {
		return Assertion{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Assertion{}, fmt.Errorf("assertion: commit assert: %w", err)
	}
	s.log.Info("assertion made", zap.String("assertion_id", a.ID.String()), zap.String("account", a.Asserter),
		zap.String("currency", a.Currency), zap.String("amount", a.Bond.Dec()))
	return a, nil
}

// Dispute challenges an open assertion with a matching bond already held by
// the oracle escrow. Unless the escalation manager arbitrates, a resolution
// request is opened in the same transaction.
func (s *Service) Dispute(ctx context.Context, id bytes32.ID, disputer, caller, currency string, bond *uint256.Int) (Assertion, error) {
	if disputer == "" {
		disputer = caller
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Assertion{}, fmt.Errorf("assertion: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.Get(ctx, tx, id, true)
	if err != nil {
		return Assertion{}, err
	}
	now := s.now()
	switch {
	case a.Settled:
		return Assertion{}, ErrAlreadySettled
	case a.Disputed():
		return Assertion{}, ErrAlreadyDisputed
	case !now.Before(a.Expiration):
		return Assertion{}, ErrExpired
	case currency != a.Currency || bond == nil || !bond.Eq(a.Bond):
		return Assertion{}, ErrBondMismatch
	}

	if a.Settings.ValidateDisputers {
		hook, err := s.policies.Resolve(a.EscalationManager)
		if err != nil {
			return Assertion{}, err
		}
		allowed, err := hook.IsDisputeAllowed(ctx, id, disputer)
		if err != nil {
			return Assertion{}, err
		}
		if !allowed {
			s.log.Debug("dispute rejected", zap.String("assertion_id", id.String()), zap.String("account", disputer))
			return Assertion{}, ErrDisputeRejected
		}
	}

	a.Disputer = disputer
	a.DisputedAt = now
	if !a.Settings.ArbitrateViaManager {
		requester, err := s.registry.Lookup(ctx, registry.NameOptimisticOracle)
		if err != nil {
			return Assertion{}, err
		}
		req, err := s.requests.OpenRequestTx(ctx, tx, requester, a.Identifier, a.AssertionTime, a.Ancillary())
		if err != nil {
			return Assertion{}, fmt.Errorf("assertion: open resolution request: %w", err)
		}
		a.DisputeRequestID = &req.ID
	}
	if err := s.repo.Update(ctx, tx, a); err != nil {
		return Assertion{}, err
	}

	payload := map[string]any{"caller": caller, "disputer": disputer}
	if a.DisputeRequestID != nil {
		payload["request_id"] = a.DisputeRequestID.String()
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindAssertion,
		AggregateID:   id,
		Name:          eventlog.AssertionDisputed,
		Payload:       payload,
	}); err != nil {
		return Assertion{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Assertion{}, fmt.Errorf("assertion: commit dispute: %w", err)
	}
	s.log.Info("assertion disputed", zap.String("assertion_id", id.String()), zap.String("account", disputer))

	if a.CallbackRecipient != "" && !a.Settings.DiscardOracle {
		s.deliver(ctx, notify.Notification{Kind: notify.KindDisputed, Recipient: a.CallbackRecipient, AssertionID: id})
	}
	return a, nil
}

// Settle finalizes an assertion. The settled flag and resolution commit
// before any transfer; a failed transfer leaves the payout pending.
func (s *Service) Settle(ctx context.Context, id bytes32.ID) (Assertion, error) {
	a, err := s.repo.Get(ctx, s.reader, id, false)
	if err != nil {
		return Assertion{}, err
	}
	if a.Settled {
		return Assertion{}, ErrAlreadySettled
	}

	var resolution bool
	if !a.Disputed() {
		if s.now().Before(a.Expiration) {
			return Assertion{}, ErrNotExpired
		}
		resolution = true
	} else {
		resolution, err = s.disputedResolution(ctx, a)
		if err != nil {
			return Assertion{}, err
		}
	}
	return s.settle(ctx, a, resolution, "")
}

func (s *Service) disputedResolution(ctx context.Context, a Assertion) (bool, error) {
	if a.Settings.ArbitrateViaManager || a.Settings.DiscardOracle {
		hook, err := s.policies.Resolve(a.EscalationManager)
		if err != nil {
			return false, err
		}
		ref := policy.Ref{AssertionID: a.ID, RequestKey: voting.RequestID(a.Identifier, a.AssertionTime, a.Ancillary())}
		override, err := hook.ResolutionOverride(ctx, ref)
		if err != nil {
			return false, err
		}
		switch {
		case override != nil:
			return *override, nil
		case a.Settings.ArbitrateViaManager:
			return false, ErrResolutionNotReady
		default:
			return false, nil
		}
	}

	if a.DisputeRequestID == nil {
		return false, ErrResolutionNotReady
	}
	price, ok, err := s.requests.ResolvedPrice(ctx, *a.DisputeRequestID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrResolutionNotReady
	}
	if price != units.NumericalTrue && price != 0 {
		s.log.Warn("non-canonical resolved price, disputer wins",
			zap.String("assertion_id", a.ID.String()), zap.Int64("price", price))
	}
	return price == units.NumericalTrue, nil
}

// ResolveDisputedAssertion is the owner's fallback for a dispute that was not
// escalated to a vote.
func (s *Service) ResolveDisputedAssertion(ctx context.Context, caller string, id bytes32.ID, resolution bool) (Assertion, error) {
	cfg, err := s.params.Oracle(ctx)
	if err != nil {
		return Assertion{}, err
	}
	if caller != cfg.Owner {
		return Assertion{}, ErrNotOwner
	}
	a, err := s.repo.Get(ctx, s.reader, id, false)
	if err != nil {
		return Assertion{}, err
	}
	switch {
	case a.Settled:
		return Assertion{}, ErrAlreadySettled
	case !a.Disputed():
		return Assertion{}, ErrNotDisputed
	case a.DisputeRequestID != nil:
		return Assertion{}, ErrEscalated
	}
	s.log.Warn("owner resolved dispute", zap.String("assertion_id", id.String()), zap.Bool("resolution", resolution))
	return s.settle(ctx, a, resolution, caller)
}

// settle commits a resolution computed from seen. The locked row must still
// be in the same dispute state, otherwise the resolution is stale.
func (s *Service) settle(ctx context.Context, seen Assertion, resolution bool, owner string) (Assertion, error) {
	id := seen.ID
	cfg, err := s.params.Oracle(ctx)
	if err != nil {
		return Assertion{}, err
	}
	escrow, err := s.registry.Lookup(ctx, registry.NameOptimisticOracle)
	if err != nil {
		return Assertion{}, err
	}
	treasury, err := s.registry.Lookup(ctx, registry.NameStore)
	if err != nil {
		return Assertion{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Assertion{}, fmt.Errorf("assertion: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.Get(ctx, tx, id, true)
	if err != nil {
		return Assertion{}, err
	}
	if a.Settled {
		return Assertion{}, ErrAlreadySettled
	}
	if a.Disputed() != seen.Disputed() || !sameRequest(a.DisputeRequestID, seen.DisputeRequestID) {
		return Assertion{}, ErrStateChanged
	}

	winner, amount, fee, err := Payout(a, resolution, cfg.BurnedBondFraction)
	if err != nil {
		return Assertion{}, err
	}
	var legs []payout.Leg
	if a.Disputed() {
		legs = append(legs, payout.NewLeg(payout.SourceAssertion, id, "winner", a.Currency, escrow, winner, amount))
		if !fee.IsZero() {
			legs = append(legs, payout.NewLeg(payout.SourceAssertion, id, "fee", a.Currency, escrow, treasury, fee))
		}
	} else {
		legs = append(legs, payout.NewLeg(payout.SourceAssertion, id, "bond", a.Currency, escrow, winner, amount))
	}

	now := s.now()
	a.Settled = true
	a.Resolution = &resolution
	a.SettledAt = now
	a.PayoutStatus = PayoutPending
	if err := s.repo.Update(ctx, tx, a); err != nil {
		return Assertion{}, err
	}
	if err := s.payouts.Record(ctx, tx, legs); err != nil {
		return Assertion{}, err
	}
	settled := map[string]any{
		"bond_recipient":        winner,
		"disputed":              a.Disputed(),
		"settlement_resolution": resolution,
	}
	if owner != "" {
		settled["resolved_by"] = owner
	}
	for _, ev := range []eventlog.Event{
		{AggregateKind: eventlog.KindAssertion, AggregateID: id, Name: eventlog.AssertionSettled, Payload: settled},
		{AggregateKind: eventlog.KindAssertion, AggregateID: id, Name: eventlog.AssertionSettlementPending, Payload: map[string]any{
			"payout_recipient": winner,
			"payout_amount":    amount.Dec(),
			"oracle_fee":       fee.Dec(),
		}},
	} {
		if err := s.events.Append(ctx, tx, ev); err != nil {
			return Assertion{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Assertion{}, fmt.Errorf("assertion: commit settle: %w", err)
	}
	s.log.Info("assertion settled", zap.String("assertion_id", id.String()), zap.Bool("resolution", resolution),
		zap.String("account", winner), zap.String("amount", amount.Dec()))

	a.PayoutStatus, _ = s.pay(ctx, a)

	if a.CallbackRecipient != "" && !a.Settings.DiscardOracle {
		s.deliver(ctx, notify.Notification{Kind: notify.KindResolved, Recipient: a.CallbackRecipient, AssertionID: id, Truthful: &resolution})
	}
	return a, nil
}

func sameRequest(a, b *bytes32.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Payout returns the bond recipient, what it receives and the oracle fee. A
// disputed assertion pays 2*bond - fee to the winner where fee = burned*bond/1e18.
func Payout(a Assertion, resolution bool, burned *uint256.Int) (winner string, amount, fee *uint256.Int, err error) {
	if !a.Disputed() {
		return a.Asserter, a.Bond.Clone(), units.Zero(), nil
	}
	fee, err = units.MulDiv(burned, a.Bond, units.Scale())
	if err != nil {
		return "", nil, nil, err
	}
	both, err := units.Add(a.Bond, a.Bond)
	if err != nil {
		return "", nil, nil, err
	}
	amount, err = units.Sub(both, fee)
	if err != nil {
		return "", nil, nil, err
	}
	winner = a.Disputer
	if resolution {
		winner = a.Asserter
	}
	return winner, amount, fee, nil
}

// pay dispatches the assertion's legs and records the outcome. A pending
// status comes with the reason.
func (s *Service) pay(ctx context.Context, a Assertion) (PayoutStatus, error) {
	sum, err := s.payouts.Dispatch(ctx, payout.SourceAssertion, a.ID)
	switch {
	case errors.Is(err, payout.ErrInFlight):
		return PayoutPending, err
	case err != nil && !errors.Is(err, payout.ErrTransferFailed):
		s.log.Error("settlement dispatch", zap.String("assertion_id", a.ID.String()), zap.Error(err))
		return PayoutPending, err
	}
	if sum.Outstanding > 0 {
		if evErr := s.appendStandalone(ctx, a.ID, eventlog.AssertionSettlementPayoutFailed, map[string]any{
			"settlement_resolution": *a.Resolution,
			"failed":                sum.Failed,
			"outstanding":           sum.Outstanding,
		}, nil); evErr != nil {
			s.log.Error("record payout failure", zap.String("assertion_id", a.ID.String()), zap.Error(evErr))
		}
		return PayoutPending, payout.ErrTransferFailed
	}

	if err := s.markPaid(ctx, a.ID); err != nil {
		s.log.Error("mark payout paid", zap.String("assertion_id", a.ID.String()), zap.Error(err))
		return PayoutPending, err
	}
	return PayoutPaid, nil
}

func (s *Service) markPaid(ctx context.Context, id bytes32.ID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("assertion: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.Get(ctx, tx, id, true)
	if err != nil {
		return err
	}
	a.PayoutStatus = PayoutPaid
	if err := s.repo.Update(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) appendStandalone(ctx context.Context, id bytes32.ID, name string, payload any, guard func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("assertion: begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if guard != nil {
		if err := guard(tx); err != nil {
			return err
		}
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindAssertion,
		AggregateID:   id,
		Name:          name,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RetrySettlementPayout re-attempts the unpaid transfers of a settled
// assertion. Anyone may call it; notifications are not re-sent.
func (s *Service) RetrySettlementPayout(ctx context.Context, caller string, id bytes32.ID) (Assertion, error) {
	var a Assertion
	err := s.appendStandalone(ctx, id, eventlog.AssertionSettlementRetryRequested, map[string]any{"caller": caller},
		func(tx pgx.Tx) error {
			var err error
			a, err = s.repo.Get(ctx, tx, id, true)
			if err != nil {
				return err
			}
			if !a.Settled || a.PayoutStatus != PayoutPending {
				return ErrPayoutNotPending
			}
			return nil
		})
	if err != nil {
		return Assertion{}, err
	}

	a.PayoutStatus, err = s.pay(ctx, a)
	return a, err
}

// SettleAndGetResult settles when needed and returns the resolution.
func (s *Service) SettleAndGetResult(ctx context.Context, id bytes32.ID) (bool, error) {
	if _, err := s.Settle(ctx, id); err != nil && !errors.Is(err, ErrAlreadySettled) {
		return false, err
	}
	return s.Result(ctx, id)
}

func (s *Service) deliver(ctx context.Context, n notify.Notification) {
	n.IssuedAt = s.now()
	if err := s.notifier.Deliver(ctx, n); err != nil {
		s.log.Warn("notification dropped", zap.String("assertion_id", n.AssertionID.String()),
			zap.String("account", n.Recipient), zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

package voting

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
	"oracleflow/params"
	"oracleflow/payout"
	"oracleflow/registry"
	"oracleflow/units"
)

type EventWriter interface {
	Append(ctx context.Context, tx pgx.Tx, ev eventlog.Event) error
}

// ParamsSource yields the current voting configuration.
type ParamsSource interface {
	Voting(ctx context.Context) (params.VotingParams, error)
}

// Registry answers requester authorization and escrow directory lookups.
type Registry interface {
	IsAuthorized(ctx context.Context, account string) (bool, error)
	Lookup(ctx context.Context, name string) (string, error)
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
	payouts  Payouts
	events   EventWriter
	log      *zap.Logger
	now      func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, p ParamsSource, reg Registry, payouts Payouts, events EventWriter) *Service {
	if repo == nil {
		repo = NewPGRepository()
	}
	return &Service{
		pool:     pool,
		reader:   db.ReaderOf(pool),
		repo:     repo,
		params:   p,
		registry: reg,
		payouts:  payouts,
		events:   events,
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

func (s *Service) Request(ctx context.Context, id bytes32.ID) (Request, error) {
	return s.repo.GetRequest(ctx, s.reader, id, false)
}

func (s *Service) Votes(ctx context.Context, id bytes32.ID) ([]Vote, error) {
	if _, err := s.repo.GetRequest(ctx, s.reader, id, false); err != nil {
		return nil, err
	}
	return s.repo.ListVotes(ctx, s.reader, id)
}

// ResolvedPrice returns the price of a resolved request; ok is false while it is still open.
func (s *Service) ResolvedPrice(ctx context.Context, id bytes32.ID) (price int64, ok bool, err error) {
	r, err := s.repo.GetRequest(ctx, s.reader, id, false)
	if err != nil {
		return 0, false, err
	}
	if r.Phase != PhaseResolved || r.ResolvedPrice == nil {
		return 0, false, nil
	}
	return *r.ResolvedPrice, true, nil
}

// Releases lists the stake release legs of a request.
func (s *Service) Releases(ctx context.Context, id bytes32.ID) ([]payout.Leg, error) {
	return s.payouts.Legs(ctx, payout.SourceRequest, id)
}

func (s *Service) OpenRequest(ctx context.Context, caller string, identifier bytes32.ID, at time.Time, ancillary []byte) (Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("voting: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.OpenRequestTx(ctx, tx, caller, identifier, at, ancillary)
	if err != nil {
		return Request{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("voting: commit open request: %w", err)
	}
	s.log.Info("price requested", zap.String("request_id", r.ID.String()), zap.String("account", caller))
	return r, nil
}

// OpenRequestTx opens a request inside the caller's transaction. The request
// copies the voting configuration in force at this moment.
func (s *Service) OpenRequestTx(ctx context.Context, tx pgx.Tx, caller string, identifier bytes32.ID, at time.Time, ancillary []byte) (Request, error) {
	ok, err := s.registry.IsAuthorized(ctx, caller)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		s.log.Debug("unauthorized requester", zap.String("account", caller))
		return Request{}, ErrNotAuthorized
	}
	cfg, err := s.params.Voting(ctx)
	if err != nil {
		return Request{}, err
	}

	now := s.now()
	r := Request{
		ID:         RequestID(identifier, at, ancillary),
		Identifier: identifier,
		Time:       at,
		Ancillary:  append([]byte(nil), ancillary...),
		Requester:  caller,
		Phase:      PhaseCommit,
		CommitEnd:  now.Add(cfg.CommitDuration),
		Terms: Terms{
			StakeCurrency:       cfg.VotingToken,
			CommitDuration:      cfg.CommitDuration,
			RevealDuration:      cfg.RevealDuration,
			MinParticipationBps: cfg.MinParticipationBps,
			SlashRateBps:        cfg.SlashRateBps,
			TreasuryBps:         cfg.TreasuryBps,
			MaxExtensions:       cfg.MaxExtensions,
		},
		TotalCommitted: units.Zero(),
		TotalRevealed:  units.Zero(),
	}
	if err := s.repo.InsertRequest(ctx, tx, r); err != nil {
		return Request{}, err
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindRequest,
		AggregateID:   r.ID,
		Name:          eventlog.PriceRequested,
		Payload: map[string]any{
			"identifier":    r.Identifier.Tag(),
			"time_ns":       r.Time.UnixNano(),
			"ancillary":     string(r.Ancillary),
			"requester":     caller,
			"commit_end_ns": r.CommitEnd.UnixNano(),
		},
	}); err != nil {
		return Request{}, err
	}
	return r, nil
}

// CommitVote locks stake behind a sealed vote. The stake has already been
// received into the voting escrow in currency.
func (s *Service) CommitVote(ctx context.Context, voter string, id, commitHash bytes32.ID, currency string, stake *uint256.Int) (Vote, error) {
	if stake == nil || stake.IsZero() {
		return Vote{}, ErrZeroStake
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Vote{}, fmt.Errorf("voting: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.repo.GetRequest(ctx, tx, id, true)
	if err != nil {
		return Vote{}, err
	}
	now := s.now()
	if r.Phase != PhaseCommit {
		return Vote{}, ErrNotCommitPhase
	}
	if !now.Before(r.CommitEnd) {
		return Vote{}, ErrCommitEnded
	}
	if currency != r.Terms.StakeCurrency {
		return Vote{}, ErrWrongToken
	}
	total, err := units.Add(r.TotalCommitted, stake)
	if err != nil {
		return Vote{}, err
	}

	v := Vote{RequestID: id, Voter: voter, Stake: stake.Clone(), CommitHash: commitHash, CommittedAt: now}
	if err := s.repo.InsertVote(ctx, tx, v); err != nil {
		return Vote{}, err
	}
	r.TotalCommitted = total
	r.VoterCount++
	if err := s.repo.UpdateRequest(ctx, tx, r); err != nil {
		return Vote{}, err
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindRequest,
		AggregateID:   id,
		Name:          eventlog.VoteCommitted,
		Payload:       map[string]any{"voter": voter, "stake": stake.Dec(), "commit_hash": commitHash.String()},
	}); err != nil {
		return Vote{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Vote{}, fmt.Errorf("voting: commit vote: %w", err)
	}
	s.log.Debug("vote committed", zap.String("request_id", id.String()), zap.String("account", voter), zap.String("amount", stake.Dec()))
	return v, nil
}

func (s *Service) AdvanceToReveal(ctx context.Context, id bytes32.ID) (Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("voting: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.repo.GetRequest(ctx, tx, id, true)
	if err != nil {
		return Request{}, err
	}
	now := s.now()
	if r.Phase != PhaseCommit {
		return Request{}, ErrNotCommitPhase
	}
	if now.Before(r.CommitEnd) {
		return Request{}, ErrCommitNotEnded
	}
	r.Phase = PhaseReveal
	r.RevealEnd = now.Add(r.Terms.RevealDuration)
	if err := s.repo.UpdateRequest(ctx, tx, r); err != nil {
		return Request{}, err
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindRequest,
		AggregateID:   id,
		Name:          eventlog.RevealPhaseStarted,
		Payload:       map[string]any{"reveal_end_ns": r.RevealEnd.UnixNano(), "voter_count": r.VoterCount},
	}); err != nil {
		return Request{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("voting: commit advance: %w", err)
	}
	return r, nil
}

// RevealVote opens a sealed vote. A mismatching (price, salt) leaves the
// commitment untouched.
func (s *Service) RevealVote(ctx context.Context, voter string, id bytes32.ID, price int64, salt bytes32.ID) (Vote, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Vote{}, fmt.Errorf("voting: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.repo.GetRequest(ctx, tx, id, true)
	if err != nil {
		return Vote{}, err
	}
	now := s.now()
	if r.Phase != PhaseReveal {
		return Vote{}, ErrNotRevealPhase
	}
	if !now.Before(r.RevealEnd) {
		return Vote{}, ErrRevealEnded
	}
	v, err := s.repo.GetVote(ctx, tx, id, voter, true)
	if err != nil {
		return Vote{}, err
	}
	if v.Revealed {
		return Vote{}, ErrAlreadyRevealed
	}
	if CommitHash(price, salt) != v.CommitHash {
		s.log.Debug("reveal mismatch", zap.String("request_id", id.String()), zap.String("account", voter))
		return Vote{}, ErrHashMismatch
	}

	total, err := units.Add(r.TotalRevealed, v.Stake)
	if err != nil {
		return Vote{}, err
	}
	v.Revealed = true
	v.Price = &price
	v.RevealedAt = now
	if err := s.repo.UpdateVote(ctx, tx, v); err != nil {
		return Vote{}, err
	}
	r.TotalRevealed = total
	if err := s.repo.UpdateRequest(ctx, tx, r); err != nil {
		return Vote{}, err
	}
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindRequest,
		AggregateID:   id,
		Name:          eventlog.VoteRevealed,
		Payload:       map[string]any{"voter": voter, "price": price, "stake": v.Stake.Dec()},
	}); err != nil {
		return Vote{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Vote{}, fmt.Errorf("voting: commit reveal: %w", err)
	}
	return v, nil
}

// lowParticipation reports revealed/committed < min_bps/10000 without rounding.
func lowParticipation(r Request) bool {
	if r.TotalCommitted.IsZero() {
		return true
	}
	revealed := new(uint256.Int).Mul(r.TotalRevealed, uint256.NewInt(units.BpsDenominator))
	required := new(uint256.Int).Mul(r.TotalCommitted, uint256.NewInt(uint64(r.Terms.MinParticipationBps)))
	return revealed.Lt(required)
}

// ResolvePrice finishes the reveal window. Low participation extends the window
// while extensions remain; once they are exhausted, or when nothing was revealed,
// the request waits for an owner emergency resolution.
func (s *Service) ResolvePrice(ctx context.Context, id bytes32.ID) (Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("voting: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.repo.GetRequest(ctx, tx, id, true)
	if err != nil {
		return Outcome{}, err
	}
	now := s.now()
	switch {
	case r.Phase == PhaseResolved:
		return Outcome{}, ErrAlreadyResolved
	case r.Phase != PhaseReveal:
		return Outcome{}, ErrNotRevealPhase
	case now.Before(r.RevealEnd):
		return Outcome{}, ErrRevealNotEnded
	}
	if r.EmergencyRequired {
		return Outcome{Status: OutcomeEmergencyRequired, ExtensionsUsed: r.ExtensionsUsed, RevealEnd: r.RevealEnd}, nil
	}

	low := lowParticipation(r)
	if low && r.ExtensionsUsed < r.Terms.MaxExtensions {
		r.ExtensionsUsed++
		r.RevealEnd = now.Add(r.Terms.RevealDuration)
		if err := s.repo.UpdateRequest(ctx, tx, r); err != nil {
			return Outcome{}, err
		}
		if err := s.appendParticipation(ctx, tx, r, false); err != nil {
			return Outcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Outcome{}, fmt.Errorf("voting: commit extension: %w", err)
		}
		s.log.Info("reveal window extended", zap.String("request_id", id.String()), zap.Uint32("extensions_used", r.ExtensionsUsed))
		return Outcome{Status: OutcomeExtended, ExtensionsUsed: r.ExtensionsUsed, RevealEnd: r.RevealEnd}, nil
	}

	votes, err := s.repo.ListVotes(ctx, tx, id)
	if err != nil {
		return Outcome{}, err
	}
	var revealed []RevealedVote
	for _, v := range votes {
		if v.Revealed && v.Price != nil {
			revealed = append(revealed, RevealedVote{Voter: v.Voter, Price: *v.Price, Stake: v.Stake})
		}
	}
	price, ok := StakeWeightedMedian(revealed)

	if low || !ok {
		r.EmergencyRequired = true
		if err := s.repo.UpdateRequest(ctx, tx, r); err != nil {
			return Outcome{}, err
		}
		if low {
			if err := s.appendParticipation(ctx, tx, r, true); err != nil {
				return Outcome{}, err
			}
		}
		if err := s.events.Append(ctx, tx, eventlog.Event{
			AggregateKind: eventlog.KindRequest,
			AggregateID:   id,
			Name:          eventlog.EmergencyRequired,
			Payload:       map[string]any{"extensions_used": r.ExtensionsUsed, "revealed_votes": len(revealed)},
		}); err != nil {
			return Outcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Outcome{}, fmt.Errorf("voting: commit emergency flag: %w", err)
		}
		s.log.Warn("emergency resolution required", zap.String("request_id", id.String()))
		return Outcome{Status: OutcomeEmergencyRequired, ExtensionsUsed: r.ExtensionsUsed, RevealEnd: r.RevealEnd}, nil
	}

	settlement, err := ComputeSlashing(votes, price, r.Terms.SlashRateBps, r.Terms.TreasuryBps)
	if err != nil {
		return Outcome{}, err
	}
	r.Phase = PhaseResolved
	r.ResolvedPrice = &price
	if err := s.finish(ctx, tx, r, settlement, eventlog.Event{
		AggregateKind: eventlog.KindRequest,
		AggregateID:   id,
		Name:          eventlog.PriceResolved,
		Payload: map[string]any{
			"price":          price,
			"total_revealed": r.TotalRevealed.Dec(),
			"slashed":        settlement.Slashed.Dec(),
			"treasury":       settlement.Treasury.Dec(),
		},
	}); err != nil {
		return Outcome{}, err
	}
	s.log.Info("price resolved", zap.String("request_id", id.String()), zap.Int64("price", price))

	pending := s.release(ctx, id)
	return Outcome{Status: OutcomeResolved, Price: &price, ExtensionsUsed: r.ExtensionsUsed, RevealEnd: r.RevealEnd, ReleasesPending: pending}, nil
}

func (s *Service) appendParticipation(ctx context.Context, tx pgx.Tx, r Request, emergency bool) error {
	return s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindRequest,
		AggregateID:   r.ID,
		Name:          eventlog.LowParticipationTriggered,
		Payload: map[string]any{
			"total_committed":    r.TotalCommitted.Dec(),
			"total_revealed":     r.TotalRevealed.Dec(),
			"extensions_used":    r.ExtensionsUsed,
			"reveal_end_ns":      r.RevealEnd.UnixNano(),
			"emergency_required": emergency,
		},
	})
}

// EmergencyResolvePrice lets the owner finish a request whose extension budget
// is spent. Every stake is returned without slashing.
func (s *Service) EmergencyResolvePrice(ctx context.Context, caller string, id bytes32.ID, price int64, reason string) (Request, error) {
	cfg, err := s.params.Voting(ctx)
	if err != nil {
		return Request{}, err
	}
	if caller != cfg.Owner {
		return Request{}, ErrNotOwner
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("voting: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.repo.GetRequest(ctx, tx, id, true)
	if err != nil {
		return Request{}, err
	}
	switch {
	case r.Phase == PhaseResolved:
		return Request{}, ErrAlreadyResolved
	case r.Phase != PhaseReveal:
		return Request{}, ErrNotRevealPhase
	case r.ExtensionsUsed < r.Terms.MaxExtensions:
		return Request{}, ErrExtensionsRemaining
	}
	votes, err := s.repo.ListVotes(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}

	r.Phase = PhaseResolved
	r.ResolvedPrice = &price
	r.Emergency = true
	if err := s.finish(ctx, tx, r, Unslashed(votes), eventlog.Event{
		AggregateKind: eventlog.KindRequest,
		AggregateID:   id,
		Name:          eventlog.EmergencyPriceResolved,
		Payload: map[string]any{
			"price":              price,
			"owner":              caller,
			"reason":             reason,
			"extensions_used":    r.ExtensionsUsed,
			"emergency_required": r.EmergencyRequired,
		},
	}); err != nil {
		return Request{}, err
	}
	s.log.Warn("price resolved by emergency", zap.String("request_id", id.String()), zap.Int64("price", price),
		zap.String("account", caller), zap.String("reason", reason))

	s.release(ctx, id)
	return r, nil
}

// finish stores the resolved request with its release legs and commits.
func (s *Service) finish(ctx context.Context, tx pgx.Tx, r Request, st Settlement, ev eventlog.Event) error {
	escrow, err := s.registry.Lookup(ctx, registry.NameVoting)
	if err != nil {
		return err
	}
	treasury, err := s.registry.Lookup(ctx, registry.NameStore)
	if err != nil {
		return err
	}

	var legs []payout.Leg
	for _, rel := range st.Releases {
		if rel.Amount.IsZero() {
			continue
		}
		legs = append(legs, payout.NewLeg(payout.SourceRequest, r.ID, "release:"+rel.Voter,
			r.Terms.StakeCurrency, escrow, rel.Voter, rel.Amount))
	}
	if !st.Treasury.IsZero() {
		legs = append(legs, payout.NewLeg(payout.SourceRequest, r.ID, "treasury",
			r.Terms.StakeCurrency, escrow, treasury, st.Treasury))
	}

	if err := s.repo.UpdateRequest(ctx, tx, r); err != nil {
		return err
	}
	if err := s.payouts.Record(ctx, tx, legs); err != nil {
		return err
	}
	if err := s.events.Append(ctx, tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("voting: commit resolution: %w", err)
	}
	return nil
}

// release dispatches outstanding stake legs and records the outcome. It reports
// whether any leg is still unpaid.
func (s *Service) release(ctx context.Context, id bytes32.ID) bool {
	sum, err := s.payouts.Dispatch(ctx, payout.SourceRequest, id)
	switch {
	case errors.Is(err, payout.ErrInFlight):
		return true
	case err != nil && !errors.Is(err, payout.ErrTransferFailed):
		s.log.Error("stake release dispatch", zap.String("request_id", id.String()), zap.Error(err))
		return true
	}
	name := eventlog.StakeReleased
	if sum.Outstanding > 0 {
		name = eventlog.StakeReleaseFailed
	}
	if err := s.appendStandalone(ctx, id, name, map[string]any{"paid": sum.Paid, "failed": sum.Failed, "outstanding": sum.Outstanding}); err != nil {
		s.log.Error("record stake release", zap.String("request_id", id.String()), zap.Error(err))
	}
	return sum.Outstanding > 0
}

func (s *Service) appendStandalone(ctx context.Context, id bytes32.ID, name string, payload any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("voting: begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateKind: eventlog.KindRequest,
		AggregateID:   id,
		Name:          name,
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RetryStakeRelease re-attempts unpaid release legs of a resolved request.
func (s *Service) RetryStakeRelease(ctx context.Context, id bytes32.ID) (payout.Summary, error) {
	r, err := s.repo.GetRequest(ctx, s.reader, id, false)
	if err != nil {
		return payout.Summary{}, err
	}
	if r.Phase != PhaseResolved {
		return payout.Summary{}, ErrNotResolved
	}
	legs, err := s.payouts.Legs(ctx, payout.SourceRequest, id)
	if err != nil {
		return payout.Summary{}, err
	}
	unpaid := 0
	for _, leg := range legs {
		if leg.Status != payout.StatusPaid {
			unpaid++
		}
	}
	if unpaid == 0 {
		return payout.Summary{}, payout.ErrNothingPending
	}

	sum, err := s.payouts.Dispatch(ctx, payout.SourceRequest, id)
	if errors.Is(err, payout.ErrInFlight) {
		return sum, err
	}
	name := eventlog.StakeReleased
	if sum.Outstanding > 0 {
		name = eventlog.StakeReleaseFailed
	}
	if evErr := s.appendStandalone(ctx, id, name, map[string]any{"paid": sum.Paid, "failed": sum.Failed, "outstanding": sum.Outstanding, "retry": true}); evErr != nil {
		s.log.Error("record stake release", zap.String("request_id", id.String()), zap.Error(evErr))
	}
	return sum, err
}

package assertion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/db/memtx"
	"oracleflow/eventlog"
	"oracleflow/ledger"
	"oracleflow/notify"
	"oracleflow/params"
	"oracleflow/payout"
	"oracleflow/policy"
	"oracleflow/registry"
	"oracleflow/units"
	"oracleflow/voting"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type stack struct {
	svc      *Service
	votes    *voting.Service
	ledger   *ledger.Memory
	events   *eventlog.MemoryStore
	recorder *notify.Recorder
	full     *policy.Full
	clock    *clock
}

const (
	escrow       = "oo-escrow"
	votingEscrow = "voting-escrow"
	treasury     = "treasury"
)

var claim = bytes32.MustFromString("the sky is blue")

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	st := &stack{
		ledger:   ledger.NewMemory(),
		events:   eventlog.NewMemoryStore(),
		recorder: notify.NewRecorder(),
		clock:    &clock{t: time.Unix(1_700_000_000, 0).UTC()},
	}
	pool := memtx.New()
	writer := eventlog.NewWriter(st.events)

	ps := params.NewService(pool, params.NewMemoryRepository(), writer)
	if err := ps.Bootstrap(ctx, params.DefaultOracle("owner", "usdc"), params.DefaultVoting("owner", "vote")); err != nil {
		t.Fatalf("bootstrap params: %v", err)
	}
	reg := registry.NewService(pool, registry.NewMemoryRepository(), writer,
		registry.OwnerFunc(func(context.Context) (string, error) { return "owner", nil }))
	if err := reg.Seed(ctx,
		[]registry.Currency{{Address: "usdc", Whitelisted: true, FinalFee: uint256.NewInt(100)}},
		[]bytes32.ID{params.DefaultIdentifier},
		[]string{escrow},
		map[string]string{registry.NameOptimisticOracle: escrow, registry.NameVoting: votingEscrow, registry.NameStore: treasury},
	); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	full, err := policy.NewFull("manager", "manager-owner", policy.NewMemoryStore(), policy.Settings{
		ValidateDisputers:   true,
		ArbitrateViaManager: true,
	})
	if err != nil {
		t.Fatalf("full policy: %v", err)
	}
	st.full = full
	resolver := policy.NewResolver(policy.NewPermissive("permissive"), full)

	dispatcher := payout.NewDispatcher(pool, payout.NewMemoryRepository(), st.ledger).WithClock(st.clock.now)
	st.votes = voting.NewService(pool, voting.NewMemoryRepository(), ps, reg, dispatcher, writer).WithClock(st.clock.now)
	st.svc = NewService(pool, NewMemoryRepository(), ps, reg, st.votes, resolver, dispatcher, writer).
		WithClock(st.clock.now).
		WithNotifier(st.recorder)
	return st
}

func (st *stack) assert(t *testing.T, in Input) Assertion {
	t.Helper()
	if in.Bond == nil {
		in.Bond = uint256.NewInt(1000)
	}
	if in.Asserter == "" {
		in.Asserter = "alice"
	}
	in.Caller = in.Asserter
	in.Claim = claim
	st.ledger.Mint("usdc", escrow, in.Bond)
	a, err := st.svc.AssertWithDefaults(context.Background(), in)
	if err != nil {
		t.Fatalf("assert: %v", err)
	}
	return a
}

func (st *stack) dispute(t *testing.T, a Assertion, disputer string) Assertion {
	t.Helper()
	st.ledger.Mint("usdc", escrow, a.Bond)
	d, err := st.svc.Dispute(context.Background(), a.ID, disputer, disputer, "usdc", a.Bond)
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	return d
}

// vote runs a full commit-reveal round in which every voter reveals price.
func (st *stack) vote(t *testing.T, id bytes32.ID, price int64, stakes map[string]uint64) voting.Outcome {
	t.Helper()
	ctx := context.Background()
	salt := bytes32.MustFromString("salt")
	for voter, stake := range stakes {
		st.ledger.Mint("vote", votingEscrow, uint256.NewInt(stake))
		if _, err := st.votes.CommitVote(ctx, voter, id, voting.CommitHash(price, salt), "vote", uint256.NewInt(stake)); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	st.clock.advance(24 * time.Hour)
	if _, err := st.votes.AdvanceToReveal(ctx, id); err != nil {
		t.Fatalf("advance: %v", err)
	}
	for voter := range stakes {
		if _, err := st.votes.RevealVote(ctx, voter, id, price, salt); err != nil {
			t.Fatalf("reveal: %v", err)
		}
	}
	st.clock.advance(24 * time.Hour)
	out, err := st.votes.ResolvePrice(ctx, id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return out
}

func (st *stack) balance(account string) uint64 {
	return st.ledger.Balance("usdc", account).Uint64()
}

func TestUndisputedAssertionReturnsBond(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	a := st.assert(t, Input{CallbackRecipient: "consumer"})

	if !a.Expiration.Equal(a.AssertionTime.Add(2 * time.Hour)) {
		t.Fatalf("expiration %s is not assertion time plus liveness", a.Expiration)
	}
	if _, err := st.svc.Settle(ctx, a.ID); !errors.Is(err, ErrNotExpired) {
		t.Fatalf("expected ErrNotExpired, got %v", err)
	}

	st.clock.advance(2 * time.Hour)
	settled, err := st.svc.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !settled.Settled || settled.Resolution == nil || !*settled.Resolution || settled.PayoutStatus != PayoutPaid {
		t.Fatalf("unexpected settlement %+v", settled)
	}
	if got := st.balance("alice"); got != 1000 {
		t.Fatalf("alice holds %d, want 1000", got)
	}
	if got := st.balance(treasury); got != 0 {
		t.Fatalf("undisputed settlement charged a fee: %d", got)
	}

	if _, err := st.svc.Settle(ctx, a.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second settle: %v", err)
	}
	if got := st.balance("alice"); got != 1000 {
		t.Fatalf("second settle moved funds: %d", got)
	}

	delivered := st.recorder.Delivered()
	if len(delivered) != 1 || delivered[0].Kind != notify.KindResolved || !*delivered[0].Truthful {
		t.Fatalf("unexpected notifications %+v", delivered)
	}
	ok, err := st.svc.SettleAndGetResult(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("settle and get result = %v, %v", ok, err)
	}
}

func TestDisputedAssertionResolvedByVote(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	a := st.assert(t, Input{})
	d := st.dispute(t, a, "bob")

	if d.DisputeRequestID == nil {
		t.Fatal("dispute did not open a resolution request")
	}
	req, err := st.votes.Request(ctx, *d.DisputeRequestID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(req.Ancillary) != string(a.Ancillary()) || req.Requester != escrow {
		t.Fatalf("unexpected request %+v", req)
	}

	if _, err := st.svc.Settle(ctx, a.ID); !errors.Is(err, ErrResolutionNotReady) {
		t.Fatalf("settle before resolution: %v", err)
	}

	out := st.vote(t, *d.DisputeRequestID, units.NumericalTrue, map[string]uint64{"v1": 10, "v2": 5})
	if out.Status != voting.OutcomeResolved || *out.Price != units.NumericalTrue {
		t.Fatalf("unexpected outcome %+v", out)
	}

	ok, err := st.svc.SettleAndGetResult(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !ok {
		t.Fatal("asserter should win")
	}
	if got := st.balance("alice"); got != 1500 {
		t.Fatalf("alice holds %d, want 2000 - 500 fee", got)
	}
	if got := st.balance(treasury); got != 500 {
		t.Fatalf("treasury holds %d, want 500", got)
	}
	if got := st.balance("bob"); got != 0 {
		t.Fatalf("bob holds %d", got)
	}
}

func TestNonCanonicalPriceFavorsDisputer(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	a := st.assert(t, Input{})
	d := st.dispute(t, a, "bob")
	st.vote(t, *d.DisputeRequestID, 5, map[string]uint64{"v1": 10})

	settled, err := st.svc.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if *settled.Resolution {
		t.Fatal("non-canonical price resolved truthful")
	}
	if got := st.balance("bob"); got != 1500 {
		t.Fatalf("bob holds %d, want 1500", got)
	}
}

func TestDisputeAdmission(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	a := st.assert(t, Input{})

	if _, err := st.svc.Dispute(ctx, a.ID, "bob", "bob", "usdc", uint256.NewInt(999)); !errors.Is(err, ErrBondMismatch) {
		t.Fatalf("short bond: %v", err)
	}
	if _, err := st.svc.Dispute(ctx, a.ID, "bob", "bob", "dai", a.Bond); !errors.Is(err, ErrBondMismatch) {
		t.Fatalf("wrong currency: %v", err)
	}
	st.dispute(t, a, "bob")
	if _, err := st.svc.Dispute(ctx, a.ID, "carol", "carol", "usdc", a.Bond); !errors.Is(err, ErrAlreadyDisputed) {
		t.Fatalf("second dispute: %v", err)
	}
	if _, err := st.svc.Dispute(ctx, bytes32.MustFromString("missing"), "bob", "bob", "usdc", a.Bond); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown assertion: %v", err)
	}

	late := st.assert(t, Input{Asserter: "carol"})
	st.clock.advance(2 * time.Hour)
	if _, err := st.svc.Dispute(ctx, late.ID, "bob", "bob", "usdc", late.Bond); !errors.Is(err, ErrExpired) {
		t.Fatalf("dispute after expiry: %v", err)
	}
}

func TestAssertAdmission(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)

	minBond, err := st.svc.MinimumBond(ctx, "usdc")
	if err != nil || minBond.Uint64() != 200 {
		t.Fatalf("minimum bond = %v, %v", minBond, err)
	}

	base := Input{Claim: claim, Asserter: "alice", Caller: "alice", Currency: "usdc", Liveness: time.Hour, Identifier: params.DefaultIdentifier}
	cases := []struct {
		name   string
		mutate func(*Input)
		want   error
	}{
		{"bond below minimum", func(in *Input) { in.Bond = uint256.NewInt(199) }, ErrBondTooLow},
		{"unknown currency", func(in *Input) { in.Currency = "dai" }, ErrUnsupportedCurrency},
		{"unknown identifier", func(in *Input) { in.Identifier = bytes32.MustFromString("YES_OR_NO") }, ErrUnsupportedIdentifier},
		{"zero liveness", func(in *Input) { in.Liveness = 0 }, ErrInvalidLiveness},
		{"unknown manager", func(in *Input) { in.EscalationManager = "nobody" }, policy.ErrUnknownManager},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			in.Bond = uint256.NewInt(200)
			tc.mutate(&in)
			if _, err := st.svc.Assert(ctx, in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	in := base
	in.Bond = uint256.NewInt(200)
	a, err := st.svc.Assert(ctx, in)
	if err != nil {
		t.Fatalf("assert at minimum bond: %v", err)
	}
	if _, err := st.svc.Assert(ctx, in); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate fingerprint: %v", err)
	}

	override := bytes32.MustFromString("custom-id")
	in.IDOverride = &override
	b, err := st.svc.Assert(ctx, in)
	if err != nil || b.ID != override || b.ID == a.ID {
		t.Fatalf("override: %+v, %v", b, err)
	}
}

func TestPayoutFailureLeavesSettlementPending(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	a := st.assert(t, Input{})
	st.clock.advance(2 * time.Hour)

	st.ledger.FailTransfersTo("alice", 1)
	settled, err := st.svc.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !settled.Settled || settled.PayoutStatus != PayoutPending {
		t.Fatalf("expected settled with pending payout, got %+v", settled)
	}
	if ok, err := st.svc.Result(ctx, a.ID); err != nil || !ok {
		t.Fatalf("result while payout pending = %v, %v", ok, err)
	}
	if _, err := st.svc.Settle(ctx, a.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("settle again: %v", err)
	}

	retried, err := st.svc.RetrySettlementPayout(ctx, "anyone", a.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.PayoutStatus != PayoutPaid || st.balance("alice") != 1000 {
		t.Fatalf("retry did not pay: %+v, balance %d", retried, st.balance("alice"))
	}
	if _, err := st.svc.RetrySettlementPayout(ctx, "anyone", a.ID); !errors.Is(err, ErrPayoutNotPending) {
		t.Fatalf("retry after paid: %v", err)
	}

	names := st.events.Names(eventlog.KindAssertion, a.ID)
	want := []string{
		eventlog.AssertionMade,
		eventlog.AssertionSettled,
		eventlog.AssertionSettlementPending,
		eventlog.AssertionSettlementPayoutFailed,
		eventlog.AssertionSettlementRetryRequested,
	}
	if len(names) != len(want) {
		t.Fatalf("events %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events %v, want %v", names, want)
		}
	}
}

func TestArbitratedDispute(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	a := st.assert(t, Input{EscalationManager: "manager", CallbackRecipient: "consumer"})
	if !a.Settings.ArbitrateViaManager || !a.Settings.ValidateDisputers {
		t.Fatalf("settings not frozen: %+v", a.Settings)
	}

	st.ledger.Mint("usdc", escrow, a.Bond)
	if _, err := st.svc.Dispute(ctx, a.ID, "bob", "bob", "usdc", a.Bond); !errors.Is(err, ErrDisputeRejected) {
		t.Fatalf("unlisted disputer: %v", err)
	}
	if err := st.full.SetListed(ctx, "manager-owner", policy.ListDisputers, "bob", true); err != nil {
		t.Fatalf("list disputer: %v", err)
	}
	d, err := st.svc.Dispute(ctx, a.ID, "bob", "bob", "usdc", a.Bond)
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if d.DisputeRequestID != nil {
		t.Fatal("arbitrated dispute opened a vote")
	}

	if _, err := st.svc.Settle(ctx, a.ID); !errors.Is(err, ErrResolutionNotReady) {
		t.Fatalf("settle before arbitration: %v", err)
	}

	key := voting.RequestID(a.Identifier, a.AssertionTime, a.Ancillary())
	if err := st.full.SetArbitrationResolution(ctx, "manager-owner", key, false); err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	settled, err := st.svc.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if *settled.Resolution {
		t.Fatal("arbitration said false")
	}
	if got := st.balance("bob"); got != 1500 {
		t.Fatalf("bob holds %d, want 1500", got)
	}

	kinds := []notify.Kind{}
	for _, n := range st.recorder.Delivered() {
		kinds = append(kinds, n.Kind)
	}
	if len(kinds) != 2 || kinds[0] != notify.KindDisputed || kinds[1] != notify.KindResolved {
		t.Fatalf("unexpected notifications %v", kinds)
	}
}

func TestOwnerResolvesUnescalatedDispute(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)

	voted := st.assert(t, Input{})
	st.dispute(t, voted, "bob")
	if _, err := st.svc.ResolveDisputedAssertion(ctx, "owner", voted.ID, true); !errors.Is(err, ErrEscalated) {
		t.Fatalf("owner override of a vote: %v", err)
	}

	if err := st.full.SetListed(ctx, "manager-owner", policy.ListDisputers, "bob", true); err != nil {
		t.Fatalf("list disputer: %v", err)
	}
	a := st.assert(t, Input{Asserter: "carol", EscalationManager: "manager"})
	if _, err := st.svc.ResolveDisputedAssertion(ctx, "owner", a.ID, true); !errors.Is(err, ErrNotDisputed) {
		t.Fatalf("resolve undisputed: %v", err)
	}
	st.dispute(t, a, "bob")
	if _, err := st.svc.ResolveDisputedAssertion(ctx, "mallory", a.ID, true); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner: %v", err)
	}
	settled, err := st.svc.ResolveDisputedAssertion(ctx, "owner", a.ID, true)
	if err != nil {
		t.Fatalf("owner resolve: %v", err)
	}
	if !*settled.Resolution || st.balance("carol") != 1500 {
		t.Fatalf("unexpected settlement %+v, carol holds %d", settled, st.balance("carol"))
	}
}

func TestDisputeNotificationFailureDoesNotBlock(t *testing.T) {
	st := newStack(t)
	st.recorder.FailWith(errors.New("consumer offline"))
	a := st.assert(t, Input{CallbackRecipient: "consumer"})
	if d := st.dispute(t, a, "bob"); d.Disputer != "bob" {
		t.Fatalf("dispute not recorded: %+v", d)
	}
}

// racingRepo runs before once, right after the first unlocked read.
type racingRepo struct {
	Repository
	before func()
}

func (r *racingRepo) Get(ctx context.Context, q db.Querier, id bytes32.ID, forUpdate bool) (Assertion, error) {
	a, err := r.Repository.Get(ctx, q, id, forUpdate)
	if !forUpdate && r.before != nil {
		before := r.before
		r.before = nil
		before()
	}
	return a, err
}

func TestSettleRejectsDisputeLandingBeforeLock(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	a := st.assert(t, Input{})

	st.clock.t = a.Expiration.Add(time.Second)
	st.svc.repo = &racingRepo{Repository: st.svc.repo, before: func() {
		st.clock.t = a.Expiration.Add(-time.Second)
		st.dispute(t, a, "bob")
		st.clock.t = a.Expiration.Add(time.Second)
	}}

	if _, err := st.svc.Settle(ctx, a.ID); !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged, got %v", err)
	}
	got, err := st.svc.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Settled || got.Disputer != "bob" || got.DisputeRequestID == nil {
		t.Fatalf("unexpected state after rejected settle: %+v", got)
	}
	legs, err := st.svc.Payouts(ctx, a.ID)
	if err != nil {
		t.Fatalf("payouts: %v", err)
	}
	if len(legs) != 0 || st.balance("alice") != 0 {
		t.Fatalf("settle moved funds: legs=%d alice=%d", len(legs), st.balance("alice"))
	}
	if _, err := st.svc.Settle(ctx, a.ID); !errors.Is(err, ErrResolutionNotReady) {
		t.Fatalf("retry should wait for the vote, got %v", err)
	}
}

func TestDisputeAdmissionUsesFrozenSettings(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)
	before := st.assert(t, Input{EscalationManager: "manager"})

	if err := st.full.Configure("manager-owner", policy.Settings{ArbitrateViaManager: true}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	after := st.assert(t, Input{Asserter: "carol", EscalationManager: "manager"})
	if after.Settings.ValidateDisputers {
		t.Fatalf("new assertion kept old settings: %+v", after.Settings)
	}

	st.ledger.Mint("usdc", escrow, before.Bond)
	if _, err := st.svc.Dispute(ctx, before.ID, "bob", "bob", "usdc", before.Bond); !errors.Is(err, ErrDisputeRejected) {
		t.Fatalf("snapshot should still validate disputers: %v", err)
	}
	if d := st.dispute(t, after, "bob"); d.Disputer != "bob" {
		t.Fatalf("dispute not recorded: %+v", d)
	}
}

// Package actors drives the engines concurrently against a shared database.
// Expected contention errors are swallowed; the SQL oracles judge the outcome.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"oracleflow/assertion"
	"oracleflow/bytes32"
	"oracleflow/errs"
	"oracleflow/test/infra"
	"oracleflow/units"
	"oracleflow/voting"
)

// Book collects the ids the actors have created so others can act on them.
type Book struct {
	mu         sync.Mutex
	assertions []bytes32.ID
	requests   []bytes32.ID
	seen       map[bytes32.ID]bool
}

func NewBook() *Book {
	return &Book{seen: make(map[bytes32.ID]bool)}
}

func (b *Book) addAssertion(id bytes32.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assertions = append(b.assertions, id)
}

func (b *Book) addRequest(id bytes32.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.seen[id] {
		b.seen[id] = true
		b.requests = append(b.requests, id)
	}
}

// Latest returns up to n of the most recent assertions.
func (b *Book) Latest(n int) []bytes32.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.assertions) {
		n = len(b.assertions)
	}
	return append([]bytes32.ID(nil), b.assertions[len(b.assertions)-n:]...)
}

func (b *Book) Assertions() []bytes32.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bytes32.ID(nil), b.assertions...)
}

func (b *Book) Requests() []bytes32.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bytes32.ID(nil), b.requests...)
}

// fatal reports errors no amount of contention or chaos explains.
func fatal(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	switch errs.KindOf(err) {
	case errs.Integrity, errs.Forbidden:
		return err
	}
	return nil
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(minMs, jitterMs int) {
	time.Sleep(time.Duration(minMs+rand.Intn(jitterMs)) * time.Millisecond)
}

// Asserter keeps opening assertions with fresh claims, funding each bond first.
func Asserter(ctx context.Context, st *infra.Stack, book *Book, name string, stop <-chan struct{}) error {
	for n := 0; !stopped(ctx, stop); n++ {
		bond := uint256.NewInt(uint64(200 + rand.Intn(800)))
		st.Ledger.Mint(infra.Currency, infra.Escrow, bond)
		a, err := st.Assertions.AssertWithDefaults(ctx, assertion.Input{
			Claim:    bytes32.MustFromString(fmt.Sprintf("%s-%d", name, n)),
			Caller:   name,
			Currency: infra.Currency,
			Bond:     bond,
		})
		if err == nil {
			book.addAssertion(a.ID)
		} else if err := fatal(err); err != nil {
			return fmt.Errorf("asserter %s: %w", name, err)
		}
		pause(20, 40)
	}
	return nil
}

// Disputer races other disputers on the newest assertions. At most one of
// them may win each assertion.
func Disputer(ctx context.Context, st *infra.Stack, book *Book, name string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		latest := book.Latest(3)
		if len(latest) == 0 {
			pause(20, 20)
			continue
		}
		id := latest[rand.Intn(len(latest))]
		a, err := st.Assertions.Get(ctx, id)
		if err != nil {
			pause(10, 20)
			continue
		}
		st.Ledger.Mint(a.Currency, infra.Escrow, a.Bond)
		d, err := st.Assertions.Dispute(ctx, id, name, name, a.Currency, a.Bond)
		switch {
		case err == nil && d.DisputeRequestID != nil:
			book.addRequest(*d.DisputeRequestID)
		case err != nil:
			if err := fatal(err); err != nil {
				return fmt.Errorf("disputer %s: %w", name, err)
			}
		}
		pause(30, 60)
	}
	return nil
}

type commitment struct {
	price int64
	salt  bytes32.ID
}

// Voter commits to every open request and reveals once the request moves on.
// One in five commitments is never revealed so slashing gets exercised.
func Voter(ctx context.Context, st *infra.Stack, book *Book, name string, stop <-chan struct{}) error {
	committed := make(map[bytes32.ID]*commitment)
	for !stopped(ctx, stop) {
		for _, id := range book.Requests() {
			r, err := st.Votes.Request(ctx, id)
			if err != nil {
				continue
			}
			c := committed[id]
			switch {
			case r.Phase == voting.PhaseCommit && c == nil:
				price := units.NumericalTrue
				if rand.Intn(4) == 0 {
					price = 0
				}
				c = &commitment{price: price, salt: bytes32.MustFromString(fmt.Sprintf("%s-%d", name, rand.Int63()))}
				stake := uint256.NewInt(uint64(10 + rand.Intn(90)))
				st.Ledger.Mint(infra.VoteToken, infra.VotingEscrow, stake)
				_, err = st.Votes.CommitVote(ctx, name, id, voting.CommitHash(c.price, c.salt), infra.VoteToken, stake)
				if err == nil {
					committed[id] = c
				}
			case r.Phase == voting.PhaseReveal && c != nil && rand.Intn(5) != 0:
				_, err = st.Votes.RevealVote(ctx, name, id, c.price, c.salt)
				if err == nil || errors.Is(err, voting.ErrAlreadyRevealed) {
					delete(committed, id)
				}
			}
			if err := fatal(err); err != nil {
				return fmt.Errorf("voter %s: %w", name, err)
			}
		}
		pause(30, 50)
	}
	return nil
}

// Settler pushes every request and assertion forward: phase advances,
// resolutions, owner fallbacks for stuck requests, settlements and payout
// retries. Several settlers run at once to race the same transitions.
func Settler(ctx context.Context, st *infra.Stack, book *Book, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		for _, id := range book.Requests() {
			r, err := st.Votes.Request(ctx, id)
			if err != nil {
				continue
			}
			switch {
			case r.Phase == voting.PhaseCommit:
				_, err = st.Votes.AdvanceToReveal(ctx, id)
			case r.Phase == voting.PhaseReveal && r.EmergencyRequired:
				_, err = st.Votes.EmergencyResolvePrice(ctx, infra.Owner, id, units.NumericalTrue, "stress: participation too low")
			case r.Phase == voting.PhaseReveal:
				_, err = st.Votes.ResolvePrice(ctx, id)
			case r.Phase == voting.PhaseResolved && rand.Intn(10) == 0:
				_, err = st.Votes.RetryStakeRelease(ctx, id)
			}
			if err := fatal(err); err != nil {
				return fmt.Errorf("settler request %s: %w", id, err)
			}
		}
		for _, id := range book.Assertions() {
			a, err := st.Assertions.Get(ctx, id)
			if err != nil {
				continue
			}
			switch {
			case !a.Settled:
				_, err = st.Assertions.Settle(ctx, id)
			case a.PayoutStatus == assertion.PayoutPending:
				_, err = st.Assertions.RetrySettlementPayout(ctx, a.Asserter, id)
			}
			if err := fatal(err); err != nil {
				return fmt.Errorf("settler assertion %s: %w", id, err)
			}
		}
		pause(50, 100)
	}
	return nil
}

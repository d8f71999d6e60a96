package assertion_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"oracleflow/assertion"
	"oracleflow/bytes32"
	"oracleflow/db"
	"oracleflow/test/infra"
	"oracleflow/units"
	"oracleflow/voting"
)

// TestDisputedSettlement_Integration runs a dispute through a vote on a live
// PostgreSQL reached via DATABASE_URL.
func TestDisputedSettlement_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, true, 8)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	defer pool.Close()
	defer func() { _ = teardown(context.Background()) }()

	timing := infra.Timing{Liveness: time.Minute, Commit: time.Second, Reveal: time.Second}
	st, err := infra.NewStack(ctx, pool, timing, nil)
	if err != nil {
		t.Fatalf("stack: %v", err)
	}

	bond := uint256.NewInt(1000)
	st.Ledger.Mint(infra.Currency, infra.Escrow, bond)
	a, err := st.Assertions.AssertWithDefaults(ctx, assertion.Input{
		Claim:    bytes32.MustFromString("integration"),
		Caller:   "alice",
		Currency: infra.Currency,
		Bond:     bond,
	})
	if err != nil {
		t.Fatalf("assert: %v", err)
	}

	st.Ledger.Mint(infra.Currency, infra.Escrow, bond)
	d, err := st.Assertions.Dispute(ctx, a.ID, "bob", "bob", infra.Currency, bond)
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := st.Assertions.Dispute(ctx, a.ID, "carol", "carol", infra.Currency, bond); err == nil {
		t.Fatal("second dispute accepted")
	}

	reqID := *d.DisputeRequestID
	salt := bytes32.MustFromString("salt")
	st.Ledger.Mint(infra.VoteToken, infra.VotingEscrow, uint256.NewInt(100))
	if _, err := st.Votes.CommitVote(ctx, "voter", reqID, voting.CommitHash(units.NumericalTrue, salt), infra.VoteToken, uint256.NewInt(100)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	time.Sleep(timing.Commit + 100*time.Millisecond)
	if _, err := st.Votes.AdvanceToReveal(ctx, reqID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := st.Votes.RevealVote(ctx, "voter", reqID, units.NumericalTrue, salt); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	time.Sleep(timing.Reveal + 100*time.Millisecond)
	if out, err := st.Votes.ResolvePrice(ctx, reqID); err != nil || out.Status != voting.OutcomeResolved {
		t.Fatalf("resolve: %+v %v", out, err)
	}

	settled, err := st.Assertions.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Resolution == nil || !*settled.Resolution || settled.PayoutStatus != assertion.PayoutPaid {
		t.Fatalf("unexpected settlement %+v", settled)
	}
	// 2*bond minus half a bond burned to the treasury
	if got := st.Ledger.Balance(infra.Currency, "alice").Uint64(); got != 1500 {
		t.Fatalf("alice received %d, want 1500", got)
	}
	if got := st.Ledger.Balance(infra.VoteToken, "voter").Uint64(); got != 100 {
		t.Fatalf("voter released %d, want 100", got)
	}

	var rows int
	if err := db.ReaderOf(pool).QueryRow(ctx, `SELECT COUNT(*) FROM payout_legs WHERE status = 'paid'`).Scan(&rows); err != nil {
		t.Fatalf("count legs: %v", err)
	}
	if rows != 3 {
		t.Fatalf("paid legs %d, want 3", rows)
	}
}

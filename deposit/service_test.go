package deposit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"oracleflow/assertion"
	"oracleflow/bytes32"
	"oracleflow/ledger"
	"oracleflow/params"
	"oracleflow/registry"
	"oracleflow/voting"
)

type fakeAssertions struct {
	asserted  []assertion.Input
	disputed  []bytes32.ID
	assertErr error
}

func (f *fakeAssertions) AssertWithDefaults(_ context.Context, in assertion.Input) (assertion.Assertion, error) {
	if f.assertErr != nil {
		return assertion.Assertion{}, f.assertErr
	}
	f.asserted = append(f.asserted, in)
	return assertion.Assertion{ID: bytes32.MustFromString("new-assertion")}, nil
}

func (f *fakeAssertions) Dispute(_ context.Context, id bytes32.ID, _, _, _ string, _ *uint256.Int) (assertion.Assertion, error) {
	f.disputed = append(f.disputed, id)
	req := bytes32.MustFromString("request")
	return assertion.Assertion{ID: id, DisputeRequestID: &req}, nil
}

type fakeVotes struct{ commits []bytes32.ID }

func (f *fakeVotes) CommitVote(_ context.Context, voter string, id, hash bytes32.ID, _ string, stake *uint256.Int) (voting.Vote, error) {
	f.commits = append(f.commits, hash)
	return voting.Vote{RequestID: id, Voter: voter, Stake: stake, CommitHash: hash}, nil
}

type fakeDirectory map[string]string

func (f fakeDirectory) Lookup(_ context.Context, name string) (string, error) {
	if addr, ok := f[name]; ok {
		return addr, nil
	}
	return "", registry.ErrUnknownName
}

type fakeParams struct{}

func (fakeParams) Voting(context.Context) (params.VotingParams, error) {
	return params.DefaultVoting("owner", "vote"), nil
}

func newReceiver() (*Receiver, *fakeAssertions, *fakeVotes) {
	a := &fakeAssertions{}
	v := &fakeVotes{}
	dir := fakeDirectory{registry.NameOptimisticOracle: "oo-escrow", registry.NameVoting: "voting-escrow"}
	return NewReceiver(a, v, dir, fakeParams{}), a, v
}

func message(t *testing.T, m Message) string {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func TestAssertDeposit(t *testing.T) {
	r, a, _ := newReceiver()
	claim := bytes32.MustFromString("claim")
	res, err := r.Handle(context.Background(), ledger.Deposit{
		Currency: "usdc",
		Sender:   "alice",
		Receiver: "oo-escrow",
		Amount:   uint256.NewInt(1000),
		Msg: message(t, Message{
			Action:          ActionAssertTruth,
			Claim:           claim.String(),
			LivenessSeconds: 60,
			Identifier:      "ASSERT_TRUTH",
		}),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.AssertionID == nil || res.Refund != "0" {
		t.Fatalf("unexpected result %+v", res)
	}
	in := a.asserted[0]
	if in.Claim != claim || in.Caller != "alice" || in.Bond.Uint64() != 1000 || in.Identifier != params.DefaultIdentifier {
		t.Fatalf("unexpected input %+v", in)
	}
}

func TestRejectedDepositsRefundEverything(t *testing.T) {
	valid := bytes32.MustFromString("x").String()
	cases := []struct {
		name    string
		deposit ledger.Deposit
		want    error
	}{
		{"unknown action", ledger.Deposit{Receiver: "oo-escrow", Msg: `{"action":"withdraw"}`}, ErrUnknownAction},
		{"garbage", ledger.Deposit{Receiver: "oo-escrow", Msg: `not json`}, ErrMalformed},
		{"unknown field", ledger.Deposit{Receiver: "oo-escrow", Msg: `{"action":"assert_truth","surprise":1}`}, ErrMalformed},
		{"missing assertion id", ledger.Deposit{Receiver: "oo-escrow", Msg: `{"action":"dispute_assertion"}`}, ErrMalformed},
		{"liveness overflows", ledger.Deposit{Receiver: "oo-escrow",
			Msg: `{"action":"assert_truth","claim":"` + valid + `","liveness_seconds":20000000000}`}, ErrMalformed},
		{"negative liveness", ledger.Deposit{Receiver: "oo-escrow",
			Msg: `{"action":"assert_truth","claim":"` + valid + `","liveness_seconds":-5}`}, ErrMalformed},
		{"wrong escrow", ledger.Deposit{Receiver: "voting-escrow", Msg: `{"action":"dispute_assertion","assertion_id":"` + valid + `"}`}, ErrWrongReceiver},
		{"vote in bond currency", ledger.Deposit{Currency: "usdc", Receiver: "voting-escrow",
			Msg: `{"action":"commit_vote","request_id":"` + valid + `","commit_hash":"` + valid + `"}`}, ErrWrongCurrency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, a, v := newReceiver()
			tc.deposit.Sender = "alice"
			tc.deposit.Amount = uint256.NewInt(700)
			if tc.deposit.Currency == "" {
				tc.deposit.Currency = "vote"
			}
			refund, err := r.OnTransfer(context.Background(), tc.deposit)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if refund.Uint64() != 700 {
				t.Fatalf("refund %s, want everything", refund.Dec())
			}
			if len(a.asserted)+len(a.disputed)+len(v.commits) != 0 {
				t.Fatal("engine called for a rejected deposit")
			}
		})
	}
}

func TestEngineErrorRefunds(t *testing.T) {
	r, a, _ := newReceiver()
	a.assertErr = assertion.ErrBondTooLow
	refund, err := r.OnTransfer(context.Background(), ledger.Deposit{
		Currency: "usdc", Sender: "alice", Receiver: "oo-escrow", Amount: uint256.NewInt(5),
		Msg: `{"action":"assert_truth","claim":"` + bytes32.MustFromString("c").String() + `"}`,
	})
	if !errors.Is(err, assertion.ErrBondTooLow) || refund.Uint64() != 5 {
		t.Fatalf("refund %v, err %v", refund, err)
	}
}

func TestCommitVoteThroughLedger(t *testing.T) {
	r, _, v := newReceiver()
	l := ledger.NewMemory()
	l.Mint("vote", "carol", uint256.NewInt(50))

	hash := voting.CommitHash(1, bytes32.MustFromString("salt"))
	msg := `{"action":"commit_vote","request_id":"` + bytes32.MustFromString("req").String() + `","commit_hash":"` + hash.String() + `"}`
	refund, err := l.TransferCall(context.Background(), "vote", "carol", "voting-escrow", uint256.NewInt(50), msg, r)
	if err != nil {
		t.Fatalf("transfer call: %v", err)
	}
	if !refund.IsZero() || len(v.commits) != 1 || v.commits[0] != hash {
		t.Fatalf("refund %s, commits %v", refund.Dec(), v.commits)
	}
	if got := l.Balance("vote", "voting-escrow").Uint64(); got != 50 {
		t.Fatalf("escrow holds %d, want 50", got)
	}
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.Header.Get("Idempotency-Key") != "leg-1" {
			t.Errorf("missing idempotency key")
		}
		var body transferBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Amount != "1000" {
			t.Errorf("unexpected body %+v (%v)", body, err)
		}
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second).WithRetry(3, time.Millisecond)
	err := c.Transfer(context.Background(), Transfer{Currency: "usdc", From: "oracle", To: "alice", Amount: uint256.NewInt(1000), IdempotencyKey: "leg-1"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestHTTPClientRejectsClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown account", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second).WithRetry(3, time.Millisecond)
	err := c.Transfer(context.Background(), Transfer{Currency: "usdc", From: "a", To: "b", Amount: uint256.NewInt(1), IdempotencyKey: "k"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

type refundHalf struct{}

func (refundHalf) OnTransfer(_ context.Context, d Deposit) (*uint256.Int, error) {
	return new(uint256.Int).Div(d.Amount, uint256.NewInt(2)), nil
}

type rejectAll struct{}

func (rejectAll) OnTransfer(context.Context, Deposit) (*uint256.Int, error) {
	return nil, errors.New("no")
}

func TestMemoryTransferCallRefunds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Mint("usdc", "alice", uint256.NewInt(100))

	refund, err := m.TransferCall(ctx, "usdc", "alice", "oracle", uint256.NewInt(100), "{}", refundHalf{})
	if err != nil || refund.Uint64() != 50 {
		t.Fatalf("expected 50 refund, got %v (%v)", refund, err)
	}
	if got := m.Balance("usdc", "oracle").Uint64(); got != 50 {
		t.Fatalf("escrow should hold 50, holds %d", got)
	}

	if _, err := m.TransferCall(ctx, "usdc", "alice", "oracle", uint256.NewInt(50), "{}", rejectAll{}); err == nil {
		t.Fatalf("expected receiver error to surface")
	}
	if got := m.Balance("usdc", "alice").Uint64(); got != 50 {
		t.Fatalf("rejected deposit should be fully refunded, alice holds %d", got)
	}
}

func TestMemoryFailureInjectionAndIdempotency(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Mint("usdc", "oracle", uint256.NewInt(10))
	m.FailTransfersTo("bob", 1)

	tr := Transfer{Currency: "usdc", From: "oracle", To: "bob", Amount: uint256.NewInt(4), IdempotencyKey: "k1"}
	if err := m.Transfer(ctx, tr); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := m.Transfer(ctx, tr); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if err := m.Transfer(ctx, tr); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := m.Balance("usdc", "bob").Uint64(); got != 4 {
		t.Fatalf("idempotent replay moved funds twice: bob holds %d", got)
	}
	if err := m.Transfer(ctx, Transfer{Currency: "usdc", From: "oracle", To: "bob", Amount: uint256.NewInt(100), IdempotencyKey: "k2"}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"oracleflow/bytes32"
	"oracleflow/db/memtx"
	"oracleflow/eventlog"
	"oracleflow/units"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(memtx.New(), NewMemoryRepository(), eventlog.NewWriter(eventlog.NewMemoryStore()),
		OwnerFunc(func(context.Context) (string, error) { return "owner", nil }))
	err := svc.Seed(context.Background(),
		[]Currency{{Address: "usdc", Whitelisted: true, FinalFee: uint256.NewInt(100)}},
		[]bytes32.ID{bytes32.MustFromString("ASSERT_TRUTH")},
		[]string{"oracle"},
		map[string]string{NameStore: "treasury"},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc
}

func TestMinimumBondCoversFinalFee(t *testing.T) {
	svc := newTestService(t)
	half := units.MustParse("500000000000000000")

	got, err := svc.MinimumBond(context.Background(), "usdc", half)
	if err != nil {
		t.Fatalf("minimum bond: %v", err)
	}
	if got.Uint64() != 200 {
		t.Fatalf("expected 200, got %s", got.Dec())
	}

	if _, err := svc.MinimumBond(context.Background(), "doge", half); !errors.Is(err, ErrCurrencyNotWhitelisted) {
		t.Fatalf("expected unknown currency rejection, got %v", err)
	}
}

func TestMinimumBondRoundsUp(t *testing.T) {
	third := units.MustParse("300000000000000000")
	got, err := MinimumBond(uint256.NewInt(100), third)
	if err != nil {
		t.Fatalf("minimum bond: %v", err)
	}
	// 100 / 0.3 = 333.33..
	if got.Uint64() != 334 {
		t.Fatalf("expected 334, got %s", got.Dec())
	}
}

func TestSettersAreOwnerGated(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.SetIdentifier(ctx, "mallory", bytes32.MustFromString("YES_OR_NO"), true); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := svc.SetCurrency(ctx, "owner", Currency{Address: "usdc", Whitelisted: false, FinalFee: uint256.NewInt(100)}); err != nil {
		t.Fatalf("set currency: %v", err)
	}
	ok, err := svc.IsCurrencyWhitelisted(ctx, "usdc")
	if err != nil || ok {
		t.Fatalf("expected delisted currency, got %v (%v)", ok, err)
	}
	if _, err := svc.FinalFee(ctx, "usdc"); !errors.Is(err, ErrCurrencyNotWhitelisted) {
		t.Fatalf("final fee of delisted currency: %v", err)
	}
}

func TestDirectoryAndAuthorization(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	addr, err := svc.Lookup(ctx, NameStore)
	if err != nil || addr != "treasury" {
		t.Fatalf("lookup store: %q (%v)", addr, err)
	}
	if _, err := svc.Lookup(ctx, NameVoting); !errors.Is(err, ErrUnknownName) {
		t.Fatalf("expected unknown name, got %v", err)
	}
	if ok, _ := svc.IsAuthorized(ctx, "oracle"); !ok {
		t.Fatalf("seeded requester should be authorized")
	}
	if ok, _ := svc.IsAuthorized(ctx, "stranger"); ok {
		t.Fatalf("unknown requester authorized")
	}
}

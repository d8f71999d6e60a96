package units

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestCeilMulDiv(t *testing.T) {
	// final fee 101 at a 50% burn: 101 * 1e18 / 0.5e18 = 202 exactly
	half := MustParse("500000000000000000")
	got, err := CeilMulDiv(uint256.NewInt(101), Scale(), half)
	if err != nil {
		t.Fatalf("ceil: %v", err)
	}
	if got.Uint64() != 202 {
		t.Fatalf("expected 202, got %s", got.Dec())
	}

	// 100 / 3 rounds up
	third := MustParse("3")
	got, err = CeilMulDiv(uint256.NewInt(100), uint256.NewInt(1), third)
	if err != nil {
		t.Fatalf("ceil: %v", err)
	}
	if got.Uint64() != 34 {
		t.Fatalf("expected 34, got %s", got.Dec())
	}
}

func TestAddBounds(t *testing.T) {
	if _, err := Add(MaxAmount(), uint256.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Sub(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("12a"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	if _, err := Parse("340282366920938463463374607431768211456"); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow above 2^128-1, got %v", err)
	}
}

func TestBps(t *testing.T) {
	if got := Bps(uint256.NewInt(1000), 2500); got.Uint64() != 250 {
		t.Fatalf("expected 250, got %s", got.Dec())
	}
	if got := Bps(uint256.NewInt(3), 5000); got.Uint64() != 1 {
		t.Fatalf("expected floor to 1, got %s", got.Dec())
	}
}

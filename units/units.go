// Package units holds token amount arithmetic shared by the settlement and
// voting engines. Amounts are unsigned integers bounded to 128 bits.
package units

import (
	"fmt"

	"github.com/holiman/uint256"

	"oracleflow/errs"
)

// BpsDenominator is the denominator for every basis-point rate.
const BpsDenominator = 10_000

// NumericalTrue is the price a resolution request resolves to when the asserted claim holds.
const NumericalTrue int64 = 1_000_000_000_000_000_000

var (
	ErrOverflow  = errs.New(errs.Admission, "units: amount overflow")
	ErrUnderflow = errs.New(errs.Admission, "units: amount underflow")
	ErrInvalid   = errs.New(errs.Admission, "units: invalid amount")
)

// Scale is 1e18, the fixed-point unit for fractional parameters.
func Scale() *uint256.Int { return uint256.NewInt(1_000_000_000_000_000_000) }

// MaxAmount is 2^128-1.
func MaxAmount() *uint256.Int {
	return new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
}

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// Parse reads a base-10 amount.
func Parse(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if v.Gt(MaxAmount()) {
		return nil, ErrOverflow
	}
	return v, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Add returns a+b, failing when the sum leaves the 128-bit range.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || sum.Gt(MaxAmount()) {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	if b.Gt(a) {
		return nil, ErrUnderflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// MulDiv returns floor(x*y/d). d must be non-zero.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrInvalid
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow || z.Gt(MaxAmount()) {
		return nil, ErrOverflow
	}
	return z, nil
}

// CeilMulDiv returns ceil(x*y/d).
func CeilMulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		return Add(z, uint256.NewInt(1))
	}
	return z, nil
}

// Bps returns floor(amount*bps/10000).
func Bps(amount *uint256.Int, bps uint32) *uint256.Int {
	z, err := MulDiv(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(BpsDenominator))
	if err != nil {
		// bps <= 10000 keeps the result within amount
		panic(err)
	}
	return z
}

// Sum adds all amounts.
func Sum(amounts ...*uint256.Int) (*uint256.Int, error) {
	total := Zero()
	for _, a := range amounts {
		next, err := Add(total, a)
		if err != nil {
			return nil, err
		}
		total = next
	}
	return total, nil
}

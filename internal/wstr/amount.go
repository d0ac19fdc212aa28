package wstr

import (
	"fmt"
	"math/big"
)

// All amounts in this system are wei-denominated WSTR carried as *big.Int.
// int64 is not enough: a full pool of 50 stars costs 5*10^19 wei.

var (
	// StarCost is the acquisition cost of one star: 1 WSTR.
	StarCost = mustParse("1000000000000000000")

	// UnitFee is the per-depth extraction fee step: 0.01 WSTR.
	// The fee for a reservation at depth d is d * UnitFee.
	UnitFee = mustParse("10000000000000000")

	// ExtractionFeePerStar is retained by the fee collector for every
	// star settled: 0.01 WSTR.
	ExtractionFeePerStar = mustParse("10000000000000000")

	// DriftProtection is the fixed safety margin added to required
	// deposits to absorb treasury composition changes between deposit
	// and settlement: 0.05 WSTR.
	DriftProtection = mustParse("50000000000000000")

	// PenaltyTotal is the fixed eviction penalty: 0.2 WSTR.
	PenaltyTotal = mustParse("200000000000000000")

	// PenaltyKickerShare goes to the caller that triggered the
	// eviction: 0.15 WSTR.
	PenaltyKickerShare = mustParse("150000000000000000")

	// PenaltyContractShare is retained by the fee collector: 0.05 WSTR.
	PenaltyContractShare = mustParse("50000000000000000")
)

// FlashFeeDivisor prices flash financing at shortfall/1000 (0.1%).
const FlashFeeDivisor = 1000

func mustParse(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("wstr: bad amount literal " + s)
	}
	return v
}

// Zero returns a fresh zero amount.
func Zero() *big.Int {
	return new(big.Int)
}

// Copy returns an independent copy of v, or zero when v is nil.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Add returns a+b without mutating either operand.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Sub returns a-b without mutating either operand.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// MulInt returns a*n without mutating a.
func MulInt(a *big.Int, n int64) *big.Int {
	return new(big.Int).Mul(a, big.NewInt(n))
}

// IsZero reports whether v is nil or exactly zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Parse converts a decimal string into an amount. Wire payloads and
// database rows carry amounts in this form.
func Parse(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("wstr: invalid amount %q", s)
	}
	return v, nil
}

// Format renders an amount as its decimal wire form.
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

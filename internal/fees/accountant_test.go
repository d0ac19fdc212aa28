package fees_test

import (
	"math/big"
	"testing"

	"StarPool/internal/fees"
	"StarPool/internal/wstr"
)

func amt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := wstr.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

// ============================================================================
// Test: Per-depth fees and required deposits
// ============================================================================

func TestPerDepthFee(t *testing.T) {
	cases := []struct {
		depth int
		want  string
	}{
		{1, "10000000000000000"},   // 0.01 WSTR
		{3, "30000000000000000"},   // 0.03 WSTR
		{50, "500000000000000000"}, // 0.50 WSTR
	}
	for _, tc := range cases {
		got := fees.PerDepthFee(tc.depth)
		if got.String() != tc.want {
			t.Errorf("PerDepthFee(%d): got %s, want %s", tc.depth, got, tc.want)
		}
	}
}

func TestRequiredDeposit(t *testing.T) {
	// cost + depth fee + drift: 1 + 0.03 + 0.05 WSTR at depth 3.
	got := fees.RequiredDeposit(3)
	want := amt(t, "1080000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("RequiredDeposit(3): got %s, want %s", got, want)
	}
}

func TestReservationCost(t *testing.T) {
	// Settlement charges cost + fee, never the drift margin.
	got := fees.ReservationCost(3)
	want := amt(t, "1030000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("ReservationCost(3): got %s, want %s", got, want)
	}

	diff := wstr.Sub(fees.RequiredDeposit(3), fees.ReservationCost(3))
	if diff.Cmp(wstr.DriftProtection) != 0 {
		t.Errorf("deposit - cost = %s, want drift protection %s", diff, wstr.DriftProtection)
	}
}

// ============================================================================
// Test: Flash financing
// ============================================================================

func TestFlashFinancingFee_Truncates(t *testing.T) {
	// 1999 wei shortfall / 1000 truncates to 1 wei.
	got := fees.FlashFinancingFee(big.NewInt(1999))
	if got.Int64() != 1 {
		t.Errorf("got %s, want 1", got)
	}
}

func TestFlashFinancingFee_ZeroAndNegative(t *testing.T) {
	if got := fees.FlashFinancingFee(nil); got.Sign() != 0 {
		t.Errorf("nil shortfall: got %s, want 0", got)
	}
	if got := fees.FlashFinancingFee(big.NewInt(0)); got.Sign() != 0 {
		t.Errorf("zero shortfall: got %s, want 0", got)
	}
	if got := fees.FlashFinancingFee(big.NewInt(-500)); got.Sign() != 0 {
		t.Errorf("negative shortfall: got %s, want 0", got)
	}
}

func TestFlashFinancingFee_OneWstr(t *testing.T) {
	// Borrowing one star's cost prices at 0.001 WSTR.
	got := fees.FlashFinancingFee(wstr.StarCost)
	want := amt(t, "1000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestPoolShortfall(t *testing.T) {
	// 3 stars cost 3 WSTR; 2.5 WSTR deposited leaves 0.5 to borrow.
	deposited := amt(t, "2500000000000000000")
	got := fees.PoolShortfall(3, deposited)
	want := amt(t, "500000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestPoolShortfall_Overfunded(t *testing.T) {
	deposited := amt(t, "5000000000000000000")
	got := fees.PoolShortfall(3, deposited)
	if got.Sign() != 0 {
		t.Errorf("overfunded pool: got shortfall %s, want 0", got)
	}
}

func TestAllocateFlashFee_ResidualOnLast(t *testing.T) {
	// 100 wei across weights 1,1,1: 33+33+34.
	fee := big.NewInt(100)
	weights := []*big.Int{big.NewInt(1), big.NewInt(1), big.NewInt(1)}
	shares := fees.AllocateFlashFee(fee, weights)

	if len(shares) != 3 {
		t.Fatalf("got %d shares, want 3", len(shares))
	}
	if shares[0].Int64() != 33 || shares[1].Int64() != 33 || shares[2].Int64() != 34 {
		t.Errorf("got %s,%s,%s, want 33,33,34", shares[0], shares[1], shares[2])
	}

	total := new(big.Int)
	for _, s := range shares {
		total.Add(total, s)
	}
	if total.Cmp(fee) != 0 {
		t.Errorf("shares sum to %s, want %s", total, fee)
	}
}

func TestAllocateFlashFee_WeightedSplit(t *testing.T) {
	// Weights 3 and 1: the heavier borrower pays 75.
	shares := fees.AllocateFlashFee(big.NewInt(100), []*big.Int{big.NewInt(3), big.NewInt(1)})
	if shares[0].Int64() != 75 || shares[1].Int64() != 25 {
		t.Errorf("got %s,%s, want 75,25", shares[0], shares[1])
	}
}

func TestAllocateFlashFee_ZeroWeights(t *testing.T) {
	// All-zero weights put the whole fee on the last slot.
	shares := fees.AllocateFlashFee(big.NewInt(7), []*big.Int{big.NewInt(0), big.NewInt(0)})
	if shares[0].Sign() != 0 || shares[1].Int64() != 7 {
		t.Errorf("got %s,%s, want 0,7", shares[0], shares[1])
	}
}

// ============================================================================
// Test: Eviction penalty
// ============================================================================

func TestEvictionPenalty_Split(t *testing.T) {
	kicker, contract := fees.EvictionPenalty()
	if kicker.Cmp(wstr.PenaltyKickerShare) != 0 {
		t.Errorf("kicker share: got %s, want %s", kicker, wstr.PenaltyKickerShare)
	}
	if contract.Cmp(wstr.PenaltyContractShare) != 0 {
		t.Errorf("contract share: got %s, want %s", contract, wstr.PenaltyContractShare)
	}
	if wstr.Add(kicker, contract).Cmp(wstr.PenaltyTotal) != 0 {
		t.Errorf("shares do not sum to penalty total")
	}
}

func TestCappedEvictionPenalty_FullBalance(t *testing.T) {
	kicker, contract := fees.CappedEvictionPenalty(wstr.StarCost)
	if kicker.Cmp(wstr.PenaltyKickerShare) != 0 {
		t.Errorf("kicker: got %s, want %s", kicker, wstr.PenaltyKickerShare)
	}
	if contract.Cmp(wstr.PenaltyContractShare) != 0 {
		t.Errorf("contract: got %s, want %s", contract, wstr.PenaltyContractShare)
	}
}

func TestCappedEvictionPenalty_KickerFillsFirst(t *testing.T) {
	// 0.17 WSTR available: kicker takes 0.15 in full, contract the
	// 0.02 remainder.
	available := amt(t, "170000000000000000")
	kicker, contract := fees.CappedEvictionPenalty(available)
	if kicker.Cmp(wstr.PenaltyKickerShare) != 0 {
		t.Errorf("kicker: got %s, want %s", kicker, wstr.PenaltyKickerShare)
	}
	if want := amt(t, "20000000000000000"); contract.Cmp(want) != 0 {
		t.Errorf("contract: got %s, want %s", contract, want)
	}
}

func TestCappedEvictionPenalty_BelowKickerShare(t *testing.T) {
	available := amt(t, "100000000000000000") // 0.10 WSTR
	kicker, contract := fees.CappedEvictionPenalty(available)
	if kicker.Cmp(available) != 0 {
		t.Errorf("kicker: got %s, want %s", kicker, available)
	}
	if contract.Sign() != 0 {
		t.Errorf("contract: got %s, want 0", contract)
	}
}

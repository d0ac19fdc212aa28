package fees

import (
	"math/big"

	"StarPool/internal/wstr"
)

// Pure fee arithmetic. Everything here is deterministic and
// side-effect free; the settlement and eviction paths call into it and
// turn the results into journal batches.

// PerDepthFee returns the extraction fee for a reservation at the
// given 1-based depth: depth × 0.01 WSTR.
func PerDepthFee(depth int) *big.Int {
	return wstr.MulInt(wstr.UnitFee, int64(depth))
}

// FlashFinancingFee prices borrowing the shortfall within the
// settlement transaction: shortfall/1000, truncating. Zero or negative
// shortfall costs nothing.
func FlashFinancingFee(shortfall *big.Int) *big.Int {
	if shortfall == nil || shortfall.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Div(shortfall, big.NewInt(wstr.FlashFeeDivisor))
}

// EvictionPenalty returns the fixed penalty split: kicker share and
// retained contract share. The two always sum to wstr.PenaltyTotal.
func EvictionPenalty() (kickerShare, contractShare *big.Int) {
	return wstr.Copy(wstr.PenaltyKickerShare), wstr.Copy(wstr.PenaltyContractShare)
}

// CappedEvictionPenalty splits a penalty against an available balance.
// The kicker's share fills first; the contract share takes whatever
// remains. An eviction never drives a balance negative.
func CappedEvictionPenalty(available *big.Int) (kickerShare, contractShare *big.Int) {
	kickerShare = wstr.Copy(wstr.PenaltyKickerShare)
	if available.Cmp(kickerShare) < 0 {
		return wstr.Copy(available), new(big.Int)
	}

	remainder := wstr.Sub(available, kickerShare)
	contractShare = wstr.Copy(wstr.PenaltyContractShare)
	if remainder.Cmp(contractShare) < 0 {
		contractShare = remainder
	}
	return kickerShare, contractShare
}

// RequiredDeposit returns the deposit that guarantees a reservation at
// the given depth settles: cost + fee(depth) + drift protection.
func RequiredDeposit(depth int) *big.Int {
	total := wstr.Copy(wstr.StarCost)
	total.Add(total, PerDepthFee(depth))
	total.Add(total, wstr.DriftProtection)
	return total
}

// ReservationCost returns cost + fee(depth) without the drift margin,
// the amount actually deducted at settlement.
func ReservationCost(depth int) *big.Int {
	return wstr.Add(wstr.StarCost, PerDepthFee(depth))
}

// PoolShortfall returns max(0, maxDepth × cost − totalDeposited): the
// amount flash financing must cover for a full-pool settlement.
func PoolShortfall(maxDepth int, totalDeposited *big.Int) *big.Int {
	needed := wstr.MulInt(wstr.StarCost, int64(maxDepth))
	shortfall := needed.Sub(needed, totalDeposited)
	if shortfall.Sign() < 0 {
		return new(big.Int)
	}
	return shortfall
}

// AllocateFlashFee splits a flash fee across n participants pro-rata by
// weight (each participant's share of the borrowed shortfall). Uses
// truncating division and assigns the remainder to the last slot, so
// the allocations always sum exactly to fee.
func AllocateFlashFee(fee *big.Int, weights []*big.Int) []*big.Int {
	shares := make([]*big.Int, len(weights))
	if len(weights) == 0 {
		return shares
	}

	totalWeight := new(big.Int)
	for _, w := range weights {
		totalWeight.Add(totalWeight, w)
	}

	allocated := new(big.Int)
	for i, w := range weights {
		if totalWeight.Sign() == 0 {
			shares[i] = new(big.Int)
			continue
		}
		share := new(big.Int).Mul(fee, w)
		share.Div(share, totalWeight)
		shares[i] = share
		allocated.Add(allocated, share)
	}

	// Truncation residual lands on the last participant.
	residual := wstr.Sub(fee, allocated)
	last := len(shares) - 1
	shares[last] = wstr.Add(shares[last], residual)
	return shares
}

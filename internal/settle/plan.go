package settle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/fees"
	"StarPool/internal/ledger"
	"StarPool/internal/pool"
	"StarPool/internal/state"
	"StarPool/internal/wstr"
)

// Plans separate validation from commit. A plan is computed against
// immutable snapshots and holds everything the commit needs; commits
// only perform mutations that were fully validated, so a commit
// failure after the first fallible step is a defect, not a rejection.

type enterPlan struct {
	member       common.Address
	amount       *big.Int
	entries      []state.DepthEntry
	reservations []pool.Reservation
}

func (ex *Executor) planEnter(member common.Address, amount *big.Int, stars []pool.Star) (*enterPlan, error) {
	if wstr.IsZero(amount) && len(stars) == 0 {
		return nil, fmt.Errorf("enter with no deposit and no stars: %w", pool.ErrNotAMember)
	}
	if amount != nil && amount.Sign() < 0 {
		return nil, fmt.Errorf("negative deposit %s: %w", amount, pool.ErrInsufficientBalance)
	}

	if !wstr.IsZero(amount) {
		if ex.token.Allowance(member).Cmp(amount) < 0 {
			return nil, fmt.Errorf("allowance below deposit %s: %w", amount, pool.ErrInsufficientAllowance)
		}
		if ex.token.BalanceOf(member).Cmp(amount) < 0 {
			return nil, fmt.Errorf("balance below deposit %s: %w", amount, pool.ErrInsufficientBalance)
		}
	}

	live := ex.index.Entries()
	if len(live)+len(stars) > pool.TraversalBound {
		return nil, fmt.Errorf("reserving %d stars past depth %d: %w",
			len(stars), len(live), pool.ErrTraversalBoundExceeded)
	}

	reserved := make(map[pool.Star]bool, len(live)+len(stars))
	for _, e := range live {
		reserved[e.Star] = true
	}

	available := make(map[pool.Star]bool)
	for _, s := range ex.treasury.Snapshot() {
		available[s] = true
	}

	entries := make([]state.DepthEntry, 0, len(stars))
	reservations := make([]pool.Reservation, 0, len(stars))
	for i, s := range stars {
		if reserved[s] {
			return nil, fmt.Errorf("star %d already reserved: %w", s, pool.ErrTreasuryMismatch)
		}
		reserved[s] = true
		if !available[s] {
			return nil, fmt.Errorf("star %d not in treasury: %w", s, pool.ErrTreasuryMismatch)
		}

		depth := len(live) + i + 1
		entries = append(entries, state.DepthEntry{
			Star:        s,
			TargetOwner: member,
			Member:      member,
		})
		reservations = append(reservations, pool.Reservation{
			Star:        s,
			TargetOwner: member,
			Depth:       depth,
		})
	}

	// The post-deposit balance must fund every reservation the member
	// will hold, plus the drift margin.
	required := wstr.Copy(wstr.DriftProtection)
	for i, e := range live {
		if e.Member == member {
			required.Add(required, fees.ReservationCost(i+1))
		}
	}
	for _, r := range reservations {
		required.Add(required, fees.ReservationCost(r.Depth))
	}

	newBalance := wstr.Add(ex.tracker.GetMemberPooled(member), amount)
	if len(entries) > 0 && newBalance.Cmp(required) < 0 {
		return nil, fmt.Errorf("balance %s below required %s: %w",
			newBalance, required, pool.ErrInsufficientBalance)
	}

	return &enterPlan{
		member:       member,
		amount:       wstr.Copy(amount),
		entries:      entries,
		reservations: reservations,
	}, nil
}

func (ex *Executor) commitEnter(plan *enterPlan, opRef string, timestamp int64) (*ledger.Batch, error) {
	if plan.amount.Sign() > 0 {
		if err := ex.token.Pull(plan.member, plan.amount); err != nil {
			return nil, fmt.Errorf("pull deposit %s: %w", plan.amount, err)
		}
	}

	for _, e := range plan.entries {
		if _, err := ex.index.Reserve(e.Member, e.Star, e.TargetOwner); err != nil {
			panic(fmt.Sprintf("FATAL: validated reservation failed: %v", err))
		}
	}

	if plan.amount.Sign() == 0 {
		return nil, nil
	}

	batch, err := ex.generator.GenerateDeposit(plan.member, plan.amount, opRef, timestamp)
	if err != nil {
		panic(fmt.Sprintf("FATAL: deposit batch failed after commit: %v", err))
	}
	return batch, nil
}

type kickPlan struct {
	entries      []state.DepthEntry
	settled      []pool.Reservation
	ledgerKicks  []ledger.KickEntry
	extractStars []pool.Star
	shortfall    *big.Int
	flashFee     *big.Int
}

// planKick validates a full-pool settlement against the given
// reservation set. extra holds balance not yet in the tracker (the
// deposit leg of an enter-and-kick). echo is the caller's view of the
// reservation list; when checkEcho is set, any divergence from the
// live set rejects as stale.
func (ex *Executor) planKick(
	entries []state.DepthEntry,
	extra map[common.Address]*big.Int,
	echo []pool.Reservation,
	checkEcho bool,
	maxDepth int,
) (*kickPlan, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no reservations to settle: %w", pool.ErrStaleMaxDepth)
	}
	if maxDepth != len(entries) {
		return nil, fmt.Errorf("max depth %d, live %d: %w", maxDepth, len(entries), pool.ErrStaleMaxDepth)
	}
	if checkEcho {
		if len(echo) != len(entries) {
			return nil, fmt.Errorf("submitted %d reservations, live %d: %w",
				len(echo), len(entries), pool.ErrStaleMaxDepth)
		}
		for i, r := range echo {
			e := entries[i]
			if r.Star != e.Star || r.TargetOwner != e.TargetOwner || r.Depth != i+1 {
				return nil, fmt.Errorf("reservation at depth %d diverged: %w", i+1, pool.ErrStaleMaxDepth)
			}
		}
	}

	window := reachableWindow(ex.treasury.Snapshot(), maxDepth)
	extractStars := make([]pool.Star, 0, len(entries))
	for _, e := range entries {
		if !window[e.Star] {
			return nil, fmt.Errorf("star %d not reachable within depth %d: %w",
				e.Star, maxDepth, pool.ErrTreasuryMismatch)
		}
		extractStars = append(extractStars, e.Star)
	}

	// Group charges per member in depth order; the group holding the
	// deepest reservation sits last and absorbs the flash-fee
	// truncation residual.
	type memberCharge struct {
		member   common.Address
		cost     *big.Int
		depthFee *big.Int
		count    int64
	}
	charges := make(map[common.Address]*memberCharge)
	order := make([]common.Address, 0)
	for i, e := range entries {
		mc := charges[e.Member]
		if mc == nil {
			mc = &memberCharge{member: e.Member, cost: new(big.Int), depthFee: new(big.Int)}
			charges[e.Member] = mc
		} else {
			// Re-append so the member's position reflects their
			// deepest entry.
			for j, m := range order {
				if m == e.Member {
					order = append(order[:j], order[j+1:]...)
					break
				}
			}
		}
		order = append(order, e.Member)
		mc.cost.Add(mc.cost, wstr.StarCost)
		mc.depthFee.Add(mc.depthFee, fees.PerDepthFee(i+1))
		mc.count++
	}

	balanceOf := func(addr common.Address) *big.Int {
		b := ex.tracker.GetMemberPooled(addr)
		if extraAmt, ok := extra[addr]; ok {
			b.Add(b, extraAmt)
		}
		return b
	}

	// Only reservation holders fund the settlement. Deposit-only
	// members keep their balances, so counting them here would
	// understate the real shortfall and under-borrow the flash swap.
	totalDeposited := new(big.Int)
	for _, m := range order {
		totalDeposited.Add(totalDeposited, balanceOf(m))
	}

	shortfall := fees.PoolShortfall(maxDepth, totalDeposited)
	flashFee := fees.FlashFinancingFee(shortfall)

	weights := make([]*big.Int, len(order))
	for i, m := range order {
		weights[i] = big.NewInt(charges[m].count)
	}
	flashShares := fees.AllocateFlashFee(flashFee, weights)

	ledgerKicks := make([]ledger.KickEntry, 0, len(order))
	for i, m := range order {
		mc := charges[m]
		available := balanceOf(m)
		charged := wstr.Add(wstr.Add(mc.cost, mc.depthFee), flashShares[i])
		if available.Cmp(charged) < 0 {
			return nil, fmt.Errorf("member %s has %s, settlement needs %s: %w",
				m.Hex(), available, charged, pool.ErrInsufficientBalance)
		}
		ledgerKicks = append(ledgerKicks, ledger.KickEntry{
			Member:   m,
			Cost:     mc.cost,
			DepthFee: mc.depthFee,
			FlashFee: flashShares[i],
			Sweep:    wstr.Sub(available, charged),
		})
	}

	settled := make([]pool.Reservation, len(entries))
	for i, e := range entries {
		settled[i] = pool.Reservation{
			Star:        e.Star,
			TargetOwner: e.TargetOwner,
			Depth:       i + 1,
		}
	}

	return &kickPlan{
		entries:      entries,
		settled:      settled,
		ledgerKicks:  ledgerKicks,
		extractStars: extractStars,
		shortfall:    shortfall,
		flashFee:     flashFee,
	}, nil
}

func (ex *Executor) commitKick(plan *kickPlan, opRef string, timestamp int64) (*ledger.Batch, error) {
	if plan.shortfall.Sign() > 0 {
		if _, err := ex.flash.Borrow(plan.shortfall); err != nil {
			return nil, fmt.Errorf("flash borrow %s: %w", plan.shortfall, err)
		}
	}

	if err := ex.treasury.Extract(plan.extractStars); err != nil {
		panic(fmt.Sprintf("FATAL: validated extraction failed: %v", err))
	}

	if plan.shortfall.Sign() > 0 {
		if err := ex.flash.Repay(plan.shortfall, plan.flashFee); err != nil {
			panic(fmt.Sprintf("FATAL: flash repay failed: %v", err))
		}
	}

	for _, r := range plan.settled {
		ex.members.RecordClaim(r.TargetOwner, r.Star)
	}
	ex.index.Clear()

	batch, err := ex.generator.GeneratePoolKick(plan.ledgerKicks, opRef, timestamp)
	if err != nil {
		panic(fmt.Sprintf("FATAL: kick batch failed after commit: %v", err))
	}
	return batch, nil
}

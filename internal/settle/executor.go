package settle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/fees"
	"StarPool/internal/ledger"
	"StarPool/internal/op"
	"StarPool/internal/pool"
	"StarPool/internal/state"
	"StarPool/internal/treasury"
	"StarPool/internal/wstr"
)

// Executor performs atomic settlement: individual buys, pool entry,
// and the pooled kick. Every public method is two-phase — all
// preconditions are validated against immutable snapshots first, then
// the whole mutation set is committed. A rejected operation leaves no
// trace.
//
// The executor is only ever called from the single engine goroutine;
// it holds no locks.
type Executor struct {
	tracker   *ledger.BalanceTracker
	generator *ledger.JournalGenerator
	index     *state.DepthIndex
	members   *state.MemberManager
	treasury  treasury.Treasury
	flash     treasury.FlashSwapper
	token     treasury.Token
}

func NewExecutor(
	tracker *ledger.BalanceTracker,
	generator *ledger.JournalGenerator,
	index *state.DepthIndex,
	members *state.MemberManager,
	tr treasury.Treasury,
	flash treasury.FlashSwapper,
	token treasury.Token,
) *Executor {
	return &Executor{
		tracker:   tracker,
		generator: generator,
		index:     index,
		members:   members,
		treasury:  tr,
		flash:     flash,
		token:     token,
	}
}

// Result reports what a settlement moved, for outbound events and
// projections
type Result struct {
	Batches       []*ledger.Batch
	Settled       []pool.Reservation
	Reserved      []pool.Reservation
	Deposited     *big.Int
	FlashBorrowed *big.Int
	FlashFee      *big.Int
}

// reachableWindow returns the stars sitting within the first maxDepth
// treasury positions, the set a settlement bounded by maxDepth can
// actually extract
func reachableWindow(available []pool.Star, maxDepth int) map[pool.Star]bool {
	if maxDepth > len(available) {
		maxDepth = len(available)
	}
	window := make(map[pool.Star]bool, maxDepth)
	for _, s := range available[:maxDepth] {
		window[s] = true
	}
	return window
}

// BuyIndividually validates and settles an explicit reservation list
// funded from the caller's wallet. Pool balances are untouched: the
// charged amount is pulled and spent within this one operation.
func (ex *Executor) BuyIndividually(o *op.BuyIndividually) (*Result, error) {
	if len(o.Stars) == 0 {
		return nil, fmt.Errorf("buy with no stars: %w", pool.ErrTreasuryMismatch)
	}
	if o.MaxDepth > pool.TraversalBound {
		return nil, fmt.Errorf("max depth %d: %w", o.MaxDepth, pool.ErrTraversalBoundExceeded)
	}

	// Each requested depth must be free or already reserved by the
	// caller, and no requested star may be pooled for another member.
	liveEntries := ex.index.Entries()
	reservedBy := make(map[pool.Star]common.Address, len(liveEntries))
	for _, e := range liveEntries {
		reservedBy[e.Star] = e.Member
	}

	maxFee := new(big.Int)
	costTotal := new(big.Int)
	seen := make(map[pool.Star]bool, len(o.Stars))
	for _, r := range o.Stars {
		if r.Depth < 1 || r.Depth > o.MaxDepth {
			return nil, fmt.Errorf("star %d at depth %d outside window %d: %w",
				r.Star, r.Depth, o.MaxDepth, pool.ErrTraversalBoundExceeded)
		}
		if seen[r.Star] {
			return nil, fmt.Errorf("star %d requested twice: %w", r.Star, pool.ErrTreasuryMismatch)
		}
		seen[r.Star] = true

		if holder, ok := reservedBy[r.Star]; ok && holder != o.Caller {
			return nil, fmt.Errorf("star %d pooled for another member: %w",
				r.Star, pool.ErrTreasuryMismatch)
		}

		if r.Depth <= len(liveEntries) {
			held := liveEntries[r.Depth-1]
			if held.Member != o.Caller {
				return nil, fmt.Errorf("depth %d reserved by another member: %w",
					r.Depth, pool.ErrTreasuryMismatch)
			}
		}

		fee := fees.PerDepthFee(r.Depth)
		if fee.Cmp(maxFee) > 0 {
			maxFee = fee
		}
		costTotal.Add(costTotal, wstr.StarCost)
	}

	// Funding checks happen before any treasury interaction.
	required := wstr.Add(wstr.Add(costTotal, maxFee), wstr.DriftProtection)
	if o.ApprovedWstr == nil || o.ApprovedWstr.Cmp(required) < 0 {
		return nil, fmt.Errorf("approved %s, need %s: %w",
			wstr.Format(o.ApprovedWstr), required, pool.ErrInsufficientAllowance)
	}
	if ex.token.Allowance(o.Caller).Cmp(required) < 0 {
		return nil, fmt.Errorf("allowance below %s: %w", required, pool.ErrInsufficientAllowance)
	}
	if ex.token.BalanceOf(o.Caller).Cmp(required) < 0 {
		return nil, fmt.Errorf("balance below %s: %w", required, pool.ErrInsufficientBalance)
	}

	window := reachableWindow(ex.treasury.Snapshot(), o.MaxDepth)
	extract := make([]pool.Star, 0, len(o.Stars))
	for _, r := range o.Stars {
		if !window[r.Star] {
			return nil, fmt.Errorf("star %d not reachable within depth %d: %w",
				r.Star, o.MaxDepth, pool.ErrTreasuryMismatch)
		}
		extract = append(extract, r.Star)
	}

	// Commit. Only the actual charge is pulled; the rest of the
	// approval stays in the caller's wallet, so surplus refund is
	// implicit.
	extractionFees := wstr.MulInt(wstr.ExtractionFeePerStar, int64(len(o.Stars)))
	charge := wstr.Add(costTotal, extractionFees)

	if err := ex.token.Pull(o.Caller, charge); err != nil {
		return nil, fmt.Errorf("pull %s: %w", charge, err)
	}
	if err := ex.treasury.Extract(extract); err != nil {
		// Validated above; a failure here is a defect.
		panic(fmt.Sprintf("FATAL: validated extraction failed: %v", err))
	}

	batch, err := ex.generator.GenerateIndividualBuy(costTotal, extractionFees, o.IdempotencyKey(), o.Timestamp.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: individual buy batch failed after commit: %v", err))
	}

	settled := make([]pool.Reservation, 0, len(o.Stars))
	for _, r := range o.Stars {
		ex.index.ReleaseStar(r.Star)
		ex.members.RecordClaim(r.TargetOwner, r.Star)
		settled = append(settled, r)
	}

	return &Result{
		Batches:   []*ledger.Batch{batch},
		Settled:   settled,
		Deposited: new(big.Int),
	}, nil
}

// EnterPool deposits WSTR into pool custody and reserves stars for the
// caller at the next depths.
func (ex *Executor) EnterPool(o *op.EnterPool) (*Result, error) {
	plan, err := ex.planEnter(o.Caller, o.WstrToPool, o.Stars)
	if err != nil {
		return nil, err
	}

	batch, err := ex.commitEnter(plan, o.IdempotencyKey(), o.Timestamp.UnixMicro())
	if err != nil {
		return nil, err
	}

	result := &Result{
		Reserved:  plan.reservations,
		Deposited: wstr.Copy(o.WstrToPool),
	}
	if batch != nil {
		result.Batches = append(result.Batches, batch)
	}
	return result, nil
}

// KickPool settles the entire live reservation set
func (ex *Executor) KickPool(o *op.KickPool) (*Result, error) {
	plan, err := ex.planKick(ex.index.Entries(), nil, o.Stars, true, o.MaxDepth)
	if err != nil {
		return nil, err
	}

	batch, err := ex.commitKick(plan, o.IdempotencyKey(), o.Timestamp.UnixMicro())
	if err != nil {
		return nil, err
	}

	return &Result{
		Batches:       []*ledger.Batch{batch},
		Settled:       plan.settled,
		Deposited:     new(big.Int),
		FlashBorrowed: wstr.Copy(plan.shortfall),
		FlashFee:      wstr.Copy(plan.flashFee),
	}, nil
}

// EnterPoolAndKick composes deposit + reserve + kick in one atomic
// operation. Both phases are validated against the prospective state
// before anything is committed.
func (ex *Executor) EnterPoolAndKick(o *op.EnterPoolAndKick) (*Result, error) {
	stars := make([]pool.Star, len(o.Stars))
	for i, r := range o.Stars {
		stars[i] = r.Star
	}

	enterPlan, err := ex.planEnter(o.Caller, o.WstrToPool, stars)
	if err != nil {
		return nil, err
	}

	// The kick validates against the index as it will look after the
	// enter phase, with the caller's deposit already counted.
	prospective := append(ex.index.Entries(), enterPlan.entries...)
	extraBalance := map[common.Address]*big.Int{o.Caller: o.WstrToPool}

	kickPlan, err := ex.planKick(prospective, extraBalance, nil, false, o.MaxDepth)
	if err != nil {
		return nil, err
	}

	enterBatch, err := ex.commitEnter(enterPlan, o.IdempotencyKey(), o.Timestamp.UnixMicro())
	if err != nil {
		return nil, err
	}
	kickBatch, err := ex.commitKick(kickPlan, o.IdempotencyKey(), o.Timestamp.UnixMicro())
	if err != nil {
		// The deposit leg is already committed; a kick that fails
		// here was fully validated, so this is a defect.
		panic(fmt.Sprintf("FATAL: kick commit failed after validation: %v", err))
	}

	batches := make([]*ledger.Batch, 0, 2)
	if enterBatch != nil {
		batches = append(batches, enterBatch)
	}
	batches = append(batches, kickBatch)

	return &Result{
		Batches:       batches,
		Settled:       kickPlan.settled,
		Reserved:      enterPlan.reservations,
		Deposited:     wstr.Copy(o.WstrToPool),
		FlashBorrowed: wstr.Copy(kickPlan.shortfall),
		FlashFee:      wstr.Copy(kickPlan.flashFee),
	}, nil
}

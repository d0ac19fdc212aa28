package evict

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

// Manager removes members from the pool: voluntarily, by penalty kick
// when their reservation became unfulfillable, or administratively by
// the fee collector. Like the settlement executor it runs only on the
// engine goroutine and validates before mutating.
type Manager struct {
	tracker      *ledger.BalanceTracker
	generator    *ledger.JournalGenerator
	index        *state.DepthIndex
	treasury     treasury.Treasury
	feeCollector common.Address
}

func NewManager(
	tracker *ledger.BalanceTracker,
	generator *ledger.JournalGenerator,
	index *state.DepthIndex,
	tr treasury.Treasury,
	feeCollector common.Address,
) *Manager {
	return &Manager{
		tracker:      tracker,
		generator:    generator,
		index:        index,
		treasury:     tr,
		feeCollector: feeCollector,
	}
}

// Result reports what an eviction released and moved
type Result struct {
	Batches       []*ledger.Batch
	Member        common.Address
	Released      []pool.Reservation
	Refund        *big.Int
	KickerShare   *big.Int
	ContractShare *big.Int
}

// ExitPool releases the caller's reservations and refunds their full
// balance, no penalty. Exiting twice rejects: the first call leaves
// nothing behind.
func (m *Manager) ExitPool(o *op.ExitPool) (*Result, error) {
	balance := m.tracker.GetMemberPooled(o.Caller)
	reservations := m.index.MemberEntries(o.Caller)
	if balance.Sign() == 0 && len(reservations) == 0 {
		return nil, fmt.Errorf("%s: %w", o.Caller.Hex(), pool.ErrNotAMember)
	}

	m.index.ReleaseMember(o.Caller)

	result := &Result{
		Member:        o.Caller,
		Released:      reservations,
		Refund:        wstr.Copy(balance),
		KickerShare:   new(big.Int),
		ContractShare: new(big.Int),
	}

	if balance.Sign() > 0 {
		batch, err := m.generator.GenerateExit(o.Caller, balance, o.IdempotencyKey(), o.Timestamp.UnixMicro())
		if err != nil {
			panic(fmt.Sprintf("FATAL: exit batch failed after release: %v", err))
		}
		result.Batches = append(result.Batches, batch)
	}
	return result, nil
}

// KickWithPenalty forcibly evicts a member. Allowed only when one of
// their reserved stars left the reachable treasury window or their
// balance no longer covers their reservations. The fixed penalty is
// split between the kicker and the fee collector, capped at whatever
// the member still holds; the remainder is refunded.
func (m *Manager) KickWithPenalty(o *op.KickMemberPenalty) (*Result, error) {
	balance := m.tracker.GetMemberPooled(o.Member)
	reservations := m.index.MemberEntries(o.Member)
	if balance.Sign() == 0 && len(reservations) == 0 {
		return nil, fmt.Errorf("%s: %w", o.Member.Hex(), pool.ErrNotAMember)
	}

	if !m.evictable(o.Member, balance, reservations) {
		return nil, fmt.Errorf("%s is funded and fulfillable: %w", o.Member.Hex(), pool.ErrNotEvictable)
	}

	kickerShare, contractShare := fees.CappedEvictionPenalty(balance)
	refund := wstr.Sub(balance, wstr.Add(kickerShare, contractShare))

	m.index.ReleaseMember(o.Member)

	result := &Result{
		Member:        o.Member,
		Released:      reservations,
		Refund:        refund,
		KickerShare:   kickerShare,
		ContractShare: contractShare,
	}

	if balance.Sign() > 0 {
		batch, err := m.generator.GeneratePenaltyEviction(
			o.Member, kickerShare, contractShare, refund,
			o.IdempotencyKey(), o.Timestamp.UnixMicro())
		if err != nil {
			panic(fmt.Sprintf("FATAL: eviction batch failed after release: %v", err))
		}
		result.Batches = append(result.Batches, batch)
	}
	return result, nil
}

// KickAdministrative is the fee collector's unconditional eviction, no
// penalty: reservations released, balance refunded in full.
func (m *Manager) KickAdministrative(o *op.KickMember) (*Result, error) {
	if o.Caller != m.feeCollector {
		return nil, fmt.Errorf("caller %s is not the fee collector: %w", o.Caller.Hex(), pool.ErrUnauthorized)
	}

	balance := m.tracker.GetMemberPooled(o.Member)
	reservations := m.index.MemberEntries(o.Member)
	if balance.Sign() == 0 && len(reservations) == 0 {
		return nil, fmt.Errorf("%s: %w", o.Member.Hex(), pool.ErrNotAMember)
	}

	m.index.ReleaseMember(o.Member)

	result := &Result{
		Member:        o.Member,
		Released:      reservations,
		Refund:        wstr.Copy(balance),
		KickerShare:   new(big.Int),
		ContractShare: new(big.Int),
	}

	if balance.Sign() > 0 {
		batch, err := m.generator.GenerateExit(o.Member, balance, o.IdempotencyKey(), o.Timestamp.UnixMicro())
		if err != nil {
			panic(fmt.Sprintf("FATAL: administrative kick batch failed after release: %v", err))
		}
		result.Batches = append(result.Batches, batch)
	}
	return result, nil
}

// evictable reports whether a member's position went bad: a reserved
// star fell out of the reachable window, or the balance dropped below
// the summed reservation cost.
func (m *Manager) evictable(member common.Address, balance *big.Int, reservations []pool.Reservation) bool {
	maxDepth := m.index.MaxDepth()
	available := m.treasury.Snapshot()
	if maxDepth < len(available) {
		available = available[:maxDepth]
	}
	window := make(map[pool.Star]bool, len(available))
	for _, s := range available {
		window[s] = true
	}

	required := new(big.Int)
	for _, r := range reservations {
		if !window[r.Star] {
			return true
		}
		required.Add(required, fees.ReservationCost(r.Depth))
	}

	return balance.Cmp(required) < 0
}

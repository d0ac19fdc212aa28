package treasury

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/pool"
	"StarPool/internal/wstr"
)

// Deterministic in-memory doubles of the external collaborators. The
// engine tests run entirely against these; production seeds
// MemoryTreasury from a ChainReader snapshot.

// MemoryTreasury holds an ordered star list
type MemoryTreasury struct {
	stars []pool.Star
}

func NewMemoryTreasury(stars ...pool.Star) *MemoryTreasury {
	mt := &MemoryTreasury{stars: make([]pool.Star, len(stars))}
	copy(mt.stars, stars)
	return mt
}

// Add appends stars at the back (newest position)
func (mt *MemoryTreasury) Add(stars ...pool.Star) {
	mt.stars = append(mt.stars, stars...)
}

func (mt *MemoryTreasury) Snapshot() []pool.Star {
	out := make([]pool.Star, len(mt.stars))
	copy(out, mt.stars)
	return out
}

func (mt *MemoryTreasury) Extract(stars []pool.Star) error {
	indexOf := make(map[pool.Star]int, len(mt.stars))
	for i, s := range mt.stars {
		indexOf[s] = i
	}

	// Validate the full request before touching anything.
	remove := make(map[pool.Star]bool, len(stars))
	for _, s := range stars {
		if _, ok := indexOf[s]; !ok {
			return fmt.Errorf("star %d not in treasury: %w", s, pool.ErrTreasuryMismatch)
		}
		if remove[s] {
			return fmt.Errorf("star %d requested twice: %w", s, pool.ErrTreasuryMismatch)
		}
		remove[s] = true
	}

	kept := mt.stars[:0]
	for _, s := range mt.stars {
		if !remove[s] {
			kept = append(kept, s)
		}
	}
	mt.stars = kept
	return nil
}

// MemoryFlashSwapper tracks an outstanding loan and the fees it has
// collected
type MemoryFlashSwapper struct {
	outstanding   *big.Int
	FeesCollected *big.Int
}

func NewMemoryFlashSwapper() *MemoryFlashSwapper {
	return &MemoryFlashSwapper{
		outstanding:   new(big.Int),
		FeesCollected: new(big.Int),
	}
}

func (fs *MemoryFlashSwapper) Borrow(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("borrow amount must be non-negative: %s", amount)
	}
	if fs.outstanding.Sign() != 0 {
		return nil, fmt.Errorf("flash loan already outstanding: %s", fs.outstanding)
	}
	fs.outstanding.Set(amount)
	return wstr.Copy(amount), nil
}

func (fs *MemoryFlashSwapper) Repay(principal, fee *big.Int) error {
	if fs.outstanding.Cmp(principal) != 0 {
		return fmt.Errorf("repay principal %s does not match outstanding %s", principal, fs.outstanding)
	}
	fs.outstanding.SetInt64(0)
	fs.FeesCollected.Add(fs.FeesCollected, fee)
	return nil
}

// MemoryToken is a WSTR double with settable balances and allowances
type MemoryToken struct {
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	custody    *big.Int
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		custody:    new(big.Int),
	}
}

// Mint credits an address balance
func (mt *MemoryToken) Mint(owner common.Address, amount *big.Int) {
	mt.balances[owner] = wstr.Add(mt.BalanceOf(owner), amount)
}

// Approve sets the pool's allowance for an owner
func (mt *MemoryToken) Approve(owner common.Address, amount *big.Int) {
	mt.allowances[owner] = wstr.Copy(amount)
}

func (mt *MemoryToken) BalanceOf(owner common.Address) *big.Int {
	if b, ok := mt.balances[owner]; ok {
		return wstr.Copy(b)
	}
	return new(big.Int)
}

func (mt *MemoryToken) Allowance(owner common.Address) *big.Int {
	if a, ok := mt.allowances[owner]; ok {
		return wstr.Copy(a)
	}
	return new(big.Int)
}

func (mt *MemoryToken) Pull(owner common.Address, amount *big.Int) error {
	balance := mt.BalanceOf(owner)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("pull %s from %s: %w", amount, owner.Hex(), pool.ErrInsufficientBalance)
	}
	allowance := mt.Allowance(owner)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("pull %s from %s: %w", amount, owner.Hex(), pool.ErrInsufficientAllowance)
	}

	mt.balances[owner] = balance.Sub(balance, amount)
	mt.allowances[owner] = allowance.Sub(allowance, amount)
	mt.custody.Add(mt.custody, amount)
	return nil
}

// Custody returns total WSTR held by the pool
func (mt *MemoryToken) Custody() *big.Int {
	return wstr.Copy(mt.custody)
}

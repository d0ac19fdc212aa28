package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) balance(key AccountKey) *big.Int {
	b, ok := bt.balances[key]
	if !ok {
		b = new(big.Int)
		bt.balances[key] = b
	}
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balance(j.DebitAccount).Add(bt.balance(j.DebitAccount), j.Amount)
	bt.balance(j.CreditAccount).Sub(bt.balance(j.CreditAccount), j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetBalance overwrites an account balance directly. Only used during
// snapshot restore; normal flow goes through ApplyBatch.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// GetMemberPooled returns a member's pooled WSTR balance
func (bt *BalanceTracker) GetMemberPooled(addr common.Address) *big.Int {
	return bt.GetBalance(NewMemberAccountKey(addr))
}

// === Invariant Checks ===

// ValidateSufficientPooled checks a member can cover a required amount
func (bt *BalanceTracker) ValidateSufficientPooled(addr common.Address, required *big.Int) error {
	pooled := bt.GetMemberPooled(addr)
	if pooled.Cmp(required) < 0 {
		return fmt.Errorf("insufficient pooled balance: have=%s, need=%s", pooled, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if b, ok := bt.balances[key]; ok && b.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), b)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (must be 0 for a
// zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() *big.Int {
	total := new(big.Int)
	for _, b := range bt.balances {
		total.Add(total, b)
	}
	return total
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}

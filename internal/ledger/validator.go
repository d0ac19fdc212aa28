package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateMemberNonNegative checks member pooled balance >= 0
func (v *InvariantValidator) ValidateMemberNonNegative(addr common.Address) error {
	return v.tracker.ValidateNonNegative(NewMemberAccountKey(addr))
}

// ValidateSystemNonNegative checks fee and penalty retention accounts
// never go negative
func (v *InvariantValidator) ValidateSystemNonNegative() error {
	if err := v.tracker.ValidateNonNegative(NewSystemAccountKey(SubTypeSystemFees)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewSystemAccountKey(SubTypeSystemPenalty))
}

// ValidateGlobalBalance verifies the system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	total := v.tracker.ComputeGlobalBalance()
	if total.Sign() != 0 {
		return fmt.Errorf("global balance is non-zero: %s", total)
	}
	return nil
}

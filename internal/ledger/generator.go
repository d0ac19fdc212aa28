package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"StarPool/internal/wstr"
)

// JournalGenerator creates balanced journal batches from operations.
// Batches carry no sequence when generated; the engine stamps the
// operation sequence onto the batch and its journals at apply time,
// so the op log and journal rows always join on the same number.
type JournalGenerator struct {
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

func (jg *JournalGenerator) newBatch(opRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		OpRef:     opRef,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendTransfer(
	batch *Batch,
	debit, credit AccountKey,
	amount *big.Int,
	journalType JournalType,
) {
	if wstr.IsZero(amount) {
		return
	}
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		OpRef:         batch.OpRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        wstr.Copy(amount),
		JournalType:   journalType,
		Timestamp:     batch.Timestamp,
	})
}

// GenerateDeposit creates journals for WSTR entering pool custody.
// Moves funds: external:token → member:pooled
func (jg *JournalGenerator) GenerateDeposit(
	member common.Address,
	amount *big.Int,
	opRef string,
	timestamp int64,
) (*Batch, error) {
	if wstr.IsZero(amount) || amount.Sign() < 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %s", amount)
	}

	batch := jg.newBatch(opRef, timestamp, 1)
	jg.appendTransfer(batch,
		NewMemberAccountKey(member),
		NewExternalAccountKey(SubTypeExternalToken),
		amount, JournalTypeDeposit)

	return batch, nil
}

// GenerateExit creates journals for a voluntary exit refund.
// Moves funds: member:pooled → external:token
func (jg *JournalGenerator) GenerateExit(
	member common.Address,
	amount *big.Int,
	opRef string,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientPooled(member, amount); err != nil {
		return nil, fmt.Errorf("exit pre-check failed: %w", err)
	}

	batch := jg.newBatch(opRef, timestamp, 1)
	jg.appendTransfer(batch,
		NewExternalAccountKey(SubTypeExternalToken),
		NewMemberAccountKey(member),
		amount, JournalTypeExitRefund)

	return batch, nil
}

// GeneratePenaltyEviction creates journals for a forced eviction.
// kickerShare leaves custody toward the kicker's wallet, contractShare
// is retained, the remainder is refunded to the evicted member.
func (jg *JournalGenerator) GeneratePenaltyEviction(
	member common.Address,
	kickerShare, contractShare, refund *big.Int,
	opRef string,
	timestamp int64,
) (*Batch, error) {
	required := wstr.Add(wstr.Add(kickerShare, contractShare), refund)
	if err := jg.balanceTracker.ValidateSufficientPooled(member, required); err != nil {
		return nil, fmt.Errorf("eviction pre-check failed: %w", err)
	}

	batch := jg.newBatch(opRef, timestamp, 3)
	memberKey := NewMemberAccountKey(member)

	jg.appendTransfer(batch,
		NewExternalAccountKey(SubTypeExternalToken), memberKey,
		kickerShare, JournalTypePenaltyKicker)
	jg.appendTransfer(batch,
		NewSystemAccountKey(SubTypeSystemPenalty), memberKey,
		contractShare, JournalTypePenaltyRetained)
	jg.appendTransfer(batch,
		NewExternalAccountKey(SubTypeExternalToken), memberKey,
		refund, JournalTypeExitRefund)

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("eviction of %s moves no funds", member.Hex())
	}

	return batch, nil
}

// GenerateIndividualBuy creates journals for an individual settlement.
// The caller's wallet pays the treasury directly; only the charged
// amounts cross the ledger boundary (the unused allowance is never
// pulled, so there is no refund leg).
// Moves funds: external:token → external:swap (cost),
// external:token → system:fees (retained extraction fee).
func (jg *JournalGenerator) GenerateIndividualBuy(
	costTotal, extractionFeeTotal *big.Int,
	opRef string,
	timestamp int64,
) (*Batch, error) {
	if wstr.IsZero(costTotal) {
		return nil, fmt.Errorf("individual buy with zero cost")
	}

	batch := jg.newBatch(opRef, timestamp, 2)
	tokenKey := NewExternalAccountKey(SubTypeExternalToken)

	jg.appendTransfer(batch,
		NewExternalAccountKey(SubTypeExternalSwap), tokenKey,
		costTotal, JournalTypeStarPurchase)
	jg.appendTransfer(batch,
		NewSystemAccountKey(SubTypeSystemFees), tokenKey,
		extractionFeeTotal, JournalTypeExtractionFee)

	return batch, nil
}

// KickEntry is one member's share of a pooled settlement: star costs
// paid to the swap, depth fees retained, the member's slice of the
// flash-financing fee, and the residual surplus swept to the fee
// collector. All fields may be zero except Cost.
type KickEntry struct {
	Member   common.Address
	Cost     *big.Int
	DepthFee *big.Int
	FlashFee *big.Int
	Sweep    *big.Int
}

// GeneratePoolKick creates journals for settling the whole reservation
// set. The flash borrow principal is repaid within the same operation
// and nets to zero, so only the financing fee appears as a transfer to
// the swap counterparty.
//
// No balance pre-check here: the settlement planner validates every
// entry against the prospective balances, which may include a deposit
// landing in the same operation and therefore not yet applied to the
// tracker. Non-negativity is re-checked after the batch is applied.
func (jg *JournalGenerator) GeneratePoolKick(
	entries []KickEntry,
	opRef string,
	timestamp int64,
) (*Batch, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("pool kick with no entries")
	}

	batch := jg.newBatch(opRef, timestamp, len(entries)*4)
	swapKey := NewExternalAccountKey(SubTypeExternalSwap)
	feesKey := NewSystemAccountKey(SubTypeSystemFees)

	for _, e := range entries {
		memberKey := NewMemberAccountKey(e.Member)
		jg.appendTransfer(batch, swapKey, memberKey, e.Cost, JournalTypeStarPurchase)
		jg.appendTransfer(batch, feesKey, memberKey, e.DepthFee, JournalTypeDepthFee)
		jg.appendTransfer(batch, swapKey, memberKey, e.FlashFee, JournalTypeFlashFee)
		jg.appendTransfer(batch, feesKey, memberKey, e.Sweep, JournalTypeSurplusSweep)
	}

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("pool kick moves no funds")
	}

	return batch, nil
}

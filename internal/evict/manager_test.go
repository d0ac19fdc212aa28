package evict_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"StarPool/internal/evict"
	"StarPool/internal/fees"
	"StarPool/internal/ledger"
	"StarPool/internal/op"
	"StarPool/internal/pool"
	"StarPool/internal/state"
	"StarPool/internal/treasury"
	"StarPool/internal/wstr"
)

var (
	alice        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob          = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	feeCollector = common.HexToAddress("0x00000000000000000000000000000000000000fc")
)

// --- Test helpers ---

type fixture struct {
	tracker  *ledger.BalanceTracker
	index    *state.DepthIndex
	treasury *treasury.MemoryTreasury
	manager  *evict.Manager
}

func newFixture(stars ...pool.Star) *fixture {
	tracker := ledger.NewBalanceTracker()
	generator := ledger.NewJournalGenerator(tracker)
	index := state.NewDepthIndex()
	tr := treasury.NewMemoryTreasury(stars...)

	return &fixture{
		tracker:  tracker,
		index:    index,
		treasury: tr,
		manager:  evict.NewManager(tracker, generator, index, tr, feeCollector),
	}
}

// seed gives a member a pooled balance and optional reservations,
// bypassing the deposit path
func (f *fixture) seed(t *testing.T, member common.Address, balance *big.Int, stars ...pool.Star) {
	t.Helper()
	if balance != nil {
		f.tracker.SetBalance(ledger.NewMemberAccountKey(member), balance)
	}
	for _, s := range stars {
		if _, err := f.index.Reserve(member, s, member); err != nil {
			t.Fatalf("seed reservation for star %d: %v", s, err)
		}
	}
}

func applyAll(t *testing.T, tracker *ledger.BalanceTracker, batches []*ledger.Batch) {
	t.Helper()
	for _, b := range batches {
		if err := tracker.ApplyBatch(b); err != nil {
			t.Fatalf("apply batch: %v", err)
		}
	}
}

// ============================================================================
// Test: ExitPool
// ============================================================================

func TestExitPool_FullRefund(t *testing.T) {
	f := newFixture(10)
	deposit := fees.RequiredDeposit(1)
	f.seed(t, alice, deposit, 10)

	res, err := f.manager.ExitPool(&op.ExitPool{
		OpID:      uuid.New(),
		Caller:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if err != nil {
		t.Fatalf("ExitPool: %v", err)
	}
	applyAll(t, f.tracker, res.Batches)

	if res.Refund.Cmp(deposit) != 0 {
		t.Errorf("refund: got %s, want %s", res.Refund, deposit)
	}
	if res.KickerShare.Sign() != 0 || res.ContractShare.Sign() != 0 {
		t.Error("voluntary exit should carry no penalty")
	}
	if len(res.Released) != 1 || res.Released[0].Star != 10 {
		t.Errorf("released: got %v, want star 10", res.Released)
	}
	if got := f.tracker.GetMemberPooled(alice); got.Sign() != 0 {
		t.Errorf("pooled after exit: got %s, want 0", got)
	}
	if f.index.MaxDepth() != 0 {
		t.Errorf("index after exit: max depth %d, want 0", f.index.MaxDepth())
	}
}

func TestExitPool_ReservationsOnly(t *testing.T) {
	f := newFixture(10)
	f.seed(t, alice, nil, 10)

	res, err := f.manager.ExitPool(&op.ExitPool{
		OpID:      uuid.New(),
		Caller:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if err != nil {
		t.Fatalf("ExitPool: %v", err)
	}
	if len(res.Batches) != 0 {
		t.Errorf("zero-balance exit produced %d batches, want 0", len(res.Batches))
	}
	if len(res.Released) != 1 {
		t.Errorf("released: got %d, want 1", len(res.Released))
	}
}

func TestExitPool_TwiceRejects(t *testing.T) {
	f := newFixture(10)
	f.seed(t, alice, fees.RequiredDeposit(1), 10)

	res, err := f.manager.ExitPool(&op.ExitPool{
		OpID:      uuid.New(),
		Caller:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if err != nil {
		t.Fatalf("first exit: %v", err)
	}
	applyAll(t, f.tracker, res.Batches)

	_, err = f.manager.ExitPool(&op.ExitPool{
		OpID:      uuid.New(),
		Caller:    alice,
		Timestamp: time.UnixMicro(2000000),
	})
	if !errors.Is(err, pool.ErrNotAMember) {
		t.Errorf("second exit: got %v, want ErrNotAMember", err)
	}
}

// ============================================================================
// Test: KickWithPenalty
// ============================================================================

func TestKickWithPenalty_StarOutOfWindow(t *testing.T) {
	// Alice reserved star 10, which is no longer in the treasury.
	f := newFixture(20)
	deposit := fees.RequiredDeposit(1)
	f.seed(t, alice, deposit, 10)

	res, err := f.manager.KickWithPenalty(&op.KickMemberPenalty{
		OpID:      uuid.New(),
		Caller:    bob,
		Member:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if err != nil {
		t.Fatalf("KickWithPenalty: %v", err)
	}
	applyAll(t, f.tracker, res.Batches)

	if res.KickerShare.Cmp(wstr.PenaltyKickerShare) != 0 {
		t.Errorf("kicker share: got %s, want %s", res.KickerShare, wstr.PenaltyKickerShare)
	}
	if res.ContractShare.Cmp(wstr.PenaltyContractShare) != 0 {
		t.Errorf("contract share: got %s, want %s", res.ContractShare, wstr.PenaltyContractShare)
	}
	wantRefund := wstr.Sub(deposit, wstr.PenaltyTotal)
	if res.Refund.Cmp(wantRefund) != 0 {
		t.Errorf("refund: got %s, want %s", res.Refund, wantRefund)
	}

	if got := f.tracker.GetMemberPooled(alice); got.Sign() != 0 {
		t.Errorf("pooled after eviction: got %s, want 0", got)
	}
	penaltyKey := ledger.NewSystemAccountKey(ledger.SubTypeSystemPenalty)
	if got := f.tracker.GetBalance(penaltyKey); got.Cmp(wstr.PenaltyContractShare) != 0 {
		t.Errorf("penalty retention: got %s, want %s", got, wstr.PenaltyContractShare)
	}
	if f.index.MaxDepth() != 0 {
		t.Error("eviction left reservations behind")
	}
}

func TestKickWithPenalty_Underfunded(t *testing.T) {
	// Star still reachable, but the balance no longer covers the
	// reservation cost.
	f := newFixture(10)
	balance := wstr.Sub(fees.ReservationCost(1), big.NewInt(1))
	f.seed(t, alice, balance, 10)

	res, err := f.manager.KickWithPenalty(&op.KickMemberPenalty{
		OpID:      uuid.New(),
		Caller:    bob,
		Member:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if err != nil {
		t.Fatalf("KickWithPenalty: %v", err)
	}
	applyAll(t, f.tracker, res.Batches)

	if got := wstr.Add(wstr.Add(res.KickerShare, res.ContractShare), res.Refund); got.Cmp(balance) != 0 {
		t.Errorf("shares + refund = %s, want full balance %s", got, balance)
	}
	if got := f.tracker.GetMemberPooled(alice); got.Sign() != 0 {
		t.Errorf("pooled after eviction: got %s, want 0", got)
	}
}

func TestKickWithPenalty_PenaltyCappedByBalance(t *testing.T) {
	// Balance below the kicker share: the whole balance goes to the
	// kicker, nothing retained, nothing refunded.
	f := newFixture(20)
	balance := new(big.Int).Div(wstr.PenaltyKickerShare, big.NewInt(2))
	f.seed(t, alice, balance, 10)

	res, err := f.manager.KickWithPenalty(&op.KickMemberPenalty{
		OpID:      uuid.New(),
		Caller:    bob,
		Member:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if err != nil {
		t.Fatalf("KickWithPenalty: %v", err)
	}
	applyAll(t, f.tracker, res.Batches)

	if res.KickerShare.Cmp(balance) != 0 {
		t.Errorf("kicker share: got %s, want %s", res.KickerShare, balance)
	}
	if res.ContractShare.Sign() != 0 || res.Refund.Sign() != 0 {
		t.Errorf("got contract %s refund %s, want both 0", res.ContractShare, res.Refund)
	}
	if err := f.tracker.ValidateNonNegative(ledger.NewMemberAccountKey(alice)); err != nil {
		t.Errorf("eviction drove balance negative: %v", err)
	}
}

func TestKickWithPenalty_FundedMemberNotEvictable(t *testing.T) {
	f := newFixture(10)
	f.seed(t, alice, fees.RequiredDeposit(1), 10)

	_, err := f.manager.KickWithPenalty(&op.KickMemberPenalty{
		OpID:      uuid.New(),
		Caller:    bob,
		Member:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if !errors.Is(err, pool.ErrNotEvictable) {
		t.Errorf("got %v, want ErrNotEvictable", err)
	}
	if f.index.MaxDepth() != 1 {
		t.Error("rejected eviction mutated the index")
	}
}

func TestKickWithPenalty_NotAMember(t *testing.T) {
	f := newFixture()
	_, err := f.manager.KickWithPenalty(&op.KickMemberPenalty{
		OpID:      uuid.New(),
		Caller:    bob,
		Member:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if !errors.Is(err, pool.ErrNotAMember) {
		t.Errorf("got %v, want ErrNotAMember", err)
	}
}

// ============================================================================
// Test: KickAdministrative
// ============================================================================

func TestKickAdministrative_FeeCollectorOnly(t *testing.T) {
	f := newFixture(10)
	f.seed(t, alice, fees.RequiredDeposit(1), 10)

	_, err := f.manager.KickAdministrative(&op.KickMember{
		OpID:      uuid.New(),
		Caller:    bob,
		Member:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if !errors.Is(err, pool.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestKickAdministrative_NoPenalty(t *testing.T) {
	f := newFixture(10)
	deposit := fees.RequiredDeposit(1)
	f.seed(t, alice, deposit, 10)

	res, err := f.manager.KickAdministrative(&op.KickMember{
		OpID:      uuid.New(),
		Caller:    feeCollector,
		Member:    alice,
		Timestamp: time.UnixMicro(1000000),
	})
	if err != nil {
		t.Fatalf("KickAdministrative: %v", err)
	}
	applyAll(t, f.tracker, res.Batches)

	if res.Refund.Cmp(deposit) != 0 {
		t.Errorf("refund: got %s, want full balance %s", res.Refund, deposit)
	}
	if res.KickerShare.Sign() != 0 || res.ContractShare.Sign() != 0 {
		t.Error("administrative kick should carry no penalty")
	}
	if got := f.tracker.GetMemberPooled(alice); got.Sign() != 0 {
		t.Errorf("pooled after kick: got %s, want 0", got)
	}
	if f.index.MaxDepth() != 0 {
		t.Error("kick left reservations behind")
	}
}

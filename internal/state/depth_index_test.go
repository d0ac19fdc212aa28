package state_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/pool"
	"StarPool/internal/state"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func mustReserve(t *testing.T, di *state.DepthIndex, member common.Address, star pool.Star, owner common.Address) int {
	t.Helper()
	depth, err := di.Reserve(member, star, owner)
	if err != nil {
		t.Fatalf("reserve star %d: %v", star, err)
	}
	return depth
}

// ============================================================================
// Test: Reserve
// ============================================================================

func TestDepthIndex_ReserveAssignsContiguousDepths(t *testing.T) {
	di := state.NewDepthIndex()

	if d := mustReserve(t, di, alice, 10, alice); d != 1 {
		t.Errorf("first reserve: got depth %d, want 1", d)
	}
	if d := mustReserve(t, di, bob, 20, bob); d != 2 {
		t.Errorf("second reserve: got depth %d, want 2", d)
	}
	if di.MaxDepth() != 2 {
		t.Errorf("max depth: got %d, want 2", di.MaxDepth())
	}
}

func TestDepthIndex_ReserveDuplicateStar(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, alice)

	_, err := di.Reserve(bob, 10, bob)
	if !errors.Is(err, pool.ErrTreasuryMismatch) {
		t.Errorf("duplicate star: got %v, want ErrTreasuryMismatch", err)
	}
	if di.MaxDepth() != 1 {
		t.Errorf("failed reserve mutated index: max depth %d", di.MaxDepth())
	}
}

func TestDepthIndex_TraversalBound(t *testing.T) {
	di := state.NewDepthIndex()
	for i := 0; i < pool.TraversalBound; i++ {
		mustReserve(t, di, alice, pool.Star(i), alice)
	}

	_, err := di.Reserve(alice, pool.Star(pool.TraversalBound), alice)
	if !errors.Is(err, pool.ErrTraversalBoundExceeded) {
		t.Errorf("got %v, want ErrTraversalBoundExceeded", err)
	}
	if di.MaxDepth() != pool.TraversalBound {
		t.Errorf("max depth: got %d, want %d", di.MaxDepth(), pool.TraversalBound)
	}
}

// ============================================================================
// Test: Release and compaction
// ============================================================================

func TestDepthIndex_ReleaseStarCompacts(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, alice)
	mustReserve(t, di, bob, 20, bob)
	mustReserve(t, di, carol, 30, carol)

	if !di.ReleaseStar(20) {
		t.Fatal("release of star 20 reported not found")
	}

	entries := di.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Carol compacted from depth 3 to depth 2.
	if entries[1].Star != 30 {
		t.Errorf("entry at depth 2: got star %d, want 30", entries[1].Star)
	}
	snapshot, maxDepth := di.Snapshot()
	if maxDepth != 2 {
		t.Errorf("max depth after release: got %d, want 2", maxDepth)
	}
	if snapshot[1].Depth != 2 {
		t.Errorf("snapshot depth: got %d, want 2", snapshot[1].Depth)
	}
}

func TestDepthIndex_ReleaseStarUnknown(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, alice)

	if di.ReleaseStar(99) {
		t.Error("release of unreserved star reported found")
	}
}

func TestDepthIndex_ReleaseMember(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, alice)
	mustReserve(t, di, bob, 20, bob)
	mustReserve(t, di, alice, 30, carol) // alice funds a star for carol

	released := di.ReleaseMember(alice)
	if released != 2 {
		t.Errorf("released: got %d, want 2", released)
	}

	entries := di.Entries()
	if len(entries) != 1 || entries[0].Star != 20 {
		t.Errorf("remaining entries: got %v, want only star 20", entries)
	}
}

func TestDepthIndex_ReleaseMemberNone(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, alice)

	if released := di.ReleaseMember(bob); released != 0 {
		t.Errorf("released: got %d, want 0", released)
	}
}

// ============================================================================
// Test: Views
// ============================================================================

func TestDepthIndex_MemberEntriesCarryCurrentDepths(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, alice)
	mustReserve(t, di, bob, 20, bob)
	mustReserve(t, di, alice, 30, alice)

	got := di.MemberEntries(alice)
	if len(got) != 2 {
		t.Fatalf("got %d reservations, want 2", len(got))
	}
	if got[0].Depth != 1 || got[1].Depth != 3 {
		t.Errorf("depths: got %d,%d, want 1,3", got[0].Depth, got[1].Depth)
	}

	// Releasing bob shifts alice's second entry up.
	di.ReleaseMember(bob)
	got = di.MemberEntries(alice)
	if got[1].Depth != 2 {
		t.Errorf("depth after compaction: got %d, want 2", got[1].Depth)
	}
}

func TestDepthIndex_EntriesReturnsCopy(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, alice)

	entries := di.Entries()
	entries[0].Star = 99

	if di.Entries()[0].Star != 10 {
		t.Error("mutating the returned slice leaked into the index")
	}
}

func TestDepthIndex_SnapshotRestoreRoundTrip(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, bob)
	mustReserve(t, di, carol, 20, carol)

	saved := di.Entries()

	restored := state.NewDepthIndex()
	restored.Restore(saved)

	if fmt.Sprint(restored.Entries()) != fmt.Sprint(saved) {
		t.Errorf("restored entries diverge: got %v, want %v", restored.Entries(), saved)
	}
	if restored.MaxDepth() != 2 {
		t.Errorf("restored max depth: got %d, want 2", restored.MaxDepth())
	}
}

func TestDepthIndex_Clear(t *testing.T) {
	di := state.NewDepthIndex()
	mustReserve(t, di, alice, 10, alice)
	mustReserve(t, di, bob, 20, bob)

	di.Clear()
	if di.MaxDepth() != 0 {
		t.Errorf("max depth after clear: got %d, want 0", di.MaxDepth())
	}
}

package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/pool"
)

// DepthEntry is one reservation plus the member whose deposit funds it.
// TargetOwner is where the star goes at settlement and may differ from
// the funding member.
type DepthEntry struct {
	Star        pool.Star
	TargetOwner common.Address
	Member      common.Address
}

// DepthIndex is the ordered reservation list. Depth is 1-based position
// in the slice; releasing an entry compacts everything behind it, so
// depths always form a contiguous 1..maxDepth sequence. Any release
// changes maxDepth, which is what lets settlement detect stale kick
// payloads.
type DepthIndex struct {
	entries []DepthEntry
}

func NewDepthIndex() *DepthIndex {
	return &DepthIndex{
		entries: make([]DepthEntry, 0, pool.TraversalBound),
	}
}

// MaxDepth returns the current number of reservations
func (di *DepthIndex) MaxDepth() int {
	return len(di.entries)
}

// Reserve appends a reservation at the next depth
func (di *DepthIndex) Reserve(member common.Address, star pool.Star, targetOwner common.Address) (int, error) {
	if len(di.entries)+1 > pool.TraversalBound {
		return 0, fmt.Errorf("reserve star %d: %w", star, pool.ErrTraversalBoundExceeded)
	}

	for _, e := range di.entries {
		if e.Star == star {
			return 0, fmt.Errorf("star %d already reserved: %w", star, pool.ErrTreasuryMismatch)
		}
	}

	di.entries = append(di.entries, DepthEntry{
		Star:        star,
		TargetOwner: targetOwner,
		Member:      member,
	})
	return len(di.entries), nil
}

// ReleaseStar removes the reservation for a star, compacting deeper
// entries by one. Returns false if the star was not reserved.
func (di *DepthIndex) ReleaseStar(star pool.Star) bool {
	for i, e := range di.entries {
		if e.Star == star {
			di.entries = append(di.entries[:i], di.entries[i+1:]...)
			return true
		}
	}
	return false
}

// ReleaseMember removes every reservation funded by a member and
// returns how many were released
func (di *DepthIndex) ReleaseMember(member common.Address) int {
	kept := di.entries[:0]
	released := 0
	for _, e := range di.entries {
		if e.Member == member {
			released++
			continue
		}
		kept = append(kept, e)
	}
	di.entries = kept
	return released
}

// Clear drops every reservation, used after a full pool settlement
func (di *DepthIndex) Clear() {
	di.entries = di.entries[:0]
}

// Entries returns a copy of the live reservation set in depth order
func (di *DepthIndex) Entries() []DepthEntry {
	out := make([]DepthEntry, len(di.entries))
	copy(out, di.entries)
	return out
}

// MemberEntries returns the reservations funded by a member, in depth
// order, with their current depths
func (di *DepthIndex) MemberEntries(member common.Address) []pool.Reservation {
	var out []pool.Reservation
	for i, e := range di.entries {
		if e.Member == member {
			out = append(out, pool.Reservation{
				Star:        e.Star,
				TargetOwner: e.TargetOwner,
				Depth:       i + 1,
			})
		}
	}
	return out
}

// Snapshot returns the reservation list with current depths plus
// maxDepth, the shape read by settlement and the pooledStars view
func (di *DepthIndex) Snapshot() ([]pool.Reservation, int) {
	out := make([]pool.Reservation, len(di.entries))
	for i, e := range di.entries {
		out[i] = pool.Reservation{
			Star:        e.Star,
			TargetOwner: e.TargetOwner,
			Depth:       i + 1,
		}
	}
	return out, len(di.entries)
}

// Restore replaces the index contents (snapshot restore)
func (di *DepthIndex) Restore(entries []DepthEntry) {
	di.entries = make([]DepthEntry, len(entries))
	copy(di.entries, entries)
}

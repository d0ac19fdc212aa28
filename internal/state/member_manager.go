package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/pool"
)

// MemberState records the stars an address has claimed through
// settlement. Balances live in the ledger's balance tracker;
// membership itself is derived (an address with a pooled balance or a
// live reservation is a member).
type MemberState struct {
	Address common.Address
	Stars   []pool.Star // claimed at settlement, insertion order
}

// MemberManager tracks claimed stars per address
type MemberManager struct {
	members map[common.Address]*MemberState
}

func NewMemberManager() *MemberManager {
	return &MemberManager{
		members: make(map[common.Address]*MemberState),
	}
}

// Get returns existing member state or nil
func (mm *MemberManager) Get(addr common.Address) *MemberState {
	return mm.members[addr]
}

// GetOrCreate returns existing state or creates an empty record
func (mm *MemberManager) GetOrCreate(addr common.Address) *MemberState {
	ms := mm.members[addr]
	if ms == nil {
		ms = &MemberState{Address: addr}
		mm.members[addr] = ms
	}
	return ms
}

// RecordClaim attributes a settled star to its target owner
func (mm *MemberManager) RecordClaim(addr common.Address, star pool.Star) {
	ms := mm.GetOrCreate(addr)
	ms.Stars = append(ms.Stars, star)
}

// ClaimedStars returns a copy of the stars claimed by an address
func (mm *MemberManager) ClaimedStars(addr common.Address) []pool.Star {
	ms := mm.members[addr]
	if ms == nil {
		return nil
	}
	out := make([]pool.Star, len(ms.Stars))
	copy(out, ms.Stars)
	return out
}

// All returns every member state sorted by address, for deterministic
// state digests and snapshots
func (mm *MemberManager) All() []*MemberState {
	out := make([]*MemberState, 0, len(mm.members))
	for _, ms := range mm.members {
		out = append(out, ms)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Restore replaces all member state (snapshot restore)
func (mm *MemberManager) Restore(states []*MemberState) {
	mm.members = make(map[common.Address]*MemberState, len(states))
	for _, ms := range states {
		mm.members[ms.Address] = ms
	}
}

package pool

import (
	"github.com/ethereum/go-ethereum/common"
)

// Star is the ordinal identifier of a treasury item. The treasury
// address space is uint16, matching the on-chain representation.
type Star uint16

// TraversalBound caps how deep a settlement may walk the treasury.
// Reservations past this bound are rejected outright: the traversal
// needed to reach them cannot be executed within a predictable
// resource budget.
const TraversalBound = 50

// Reservation is one slot in the depth index: star, who receives it
// at settlement, and its 1-based rank in treasury traversal order.
type Reservation struct {
	Star        Star
	TargetOwner common.Address
	Depth       int
}

// Member is the read-side view of one pool participant.
type Member struct {
	Address    common.Address
	WstrPooled string // decimal wei
	Stars      []Star
}

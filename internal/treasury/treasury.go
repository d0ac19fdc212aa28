package treasury

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/pool"
)

// Capabilities the settlement core depends on. All three are injected:
// the engine runs against deterministic in-memory doubles in tests and
// against snapshots of on-chain state in production (see ChainReader).

// Treasury is the ordered collection of currently available stars.
// Snapshots are consumed front-to-back (oldest available first); only
// Extract mutates it, and Extract is all-or-nothing.
type Treasury interface {
	// Snapshot returns the available stars in traversal order.
	Snapshot() []pool.Star

	// Extract atomically removes the given stars. If any star is
	// absent, nothing is removed and an error wrapping
	// pool.ErrTreasuryMismatch is returned.
	Extract(stars []pool.Star) error
}

// FlashSwapper finances a settlement shortfall inside the same
// operation: borrow the shortfall, settle, repay principal plus fee.
type FlashSwapper interface {
	Borrow(amount *big.Int) (*big.Int, error)
	Repay(principal, fee *big.Int) error
}

// Token is the WSTR balance/allowance surface the deposit path
// validates against before pulling funds into pool custody.
type Token interface {
	BalanceOf(owner common.Address) *big.Int
	Allowance(owner common.Address) *big.Int

	// Pull transfers amount from owner into pool custody, consuming
	// allowance. Callers validate balance and allowance first; Pull
	// failing after validation is a defect.
	Pull(owner common.Address, amount *big.Int) error
}

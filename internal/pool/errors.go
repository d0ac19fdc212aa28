package pool

import "errors"

// Rejection taxonomy. Every failed operation maps to exactly one of
// these; handlers wrap them with context and callers match with
// errors.Is. A rejection never mutates state.
var (
	// ErrInsufficientBalance: the participant's token balance or
	// pooled balance cannot cover the operation.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance: the participant approved less than
	// the operation needs to pull into custody.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrTraversalBoundExceeded: a reservation would land past the
	// fixed treasury traversal bound.
	ErrTraversalBoundExceeded = errors.New("traversal bound exceeded")

	// ErrStaleMaxDepth: the submitted maxDepth does not match the
	// live depth index; the caller must resubmit with fresh state.
	ErrStaleMaxDepth = errors.New("stale max depth")

	// ErrTreasuryMismatch: a reserved star is not reachable within
	// the traversal window at settlement time. The treasury
	// composition changed; no partial extraction happens.
	ErrTreasuryMismatch = errors.New("treasury mismatch")

	// ErrNotEvictable: the member's reservations are fulfillable and
	// funded, so a penalty eviction is not allowed.
	ErrNotEvictable = errors.New("not evictable")

	// ErrNotAMember: the address has no balance and no reservations.
	ErrNotAMember = errors.New("not a pool member")

	// ErrUnauthorized: administrative eviction attempted by an
	// address other than the fee collector.
	ErrUnauthorized = errors.New("unauthorized")
)

// RejectionCode maps a taxonomy error to its wire code for outbound
// rejection events. Unknown errors map to "internal".
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ErrTraversalBoundExceeded):
		return "traversal_bound_exceeded"
	case errors.Is(err, ErrStaleMaxDepth):
		return "stale_max_depth"
	case errors.Is(err, ErrTreasuryMismatch):
		return "treasury_mismatch"
	case errors.Is(err, ErrNotEvictable):
		return "not_evictable"
	case errors.Is(err, ErrNotAMember):
		return "not_a_member"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}

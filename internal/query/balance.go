package query

// MemberResponse represents a pool member's state for API queries.
// All WSTR amounts are decimal wei strings.
type MemberResponse struct {
	Member string `json:"member"`

	// PooledBalance is the member's share of pool custody, from the
	// balance projection.
	PooledBalance string `json:"pooled_balance"`

	// ClaimedStars are stars settled to this member's credit.
	ClaimedStars []uint16 `json:"claimed_stars"`

	// Reservations are the member's open depth-index entries.
	Reservations []ReservationView `json:"reservations"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last projected sequence
}

// PoolSummaryResponse is the global pool aggregate for API queries.
type PoolSummaryResponse struct {
	// Ledger aggregates (from the balance projection)
	PooledTotal   string `json:"pooled_total"`   // sum of member pooled balances
	FeesCollected string `json:"fees_collected"` // system fee account
	PenaltyPool   string `json:"penalty_pool"`   // system penalty account

	// Pool shape
	MemberCount      int64 `json:"member_count"`
	StarsSettled     int64 `json:"stars_settled"`
	OpenReservations int64 `json:"open_reservations"`
	MaxDepth         int   `json:"max_depth"`

	// Derived at query time: worst-case cost of one fully flash-financed
	// star (acquisition cost plus flash fee).
	WstrPerStar string `json:"wstr_per_star"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

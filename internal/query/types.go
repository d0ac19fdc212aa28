package query

// ReservationView is an open depth-index entry for API queries.
type ReservationView struct {
	Star        uint16 `json:"star"`
	TargetOwner string `json:"target_owner"`
	Member      string `json:"member"`
	Depth       int    `json:"depth"`
	AsOfSeq     int64  `json:"as_of_sequence"`
}

// StarOwnerView is a settled star ownership record for API queries.
type StarOwnerView struct {
	Star        uint16 `json:"star"`
	Member      string `json:"member"`
	TargetOwner string `json:"target_owner"`
	Depth       int    `json:"depth"`
	SettledSeq  int64  `json:"settled_seq"`
}

// SettlementHistoryResponse is one settled star for API queries.
type SettlementHistoryResponse struct {
	Sequence     int64  `json:"sequence"`
	OpType       string `json:"op_type"`
	Caller       string `json:"caller"`
	Star         uint16 `json:"star"`
	Depth        int    `json:"depth"`
	SettledAt    int64  `json:"settled_at"` // microseconds since epoch
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
// Amount is a decimal wei string.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	OpRef         string `json:"op_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	GlobalImbalance string  `json:"global_imbalance,omitempty"` // non-empty when sum != 0
}

package op

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OpType discriminator for operation payloads
type OpType int32

const (
	OpTypeUnknown OpType = iota
	OpTypeBuyIndividually
	OpTypeEnterPool
	OpTypeEnterPoolAndKick
	OpTypeKickPool
	OpTypeExitPool
	OpTypeKickMember
	OpTypeKickMemberPenalty
)

// Envelope wraps every operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Operation type discriminator
	OpType OpType

	// Address that submitted the operation
	Caller common.Address

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded operation-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// Operation is the interface all operation payloads implement
type Operation interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// OpType returns the discriminator
	OpType() OpType

	// CallerAddress returns the submitting address
	CallerAddress() common.Address

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64
}

func (ot OpType) String() string {
	switch ot {
	case OpTypeBuyIndividually:
		return "BuyIndividually"
	case OpTypeEnterPool:
		return "EnterPool"
	case OpTypeEnterPoolAndKick:
		return "EnterPoolAndKick"
	case OpTypeKickPool:
		return "KickPool"
	case OpTypeExitPool:
		return "ExitPool"
	case OpTypeKickMember:
		return "KickMember"
	case OpTypeKickMemberPenalty:
		return "KickMemberPenalty"
	default:
		return "Unknown"
	}
}

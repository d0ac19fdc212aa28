package op

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"StarPool/internal/pool"
)

// BuyIndividually settles an explicit reservation list in one call,
// funded directly from the caller's wallet allowance.
type BuyIndividually struct {
	OpID         uuid.UUID
	Caller       common.Address
	ApprovedWstr *big.Int
	Stars        []pool.Reservation
	MaxDepth     int
	Sequence     int64
	Timestamp    time.Time
}

func (o *BuyIndividually) IdempotencyKey() string        { return o.OpID.String() }
func (o *BuyIndividually) OpType() OpType                { return OpTypeBuyIndividually }
func (o *BuyIndividually) CallerAddress() common.Address { return o.Caller }
func (o *BuyIndividually) SourceSequence() int64         { return o.Sequence }

// EnterPool deposits WSTR and reserves stars for the caller.
type EnterPool struct {
	OpID       uuid.UUID
	Caller     common.Address
	WstrToPool *big.Int
	Stars      []pool.Star
	Sequence   int64
	Timestamp  time.Time
}

func (o *EnterPool) IdempotencyKey() string        { return o.OpID.String() }
func (o *EnterPool) OpType() OpType                { return OpTypeEnterPool }
func (o *EnterPool) CallerAddress() common.Address { return o.Caller }
func (o *EnterPool) SourceSequence() int64         { return o.Sequence }

// EnterPoolAndKick composes deposit + reserve + kick atomically.
type EnterPoolAndKick struct {
	OpID       uuid.UUID
	Caller     common.Address
	WstrToPool *big.Int
	Stars      []pool.Reservation
	MaxDepth   int
	Sequence   int64
	Timestamp  time.Time
}

func (o *EnterPoolAndKick) IdempotencyKey() string        { return o.OpID.String() }
func (o *EnterPoolAndKick) OpType() OpType                { return OpTypeEnterPoolAndKick }
func (o *EnterPoolAndKick) CallerAddress() common.Address { return o.Caller }
func (o *EnterPoolAndKick) SourceSequence() int64         { return o.Sequence }

// KickPool settles the entire current reservation set. Stars and
// MaxDepth echo the snapshot the caller acted on; a mismatch with the
// live index rejects the operation as stale.
type KickPool struct {
	OpID      uuid.UUID
	Caller    common.Address
	Stars     []pool.Reservation
	MaxDepth  int
	Sequence  int64
	Timestamp time.Time
}

func (o *KickPool) IdempotencyKey() string        { return o.OpID.String() }
func (o *KickPool) OpType() OpType                { return OpTypeKickPool }
func (o *KickPool) CallerAddress() common.Address { return o.Caller }
func (o *KickPool) SourceSequence() int64         { return o.Sequence }

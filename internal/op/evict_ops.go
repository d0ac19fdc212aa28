package op

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ExitPool is the caller's voluntary exit: releases their
// reservations, refunds the full balance, no penalty.
type ExitPool struct {
	OpID      uuid.UUID
	Caller    common.Address
	Sequence  int64
	Timestamp time.Time
}

func (o *ExitPool) IdempotencyKey() string        { return o.OpID.String() }
func (o *ExitPool) OpType() OpType                { return OpTypeExitPool }
func (o *ExitPool) CallerAddress() common.Address { return o.Caller }
func (o *ExitPool) SourceSequence() int64         { return o.Sequence }

// KickMember is the fee collector's administrative eviction of a
// member, no penalty.
type KickMember struct {
	OpID      uuid.UUID
	Caller    common.Address
	Member    common.Address
	Sequence  int64
	Timestamp time.Time
}

func (o *KickMember) IdempotencyKey() string        { return o.OpID.String() }
func (o *KickMember) OpType() OpType                { return OpTypeKickMember }
func (o *KickMember) CallerAddress() common.Address { return o.Caller }
func (o *KickMember) SourceSequence() int64         { return o.Sequence }

// KickMemberPenalty forcibly evicts a member whose reservation became
// unfulfillable, splitting the fixed penalty between the kicker and
// the fee collector.
type KickMemberPenalty struct {
	OpID      uuid.UUID
	Caller    common.Address
	Member    common.Address
	Sequence  int64
	Timestamp time.Time
}

func (o *KickMemberPenalty) IdempotencyKey() string        { return o.OpID.String() }
func (o *KickMemberPenalty) OpType() OpType                { return OpTypeKickMemberPenalty }
func (o *KickMemberPenalty) CallerAddress() common.Address { return o.Caller }
func (o *KickMemberPenalty) SourceSequence() int64         { return o.Sequence }

package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"StarPool/internal/pool"
	"StarPool/internal/wstr"
)

// AdminIngestService injects operations manually for admin and test
// tooling. Injected ops are published to the same JetStream subjects
// normal producers use, so they flow through the identical parse,
// idempotency, and ordering path as everything else. Not for
// high-throughput ingestion.
type AdminIngestService struct {
	js jetstream.JetStream
}

func NewAdminIngestService(js jetstream.JetStream) *AdminIngestService {
	return &AdminIngestService{js: js}
}

// InjectEnterPool publishes a pool entry: deposit WSTR and reserve the
// given stars at the current depth.
func (s *AdminIngestService) InjectEnterPool(
	ctx context.Context,
	caller common.Address,
	wstrToPool string,
	stars []uint16,
) (string, error) {
	if err := validateAmount(wstrToPool); err != nil {
		return "", err
	}

	opID := uuid.New().String()
	payload := enterPoolJSON{
		OpID:        opID,
		Caller:      caller.Hex(),
		WstrToPool:  wstrToPool,
		Stars:       stars,
		Sequence:    time.Now().UnixMicro(), // admin-injected: timestamp as source sequence
		TimestampUs: time.Now().UnixMicro(),
	}

	return opID, s.publish(ctx, "starpool.ops.enter.manual", payload)
}

// InjectExitPool publishes a voluntary pool exit for the caller.
func (s *AdminIngestService) InjectExitPool(ctx context.Context, caller common.Address) (string, error) {
	opID := uuid.New().String()
	payload := exitPoolJSON{
		OpID:        opID,
		Caller:      caller.Hex(),
		Sequence:    time.Now().UnixMicro(),
		TimestampUs: time.Now().UnixMicro(),
	}

	return opID, s.publish(ctx, "starpool.ops.exit.manual", payload)
}

// InjectKickPool publishes a settlement of the reservation queue up to
// maxDepth, flash-financing any shortfall.
func (s *AdminIngestService) InjectKickPool(
	ctx context.Context,
	caller common.Address,
	stars []pool.Reservation,
	maxDepth int,
) (string, error) {
	opID := uuid.New().String()
	payload := kickPoolJSON{
		OpID:        opID,
		Caller:      caller.Hex(),
		Stars:       toReservationJSON(stars),
		MaxDepth:    maxDepth,
		Sequence:    time.Now().UnixMicro(),
		TimestampUs: time.Now().UnixMicro(),
	}

	return opID, s.publish(ctx, "starpool.ops.kick.manual", payload)
}

// InjectKickMember publishes an administrative eviction (full refund,
// no penalty).
func (s *AdminIngestService) InjectKickMember(
	ctx context.Context,
	caller, member common.Address,
) (string, error) {
	opID := uuid.New().String()
	payload := kickMemberJSON{
		OpID:        opID,
		Caller:      caller.Hex(),
		Member:      member.Hex(),
		Sequence:    time.Now().UnixMicro(),
		TimestampUs: time.Now().UnixMicro(),
	}

	return opID, s.publish(ctx, "starpool.ops.evict.manual", payload)
}

// InjectKickMemberPenalty publishes a penalty eviction of a member
// whose reservations block the queue.
func (s *AdminIngestService) InjectKickMemberPenalty(
	ctx context.Context,
	caller, member common.Address,
) (string, error) {
	opID := uuid.New().String()
	payload := kickMemberJSON{
		OpID:        opID,
		Caller:      caller.Hex(),
		Member:      member.Hex(),
		Sequence:    time.Now().UnixMicro(),
		TimestampUs: time.Now().UnixMicro(),
	}

	return opID, s.publish(ctx, "starpool.ops.penalty.manual", payload)
}

func (s *AdminIngestService) publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal op: %w", err)
	}

	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func toReservationJSON(stars []pool.Reservation) []reservationJSON {
	out := make([]reservationJSON, len(stars))
	for i, r := range stars {
		out[i] = reservationJSON{
			Star:        uint16(r.Star),
			TargetOwner: r.TargetOwner.Hex(),
			Depth:       r.Depth,
		}
	}
	return out
}

func validateAmount(amount string) error {
	v, err := wstr.Parse(amount)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if v.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

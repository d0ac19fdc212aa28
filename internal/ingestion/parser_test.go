package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"StarPool/internal/ingestion"
	"StarPool/internal/op"
	"StarPool/internal/pool"
	"StarPool/internal/wstr"
)

// --- Test helpers ---

// rawFromJSON builds a RawOp with no-op ack/nak from a JSON-able payload.
func rawFromJSON(t *testing.T, payload map[string]interface{}) ingestion.RawOp {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return ingestion.RawOp{
		Subject:   "starpool.ops.test.v1",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

var (
	testOpID   = "550e8400-e29b-41d4-a716-446655440000"
	testCaller = "0x00000000000000000000000000000000000000A1"
	testMember = "0x00000000000000000000000000000000000000B2"
)

// ============================================================================
// Test: ParseRawOp
// ============================================================================

func TestParseEnterPool(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":        testOpID,
		"caller":       testCaller,
		"wstr_to_pool": "1060000000000000000",
		"stars":        []uint16{10, 20},
		"sequence":     7,
		"timestamp_us": 1700000000000000,
	})

	parsed, err := ingestion.ParseRawOp(raw, "EnterPool")
	if err != nil {
		t.Fatalf("ParseRawOp: %v", err)
	}

	e, ok := parsed.(*op.EnterPool)
	if !ok {
		t.Fatalf("got %T, want *op.EnterPool", parsed)
	}
	if e.OpID != uuid.MustParse(testOpID) {
		t.Errorf("op_id: got %s", e.OpID)
	}
	if e.Caller != common.HexToAddress(testCaller) {
		t.Errorf("caller: got %s", e.Caller.Hex())
	}
	if wstr.Format(e.WstrToPool) != "1060000000000000000" {
		t.Errorf("amount: got %s", wstr.Format(e.WstrToPool))
	}
	if len(e.Stars) != 2 || e.Stars[0] != 10 || e.Stars[1] != 20 {
		t.Errorf("stars: got %v, want [10 20]", e.Stars)
	}
	if e.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", e.Sequence)
	}
	if e.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", e.Timestamp.UnixMicro())
	}
}

func TestParseBuyIndividually(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":         testOpID,
		"caller":        testCaller,
		"approved_wstr": "2000000000000000000",
		"stars": []map[string]interface{}{
			{"star": 5, "target_owner": testMember, "depth": 1},
		},
		"max_depth":    1,
		"sequence":     3,
		"timestamp_us": 1700000000000000,
	})

	parsed, err := ingestion.ParseRawOp(raw, "BuyIndividually")
	if err != nil {
		t.Fatalf("ParseRawOp: %v", err)
	}

	b, ok := parsed.(*op.BuyIndividually)
	if !ok {
		t.Fatalf("got %T, want *op.BuyIndividually", parsed)
	}
	if len(b.Stars) != 1 {
		t.Fatalf("stars: got %d, want 1", len(b.Stars))
	}
	r := b.Stars[0]
	if r.Star != 5 || r.Depth != 1 || r.TargetOwner != common.HexToAddress(testMember) {
		t.Errorf("reservation: got %+v", r)
	}
	if b.MaxDepth != 1 {
		t.Errorf("max_depth: got %d, want 1", b.MaxDepth)
	}
}

func TestParseKickPool(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":  testOpID,
		"caller": testCaller,
		"stars": []map[string]interface{}{
			{"star": 10, "target_owner": testCaller, "depth": 1},
			{"star": 20, "target_owner": testMember, "depth": 2},
		},
		"max_depth":    2,
		"sequence":     9,
		"timestamp_us": 1700000000000000,
	})

	parsed, err := ingestion.ParseRawOp(raw, "KickPool")
	if err != nil {
		t.Fatalf("ParseRawOp: %v", err)
	}

	k, ok := parsed.(*op.KickPool)
	if !ok {
		t.Fatalf("got %T, want *op.KickPool", parsed)
	}
	if len(k.Stars) != 2 || k.Stars[1].Depth != 2 {
		t.Errorf("stars: got %+v", k.Stars)
	}
}

func TestParseExitPool(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":        testOpID,
		"caller":       testCaller,
		"sequence":     4,
		"timestamp_us": 1700000000000000,
	})

	parsed, err := ingestion.ParseRawOp(raw, "ExitPool")
	if err != nil {
		t.Fatalf("ParseRawOp: %v", err)
	}
	if _, ok := parsed.(*op.ExitPool); !ok {
		t.Fatalf("got %T, want *op.ExitPool", parsed)
	}
	if parsed.IdempotencyKey() != testOpID {
		t.Errorf("idempotency key: got %s, want %s", parsed.IdempotencyKey(), testOpID)
	}
}

func TestParseKickMemberPenalty(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":        testOpID,
		"caller":       testCaller,
		"member":       testMember,
		"sequence":     5,
		"timestamp_us": 1700000000000000,
	})

	parsed, err := ingestion.ParseRawOp(raw, "KickMemberPenalty")
	if err != nil {
		t.Fatalf("ParseRawOp: %v", err)
	}

	k, ok := parsed.(*op.KickMemberPenalty)
	if !ok {
		t.Fatalf("got %T, want *op.KickMemberPenalty", parsed)
	}
	if k.Member != common.HexToAddress(testMember) {
		t.Errorf("member: got %s", k.Member.Hex())
	}
}

func TestParseUnknownOpType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{"op_id": testOpID})
	if _, err := ingestion.ParseRawOp(raw, "Liquidate"); err == nil {
		t.Error("unknown op type should fail")
	}
}

func TestParseRejectsBadAddress(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":        testOpID,
		"caller":       "not-an-address",
		"sequence":     1,
		"timestamp_us": 1700000000000000,
	})
	if _, err := ingestion.ParseRawOp(raw, "ExitPool"); err == nil {
		t.Error("bad caller address should fail")
	}
}

func TestParseRejectsBadAmount(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":        testOpID,
		"caller":       testCaller,
		"wstr_to_pool": "1.5 WSTR",
		"sequence":     1,
		"timestamp_us": 1700000000000000,
	})
	if _, err := ingestion.ParseRawOp(raw, "EnterPool"); err == nil {
		t.Error("non-decimal amount should fail")
	}
}

func TestParseRejectsBadOpID(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":        "not-a-uuid",
		"caller":       testCaller,
		"sequence":     1,
		"timestamp_us": 1700000000000000,
	})
	if _, err := ingestion.ParseRawOp(raw, "ExitPool"); err == nil {
		t.Error("bad op_id should fail")
	}
}

func TestParseRejectsBadReservationOwner(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"op_id":  testOpID,
		"caller": testCaller,
		"stars": []map[string]interface{}{
			{"star": 10, "target_owner": "0xZZ", "depth": 1},
		},
		"max_depth":    1,
		"sequence":     1,
		"timestamp_us": 1700000000000000,
	})
	if _, err := ingestion.ParseRawOp(raw, "KickPool"); err == nil {
		t.Error("bad target_owner should fail")
	}
}

// ============================================================================
// Test: MarshalOp round trip
// ============================================================================

// Every op type must survive marshal → parse unchanged; replay feeds
// the stored payload back through ParseRawOp.
func TestMarshalOp_RoundTrip(t *testing.T) {
	caller := common.HexToAddress(testCaller)
	member := common.HexToAddress(testMember)
	ts := time.UnixMicro(1700000000000000)
	amount, _ := wstr.Parse("1060000000000000000")
	approved, _ := wstr.Parse("2000000000000000000")
	reservations := []pool.Reservation{
		{Star: 10, TargetOwner: caller, Depth: 1},
		{Star: 20, TargetOwner: member, Depth: 2},
	}

	ops := []struct {
		name   string
		opType string
		in     op.Operation
	}{
		{"buy", "BuyIndividually", &op.BuyIndividually{
			OpID: uuid.MustParse(testOpID), Caller: caller, ApprovedWstr: approved,
			Stars: reservations, MaxDepth: 2, Sequence: 1, Timestamp: ts,
		}},
		{"enter", "EnterPool", &op.EnterPool{
			OpID: uuid.MustParse(testOpID), Caller: caller, WstrToPool: amount,
			Stars: []pool.Star{10, 20}, Sequence: 2, Timestamp: ts,
		}},
		{"enter_and_kick", "EnterPoolAndKick", &op.EnterPoolAndKick{
			OpID: uuid.MustParse(testOpID), Caller: caller, WstrToPool: amount,
			Stars: reservations, MaxDepth: 2, Sequence: 3, Timestamp: ts,
		}},
		{"kick", "KickPool", &op.KickPool{
			OpID: uuid.MustParse(testOpID), Caller: caller,
			Stars: reservations, MaxDepth: 2, Sequence: 4, Timestamp: ts,
		}},
		{"exit", "ExitPool", &op.ExitPool{
			OpID: uuid.MustParse(testOpID), Caller: caller, Sequence: 5, Timestamp: ts,
		}},
		{"kick_member", "KickMember", &op.KickMember{
			OpID: uuid.MustParse(testOpID), Caller: caller, Member: member, Sequence: 6, Timestamp: ts,
		}},
		{"kick_member_penalty", "KickMemberPenalty", &op.KickMemberPenalty{
			OpID: uuid.MustParse(testOpID), Caller: caller, Member: member, Sequence: 7, Timestamp: ts,
		}},
	}

	for _, tc := range ops {
		data, err := ingestion.MarshalOp(tc.in)
		if err != nil {
			t.Errorf("%s: MarshalOp: %v", tc.name, err)
			continue
		}

		raw := ingestion.RawOp{Data: data, AckFunc: func() {}, NakFunc: func() {}}
		back, err := ingestion.ParseRawOp(raw, tc.opType)
		if err != nil {
			t.Errorf("%s: ParseRawOp: %v", tc.name, err)
			continue
		}

		if back.IdempotencyKey() != tc.in.IdempotencyKey() {
			t.Errorf("%s: idempotency key diverged: got %s", tc.name, back.IdempotencyKey())
		}
		if back.OpType() != tc.in.OpType() {
			t.Errorf("%s: op type diverged: got %s", tc.name, back.OpType())
		}
		if back.CallerAddress() != tc.in.CallerAddress() {
			t.Errorf("%s: caller diverged: got %s", tc.name, back.CallerAddress().Hex())
		}
		if back.SourceSequence() != tc.in.SourceSequence() {
			t.Errorf("%s: sequence diverged: got %d", tc.name, back.SourceSequence())
		}

		// A second marshal must be byte-identical.
		again, err := ingestion.MarshalOp(back)
		if err != nil {
			t.Errorf("%s: re-marshal: %v", tc.name, err)
			continue
		}
		if string(again) != string(data) {
			t.Errorf("%s: marshal not stable:\n  first  %s\n  second %s", tc.name, data, again)
		}
	}
}

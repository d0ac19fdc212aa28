package ingestion

import (
	"StarPool/internal/op"
	"StarPool/internal/pool"
	"StarPool/internal/wstr"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ParseRawOp converts a RawOp (JSON bytes + op type string) into a
// typed op.Operation. The ingestion shell validates, parses, and
// converts raw messages before sending to the deterministic core.
func ParseRawOp(raw RawOp, opType string) (op.Operation, error) {
	switch opType {
	case "BuyIndividually":
		return parseBuyIndividually(raw.Data)
	case "EnterPool":
		return parseEnterPool(raw.Data)
	case "EnterPoolAndKick":
		return parseEnterPoolAndKick(raw.Data)
	case "KickPool":
		return parseKickPool(raw.Data)
	case "ExitPool":
		return parseExitPool(raw.Data)
	case "KickMember":
		return parseKickMember(raw.Data)
	case "KickMemberPenalty":
		return parseKickMemberPenalty(raw.Data)
	default:
		return nil, fmt.Errorf("unknown op type: %s", opType)
	}
}

// MarshalOp is the inverse of ParseRawOp: it serializes a typed
// operation back to its wire JSON. Stored in the op log so replay can
// re-feed the exact operation through the parse path.
func MarshalOp(o op.Operation) ([]byte, error) {
	switch v := o.(type) {
	case *op.BuyIndividually:
		return json.Marshal(buyIndividuallyJSON{
			OpID:         v.OpID.String(),
			Caller:       v.Caller.Hex(),
			ApprovedWstr: wstr.Format(v.ApprovedWstr),
			Stars:        marshalReservations(v.Stars),
			MaxDepth:     v.MaxDepth,
			Sequence:     v.Sequence,
			TimestampUs:  v.Timestamp.UnixMicro(),
		})
	case *op.EnterPool:
		stars := make([]uint16, 0, len(v.Stars))
		for _, s := range v.Stars {
			stars = append(stars, uint16(s))
		}
		return json.Marshal(enterPoolJSON{
			OpID:        v.OpID.String(),
			Caller:      v.Caller.Hex(),
			WstrToPool:  wstr.Format(v.WstrToPool),
			Stars:       stars,
			Sequence:    v.Sequence,
			TimestampUs: v.Timestamp.UnixMicro(),
		})
	case *op.EnterPoolAndKick:
		return json.Marshal(enterPoolAndKickJSON{
			OpID:        v.OpID.String(),
			Caller:      v.Caller.Hex(),
			WstrToPool:  wstr.Format(v.WstrToPool),
			Stars:       marshalReservations(v.Stars),
			MaxDepth:    v.MaxDepth,
			Sequence:    v.Sequence,
			TimestampUs: v.Timestamp.UnixMicro(),
		})
	case *op.KickPool:
		return json.Marshal(kickPoolJSON{
			OpID:        v.OpID.String(),
			Caller:      v.Caller.Hex(),
			Stars:       marshalReservations(v.Stars),
			MaxDepth:    v.MaxDepth,
			Sequence:    v.Sequence,
			TimestampUs: v.Timestamp.UnixMicro(),
		})
	case *op.ExitPool:
		return json.Marshal(exitPoolJSON{
			OpID:        v.OpID.String(),
			Caller:      v.Caller.Hex(),
			Sequence:    v.Sequence,
			TimestampUs: v.Timestamp.UnixMicro(),
		})
	case *op.KickMember:
		return json.Marshal(kickMemberJSON{
			OpID:        v.OpID.String(),
			Caller:      v.Caller.Hex(),
			Member:      v.Member.Hex(),
			Sequence:    v.Sequence,
			TimestampUs: v.Timestamp.UnixMicro(),
		})
	case *op.KickMemberPenalty:
		return json.Marshal(kickMemberJSON{
			OpID:        v.OpID.String(),
			Caller:      v.Caller.Hex(),
			Member:      v.Member.Hex(),
			Sequence:    v.Sequence,
			TimestampUs: v.Timestamp.UnixMicro(),
		})
	default:
		return nil, fmt.Errorf("unknown op type: %T", o)
	}
}

func marshalReservations(in []pool.Reservation) []reservationJSON {
	out := make([]reservationJSON, len(in))
	for i, r := range in {
		out[i] = reservationJSON{
			Star:        uint16(r.Star),
			TargetOwner: r.TargetOwner.Hex(),
			Depth:       r.Depth,
		}
	}
	return out
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers. Amounts are
// decimal strings of wei; addresses are 0x-prefixed hex.

type reservationJSON struct {
	Star        uint16 `json:"star"`
	TargetOwner string `json:"target_owner"`
	Depth       int    `json:"depth"`
}

func parseAddress(s string, field string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("parse %s: not a hex address: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseReservations(in []reservationJSON) ([]pool.Reservation, error) {
	out := make([]pool.Reservation, 0, len(in))
	for i, r := range in {
		owner, err := parseAddress(r.TargetOwner, fmt.Sprintf("stars[%d].target_owner", i))
		if err != nil {
			return nil, err
		}
		out = append(out, pool.Reservation{
			Star:        pool.Star(r.Star),
			TargetOwner: owner,
			Depth:       r.Depth,
		})
	}
	return out, nil
}

type buyIndividuallyJSON struct {
	OpID         string            `json:"op_id"`
	Caller       string            `json:"caller"`
	ApprovedWstr string            `json:"approved_wstr"`
	Stars        []reservationJSON `json:"stars"`
	MaxDepth     int               `json:"max_depth"`
	Sequence     int64             `json:"sequence"`
	TimestampUs  int64             `json:"timestamp_us"`
}

func parseBuyIndividually(data []byte) (*op.BuyIndividually, error) {
	var j buyIndividuallyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BuyIndividually: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	caller, err := parseAddress(j.Caller, "caller")
	if err != nil {
		return nil, err
	}
	approved, err := wstr.Parse(j.ApprovedWstr)
	if err != nil {
		return nil, fmt.Errorf("parse approved_wstr: %w", err)
	}
	stars, err := parseReservations(j.Stars)
	if err != nil {
		return nil, err
	}

	return &op.BuyIndividually{
		OpID:         opID,
		Caller:       caller,
		ApprovedWstr: approved,
		Stars:        stars,
		MaxDepth:     j.MaxDepth,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type enterPoolJSON struct {
	OpID        string   `json:"op_id"`
	Caller      string   `json:"caller"`
	WstrToPool  string   `json:"wstr_to_pool"`
	Stars       []uint16 `json:"stars"`
	Sequence    int64    `json:"sequence"`
	TimestampUs int64    `json:"timestamp_us"`
}

func parseEnterPool(data []byte) (*op.EnterPool, error) {
	var j enterPoolJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EnterPool: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	caller, err := parseAddress(j.Caller, "caller")
	if err != nil {
		return nil, err
	}
	amount, err := wstr.Parse(j.WstrToPool)
	if err != nil {
		return nil, fmt.Errorf("parse wstr_to_pool: %w", err)
	}

	stars := make([]pool.Star, 0, len(j.Stars))
	for _, s := range j.Stars {
		stars = append(stars, pool.Star(s))
	}

	return &op.EnterPool{
		OpID:       opID,
		Caller:     caller,
		WstrToPool: amount,
		Stars:      stars,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type enterPoolAndKickJSON struct {
	OpID        string            `json:"op_id"`
	Caller      string            `json:"caller"`
	WstrToPool  string            `json:"wstr_to_pool"`
	Stars       []reservationJSON `json:"stars"`
	MaxDepth    int               `json:"max_depth"`
	Sequence    int64             `json:"sequence"`
	TimestampUs int64             `json:"timestamp_us"`
}

func parseEnterPoolAndKick(data []byte) (*op.EnterPoolAndKick, error) {
	var j enterPoolAndKickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse EnterPoolAndKick: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	caller, err := parseAddress(j.Caller, "caller")
	if err != nil {
		return nil, err
	}
	amount, err := wstr.Parse(j.WstrToPool)
	if err != nil {
		return nil, fmt.Errorf("parse wstr_to_pool: %w", err)
	}
	stars, err := parseReservations(j.Stars)
	if err != nil {
		return nil, err
	}

	return &op.EnterPoolAndKick{
		OpID:       opID,
		Caller:     caller,
		WstrToPool: amount,
		Stars:      stars,
		MaxDepth:   j.MaxDepth,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type kickPoolJSON struct {
	OpID        string            `json:"op_id"`
	Caller      string            `json:"caller"`
	Stars       []reservationJSON `json:"stars"`
	MaxDepth    int               `json:"max_depth"`
	Sequence    int64             `json:"sequence"`
	TimestampUs int64             `json:"timestamp_us"`
}

func parseKickPool(data []byte) (*op.KickPool, error) {
	var j kickPoolJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse KickPool: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	caller, err := parseAddress(j.Caller, "caller")
	if err != nil {
		return nil, err
	}
	stars, err := parseReservations(j.Stars)
	if err != nil {
		return nil, err
	}

	return &op.KickPool{
		OpID:      opID,
		Caller:    caller,
		Stars:     stars,
		MaxDepth:  j.MaxDepth,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type exitPoolJSON struct {
	OpID        string `json:"op_id"`
	Caller      string `json:"caller"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseExitPool(data []byte) (*op.ExitPool, error) {
	var j exitPoolJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ExitPool: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	caller, err := parseAddress(j.Caller, "caller")
	if err != nil {
		return nil, err
	}

	return &op.ExitPool{
		OpID:      opID,
		Caller:    caller,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type kickMemberJSON struct {
	OpID        string `json:"op_id"`
	Caller      string `json:"caller"`
	Member      string `json:"member"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseKickMember(data []byte) (*op.KickMember, error) {
	var j kickMemberJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse KickMember: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	caller, err := parseAddress(j.Caller, "caller")
	if err != nil {
		return nil, err
	}
	member, err := parseAddress(j.Member, "member")
	if err != nil {
		return nil, err
	}

	return &op.KickMember{
		OpID:      opID,
		Caller:    caller,
		Member:    member,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseKickMemberPenalty(data []byte) (*op.KickMemberPenalty, error) {
	var j kickMemberJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse KickMemberPenalty: %w", err)
	}

	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	caller, err := parseAddress(j.Caller, "caller")
	if err != nil {
		return nil, err
	}
	member, err := parseAddress(j.Member, "member")
	if err != nil {
		return nil, err
	}

	return &op.KickMemberPenalty{
		OpID:      opID,
		Caller:    caller,
		Member:    member,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

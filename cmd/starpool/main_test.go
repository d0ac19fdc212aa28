package main

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/core"
	"StarPool/internal/op"
	"StarPool/internal/pool"
)

func summaryOutput(opType op.OpType, settled []pool.Reservation) core.CoreOutput {
	caller := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	return core.CoreOutput{
		Envelope: &op.Envelope{
			Sequence:  7,
			OpType:    opType,
			Caller:    caller,
			Timestamp: time.UnixMicro(1000000),
		},
		Summary: &core.OpSummary{
			OpType:  opType,
			Caller:  caller,
			Settled: settled,
		},
	}
}

func TestToProjectionOutput_KickClearsIndex(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	settled := []pool.Reservation{{Star: 10, TargetOwner: owner, Depth: 1}}

	for _, tc := range []struct {
		opType op.OpType
		want   bool
	}{
		{op.OpTypeKickPool, true},
		{op.OpTypeEnterPoolAndKick, true},
		{op.OpTypeBuyIndividually, false},
	} {
		got := toProjectionOutput(summaryOutput(tc.opType, settled))
		if got.IndexCleared != tc.want {
			t.Errorf("%s: IndexCleared = %v, want %v", tc.opType, got.IndexCleared, tc.want)
		}
	}

	// No settlement, no clear.
	got := toProjectionOutput(summaryOutput(op.OpTypeKickPool, nil))
	if got.IndexCleared {
		t.Error("kick with nothing settled should not clear the index")
	}
}

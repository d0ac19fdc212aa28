package core

import (
	"StarPool/internal/evict"
	"StarPool/internal/ledger"
	"StarPool/internal/observability"
	"StarPool/internal/op"
	"StarPool/internal/pool"
	"StarPool/internal/settle"
	"StarPool/internal/state"
	"StarPool/internal/treasury"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Engine is the single-threaded operation processor. Every pool
// mutation flows through ProcessOperation in submission order; all
// other goroutines only see its output channels.
type Engine struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	depthIndex        *state.DepthIndex
	members           *state.MemberManager
	settler           *settle.Executor
	evictor           *evict.Manager
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// OpSummary carries the settlement outcome of one operation for
// outbound events and projections. Amounts may be nil when the
// operation did not move them.
type OpSummary struct {
	OpType        op.OpType
	Caller        common.Address
	Member        common.Address
	Settled       []pool.Reservation
	Reserved      []pool.Reservation
	Released      []pool.Reservation
	Deposited     *big.Int
	Refund        *big.Int
	FlashBorrowed *big.Int
	FlashFee      *big.Int
	KickerShare   *big.Int
	ContractShare *big.Int
}

// CoreOutput is one envelope worth of output. Op is set on the first
// output of an operation (its wire form is what the op log stores for
// replay); Summary is set on the final output only.
type CoreOutput struct {
	Envelope   *op.Envelope
	Batch      *ledger.Batch
	StateDelta []byte
	Op         op.Operation
	Summary    *OpSummary
}

func NewEngine(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	tr treasury.Treasury,
	flash treasury.FlashSwapper,
	token treasury.Token,
	feeCollector common.Address,
	metrics *observability.Metrics,
) *Engine {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(balanceTracker)
	depthIndex := state.NewDepthIndex()
	members := state.NewMemberManager()
	settler := settle.NewExecutor(balanceTracker, journalGen, depthIndex, members, tr, flash, token)
	evictor := evict.NewManager(balanceTracker, journalGen, depthIndex, tr, feeCollector)

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &Engine{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		validator:         validator,
		depthIndex:        depthIndex,
		members:           members,
		settler:           settler,
		evictor:           evictor,
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessOperation is the main processing pipeline.
//
// A nil return means the operation reached a terminal outcome:
// applied, rejected, or duplicate. Domain rejections are returned as
// errors carrying a pool sentinel (check pool.RejectionCode) but are
// still terminal — the op is marked processed so redelivery dedups.
// Any other error (sequence gap, out-of-order, apply failure) is
// transient: the caller should NAK for redelivery.
func (e *Engine) ProcessOperation(o op.Operation) error {
	start := time.Now()
	opType := o.OpType().String()
	idempotencyKey := o.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := e.idempotency.IsDuplicate(opType, idempotencyKey)

	// Step 2: Sequence validation
	partition := e.getPartition(o)
	sourceSequence := o.SourceSequence()

	if err := e.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if e.metrics != nil {
			e.metrics.CoreOpsRejected.WithLabelValues(opType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Operation dispatch - validate and settle
	summary, batches, err := e.dispatchOp(o)
	if err != nil {
		code := pool.RejectionCode(err)
		if code == "internal" {
			return fmt.Errorf("dispatch failed: %w", err)
		}
		// Domain rejection: terminal, deterministic, no state mutated.
		// Mark processed so a redelivery does not re-evaluate.
		e.idempotency.MarkProcessed(opType, idempotencyKey)
		if e.metrics != nil {
			e.metrics.CoreOpsRejected.WithLabelValues(opType, code).Inc()
		}
		return fmt.Errorf("%s rejected: %w", opType, err)
	}

	// Reservation-only operations (e.g. an EnterPool with no deposit)
	// produce no journals but still mutate the depth index and need an
	// envelope in the operation log.
	if len(batches) == 0 {
		batches = []*ledger.Batch{nil}
	}

	// Step 4-9: Process each batch
	outputs := make([]CoreOutput, 0, len(batches))

	for _, batch := range batches {
		if batch != nil && len(batch.Journals) > 0 {
			// Stamp the operation sequence onto the batch so journal
			// rows join the op log on the envelope sequence.
			batch.Sequence = e.sequence
			for i := range batch.Journals {
				batch.Journals[i].Sequence = e.sequence
			}

			// Validate batch balance
			if err := e.validator.ValidateBatchBalance(batch); err != nil {
				panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
			}

			// Apply batch to balances
			if err := e.balanceTracker.ApplyBatch(batch); err != nil {
				return fmt.Errorf("apply batch failed: %w", err)
			}
		}

		// Compute state digest and extend the hash chain
		stateDigest := e.computeStateDigest(batch)
		prevHash := e.hasher.GetPrevHash()
		stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

		envelope := &op.Envelope{
			Sequence:       e.sequence,
			IdempotencyKey: idempotencyKey,
			OpType:         o.OpType(),
			Caller:         o.CallerAddress(),
			Timestamp:      e.getOpTimestamp(o),
			SourceSequence: sourceSequence,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		outputs = append(outputs, CoreOutput{
			Envelope:   envelope,
			Batch:      batch,
			StateDelta: stateDigest,
		})
		e.sequence++
	}

	// The operation itself rides on the first output (persisted for
	// replay); the summary rides on the final one.
	outputs[0].Op = o
	outputs[len(outputs)-1].Summary = summary

	// Step 10: Post-checks
	if err := e.postCheckInvariants(summary); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 11: Emit outputs
	// Persist channel uses BLOCKING send (backpressure), projection
	// channel uses NON-BLOCKING send with silent drop.
	for _, output := range outputs {
		// Persistence: blocking send — the core stalls until the
		// persistence worker drains. This guarantees no op is lost.
		e.persistChan <- output

		// Projections: non-blocking send — drop on full. Projection
		// workers can rebuild from the operation log if they fall behind.
		select {
		case e.projectionChan <- output:
		default:
			// Silently dropped — projection will catch up via rebuild
		}
	}

	// Step 12: Mark as processed (add to LRU)
	e.idempotency.MarkProcessed(opType, idempotencyKey)

	// Record metrics
	if e.metrics != nil {
		e.metrics.CoreOpsApplied.WithLabelValues(opType).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.recordSummaryMetrics(summary)
	}

	return nil
}

// dispatchOp routes the operation to the settlement executor or the
// eviction manager and normalizes their results into an OpSummary.
func (e *Engine) dispatchOp(o op.Operation) (*OpSummary, []*ledger.Batch, error) {
	switch v := o.(type) {
	case *op.BuyIndividually:
		res, err := e.settler.BuyIndividually(v)
		if err != nil {
			return nil, nil, err
		}
		return settleSummary(o, res), res.Batches, nil
	case *op.EnterPool:
		res, err := e.settler.EnterPool(v)
		if err != nil {
			return nil, nil, err
		}
		return settleSummary(o, res), res.Batches, nil
	case *op.EnterPoolAndKick:
		res, err := e.settler.EnterPoolAndKick(v)
		if err != nil {
			return nil, nil, err
		}
		return settleSummary(o, res), res.Batches, nil
	case *op.KickPool:
		res, err := e.settler.KickPool(v)
		if err != nil {
			return nil, nil, err
		}
		return settleSummary(o, res), res.Batches, nil
	case *op.ExitPool:
		res, err := e.evictor.ExitPool(v)
		if err != nil {
			return nil, nil, err
		}
		return evictSummary(o, res), res.Batches, nil
	case *op.KickMember:
		res, err := e.evictor.KickAdministrative(v)
		if err != nil {
			return nil, nil, err
		}
		return evictSummary(o, res), res.Batches, nil
	case *op.KickMemberPenalty:
		res, err := e.evictor.KickWithPenalty(v)
		if err != nil {
			return nil, nil, err
		}
		return evictSummary(o, res), res.Batches, nil
	default:
		return nil, nil, fmt.Errorf("unknown operation type: %T", o)
	}
}

func settleSummary(o op.Operation, res *settle.Result) *OpSummary {
	return &OpSummary{
		OpType:        o.OpType(),
		Caller:        o.CallerAddress(),
		Member:        o.CallerAddress(),
		Settled:       res.Settled,
		Reserved:      res.Reserved,
		Deposited:     res.Deposited,
		FlashBorrowed: res.FlashBorrowed,
		FlashFee:      res.FlashFee,
	}
}

func evictSummary(o op.Operation, res *evict.Result) *OpSummary {
	return &OpSummary{
		OpType:        o.OpType(),
		Caller:        o.CallerAddress(),
		Member:        res.Member,
		Released:      res.Released,
		Refund:        res.Refund,
		KickerShare:   res.KickerShare,
		ContractShare: res.ContractShare,
	}
}

// getPartition determines partition key for sequence validation.
// All pool operations contend on one treasury, so ordering is global.
func (e *Engine) getPartition(o op.Operation) string {
	return "ops"
}

// getOpTimestamp extracts the versioned timestamp from an operation.
// The core MUST NOT call time.Now(). All timestamps are versioned inputs.
func (e *Engine) getOpTimestamp(o op.Operation) time.Time {
	switch v := o.(type) {
	case *op.BuyIndividually:
		return v.Timestamp
	case *op.EnterPool:
		return v.Timestamp
	case *op.EnterPoolAndKick:
		return v.Timestamp
	case *op.KickPool:
		return v.Timestamp
	case *op.ExitPool:
		return v.Timestamp
	case *op.KickMember:
		return v.Timestamp
	case *op.KickMemberPenalty:
		return v.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getOpTimestamp called with unhandled operation type %T — deterministic core cannot use wall-clock time", o))
	}
}

// computeStateDigest creates canonical bytes for the state hash:
// affected account balances (sorted by path) followed by the full
// depth index. The index is bounded by the traversal limit, so
// digesting it whole stays cheap.
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	// Sort accounts deterministically
	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	// Build digest
	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := e.balanceTracker.GetBalance(key)

		// Append account path
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		// Append balance (sign byte + length-prefixed magnitude)
		digest = appendAmount(digest, balance)
	}

	// Append the depth index: entry count, then star / target owner /
	// member per slot in depth order.
	entries := e.depthIndex.Entries()
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(entries)))
	digest = append(digest, countBuf[:]...)

	for _, entry := range entries {
		var starBuf [2]byte
		binary.LittleEndian.PutUint16(starBuf[:], uint16(entry.Star))
		digest = append(digest, starBuf[:]...)
		digest = append(digest, entry.TargetOwner.Bytes()...)
		digest = append(digest, entry.Member.Bytes()...)
	}

	return digest
}

// appendAmount encodes a big.Int as sign byte + length-prefixed
// big-endian magnitude. Balance magnitudes fit well under 255 bytes.
func appendAmount(buf []byte, v *big.Int) []byte {
	if v.Sign() < 0 {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	mag := v.Bytes()
	buf = append(buf, byte(len(mag)))
	return append(buf, mag...)
}

// postCheckInvariants validates invariants after batch application
func (e *Engine) postCheckInvariants(summary *OpSummary) error {
	// Affected member balances must never go negative
	if err := e.validator.ValidateMemberNonNegative(summary.Caller); err != nil {
		return fmt.Errorf("post-check caller balance: %w", err)
	}
	if summary.Member != summary.Caller {
		if err := e.validator.ValidateMemberNonNegative(summary.Member); err != nil {
			return fmt.Errorf("post-check member balance: %w", err)
		}
	}

	// System fee and penalty accounts only ever accumulate
	if err := e.validator.ValidateSystemNonNegative(); err != nil {
		return fmt.Errorf("post-check system accounts: %w", err)
	}

	// Periodic global balance check: sum of all accounts == 0
	if e.sequence > 0 && e.sequence%1000 == 0 {
		if total := e.balanceTracker.ComputeGlobalBalance(); total.Sign() != 0 {
			return fmt.Errorf("global balance non-zero: %s (at seq %d)", total.String(), e.sequence)
		}
	}

	return nil
}

func (e *Engine) recordSummaryMetrics(summary *OpSummary) {
	opType := summary.OpType.String()

	if n := len(summary.Settled); n > 0 {
		e.metrics.StarsSettled.WithLabelValues(opType).Add(float64(n))
	}
	if n := len(summary.Reserved); n > 0 {
		e.metrics.StarsReserved.Add(float64(n))
	}
	if summary.FlashBorrowed != nil && summary.FlashBorrowed.Sign() > 0 {
		e.metrics.FlashLoansTaken.Inc()
	}
	if summary.FlashFee != nil && summary.FlashFee.Sign() > 0 {
		e.metrics.FlashFeesCollected.Inc()
	}

	switch summary.OpType {
	case op.OpTypeExitPool:
		e.metrics.EvictionsTotal.WithLabelValues("exit").Inc()
		if summary.Refund != nil && summary.Refund.Sign() > 0 {
			e.metrics.ExitRefunds.Inc()
		}
	case op.OpTypeKickMember:
		e.metrics.EvictionsTotal.WithLabelValues("administrative").Inc()
	case op.OpTypeKickMemberPenalty:
		e.metrics.EvictionsTotal.WithLabelValues("penalty").Inc()
		e.metrics.PenaltiesAssessed.Inc()
	}

	e.metrics.DepthIndexSize.Set(float64(e.depthIndex.MaxDepth()))
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	PrevHash        [32]byte
	Balances        map[ledger.AccountKey]*big.Int
	DepthEntries    []state.DepthEntry
	Members         []*state.MemberState
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a
// snapshot. On warm restart: load latest snapshot then replay ops.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	// Restore sequence
	e.sequence = snap.Sequence + 1 // Next sequence to assign

	// Restore state hash chain
	e.hasher.SetPrevHash(snap.StateHash)

	// Restore balances
	for key, balance := range snap.Balances {
		e.balanceTracker.SetBalance(key, balance)
	}

	// Restore depth index and member claims
	e.depthIndex.Restore(snap.DepthEntries)
	e.members.Restore(snap.Members)

	// Restore sequence validator state
	for partition, nextSeq := range snap.SequenceState {
		e.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed operations.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        e.sequence - 1, // Last processed sequence
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        e.balanceTracker.Snapshot(),
		DepthEntries:    e.depthIndex.Entries(),
		Members:         e.members.All(),
		SequenceState:   e.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}

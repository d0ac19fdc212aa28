package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// execer abstracts *sql.DB and *sql.Tx so batch writers can run inside
// the worker's transaction or standalone.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OpLogWriter writes operations and journals to Postgres using
// multi-row INSERT batches. Amounts are stored as NUMERIC(78,0) so a
// full uint256 wei value survives the round trip.
type OpLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// OpRow represents a row in op_log.operations
type OpRow struct {
	Sequence       int64
	OpType         string
	IdempotencyKey string
	Caller         string
	Payload        []byte // JSON-encoded operation summary
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in op_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	OpRef         string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        string // decimal wei string
	JournalType   int32
	Timestamp     int64
}

func NewOpLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *OpLogWriter {
	return &OpLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteOpBatch writes a batch of operations to op_log.operations using
// multi-row INSERT. Pass a *sql.Tx to join the worker's transaction,
// or nil to write directly.
func (w *OpLogWriter) WriteOpBatch(ctx context.Context, ops []OpRow, ex execer) error {
	if len(ops) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query := `INSERT INTO op_log.operations
		(sequence, op_type, idempotency_key, caller, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*9)

	for i, o := range ops {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			o.Sequence, o.OpType, o.IdempotencyKey, o.Caller,
			o.Payload, o.StateHash, o.PrevHash, o.Timestamp, o.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to op_log.journal.
func (w *OpLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, ex execer) error {
	if len(journals) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query := `INSERT INTO op_log.journal
		(journal_id, batch_id, op_ref, sequence, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*9)

	for i, j := range journals {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.OpRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// MarshalOpPayload serializes an operation payload to JSON for storage.
func MarshalOpPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

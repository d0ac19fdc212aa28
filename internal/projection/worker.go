package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	OpType         string
	Caller         string
	JournalEntries []JournalEntry
	Settled        []StarRow
	Reserved       []StarRow
	ReleasedStars  []uint16
	ReleasedMember string // hex address; empty when no membership closed
	IndexCleared   bool
	TimestampUs    int64
}

// JournalEntry is a simplified journal for projection consumption.
// Amount is a decimal wei string.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Amount        string
	JournalType   int32
}

// StarRow describes one star position affected by the operation.
type StarRow struct {
	Star        uint16
	Member      string
	TargetOwner string
	Depth       int
}

// ProjectionWorker updates projection tables from processed
// operations. The projection channel is non-blocking with drop: if
// projections fall behind, they can be rebuilt from the op log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			pw.lastSeq = output.Sequence

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the op log
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal entries
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Reservation lifecycle: a kick clears the whole index, an exit or
	// eviction releases one member, an individual buy frees single slots.
	if output.IndexCleared {
		if _, err := tx.ExecContext(ctx, `DELETE FROM projections.reservations`); err != nil {
			return fmt.Errorf("clear reservations: %w", err)
		}
	}
	if output.ReleasedMember != "" {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.reservations WHERE member = $1
		`, output.ReleasedMember); err != nil {
			return fmt.Errorf("release member reservations: %w", err)
		}
	}
	for _, star := range output.ReleasedStars {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.reservations WHERE star = $1
		`, int32(star)); err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
	}
	for _, r := range output.Reserved {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.reservations (star, member, target_owner, depth, updated_seq)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (star) DO UPDATE SET
				member = $2, target_owner = $3, depth = $4, updated_seq = $5
		`, int32(r.Star), r.Member, r.TargetOwner, r.Depth, output.Sequence); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
	}

	// Settled stars become owned positions and history rows
	for _, s := range output.Settled {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.member_stars (star, member, target_owner, depth, settled_seq)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (star) DO UPDATE SET
				member = $2, target_owner = $3, depth = $4, settled_seq = $5
		`, int32(s.Star), s.Member, s.TargetOwner, s.Depth, output.Sequence); err != nil {
			return fmt.Errorf("insert member star: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.settlement_history (sequence, op_type, caller, star, depth, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sequence, star) DO NOTHING
		`, output.Sequence, output.OpType, output.Caller, int32(s.Star), s.Depth,
			time.UnixMicro(output.TimestampUs)); err != nil {
			return fmt.Errorf("insert settlement history: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (projection) DO UPDATE SET sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry) error {
	// Debit account: balance increases (matches ledger.ApplyJournal)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.account_balances (account_path, balance, updated_seq)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.account_balances.balance + $2::numeric, updated_seq = $3
	`, j.DebitAccount, j.Amount, pw.lastSeq); err != nil {
		return err
	}

	// Credit account: balance decreases
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.account_balances (account_path, balance, updated_seq)
		VALUES ($1, -($2::numeric), $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.account_balances.balance - $2::numeric, updated_seq = $3
	`, j.CreditAccount, j.Amount, pw.lastSeq); err != nil {
		return err
	}

	return nil
}

// RebuildProjections rebuilds the balance projection from the op log.
// Star and reservation projections are rebuilt by replaying op
// payloads through the worker, not here.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.account_balances`,
		`TRUNCATE projections.member_stars`,
		`TRUNCATE projections.reservations`,
		`TRUNCATE projections.settlement_history`,
		`DELETE FROM projections.watermark WHERE projection = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits increase balances
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.account_balances (account_path, balance, updated_seq)
		SELECT
			debit_account AS account_path,
			SUM(amount) AS balance,
			MAX(sequence) AS updated_seq
		FROM op_log.journal
		GROUP BY debit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, updated_seq = EXCLUDED.updated_seq
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credits decrease balances
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.account_balances (account_path, balance, updated_seq)
		SELECT
			credit_account AS account_path,
			-SUM(amount) AS balance,
			MAX(sequence) AS updated_seq
		FROM op_log.journal
		GROUP BY credit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.account_balances.balance + EXCLUDED.balance,
			    updated_seq = GREATEST(projections.account_balances.updated_seq, EXCLUDED.updated_seq)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}

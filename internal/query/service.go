package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"StarPool/internal/observability"
	"StarPool/internal/wstr"
)

// QueryService provides read-only access to projection tables. All
// responses carry as_of_sequence so callers can reason about freshness
// relative to the op log.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetMember returns a member's pooled balance, claimed stars, and open
// reservations in one response.
func (qs *QueryService) GetMember(ctx context.Context, member common.Address) (*MemberResponse, error) {
	done := qs.observe("get_member")

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, done(fmt.Errorf("watermark: %w", err))
	}

	pooledPath := fmt.Sprintf("member:%s:pooled", member.Hex())
	pooled, err := qs.getProjectedBalance(ctx, pooledPath)
	if err != nil {
		return nil, done(err)
	}

	claimed, err := qs.getClaimedStars(ctx, member)
	if err != nil {
		return nil, done(err)
	}

	reservations, err := qs.getMemberReservations(ctx, member, asOfSeq)
	if err != nil {
		return nil, done(err)
	}

	done(nil)
	return &MemberResponse{
		Member:        member.Hex(),
		PooledBalance: pooled,
		ClaimedStars:  claimed,
		Reservations:  reservations,
		AsOfSequence:  asOfSeq,
	}, nil
}

// GetStarOwners returns settled star ownership records, star-ordered,
// with cursor pagination on the star index.
func (qs *QueryService) GetStarOwners(
	ctx context.Context,
	limit int,
	afterStar *uint16,
) ([]StarOwnerView, error) {
	done := qs.observe("get_star_owners")

	query := `
		SELECT star, member, target_owner, depth, settled_seq
		FROM projections.member_stars
	`
	args := []interface{}{}
	argIdx := 1

	if afterStar != nil {
		query += fmt.Sprintf(" WHERE star > $%d", argIdx)
		args = append(args, int(*afterStar))
		argIdx++
	}

	query += " ORDER BY star"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, done(err)
	}
	defer rows.Close()

	var owners []StarOwnerView
	for rows.Next() {
		var o StarOwnerView
		var star int
		if err := rows.Scan(&star, &o.Member, &o.TargetOwner, &o.Depth, &o.SettledSeq); err != nil {
			return nil, done(err)
		}
		o.Star = uint16(star)
		owners = append(owners, o)
	}

	return owners, done(rows.Err())
}

// GetReservations returns all open reservations in depth order, the
// order the next settlement will consume them in.
func (qs *QueryService) GetReservations(ctx context.Context) ([]ReservationView, error) {
	done := qs.observe("get_reservations")

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, done(err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT star, member, target_owner, depth
		FROM projections.reservations
		ORDER BY depth
	`)
	if err != nil {
		return nil, done(err)
	}
	defer rows.Close()

	var reservations []ReservationView
	for rows.Next() {
		var r ReservationView
		var star int
		if err := rows.Scan(&star, &r.Member, &r.TargetOwner, &r.Depth); err != nil {
			return nil, done(err)
		}
		r.Star = uint16(star)
		r.AsOfSeq = asOfSeq
		reservations = append(reservations, r)
	}

	return reservations, done(rows.Err())
}

// GetSettlementHistory returns settled stars for a caller, newest
// first, with cursor pagination on sequence.
func (qs *QueryService) GetSettlementHistory(
	ctx context.Context,
	caller common.Address,
	limit int,
	beforeSequence *int64,
) ([]SettlementHistoryResponse, error) {
	done := qs.observe("get_settlement_history")

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, done(err)
	}

	query := `
		SELECT sequence, op_type, caller, star, depth, settled_at
		FROM projections.settlement_history
		WHERE caller = $1
	`
	args := []interface{}{caller.Hex()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, star DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, done(err)
	}
	defer rows.Close()

	var history []SettlementHistoryResponse
	for rows.Next() {
		var h SettlementHistoryResponse
		var star int
		var settledAt time.Time
		if err := rows.Scan(&h.Sequence, &h.OpType, &h.Caller, &star, &h.Depth, &settledAt); err != nil {
			return nil, done(err)
		}
		h.Star = uint16(star)
		h.SettledAt = settledAt.UnixMicro()
		h.AsOfSequence = asOfSeq
		history = append(history, h)
	}

	return history, done(rows.Err())
}

// GetJournalHistory returns journal entries touching a member's
// accounts, newest first, with cursor pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	member common.Address,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	done := qs.observe("get_journal_history")

	accountPrefix := fmt.Sprintf("member:%s:%%", member.Hex())

	query := `
		SELECT journal_id, batch_id, op_ref, sequence,
		       debit_account, credit_account, amount::text, journal_type, timestamp
		FROM op_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, done(err)
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.OpRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, done(err)
		}
		entries = append(entries, e)
	}

	return entries, done(rows.Err())
}

// GetPoolSummary returns global pool aggregates.
func (qs *QueryService) GetPoolSummary(ctx context.Context) (*PoolSummaryResponse, error) {
	done := qs.observe("get_pool_summary")

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, done(err)
	}

	summary := &PoolSummaryResponse{AsOfSequence: asOfSeq}

	var pooledTotal sql.NullString
	err = qs.db.QueryRowContext(ctx, `
		SELECT SUM(balance)::text, COUNT(*)
		FROM projections.account_balances
		WHERE account_path LIKE 'member:%:pooled'
	`).Scan(&pooledTotal, &summary.MemberCount)
	if err != nil {
		return nil, done(err)
	}
	summary.PooledTotal = orZero(pooledTotal)

	fees, err := qs.getProjectedBalance(ctx, "system:fees")
	if err != nil {
		return nil, done(err)
	}
	summary.FeesCollected = fees

	penalty, err := qs.getProjectedBalance(ctx, "system:penalty")
	if err != nil {
		return nil, done(err)
	}
	summary.PenaltyPool = penalty

	err = qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projections.member_stars
	`).Scan(&summary.StarsSettled)
	if err != nil {
		return nil, done(err)
	}

	var maxDepth sql.NullInt64
	err = qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(depth) FROM projections.reservations
	`).Scan(&summary.OpenReservations, &maxDepth)
	if err != nil {
		return nil, done(err)
	}
	summary.MaxDepth = int(maxDepth.Int64)

	summary.WstrPerStar = wstr.Format(flashFinancedStarCost())

	done(nil)
	return summary, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity over the op log and the
// zero-sum invariant over projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	done := qs.observe("verify_integrity")

	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM op_log.operations o1
		JOIN op_log.operations o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.prev_hash != o2.state_hash
		ORDER BY o1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, done(err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, done(err)
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, done(err)
	}

	// Debits add, credits subtract: a consistent projection sums to
	// zero across all accounts.
	var imbalance sql.NullString
	err = qs.db.QueryRowContext(ctx, `
		SELECT SUM(balance)::text FROM projections.account_balances
	`).Scan(&imbalance)
	if err != nil {
		return nil, done(err)
	}
	if imbalance.Valid && imbalance.String != "0" {
		report.GlobalImbalance = imbalance.String
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.GlobalImbalance == ""
	done(nil)
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT sequence FROM projections.watermark WHERE projection = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.account_balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	return balance, err
}

func (qs *QueryService) getClaimedStars(ctx context.Context, member common.Address) ([]uint16, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT star FROM projections.member_stars WHERE member = $1 ORDER BY star
	`, member.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stars []uint16
	for rows.Next() {
		var star int
		if err := rows.Scan(&star); err != nil {
			return nil, err
		}
		stars = append(stars, uint16(star))
	}
	return stars, rows.Err()
}

func (qs *QueryService) getMemberReservations(
	ctx context.Context,
	member common.Address,
	asOfSeq int64,
) ([]ReservationView, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT star, target_owner, depth
		FROM projections.reservations
		WHERE member = $1
		ORDER BY depth
	`, member.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reservations []ReservationView
	for rows.Next() {
		var r ReservationView
		var star int
		if err := rows.Scan(&star, &r.TargetOwner, &r.Depth); err != nil {
			return nil, err
		}
		r.Star = uint16(star)
		r.Member = member.Hex()
		r.AsOfSeq = asOfSeq
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

// observe starts timing an endpoint and returns a closure that records
// request and error metrics. The closure passes its error argument
// through unchanged so it composes with return statements.
func (qs *QueryService) observe(endpoint string) func(error) error {
	if qs.metrics == nil {
		return func(err error) error { return err }
	}
	start := time.Now()
	return func(err error) error {
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			qs.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
			qs.metrics.QueryErrors.WithLabelValues(endpoint, "db").Inc()
		} else {
			qs.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		}
		return err
	}
}

func flashFinancedStarCost() *big.Int {
	fee := new(big.Int).Div(wstr.StarCost, big.NewInt(wstr.FlashFeeDivisor))
	return new(big.Int).Add(wstr.StarCost, fee)
}

func orZero(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return "0"
}

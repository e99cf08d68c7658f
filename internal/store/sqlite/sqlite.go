// Package sqlite is a single-file Store built on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store persists the ledger in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// DB returns the underlying handle, shared by the audit journal.
func (s *Store) DB() *sql.DB { return s.db }

// Load implements store.Store.
func (s *Store) Load(ctx context.Context) (*disbursement.State, error) {
	var (
		snap                                            disbursement.Snapshot
		self, gov, impact, threshold, repayment         string
		balance, minAmt, maxAmt, total, count, lastTime int64
		paused                                          int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT self, treasury_balance, disbursement_paused,
		       min_disbursement_amount, max_disbursement_amount,
		       governance_contract, impact_tracker_contract,
		       threshold_aggregator_contract, repayment_tracker_contract,
		       total_disbursed, disbursement_count, last_disbursement_time
		FROM treasury_state WHERE id = 1`,
	).Scan(
		&self, &balance, &paused, &minAmt, &maxAmt,
		&gov, &impact, &threshold, &repayment,
		&total, &count, &lastTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load treasury state: %w", err)
	}
	snap.Self = disbursement.Principal(self)
	snap.TreasuryBalance = uint64(balance)
	snap.DisbursementPaused = paused != 0
	snap.MinDisbursementAmount = uint64(minAmt)
	snap.MaxDisbursementAmount = uint64(maxAmt)
	snap.GovernanceContract = disbursement.Principal(gov)
	snap.ImpactTrackerContract = disbursement.Principal(impact)
	snap.ThresholdAggregatorContract = disbursement.Principal(threshold)
	snap.RepaymentTrackerContract = disbursement.Principal(repayment)
	snap.TotalDisbursed = uint64(total)
	snap.DisbursementCount = uint64(count)
	snap.LastDisbursementTime = uint64(lastTime)

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, borrower, amount, disbursement_time,
		       token_contract, repayment_schedule, impact_recorded
		FROM treasury_loans`)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	loans := make(map[uint64]disbursement.LoanRecord)
	for rows.Next() {
		var (
			id, amount, when, schedule int64
			borrower, token            string
			recorded                   int
		)
		if err := rows.Scan(&id, &borrower, &amount, &when, &token, &schedule, &recorded); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loans[uint64(id)] = disbursement.LoanRecord{
			Borrower:          disbursement.Principal(borrower),
			Amount:            uint64(amount),
			DisbursementTime:  uint64(when),
			TokenContract:     disbursement.Principal(token),
			RepaymentSchedule: uint64(schedule),
			ImpactRecorded:    recorded != 0,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}

	return disbursement.Restore(snap, loans), nil
}

// Commit implements store.Store.
func (s *Store) Commit(ctx context.Context, c store.Commit) error {
	snap := c.Snapshot
	vals, err := int64s(
		snap.TreasuryBalance, snap.MinDisbursementAmount, snap.MaxDisbursementAmount,
		snap.TotalDisbursed, snap.DisbursementCount, snap.LastDisbursementTime,
	)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO treasury_state (
			id, self, treasury_balance, disbursement_paused,
			min_disbursement_amount, max_disbursement_amount,
			governance_contract, impact_tracker_contract,
			threshold_aggregator_contract, repayment_tracker_contract,
			total_disbursed, disbursement_count, last_disbursement_time, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			self = excluded.self,
			treasury_balance = excluded.treasury_balance,
			disbursement_paused = excluded.disbursement_paused,
			min_disbursement_amount = excluded.min_disbursement_amount,
			max_disbursement_amount = excluded.max_disbursement_amount,
			governance_contract = excluded.governance_contract,
			impact_tracker_contract = excluded.impact_tracker_contract,
			threshold_aggregator_contract = excluded.threshold_aggregator_contract,
			repayment_tracker_contract = excluded.repayment_tracker_contract,
			total_disbursed = excluded.total_disbursed,
			disbursement_count = excluded.disbursement_count,
			last_disbursement_time = excluded.last_disbursement_time,
			updated_at = excluded.updated_at`,
		string(snap.Self), vals[0], boolInt(snap.DisbursementPaused), vals[1], vals[2],
		string(snap.GovernanceContract), string(snap.ImpactTrackerContract),
		string(snap.ThresholdAggregatorContract), string(snap.RepaymentTrackerContract),
		vals[3], vals[4], vals[5], now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert treasury state: %w", err)
	}

	for id, loan := range c.Loans {
		lv, err := int64s(id, loan.Amount, loan.DisbursementTime, loan.RepaymentSchedule)
		if err != nil {
			return fmt.Errorf("encode loan %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO treasury_loans (
				request_id, borrower, amount, disbursement_time,
				token_contract, repayment_schedule, impact_recorded
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (request_id) DO UPDATE SET impact_recorded = excluded.impact_recorded`,
			lv[0], string(loan.Borrower), lv[1], lv[2],
			string(loan.TokenContract), lv[3], boolInt(loan.ImpactRecorded),
		); err != nil {
			return fmt.Errorf("upsert loan %d: %w", id, err)
		}
	}

	for _, tr := range c.Transfers {
		tv, err := int64s(tr.RequestID, tr.Height, tr.Transfer.Amount)
		if err != nil {
			return fmt.Errorf("encode transfer %s: %w", tr.ID, err)
		}
		createdAt := tr.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO treasury_transfers (
				id, kind, request_id, height, amount,
				from_principal, to_principal, token, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tr.ID.String(), tr.Kind, tv[0], tv[1], tv[2],
			string(tr.Transfer.From), string(tr.Transfer.To), string(tr.Transfer.Token),
			createdAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert transfer %s: %w", tr.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit treasury tx: %w", err)
	}
	return nil
}

// ListTransfers implements store.Store.
func (s *Store) ListTransfers(ctx context.Context, limit, offset int) ([]store.TransferRecord, error) {
	limit, offset = store.NormalizePage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, request_id, height, amount,
		       from_principal, to_principal, token, created_at
		FROM treasury_transfers
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []store.TransferRecord
	for rows.Next() {
		var (
			tr                                   store.TransferRecord
			id, from, to, token                  string
			requestID, height, amount, createdAt int64
		)
		if err := rows.Scan(&id, &tr.Kind, &requestID, &height, &amount, &from, &to, &token, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse transfer id %q: %w", id, err)
		}
		tr.ID = parsed
		tr.RequestID = uint64(requestID)
		tr.Height = uint64(height)
		tr.CreatedAt = time.UnixMilli(createdAt).UTC()
		tr.Transfer = disbursement.Transfer{
			Amount: uint64(amount),
			From:   disbursement.Principal(from),
			To:     disbursement.Principal(to),
			Token:  disbursement.Principal(token),
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements store.Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func int64s(vs ...uint64) ([]int64, error) {
	out := make([]int64, len(vs))
	for i, v := range vs {
		n, err := store.ToInt64(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// Package postgres is the PostgreSQL Store. The schema lives in
// migrations/ and is applied by cmd/migrate.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
	"go.uber.org/zap"
)

// Store persists the ledger in PostgreSQL.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store backed by db.
func New(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context) (*disbursement.State, error) {
	var (
		snap                                            disbursement.Snapshot
		self, gov, impact, threshold, repayment         string
		balance, minAmt, maxAmt, total, count, lastTime int64
	)
	err := s.db.QueryRow(ctx, `
		SELECT self, treasury_balance, disbursement_paused,
		       min_disbursement_amount, max_disbursement_amount,
		       governance_contract, impact_tracker_contract,
		       threshold_aggregator_contract, repayment_tracker_contract,
		       total_disbursed, disbursement_count, last_disbursement_time
		FROM treasury_state WHERE id = 1`,
	).Scan(
		&self, &balance, &snap.DisbursementPaused,
		&minAmt, &maxAmt,
		&gov, &impact, &threshold, &repayment,
		&total, &count, &lastTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("load treasury state: %w", err)
	}
	snap.Self = disbursement.Principal(self)
	snap.TreasuryBalance = uint64(balance)
	snap.MinDisbursementAmount = uint64(minAmt)
	snap.MaxDisbursementAmount = uint64(maxAmt)
	snap.GovernanceContract = disbursement.Principal(gov)
	snap.ImpactTrackerContract = disbursement.Principal(impact)
	snap.ThresholdAggregatorContract = disbursement.Principal(threshold)
	snap.RepaymentTrackerContract = disbursement.Principal(repayment)
	snap.TotalDisbursed = uint64(total)
	snap.DisbursementCount = uint64(count)
	snap.LastDisbursementTime = uint64(lastTime)

	rows, err := s.db.Query(ctx, `
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
			recorded                   bool
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
			ImpactRecorded:    recorded,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}

	return disbursement.Restore(snap, loans), nil
}

// Commit implements store.Store. All writes share one transaction.
func (s *Store) Commit(ctx context.Context, c store.Commit) error {
	vals, err := int64s(
		c.Snapshot.TreasuryBalance, c.Snapshot.MinDisbursementAmount, c.Snapshot.MaxDisbursementAmount,
		c.Snapshot.TotalDisbursed, c.Snapshot.DisbursementCount, c.Snapshot.LastDisbursementTime,
	)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	snap := c.Snapshot
	if _, err := tx.Exec(ctx, `
		INSERT INTO treasury_state (
			id, self, treasury_balance, disbursement_paused,
			min_disbursement_amount, max_disbursement_amount,
			governance_contract, impact_tracker_contract,
			threshold_aggregator_contract, repayment_tracker_contract,
			total_disbursed, disbursement_count, last_disbursement_time, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			self = EXCLUDED.self,
			treasury_balance = EXCLUDED.treasury_balance,
			disbursement_paused = EXCLUDED.disbursement_paused,
			min_disbursement_amount = EXCLUDED.min_disbursement_amount,
			max_disbursement_amount = EXCLUDED.max_disbursement_amount,
			governance_contract = EXCLUDED.governance_contract,
			impact_tracker_contract = EXCLUDED.impact_tracker_contract,
			threshold_aggregator_contract = EXCLUDED.threshold_aggregator_contract,
			repayment_tracker_contract = EXCLUDED.repayment_tracker_contract,
			total_disbursed = EXCLUDED.total_disbursed,
			disbursement_count = EXCLUDED.disbursement_count,
			last_disbursement_time = EXCLUDED.last_disbursement_time,
			updated_at = NOW()`,
		string(snap.Self), vals[0], snap.DisbursementPaused, vals[1], vals[2],
		string(snap.GovernanceContract), string(snap.ImpactTrackerContract),
		string(snap.ThresholdAggregatorContract), string(snap.RepaymentTrackerContract),
		vals[3], vals[4], vals[5],
	); err != nil {
		return fmt.Errorf("upsert treasury state: %w", err)
	}

	for id, loan := range c.Loans {
		lv, err := int64s(id, loan.Amount, loan.DisbursementTime, loan.RepaymentSchedule)
		if err != nil {
			return fmt.Errorf("encode loan %d: %w", id, err)
		}
		// Only impact_recorded may change once a loan exists.
		if _, err := tx.Exec(ctx, `
			INSERT INTO treasury_loans (
				request_id, borrower, amount, disbursement_time,
				token_contract, repayment_schedule, impact_recorded
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (request_id) DO UPDATE SET impact_recorded = EXCLUDED.impact_recorded`,
			lv[0], string(loan.Borrower), lv[1], lv[2],
			string(loan.TokenContract), lv[3], loan.ImpactRecorded,
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
			createdAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO treasury_transfers (
				id, kind, request_id, height, amount,
				from_principal, to_principal, token, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			tr.ID, tr.Kind, tv[0], tv[1], tv[2],
			string(tr.Transfer.From), string(tr.Transfer.To), string(tr.Transfer.Token), createdAt,
		); err != nil {
			return fmt.Errorf("insert transfer %s: %w", tr.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit treasury tx: %w", err)
	}

	s.logger.Debug("treasury commit persisted",
		zap.Int("loans", len(c.Loans)),
		zap.Int("transfers", len(c.Transfers)),
	)
	return nil
}

// ListTransfers implements store.Store.
func (s *Store) ListTransfers(ctx context.Context, limit, offset int) ([]store.TransferRecord, error) {
	limit, offset = store.NormalizePage(limit, offset)
	rows, err := s.db.Query(ctx, `
		SELECT id, kind, request_id, height, amount,
		       from_principal, to_principal, token, created_at
		FROM treasury_transfers
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []store.TransferRecord
	for rows.Next() {
		var (
			tr                        store.TransferRecord
			requestID, height, amount int64
			from, to, token           string
		)
		if err := rows.Scan(&tr.ID, &tr.Kind, &requestID, &height, &amount, &from, &to, &token, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		tr.RequestID = uint64(requestID)
		tr.Height = uint64(height)
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
	return s.db.Ping(ctx)
}

// Close implements store.Store. The pool is owned by the caller.
func (s *Store) Close() error { return nil }

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

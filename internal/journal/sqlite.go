package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const selectSQLiteEntry = `SELECT idx, timestamp, action, actor, request_id, height, data_hash, prev_hash, hash
	FROM treasury_journal`

// SQLiteJournal persists the journal in the treasury_journal table of the
// sqlite store's database. Timestamps are kept as RFC 3339 text so the
// hashed representation survives a round trip.
type SQLiteJournal struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLite creates a SQLiteJournal on db. The table comes from the sqlite
// store's migrations.
func NewSQLite(db *sql.DB, logger *zap.Logger) *SQLiteJournal {
	return &SQLiteJournal{db: db, logger: logger}
}

// EnsureGenesis inserts the genesis row when the table is empty.
func (j *SQLiteJournal) EnsureGenesis(ctx context.Context) error {
	g := genesisEntry(time.Now().UTC())
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO treasury_journal (idx, timestamp, action, actor, request_id, height, data_hash, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idx) DO NOTHING`,
		g.Index, g.Timestamp.Format(time.RFC3339Nano), g.Action, g.Actor, int64(g.RequestID), int64(g.Height),
		g.DataHash, g.PrevHash, g.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert genesis entry: %w", err)
	}
	return nil
}

// Append implements Journal. The tail read and insert share one transaction;
// the store's single connection serialises concurrent appends.
func (j *SQLiteJournal) Append(ctx context.Context, action, actor string, requestID, height uint64, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var prevIdx int
	var prevHash string
	if err := tx.QueryRowContext(ctx,
		"SELECT idx, hash FROM treasury_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read journal tail: %w", err)
	}

	entry := &Entry{
		Index:     prevIdx + 1,
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		RequestID: requestID,
		Height:    height,
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO treasury_journal (idx, timestamp, action, actor, request_id, height, data_hash, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Index, entry.Timestamp.Format(time.RFC3339Nano), entry.Action, entry.Actor,
		int64(entry.RequestID), int64(entry.Height),
		entry.DataHash, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit journal tx: %w", err)
	}

	j.logger.Debug("journal entry appended",
		zap.Int("idx", entry.Index),
		zap.String("action", entry.Action),
		zap.Uint64("request_id", entry.RequestID),
	)
	return entry, nil
}

// Get implements Journal.
func (j *SQLiteJournal) Get(ctx context.Context, index int) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, selectSQLiteEntry+` WHERE idx = ?`, index)
	entry, err := scanSQLiteEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("index %d out of range", index)
		}
		return nil, fmt.Errorf("get journal entry %d: %w", index, err)
	}
	return entry, nil
}

// Len implements Journal.
func (j *SQLiteJournal) Len(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM treasury_journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Verify implements Journal.
func (j *SQLiteJournal) Verify(ctx context.Context) error {
	rows, err := j.db.QueryContext(ctx, selectSQLiteEntry+` ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanSQLiteEntry(rows)
		if err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Journal.
func (j *SQLiteJournal) Root(ctx context.Context) (string, error) {
	var hash string
	if err := j.db.QueryRowContext(ctx,
		"SELECT hash FROM treasury_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get journal root: %w", err)
	}
	return hash, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*Entry, error) {
	var (
		e                 Entry
		ts                string
		requestID, height int64
	)
	if err := row.Scan(
		&e.Index, &ts, &e.Action, &e.Actor, &requestID, &height,
		&e.DataHash, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp of entry %d: %w", e.Index, err)
	}
	e.Timestamp = t.UTC()
	e.RequestID = uint64(requestID)
	e.Height = uint64(height)
	return &e, nil
}

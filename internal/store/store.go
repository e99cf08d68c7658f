// Package store persists the treasury ledger.
//
// The service applies an operation to its in-memory State and then hands the
// result to Commit, which must write the scalar snapshot, the touched loan
// records and the emitted transfers atomically. Three implementations exist:
// memory (tests, development), postgres and sqlite.
package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
)

// ErrNotFound is returned by Load when no ledger has been persisted yet.
var ErrNotFound = errors.New("treasury state not found")

// ErrOutOfRange is returned when a value does not fit the storage column.
var ErrOutOfRange = errors.New("value exceeds storage range")

// Transfer kinds.
const (
	KindFund     = "fund"
	KindWithdraw = "withdraw"
	KindDisburse = "disburse"
)

// TransferRecord is a persisted transfer with its context.
type TransferRecord struct {
	ID        uuid.UUID             `json:"id"`
	Kind      string                `json:"kind"`
	RequestID uint64                `json:"request_id,omitempty"`
	Height    uint64                `json:"height"`
	Transfer  disbursement.Transfer `json:"transfer"`
	CreatedAt time.Time             `json:"created_at"`
}

// Commit is one atomic unit of persisted change.
type Commit struct {
	Snapshot  disbursement.Snapshot
	Loans     map[uint64]disbursement.LoanRecord // inserted or updated
	Transfers []TransferRecord
}

// Store is the persistence interface used by the treasury service.
type Store interface {
	// Load rebuilds the ledger. It returns ErrNotFound on a fresh store.
	Load(ctx context.Context) (*disbursement.State, error)

	// Commit writes c atomically.
	Commit(ctx context.Context, c Commit) error

	// ListTransfers returns transfers newest first.
	ListTransfers(ctx context.Context, limit, offset int) ([]TransferRecord, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// ToInt64 converts a ledger quantity to a signed database column value.
func ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, ErrOutOfRange
	}
	return int64(v), nil
}

// NormalizePage clamps list pagination parameters.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

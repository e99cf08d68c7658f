// Package memory is an in-process Store for tests and development.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
)

// Store keeps the last committed ledger in memory.
type Store struct {
	mu        sync.RWMutex
	snap      *disbursement.Snapshot
	loans     map[uint64]disbursement.LoanRecord
	transfers []store.TransferRecord

	// FailCommit, when non-nil, is returned by Commit. Tests use it to
	// exercise rollback paths.
	FailCommit error
}

// New creates an empty Store.
func New() *Store {
	return &Store{loans: make(map[uint64]disbursement.LoanRecord)}
}

// Load implements store.Store.
func (s *Store) Load(_ context.Context) (*disbursement.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, store.ErrNotFound
	}
	return disbursement.Restore(*s.snap, s.loans), nil
}

// Commit implements store.Store.
func (s *Store) Commit(_ context.Context, c store.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommit != nil {
		return s.FailCommit
	}
	snap := c.Snapshot
	s.snap = &snap
	maps.Copy(s.loans, c.Loans)
	s.transfers = append(s.transfers, c.Transfers...)
	return nil
}

// ListTransfers implements store.Store.
func (s *Store) ListTransfers(_ context.Context, limit, offset int) ([]store.TransferRecord, error) {
	limit, offset = store.NormalizePage(limit, offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.transfers)
	slices.Reverse(out)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements store.Store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close implements store.Store.
func (s *Store) Close() error { return nil }

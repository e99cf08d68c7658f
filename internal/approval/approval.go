// Package approval provides clients for the threshold aggregator: the
// collaborator that decides whether a loan request has collected enough
// endorsements to be disbursed.
package approval

import (
	"context"
	"sync"
)

// Source answers approval lookups for loan requests.
type Source interface {
	IsApproved(ctx context.Context, requestID uint64) (bool, error)
}

// Static is an in-process approval table. It serves single-node deployments
// and tests; approvals are granted through the admin API or the CLI.
type Static struct {
	mu        sync.RWMutex
	approvals map[uint64]bool
}

// NewStatic returns an empty Static source.
func NewStatic() *Static {
	return &Static{approvals: make(map[uint64]bool)}
}

// Set records the approval decision for requestID.
func (s *Static) Set(requestID uint64, approved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[requestID] = approved
}

// IsApproved implements Source. Unknown requests are not approved.
func (s *Static) IsApproved(_ context.Context, requestID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.approvals[requestID], nil
}

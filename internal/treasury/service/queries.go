package service

import (
	"context"

	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
)

// Snapshot returns the current ledger scalars. The zero Snapshot is returned
// before Load.
func (s *TreasuryService) Snapshot() disbursement.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return disbursement.Snapshot{}
	}
	return s.state.Snapshot()
}

// TreasuryBalance returns the native balance held by the treasury.
func (s *TreasuryService) TreasuryBalance() uint64 { return s.Snapshot().TreasuryBalance }

// Paused reports whether disbursements are paused.
func (s *TreasuryService) Paused() bool { return s.Snapshot().DisbursementPaused }

// MinDisbursementAmount returns the lower disbursement bound.
func (s *TreasuryService) MinDisbursementAmount() uint64 {
	return s.Snapshot().MinDisbursementAmount
}

// MaxDisbursementAmount returns the upper disbursement bound.
func (s *TreasuryService) MaxDisbursementAmount() uint64 {
	return s.Snapshot().MaxDisbursementAmount
}

// TotalDisbursed returns the cumulative disbursed amount.
func (s *TreasuryService) TotalDisbursed() uint64 { return s.Snapshot().TotalDisbursed }

// DisbursementCount returns the number of disbursements made.
func (s *TreasuryService) DisbursementCount() uint64 { return s.Snapshot().DisbursementCount }

// LastDisbursementTime returns the clock height of the latest disbursement.
func (s *TreasuryService) LastDisbursementTime() uint64 {
	return s.Snapshot().LastDisbursementTime
}

// LoanDetails returns the loan recorded for requestID.
func (s *TreasuryService) LoanDetails(requestID uint64) (disbursement.LoanRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return disbursement.LoanRecord{}, false
	}
	return s.state.LoanDetails(requestID)
}

// Height returns the current logical clock height.
func (s *TreasuryService) Height() uint64 { return s.clock.Height() }

// Transfers lists persisted transfers newest first.
func (s *TreasuryService) Transfers(ctx context.Context, limit, offset int) ([]store.TransferRecord, error) {
	return s.store.ListTransfers(ctx, limit, offset)
}

// Ping checks the backing store.
func (s *TreasuryService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

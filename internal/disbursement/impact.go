package disbursement

// RecordLoanImpact marks the loan under requestID as having its impact
// recorded. Only the borrower may do so, and only once.
func (s *State) RecordLoanImpact(caller Principal, requestID uint64, impactData string) error {
	loan, ok := s.loans[requestID]
	if !ok {
		return ErrInvalidRequestID
	}
	if loan.Borrower != caller {
		return ErrUnauthorized
	}
	if loan.ImpactRecorded {
		return ErrInvalidImpactData
	}
	if impactData == "" {
		return ErrInvalidImpactData
	}
	loan.ImpactRecorded = true
	s.loans[requestID] = loan
	return nil
}

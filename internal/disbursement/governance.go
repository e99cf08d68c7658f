package disbursement

import "math"

// Contract setters are self-attesting: the caller registers itself. An earlier
// registration is overwritten without any check.

// SetGovernanceContract registers contract as the governance identity.
func (s *State) SetGovernanceContract(caller, contract Principal) error {
	return s.register(caller, contract, &s.snap.GovernanceContract)
}

// SetImpactTrackerContract registers contract as the impact tracker.
func (s *State) SetImpactTrackerContract(caller, contract Principal) error {
	return s.register(caller, contract, &s.snap.ImpactTrackerContract)
}

// SetThresholdAggregatorContract registers contract as the threshold aggregator.
func (s *State) SetThresholdAggregatorContract(caller, contract Principal) error {
	return s.register(caller, contract, &s.snap.ThresholdAggregatorContract)
}

// SetRepaymentTrackerContract registers contract as the repayment tracker.
func (s *State) SetRepaymentTrackerContract(caller, contract Principal) error {
	return s.register(caller, contract, &s.snap.RepaymentTrackerContract)
}

func (s *State) register(caller, contract Principal, slot *Principal) error {
	if !contract.IsSet() || caller != contract {
		return ErrUnauthorized
	}
	*slot = contract
	return nil
}

// SetMinDisbursementAmount changes the lower disbursement bound. It requires a
// registered governance contract but not that the caller be governance.
// newMin must be positive and stay below the current maximum.
func (s *State) SetMinDisbursementAmount(_ Principal, newMin uint64) error {
	if !s.snap.GovernanceContract.IsSet() {
		return ErrGovernanceNotSet
	}
	if newMin == 0 || newMin >= s.snap.MaxDisbursementAmount {
		return ErrInvalidAmount
	}
	s.snap.MinDisbursementAmount = newMin
	return nil
}

// SetMaxDisbursementAmount changes the upper disbursement bound. Same
// authorization as SetMinDisbursementAmount; newMax must exceed the minimum.
func (s *State) SetMaxDisbursementAmount(_ Principal, newMax uint64) error {
	if !s.snap.GovernanceContract.IsSet() {
		return ErrGovernanceNotSet
	}
	if newMax <= s.snap.MinDisbursementAmount {
		return ErrInvalidAmount
	}
	s.snap.MaxDisbursementAmount = newMax
	return nil
}

// PauseDisbursements sets or clears the global pause flag. Governance only.
func (s *State) PauseDisbursements(caller Principal, paused bool) error {
	if !s.isGovernance(caller) {
		return ErrUnauthorized
	}
	s.snap.DisbursementPaused = paused
	return nil
}

// FundTreasury moves amount of native currency from caller into the treasury
// and returns the new balance. Anyone may fund once governance is registered.
func (s *State) FundTreasury(caller Principal, amount uint64, sink TransferSink) (uint64, error) {
	if !s.snap.GovernanceContract.IsSet() {
		return 0, ErrGovernanceNotSet
	}
	if amount == 0 || amount > math.MaxUint64-s.snap.TreasuryBalance {
		return 0, ErrInvalidAmount
	}
	emit(sink, Transfer{Amount: amount, From: caller, To: s.snap.Self})
	s.snap.TreasuryBalance += amount
	return s.snap.TreasuryBalance, nil
}

// WithdrawTreasuryFunds pays amount of native currency from the treasury to
// recipient. Governance only.
func (s *State) WithdrawTreasuryFunds(caller Principal, amount uint64, recipient Principal, sink TransferSink) error {
	if !s.isGovernance(caller) {
		return ErrUnauthorized
	}
	if s.snap.TreasuryBalance < amount {
		return ErrInsufficientTreasuryBalance
	}
	emit(sink, Transfer{Amount: amount, From: s.snap.Self, To: recipient})
	s.snap.TreasuryBalance -= amount
	return nil
}

func (s *State) isGovernance(caller Principal) bool {
	return s.snap.GovernanceContract.IsSet() && caller == s.snap.GovernanceContract
}

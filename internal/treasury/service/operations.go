package service

import (
	"context"

	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/events"
	"github.com/jmerrifield20/LoanTreasury/internal/journal"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
)

// Role names a registered collaborator identity.
type Role string

const (
	RoleGovernance          Role = "governance"
	RoleImpactTracker       Role = "impact-tracker"
	RoleThresholdAggregator Role = "threshold-aggregator"
	RoleRepaymentTracker    Role = "repayment-tracker"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleGovernance, RoleImpactTracker, RoleThresholdAggregator, RoleRepaymentTracker:
		return true
	}
	return false
}

// RegisterContract registers caller as the holder of role. The caller must be
// the contract it registers.
func (s *TreasuryService) RegisterContract(ctx context.Context, caller disbursement.Principal, role Role, contract disbursement.Principal) error {
	var set func(st *disbursement.State) error
	switch role {
	case RoleGovernance:
		set = func(st *disbursement.State) error { return st.SetGovernanceContract(caller, contract) }
	case RoleImpactTracker:
		set = func(st *disbursement.State) error { return st.SetImpactTrackerContract(caller, contract) }
	case RoleThresholdAggregator:
		set = func(st *disbursement.State) error { return st.SetThresholdAggregatorContract(caller, contract) }
	case RoleRepaymentTracker:
		set = func(st *disbursement.State) error { return st.SetRepaymentTrackerContract(caller, contract) }
	default:
		return disbursement.ErrUnauthorized
	}

	return s.apply(ctx, "register_"+string(role), caller, func(st *disbursement.State, _ disbursement.Env, _ disbursement.TransferSink) (outcome, error) {
		if err := set(st); err != nil {
			return outcome{}, err
		}
		return outcome{
			action:  journal.ActionRegister,
			event:   events.TypeContractRegistered,
			payload: map[string]any{"role": string(role), "contract": string(contract)},
		}, nil
	})
}

// SetGovernanceContract registers the governance identity.
func (s *TreasuryService) SetGovernanceContract(ctx context.Context, caller, contract disbursement.Principal) error {
	return s.RegisterContract(ctx, caller, RoleGovernance, contract)
}

// SetImpactTrackerContract registers the impact tracker identity.
func (s *TreasuryService) SetImpactTrackerContract(ctx context.Context, caller, contract disbursement.Principal) error {
	return s.RegisterContract(ctx, caller, RoleImpactTracker, contract)
}

// SetThresholdAggregatorContract registers the threshold aggregator identity.
func (s *TreasuryService) SetThresholdAggregatorContract(ctx context.Context, caller, contract disbursement.Principal) error {
	return s.RegisterContract(ctx, caller, RoleThresholdAggregator, contract)
}

// SetRepaymentTrackerContract registers the repayment tracker identity.
func (s *TreasuryService) SetRepaymentTrackerContract(ctx context.Context, caller, contract disbursement.Principal) error {
	return s.RegisterContract(ctx, caller, RoleRepaymentTracker, contract)
}

// SetMinDisbursementAmount changes the lower disbursement bound.
func (s *TreasuryService) SetMinDisbursementAmount(ctx context.Context, caller disbursement.Principal, newMin uint64) error {
	return s.apply(ctx, "set_min_amount", caller, func(st *disbursement.State, _ disbursement.Env, _ disbursement.TransferSink) (outcome, error) {
		if err := st.SetMinDisbursementAmount(caller, newMin); err != nil {
			return outcome{}, err
		}
		return outcome{
			action:  journal.ActionConfigure,
			event:   events.TypeConfigUpdated,
			payload: map[string]any{"min_disbursement_amount": newMin},
		}, nil
	})
}

// SetMaxDisbursementAmount changes the upper disbursement bound.
func (s *TreasuryService) SetMaxDisbursementAmount(ctx context.Context, caller disbursement.Principal, newMax uint64) error {
	return s.apply(ctx, "set_max_amount", caller, func(st *disbursement.State, _ disbursement.Env, _ disbursement.TransferSink) (outcome, error) {
		if err := st.SetMaxDisbursementAmount(caller, newMax); err != nil {
			return outcome{}, err
		}
		return outcome{
			action:  journal.ActionConfigure,
			event:   events.TypeConfigUpdated,
			payload: map[string]any{"max_disbursement_amount": newMax},
		}, nil
	})
}

// PauseDisbursements sets or clears the pause flag.
func (s *TreasuryService) PauseDisbursements(ctx context.Context, caller disbursement.Principal, paused bool) error {
	return s.apply(ctx, "pause", caller, func(st *disbursement.State, _ disbursement.Env, _ disbursement.TransferSink) (outcome, error) {
		if err := st.PauseDisbursements(caller, paused); err != nil {
			return outcome{}, err
		}
		return outcome{
			action:  journal.ActionPause,
			event:   events.TypePauseChanged,
			payload: map[string]any{"paused": paused},
		}, nil
	})
}

// FundTreasury moves amount from caller into the treasury and returns the new
// balance.
func (s *TreasuryService) FundTreasury(ctx context.Context, caller disbursement.Principal, amount uint64) (uint64, error) {
	var balance uint64
	err := s.apply(ctx, "fund", caller, func(st *disbursement.State, _ disbursement.Env, sink disbursement.TransferSink) (outcome, error) {
		b, err := st.FundTreasury(caller, amount, sink)
		if err != nil {
			return outcome{}, err
		}
		balance = b
		return outcome{
			action:  journal.ActionFund,
			event:   events.TypeTreasuryFunded,
			kind:    store.KindFund,
			payload: map[string]any{"amount": amount, "balance": b},
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// WithdrawTreasuryFunds pays amount from the treasury to recipient.
func (s *TreasuryService) WithdrawTreasuryFunds(ctx context.Context, caller disbursement.Principal, amount uint64, recipient disbursement.Principal) error {
	return s.apply(ctx, "withdraw", caller, func(st *disbursement.State, _ disbursement.Env, sink disbursement.TransferSink) (outcome, error) {
		if err := st.WithdrawTreasuryFunds(caller, amount, recipient, sink); err != nil {
			return outcome{}, err
		}
		return outcome{
			action:  journal.ActionWithdraw,
			event:   events.TypeTreasuryWithdrawn,
			kind:    store.KindWithdraw,
			payload: map[string]any{"amount": amount, "recipient": string(recipient)},
		}, nil
	})
}

// DisburseLoan validates req against the current ledger and, if it passes,
// pays the borrower and records the loan.
func (s *TreasuryService) DisburseLoan(ctx context.Context, caller disbursement.Principal, req disbursement.Request) error {
	return s.apply(ctx, "disburse", caller, func(st *disbursement.State, env disbursement.Env, sink disbursement.TransferSink) (outcome, error) {
		if err := st.DisburseLoan(env, req, sink); err != nil {
			return outcome{}, err
		}
		payload := map[string]any{
			"borrower":           string(req.Borrower),
			"amount":             req.Amount,
			"currency":           string(req.Currency),
			"repayment_schedule": req.RepaymentSchedule,
		}
		if req.TokenContract.IsSet() {
			payload["token_contract"] = string(req.TokenContract)
		}
		return outcome{
			action:    journal.ActionDisburse,
			event:     events.TypeLoanDisbursed,
			kind:      store.KindDisburse,
			requestID: req.RequestID,
			loans:     []uint64{req.RequestID},
			payload:   payload,
		}, nil
	})
}

// RecordLoanImpact marks a disbursed loan's impact as reported.
func (s *TreasuryService) RecordLoanImpact(ctx context.Context, caller disbursement.Principal, requestID uint64, impactData string) error {
	return s.apply(ctx, "record_impact", caller, func(st *disbursement.State, _ disbursement.Env, _ disbursement.TransferSink) (outcome, error) {
		if err := st.RecordLoanImpact(caller, requestID, impactData); err != nil {
			return outcome{}, err
		}
		return outcome{
			action:    journal.ActionRecordImpact,
			event:     events.TypeImpactRecorded,
			requestID: requestID,
			loans:     []uint64{requestID},
			payload:   map[string]any{"impact_data": impactData},
		}, nil
	})
}

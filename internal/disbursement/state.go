package disbursement

import "maps"

// Principal identifies a caller, a registered contract, a borrower or a token.
// The empty Principal means "unset".
type Principal string

// IsSet reports whether p holds an identity.
func (p Principal) IsSet() bool { return p != "" }

const (
	// DefaultMinDisbursementAmount is the lower disbursement bound of a fresh ledger.
	DefaultMinDisbursementAmount uint64 = 100
	// DefaultMaxDisbursementAmount is the upper disbursement bound of a fresh ledger.
	DefaultMaxDisbursementAmount uint64 = 1_000_000

	// DefaultSelf is the identity the ledger uses for its own side of transfers.
	DefaultSelf Principal = "treasury"

	// NativeTokenSentinel is reserved for the native currency and can never be
	// named as a token contract.
	NativeTokenSentinel Principal = "SP000000000000000000002Q6VF78"
)

// LoanRecord is the immutable record of a disbursed loan. Only ImpactRecorded
// may change after insertion, and only from false to true.
type LoanRecord struct {
	Borrower          Principal `json:"borrower"`
	Amount            uint64    `json:"amount"`
	DisbursementTime  uint64    `json:"disbursement_time"`
	TokenContract     Principal `json:"token_contract,omitempty"` // empty = native currency
	RepaymentSchedule uint64    `json:"repayment_schedule"`
	ImpactRecorded    bool      `json:"impact_recorded"`
}

// Native reports whether the loan was paid out in the native currency.
func (r LoanRecord) Native() bool { return !r.TokenContract.IsSet() }

// Snapshot holds every scalar field of a State. Stores persist it alongside
// the loan map.
type Snapshot struct {
	Self                        Principal `json:"self"`
	TreasuryBalance             uint64    `json:"treasury_balance"`
	DisbursementPaused          bool      `json:"disbursement_paused"`
	MinDisbursementAmount       uint64    `json:"min_disbursement_amount"`
	MaxDisbursementAmount       uint64    `json:"max_disbursement_amount"`
	GovernanceContract          Principal `json:"governance_contract,omitempty"`
	ImpactTrackerContract       Principal `json:"impact_tracker_contract,omitempty"`
	ThresholdAggregatorContract Principal `json:"threshold_aggregator_contract,omitempty"`
	RepaymentTrackerContract    Principal `json:"repayment_tracker_contract,omitempty"`
	TotalDisbursed              uint64    `json:"total_disbursed"`
	DisbursementCount           uint64    `json:"disbursement_count"`
	LastDisbursementTime        uint64    `json:"last_disbursement_time"`
}

// State is the treasury ledger: balances, thresholds, registered contracts and
// the map of disbursed loans.
type State struct {
	snap  Snapshot
	loans map[uint64]LoanRecord
}

// NewState returns a ledger with default thresholds and an empty treasury.
// An empty self falls back to DefaultSelf.
func NewState(self Principal) *State {
	if !self.IsSet() {
		self = DefaultSelf
	}
	return &State{
		snap: Snapshot{
			Self:                  self,
			MinDisbursementAmount: DefaultMinDisbursementAmount,
			MaxDisbursementAmount: DefaultMaxDisbursementAmount,
		},
		loans: make(map[uint64]LoanRecord),
	}
}

// Restore rebuilds a State from persisted data. The loans map is copied.
func Restore(snap Snapshot, loans map[uint64]LoanRecord) *State {
	if !snap.Self.IsSet() {
		snap.Self = DefaultSelf
	}
	st := &State{snap: snap, loans: make(map[uint64]LoanRecord, len(loans))}
	maps.Copy(st.loans, loans)
	return st
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	return Restore(s.snap, s.loans)
}

// Snapshot returns the scalar fields of s.
func (s *State) Snapshot() Snapshot { return s.snap }

// Self returns the ledger's own identity.
func (s *State) Self() Principal { return s.snap.Self }

func (s *State) TreasuryBalance() uint64       { return s.snap.TreasuryBalance }
func (s *State) Paused() bool                  { return s.snap.DisbursementPaused }
func (s *State) MinDisbursementAmount() uint64 { return s.snap.MinDisbursementAmount }
func (s *State) MaxDisbursementAmount() uint64 { return s.snap.MaxDisbursementAmount }
func (s *State) TotalDisbursed() uint64        { return s.snap.TotalDisbursed }
func (s *State) DisbursementCount() uint64     { return s.snap.DisbursementCount }
func (s *State) LastDisbursementTime() uint64  { return s.snap.LastDisbursementTime }

func (s *State) GovernanceContract() Principal          { return s.snap.GovernanceContract }
func (s *State) ImpactTrackerContract() Principal       { return s.snap.ImpactTrackerContract }
func (s *State) ThresholdAggregatorContract() Principal { return s.snap.ThresholdAggregatorContract }
func (s *State) RepaymentTrackerContract() Principal    { return s.snap.RepaymentTrackerContract }

// LoanDetails returns the record stored under requestID.
func (s *State) LoanDetails(requestID uint64) (LoanRecord, bool) {
	r, ok := s.loans[requestID]
	return r, ok
}

// Loans returns a copy of the disbursed-loan map.
func (s *State) Loans() map[uint64]LoanRecord {
	return maps.Clone(s.loans)
}

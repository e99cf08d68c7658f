package disbursement

import "math"

// Currency is the medium a disbursement is denominated in.
type Currency string

const (
	CurrencySTX    Currency = "STX"    // native currency
	CurrencySIP010 Currency = "SIP010" // fungible-token standard
)

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	return c == CurrencySTX || c == CurrencySIP010
}

// ApprovalChecker answers whether a loan request has collected enough
// endorsements. It is consulted synchronously during validation.
type ApprovalChecker interface {
	IsApproved(requestID uint64) bool
}

// ApprovalFunc adapts a function to ApprovalChecker.
type ApprovalFunc func(requestID uint64) bool

// IsApproved implements ApprovalChecker.
func (f ApprovalFunc) IsApproved(requestID uint64) bool { return f(requestID) }

// Env carries the per-call inputs that do not belong to the request itself.
type Env struct {
	Caller    Principal
	Height    uint64 // logical clock; never mutated by the ledger
	Approvals ApprovalChecker
}

// Request holds the parameters of a disbursement.
type Request struct {
	Borrower          Principal `json:"borrower"`
	Amount            uint64    `json:"amount"`
	RequestID         uint64    `json:"request_id"`
	TokenContract     Principal `json:"token_contract,omitempty"`
	RepaymentSchedule uint64    `json:"repayment_schedule"`
	ImpactData        string    `json:"impact_data"`
	Currency          Currency  `json:"currency"`
}

type check func(st *State, env Env, req Request) error

// disbursementChecks run in this exact order; the first failure is reported.
var disbursementChecks = []check{
	checkNotPaused,
	checkAmountBounds,
	checkBorrower,
	checkRequestID,
	checkTokenContract,
	checkRepaymentSchedule,
	checkClock,
	checkCurrency,
	checkImpactData,
	checkTreasuryBalance,
	checkApproval,
	checkNotDisbursed,
}

// ValidateDisbursement runs the precondition chain for req without mutating st.
func ValidateDisbursement(st *State, env Env, req Request) error {
	for _, c := range disbursementChecks {
		if err := c(st, env, req); err != nil {
			return err
		}
	}
	return nil
}

// DisburseLoan validates req and, on success, pays the borrower and records
// the loan. Either every effect is applied or none is.
func (s *State) DisburseLoan(env Env, req Request, sink TransferSink) error {
	if err := ValidateDisbursement(s, env, req); err != nil {
		return err
	}
	s.execute(env, req, sink)
	return nil
}

func (s *State) execute(env Env, req Request, sink TransferSink) {
	emit(sink, Transfer{
		Amount: req.Amount,
		From:   s.snap.Self,
		To:     req.Borrower,
		Token:  req.TokenContract,
	})
	s.snap.TreasuryBalance -= req.Amount
	s.snap.TotalDisbursed = saturatingAdd(s.snap.TotalDisbursed, req.Amount)
	s.snap.DisbursementCount++
	s.snap.LastDisbursementTime = env.Height
	s.loans[req.RequestID] = LoanRecord{
		Borrower:          req.Borrower,
		Amount:            req.Amount,
		DisbursementTime:  env.Height,
		TokenContract:     req.TokenContract,
		RepaymentSchedule: req.RepaymentSchedule,
	}
}

func checkNotPaused(st *State, _ Env, _ Request) error {
	if st.snap.DisbursementPaused {
		return ErrDisbursementPaused
	}
	return nil
}

func checkAmountBounds(st *State, _ Env, req Request) error {
	if req.Amount < st.snap.MinDisbursementAmount || req.Amount > st.snap.MaxDisbursementAmount {
		return ErrInvalidAmount
	}
	return nil
}

func checkBorrower(_ *State, env Env, req Request) error {
	if req.Borrower == env.Caller {
		return ErrInvalidBorrower
	}
	return nil
}

func checkRequestID(_ *State, _ Env, req Request) error {
	if req.RequestID == 0 {
		return ErrInvalidRequestID
	}
	return nil
}

func checkTokenContract(_ *State, _ Env, req Request) error {
	if req.TokenContract.IsSet() && req.TokenContract == NativeTokenSentinel {
		return ErrInvalidTokenContract
	}
	return nil
}

func checkRepaymentSchedule(_ *State, _ Env, req Request) error {
	if req.RepaymentSchedule == 0 {
		return ErrInvalidRepaymentSchedule
	}
	return nil
}

func checkClock(st *State, env Env, _ Request) error {
	if env.Height <= st.snap.LastDisbursementTime {
		return ErrInvalidDisbursementTime
	}
	return nil
}

func checkCurrency(_ *State, _ Env, req Request) error {
	if !req.Currency.Valid() {
		return ErrInvalidCurrency
	}
	return nil
}

func checkImpactData(_ *State, _ Env, req Request) error {
	if req.ImpactData == "" {
		return ErrInvalidImpactData
	}
	return nil
}

func checkTreasuryBalance(st *State, _ Env, req Request) error {
	if st.snap.TreasuryBalance < req.Amount {
		return ErrInsufficientTreasuryBalance
	}
	return nil
}

func checkApproval(_ *State, env Env, req Request) error {
	if env.Approvals == nil || !env.Approvals.IsApproved(req.RequestID) {
		return ErrInsufficientEndorsements
	}
	return nil
}

func checkNotDisbursed(st *State, _ Env, req Request) error {
	if _, ok := st.loans[req.RequestID]; ok {
		return ErrLoanAlreadyDisbursed
	}
	return nil
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

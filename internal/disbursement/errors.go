package disbursement

import (
	"errors"
	"fmt"
)

// Error is a ledger failure. Code is the stable numeric identifier reported to
// callers; Kind is a short machine-readable name.
type Error struct {
	Code int
	Kind string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Kind, e.Code)
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthorized                = &Error{Code: 1000, Kind: "unauthorized"}
	ErrInsufficientEndorsements    = &Error{Code: 1001, Kind: "insufficient_endorsements"}
	ErrInvalidAmount               = &Error{Code: 1003, Kind: "invalid_amount"}
	ErrLoanAlreadyDisbursed        = &Error{Code: 1004, Kind: "loan_already_disbursed"}
	ErrInvalidRequestID            = &Error{Code: 1005, Kind: "invalid_request_id"}
	ErrInvalidTokenContract        = &Error{Code: 1006, Kind: "invalid_token_contract"}
	ErrInvalidRepaymentSchedule    = &Error{Code: 1008, Kind: "invalid_repayment_schedule"}
	ErrInsufficientTreasuryBalance = &Error{Code: 1009, Kind: "insufficient_treasury_balance"}
	ErrInvalidDisbursementTime     = &Error{Code: 1010, Kind: "invalid_disbursement_time"}
	ErrInvalidBorrower             = &Error{Code: 1012, Kind: "invalid_borrower"}
	ErrDisbursementPaused          = &Error{Code: 1013, Kind: "disbursement_paused"}
	ErrGovernanceNotSet            = &Error{Code: 1015, Kind: "governance_not_set"}
	ErrInvalidImpactData           = &Error{Code: 1018, Kind: "invalid_impact_data"}
	ErrInvalidCurrency             = &Error{Code: 1020, Kind: "invalid_currency"}
)

// AsError unwraps err to a ledger *Error. ok is false for any other error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

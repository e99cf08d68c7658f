// Package disbursement implements the treasury ledger that validates and
// records loan disbursements.
//
// A State is an explicit, caller-owned value: nothing in this package keeps
// global state. Governance setters mutate configuration, DisburseLoan runs an
// ordered chain of precondition checks followed by a single atomic update, and
// RecordLoanImpact performs the one permitted mutation of an existing loan.
//
// The package performs no I/O and no locking. Callers that share a State
// across goroutines must serialise access themselves (see the treasury service).
package disbursement

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Currency values accepted by Disburse.
const (
	CurrencySTX    = "STX"
	CurrencySIP010 = "SIP010"
)

// Roles accepted by RegisterContract.
const (
	RoleGovernance          = "governance"
	RoleImpactTracker       = "impact-tracker"
	RoleThresholdAggregator = "threshold-aggregator"
	RoleRepaymentTracker    = "repayment-tracker"
)

// Overview is the ledger summary returned by GET /api/v1/treasury.
type Overview struct {
	Self                        string `json:"self"`
	TreasuryBalance             uint64 `json:"treasury_balance"`
	DisbursementPaused          bool   `json:"disbursement_paused"`
	MinDisbursementAmount       uint64 `json:"min_disbursement_amount"`
	MaxDisbursementAmount       uint64 `json:"max_disbursement_amount"`
	GovernanceContract          string `json:"governance_contract,omitempty"`
	ImpactTrackerContract       string `json:"impact_tracker_contract,omitempty"`
	ThresholdAggregatorContract string `json:"threshold_aggregator_contract,omitempty"`
	RepaymentTrackerContract    string `json:"repayment_tracker_contract,omitempty"`
	TotalDisbursed              uint64 `json:"total_disbursed"`
	DisbursementCount           uint64 `json:"disbursement_count"`
	LastDisbursementTime        uint64 `json:"last_disbursement_time"`
	Height                      uint64 `json:"height"`
}

// Loan is a disbursed loan record.
type Loan struct {
	Borrower          string `json:"borrower"`
	Amount            uint64 `json:"amount"`
	DisbursementTime  uint64 `json:"disbursement_time"`
	TokenContract     string `json:"token_contract,omitempty"`
	RepaymentSchedule uint64 `json:"repayment_schedule"`
	ImpactRecorded    bool   `json:"impact_recorded"`
}

// DisburseRequest is the payload for Disburse.
type DisburseRequest struct {
	Borrower          string `json:"borrower"`
	Amount            uint64 `json:"amount"`
	RequestID         uint64 `json:"request_id"`
	TokenContract     string `json:"token_contract,omitempty"`
	RepaymentSchedule uint64 `json:"repayment_schedule"`
	ImpactData        string `json:"impact_data"`
	Currency          string `json:"currency"`
}

// Transfer is a persisted value movement.
type Transfer struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	RequestID uint64    `json:"request_id,omitempty"`
	Height    uint64    `json:"height"`
	CreatedAt time.Time `json:"created_at"`
	Transfer  struct {
		Amount uint64 `json:"amount"`
		From   string `json:"from"`
		To     string `json:"to"`
		Token  string `json:"token,omitempty"`
	} `json:"transfer"`
}

// JournalEntry is one link of the audit chain.
type JournalEntry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	RequestID uint64    `json:"request_id"`
	Height    uint64    `json:"height"`
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// JournalVerification is the result of VerifyJournal.
type JournalVerification struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// Overview returns the ledger summary.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var ov Overview
	if err := c.call(ctx, http.MethodGet, "/api/v1/treasury", nil, &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// Loan returns the loan disbursed for requestID.
func (c *Client) Loan(ctx context.Context, requestID uint64) (*Loan, error) {
	var resp struct {
		Loan Loan `json:"loan"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/loans/"+strconv.FormatUint(requestID, 10), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Loan, nil
}

// Transfers lists transfers newest first.
func (c *Client) Transfers(ctx context.Context, limit, offset int) ([]Transfer, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var resp struct {
		Transfers []Transfer `json:"transfers"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/treasury/transfers?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transfers, nil
}

// Height returns the server's logical clock height.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	var resp struct {
		Height uint64 `json:"height"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/clock", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

// JournalEntry returns the audit entry at idx.
func (c *Client) JournalEntry(ctx context.Context, idx int) (*JournalEntry, error) {
	var e JournalEntry
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/v1/journal/entries/%d", idx), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// VerifyJournal asks the server to walk the audit chain.
func (c *Client) VerifyJournal(ctx context.Context) (*JournalVerification, error) {
	var v JournalVerification
	if err := c.call(ctx, http.MethodGet, "/api/v1/journal/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ─── Operations ──────────────────────────────────────────────────────────────

// RegisterContract registers the caller as contract for role.
func (c *Client) RegisterContract(ctx context.Context, role, contract string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/governance/"+url.PathEscape(role),
		map[string]string{"contract": contract}, nil)
}

// SetMinAmount changes the lower disbursement bound.
func (c *Client) SetMinAmount(ctx context.Context, amount uint64) error {
	return c.call(ctx, http.MethodPut, "/api/v1/config/min-amount", map[string]uint64{"amount": amount}, nil)
}

// SetMaxAmount changes the upper disbursement bound.
func (c *Client) SetMaxAmount(ctx context.Context, amount uint64) error {
	return c.call(ctx, http.MethodPut, "/api/v1/config/max-amount", map[string]uint64{"amount": amount}, nil)
}

// Pause sets or clears the disbursement pause flag.
func (c *Client) Pause(ctx context.Context, paused bool) error {
	return c.call(ctx, http.MethodPost, "/api/v1/config/pause", map[string]bool{"paused": paused}, nil)
}

// Fund moves amount from the caller into the treasury and returns the new
// balance.
func (c *Client) Fund(ctx context.Context, amount uint64) (uint64, error) {
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/treasury/fund", map[string]uint64{"amount": amount}, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// Withdraw pays amount from the treasury to recipient.
func (c *Client) Withdraw(ctx context.Context, amount uint64, recipient string) error {
	body := map[string]any{"amount": amount, "recipient": recipient}
	return c.call(ctx, http.MethodPost, "/api/v1/treasury/withdraw", body, nil)
}

// Disburse pays out a loan and returns the recorded loan.
func (c *Client) Disburse(ctx context.Context, req DisburseRequest) (*Loan, error) {
	var resp struct {
		Loan Loan `json:"loan"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/loans", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Loan, nil
}

// RecordImpact reports the impact of a disbursed loan. The caller must be its
// borrower.
func (c *Client) RecordImpact(ctx context.Context, requestID uint64, impactData string) error {
	path := "/api/v1/loans/" + strconv.FormatUint(requestID, 10) + "/impact"
	return c.call(ctx, http.MethodPost, path, map[string]string{"impact_data": impactData}, nil)
}

// SetApproval records the threshold aggregator's decision for requestID.
func (c *Client) SetApproval(ctx context.Context, requestID uint64, approved bool) error {
	path := "/api/v1/approvals/" + strconv.FormatUint(requestID, 10)
	return c.call(ctx, http.MethodPut, path, map[string]bool{"approved": approved}, nil)
}

// AdvanceClock moves a manual server clock forward and returns the new height.
func (c *Client) AdvanceClock(ctx context.Context, blocks uint64) (uint64, error) {
	var resp struct {
		Height uint64 `json:"height"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/clock/advance", map[string]uint64{"blocks": blocks}, &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

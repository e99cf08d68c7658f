package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/identity"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
	"github.com/jmerrifield20/LoanTreasury/internal/treasury/service"
	"go.uber.org/zap"
)

// treasurySvc is the interface expected by TreasuryHandler, satisfied by
// *service.TreasuryService.
type treasurySvc interface {
	RegisterContract(ctx context.Context, caller disbursement.Principal, role service.Role, contract disbursement.Principal) error
	SetMinDisbursementAmount(ctx context.Context, caller disbursement.Principal, newMin uint64) error
	SetMaxDisbursementAmount(ctx context.Context, caller disbursement.Principal, newMax uint64) error
	PauseDisbursements(ctx context.Context, caller disbursement.Principal, paused bool) error
	FundTreasury(ctx context.Context, caller disbursement.Principal, amount uint64) (uint64, error)
	WithdrawTreasuryFunds(ctx context.Context, caller disbursement.Principal, amount uint64, recipient disbursement.Principal) error
	DisburseLoan(ctx context.Context, caller disbursement.Principal, req disbursement.Request) error
	RecordLoanImpact(ctx context.Context, caller disbursement.Principal, requestID uint64, impactData string) error
	LoanDetails(requestID uint64) (disbursement.LoanRecord, bool)
	Snapshot() disbursement.Snapshot
	Height() uint64
	Transfers(ctx context.Context, limit, offset int) ([]store.TransferRecord, error)
}

// TreasuryHandler serves the ledger operations.
type TreasuryHandler struct {
	svc           treasurySvc
	requireCaller gin.HandlerFunc
	logger        *zap.Logger
}

// NewTreasuryHandler creates a TreasuryHandler. requireCaller authenticates
// every mutating route; see identity.RequireCaller.
func NewTreasuryHandler(svc treasurySvc, requireCaller gin.HandlerFunc, logger *zap.Logger) *TreasuryHandler {
	return &TreasuryHandler{svc: svc, requireCaller: requireCaller, logger: logger}
}

// Register mounts the treasury routes on the given router group.
func (h *TreasuryHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/treasury", h.Overview)
	rg.GET("/treasury/transfers", h.ListTransfers)
	rg.GET("/loans/:id", h.GetLoan)

	auth := rg.Group("", h.requireCaller)
	{
		auth.POST("/governance/:role", h.RegisterContract)
		auth.PUT("/config/min-amount", h.SetMinAmount)
		auth.PUT("/config/max-amount", h.SetMaxAmount)
		auth.POST("/config/pause", h.Pause)
		auth.POST("/treasury/fund", h.Fund)
		auth.POST("/treasury/withdraw", h.Withdraw)
		auth.POST("/loans", h.Disburse)
		auth.POST("/loans/:id/impact", h.RecordImpact)
	}
}

// ─── Request / Response types ────────────────────────────────────────────────

// RegisterContractRequest is the body of POST /governance/:role.
type RegisterContractRequest struct {
	Contract string `json:"contract" binding:"required"`
}

// AmountRequest is the body of the min/max amount and fund endpoints.
type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

// PauseRequest is the body of POST /config/pause.
type PauseRequest struct {
	Paused *bool `json:"paused" binding:"required"`
}

// WithdrawRequest is the body of POST /treasury/withdraw.
type WithdrawRequest struct {
	Amount    uint64 `json:"amount"`
	Recipient string `json:"recipient" binding:"required"`
}

// ImpactRequest is the body of POST /loans/:id/impact.
type ImpactRequest struct {
	ImpactData string `json:"impact_data"`
}

// Overview is the response of GET /treasury.
type Overview struct {
	disbursement.Snapshot
	Height uint64 `json:"height"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func caller(c *gin.Context) disbursement.Principal {
	return disbursement.Principal(identity.CallerFromCtx(c))
}

// RegisterContract handles POST /governance/:role.
func (h *TreasuryHandler) RegisterContract(c *gin.Context) {
	role := service.Role(c.Param("role"))
	if !role.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown role " + string(role)})
		return
	}
	var req RegisterContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contract := disbursement.Principal(req.Contract)
	if err := h.svc.RegisterContract(c.Request.Context(), caller(c), role, contract); err != nil {
		writeError(c, h.logger, "register contract", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "contract": contract})
}

// SetMinAmount handles PUT /config/min-amount.
func (h *TreasuryHandler) SetMinAmount(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.SetMinDisbursementAmount(c.Request.Context(), caller(c), req.Amount); err != nil {
		writeError(c, h.logger, "set min amount", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"min_disbursement_amount": req.Amount})
}

// SetMaxAmount handles PUT /config/max-amount.
func (h *TreasuryHandler) SetMaxAmount(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.SetMaxDisbursementAmount(c.Request.Context(), caller(c), req.Amount); err != nil {
		writeError(c, h.logger, "set max amount", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"max_disbursement_amount": req.Amount})
}

// Pause handles POST /config/pause.
func (h *TreasuryHandler) Pause(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.PauseDisbursements(c.Request.Context(), caller(c), *req.Paused); err != nil {
		writeError(c, h.logger, "pause disbursements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": *req.Paused})
}

// Fund handles POST /treasury/fund.
func (h *TreasuryHandler) Fund(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	balance, err := h.svc.FundTreasury(c.Request.Context(), caller(c), req.Amount)
	if err != nil {
		writeError(c, h.logger, "fund treasury", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// Withdraw handles POST /treasury/withdraw.
func (h *TreasuryHandler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipient := disbursement.Principal(req.Recipient)
	if err := h.svc.WithdrawTreasuryFunds(c.Request.Context(), caller(c), req.Amount, recipient); err != nil {
		writeError(c, h.logger, "withdraw treasury funds", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": req.Amount, "recipient": recipient})
}

// Disburse handles POST /loans.
func (h *TreasuryHandler) Disburse(c *gin.Context) {
	var req disbursement.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.DisburseLoan(c.Request.Context(), caller(c), req); err != nil {
		writeError(c, h.logger, "disburse loan", err)
		return
	}

	loan, _ := h.svc.LoanDetails(req.RequestID)
	c.JSON(http.StatusCreated, gin.H{"request_id": req.RequestID, "loan": loan})
}

// RecordImpact handles POST /loans/:id/impact.
func (h *TreasuryHandler) RecordImpact(c *gin.Context) {
	id, ok := parseRequestID(c)
	if !ok {
		return
	}
	var req ImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RecordLoanImpact(c.Request.Context(), caller(c), id, req.ImpactData); err != nil {
		writeError(c, h.logger, "record loan impact", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": id, "impact_recorded": true})
}

// GetLoan handles GET /loans/:id.
func (h *TreasuryHandler) GetLoan(c *gin.Context) {
	id, ok := parseRequestID(c)
	if !ok {
		return
	}
	loan, found := h.svc.LoanDetails(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "loan not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": id, "loan": loan})
}

// Overview handles GET /treasury.
func (h *TreasuryHandler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, Overview{Snapshot: h.svc.Snapshot(), Height: h.svc.Height()})
}

// ListTransfers handles GET /treasury/transfers?limit=&offset=.
func (h *TreasuryHandler) ListTransfers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	transfers, err := h.svc.Transfers(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list transfers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transfers"})
		return
	}
	if transfers == nil {
		transfers = []store.TransferRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers, "count": len(transfers)})
}

func parseRequestID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a non-negative integer"})
		return 0, false
	}
	return id, true
}

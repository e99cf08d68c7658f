package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/identity"
	"go.uber.org/zap"
)

// approvalTable is satisfied by *approval.Static.
type approvalTable interface {
	Set(requestID uint64, approved bool)
}

type snapshotter interface {
	Snapshot() disbursement.Snapshot
}

// ApprovalHandler lets the registered threshold aggregator record approvals
// when the treasury keeps them in-process.
type ApprovalHandler struct {
	table         approvalTable
	ledger        snapshotter
	requireCaller gin.HandlerFunc
	logger        *zap.Logger
}

// NewApprovalHandler creates an ApprovalHandler.
func NewApprovalHandler(table approvalTable, ledger snapshotter, requireCaller gin.HandlerFunc, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{table: table, ledger: ledger, requireCaller: requireCaller, logger: logger}
}

// Register mounts the approval routes on the given router group.
func (h *ApprovalHandler) Register(rg *gin.RouterGroup) {
	rg.PUT("/approvals/:id", h.requireCaller, h.SetApproval)
}

// ApprovalRequest is the body of PUT /approvals/:id.
type ApprovalRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

// SetApproval handles PUT /approvals/:id. Only the registered threshold
// aggregator may decide approvals.
func (h *ApprovalHandler) SetApproval(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a non-negative integer"})
		return
	}
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agg := h.ledger.Snapshot().ThresholdAggregatorContract
	if !agg.IsSet() || disbursement.Principal(identity.CallerFromCtx(c)) != agg {
		writeError(c, h.logger, "set approval", disbursement.ErrUnauthorized)
		return
	}

	h.table.Set(id, *req.Approved)
	h.logger.Info("approval recorded",
		zap.Uint64("request_id", id),
		zap.Bool("approved", *req.Approved),
	)
	c.JSON(http.StatusOK, gin.H{"request_id": id, "approved": *req.Approved})
}

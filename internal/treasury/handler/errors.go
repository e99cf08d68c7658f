package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/LoanTreasury/internal/disbursement"
	"github.com/jmerrifield20/LoanTreasury/internal/store"
	"go.uber.org/zap"
)

// statusFor maps a ledger error code to an HTTP status.
func statusFor(e *disbursement.Error) int {
	switch e.Code {
	case disbursement.ErrUnauthorized.Code:
		return http.StatusForbidden
	case disbursement.ErrGovernanceNotSet.Code,
		disbursement.ErrDisbursementPaused.Code,
		disbursement.ErrLoanAlreadyDisbursed.Code,
		disbursement.ErrInvalidDisbursementTime.Code,
		disbursement.ErrInsufficientEndorsements.Code,
		disbursement.ErrInsufficientTreasuryBalance.Code:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeError renders err as {"error": kind, "code": n}. A quantity the store
// cannot hold (above MaxInt64 in the SQL backends) is a 422; the ledger has
// already been rolled back. Anything else is logged and reported as 500.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	if e, ok := disbursement.AsError(err); ok {
		c.JSON(statusFor(e), gin.H{"error": e.Kind, "code": e.Code})
		return
	}
	if errors.Is(err, store.ErrOutOfRange) {
		logger.Warn(op, zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "value_out_of_range"})
		return
	}
	logger.Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

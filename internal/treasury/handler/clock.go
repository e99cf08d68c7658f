package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/LoanTreasury/internal/clock"
	"go.uber.org/zap"
)

// ClockHandler exposes the logical clock. Advancing is only possible when the
// clock is a *clock.Manual.
type ClockHandler struct {
	clock         clock.Clock
	requireCaller gin.HandlerFunc
	logger        *zap.Logger
}

// NewClockHandler creates a ClockHandler.
func NewClockHandler(clk clock.Clock, requireCaller gin.HandlerFunc, logger *zap.Logger) *ClockHandler {
	return &ClockHandler{clock: clk, requireCaller: requireCaller, logger: logger}
}

// Register mounts the clock routes on the given router group.
func (h *ClockHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/clock", h.Get)
	rg.POST("/clock/advance", h.requireCaller, h.Advance)
}

// AdvanceRequest is the body of POST /clock/advance. Blocks defaults to 1.
type AdvanceRequest struct {
	Blocks uint64 `json:"blocks"`
}

func (h *ClockHandler) mode() clock.Mode {
	if _, ok := h.clock.(*clock.Manual); ok {
		return clock.ModeManual
	}
	return clock.ModeWall
}

// Get handles GET /clock.
func (h *ClockHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"height": h.clock.Height(), "mode": h.mode()})
}

// Advance handles POST /clock/advance.
func (h *ClockHandler) Advance(c *gin.Context) {
	manual, ok := h.clock.(*clock.Manual)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "clock is not manual"})
		return
	}
	var req AdvanceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Blocks == 0 {
		req.Blocks = 1
	}

	height, err := manual.Advance(req.Blocks)
	if errors.Is(err, clock.ErrOverflow) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "clock_overflow", "height": height})
		return
	}
	h.logger.Debug("clock advanced", zap.Uint64("height", height))
	c.JSON(http.StatusOK, gin.H{"height": height, "mode": clock.ModeManual})
}

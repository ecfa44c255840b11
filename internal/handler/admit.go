package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ratewarden/ratewarden/internal/admission"
	"github.com/ratewarden/ratewarden/internal/analytics"
	"github.com/ratewarden/ratewarden/internal/behavior"
	"github.com/ratewarden/ratewarden/internal/models"
)

// AdmitHandler exposes the admission check as an RPC-style endpoint for
// external HTTP layers that enforce the decision themselves.
type AdmitHandler struct {
	engine     *admission.Engine
	tracker    *behavior.Tracker
	aggregator *analytics.Aggregator
	quota      models.Quota
}

func NewAdmitHandler(engine *admission.Engine, tracker *behavior.Tracker, aggregator *analytics.Aggregator, quota models.Quota) *AdmitHandler {
	return &AdmitHandler{
		engine:     engine,
		tracker:    tracker,
		aggregator: aggregator,
		quota:      quota,
	}
}

type admitRequest struct {
	CallerID string `json:"caller_id" binding:"required"`
	Path     string `json:"path" binding:"required"`
	Method   string `json:"method" binding:"required"`
}

type admitResponse struct {
	Allowed    bool  `json:"allowed"`
	Remaining  int   `json:"remaining"`
	ResetTime  int64 `json:"reset_time"` // epoch ms
	RetryAfter int   `json:"retry_after,omitempty"`
	Blocked    bool  `json:"blocked"`
}

// Handles POST /v1/admit
func (h *AdmitHandler) Admit(c *gin.Context) {
	var req admitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, release, err := h.engine.Check(c.Request.Context(), req.CallerID, req.Path, req.Method, h.quota)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if release != nil {
		// The caller enforces concurrency on its own side; the slot is
		// only sampled here
		release()
	}

	h.tracker.Observe(req.CallerID, req.Path, req.Method, decision.Allowed)
	h.aggregator.RecordOutcome(req.CallerID, req.Path, req.Method, decision.Tier, decision.Allowed, decision.Blocked, 0)

	c.JSON(http.StatusOK, admitResponse{
		Allowed:    decision.Allowed,
		Remaining:  decision.Remaining,
		ResetTime:  decision.ResetTime.UnixMilli(),
		RetryAfter: decision.RetryAfter,
		Blocked:    decision.Blocked,
	})
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ratewarden/ratewarden/internal/anomaly"
	"github.com/ratewarden/ratewarden/internal/models"
	"github.com/ratewarden/ratewarden/internal/policy"
	"github.com/ratewarden/ratewarden/internal/repository"
)

type PolicyHandler struct {
	tiers     *repository.TierRepository
	overrides *repository.OverrideRepository
	anomalies *repository.AnomalyRepository
	logs      *repository.AdmissionLogRepository
	resolver  *policy.DirectoryResolver
	blocks    anomaly.BlockList
}

func NewPolicyHandler(
	tiers *repository.TierRepository,
	overrides *repository.OverrideRepository,
	anomalies *repository.AnomalyRepository,
	logs *repository.AdmissionLogRepository,
	resolver *policy.DirectoryResolver,
	blocks anomaly.BlockList,
) *PolicyHandler {
	return &PolicyHandler{
		tiers:     tiers,
		overrides: overrides,
		anomalies: anomalies,
		logs:      logs,
		resolver:  resolver,
		blocks:    blocks,
	}
}

// Handles GET /admin/tiers
func (h *PolicyHandler) ListTiers(c *gin.Context) {
	tiers, err := h.tiers.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, tiers)
}

type overrideRequest struct {
	Tier        string `json:"tier" binding:"required"`
	DurationMin int    `json:"duration_minutes" binding:"required,min=1"`
}

// Handles PUT /admin/callers/:id/override
func (h *PolicyHandler) SetOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	tier, err := h.tiers.FindByName(ctx, req.Tier)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tier == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown tier"})
		return
	}

	override := &models.TierOverride{
		CallerID:  c.Param("id"),
		Tier:      req.Tier,
		CreatedBy: c.GetString("admin_subject"),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Duration(req.DurationMin) * time.Minute),
	}

	if err := h.overrides.Upsert(ctx, override); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, override)
}

// Handles DELETE /admin/callers/:id/override
func (h *PolicyHandler) DeleteOverride(c *gin.Context) {
	if err := h.overrides.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

type assignTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// Handles PUT /admin/callers/:id/tier
func (h *PolicyHandler) AssignTier(c *gin.Context) {
	var req assignTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	tier, err := h.tiers.FindByName(ctx, req.Tier)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tier == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown tier"})
		return
	}

	if err := h.resolver.Assign(ctx, c.Param("id"), req.Tier); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"caller_id": c.Param("id"), "tier": req.Tier})
}

// Handles POST /admin/callers/:id/unblock
func (h *PolicyHandler) Unblock(c *gin.Context) {
	if err := h.blocks.Unblock(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"caller_id": c.Param("id"), "blocked": false})
}

// Handles GET /admin/callers/:id/anomalies
func (h *PolicyHandler) GetCallerAnomalies(c *gin.Context) {
	timeRange, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	callerID := c.Param("id")

	records, err := h.anomalies.FindByCaller(ctx, callerID, timeRange.From, timeRange.To)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	denied, err := h.logs.CountDeniedByCaller(ctx, callerID, timeRange.From, timeRange.To)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"caller_id":       callerID,
		"anomalies":       records,
		"denied_requests": denied,
	})
}

// Handles GET /admin/logs?limit=&offset=
func (h *PolicyHandler) ListLogs(c *gin.Context) {
	timeRange, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := intQuery(c, "limit", 100, 1000)
	offset := intQuery(c, "offset", 0, 1<<30)

	logs, err := h.logs.FindByTimeRange(c.Request.Context(), timeRange.From, timeRange.To, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": limit, "offset": offset})
}

// Handles GET /admin/anomalies
func (h *PolicyHandler) ListAnomalies(c *gin.Context) {
	timeRange, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.anomalies.FindByTimeRange(c.Request.Context(), timeRange.From, timeRange.To, 500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, records)
}

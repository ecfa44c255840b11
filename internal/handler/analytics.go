package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ratewarden/ratewarden/internal/analytics"
)

type AnalyticsHandler struct {
	aggregator *analytics.Aggregator
}

func NewAnalyticsHandler(aggregator *analytics.Aggregator) *AnalyticsHandler {
	return &AnalyticsHandler{aggregator: aggregator}
}

// Handles GET /admin/analytics
func (h *AnalyticsHandler) GetMetrics(c *gin.Context) {
	timeRange, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.aggregator.Metrics(timeRange))
}

// Handles GET /admin/analytics/report
func (h *AnalyticsHandler) GetReport(c *gin.Context) {
	timeRange, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.aggregator.Report(c.Request.Context(), timeRange))
}

// Handles GET /admin/analytics/callers/:id
func (h *AnalyticsHandler) GetCallerReport(c *gin.Context) {
	timeRange, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report := h.aggregator.CallerReport(c.Param("id"), timeRange)
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No activity for caller in range"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// Handles GET /admin/analytics/endpoints?path=&method=
func (h *AnalyticsHandler) GetEndpointReport(c *gin.Context) {
	path := c.Query("path")
	method := c.Query("method")
	if path == "" || method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path and method are required"})
		return
	}

	timeRange, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.aggregator.EndpointReport(path, method, timeRange))
}

// Defaults to the trailing 24 hours. Accepts ?from= and ?to= as unix
// seconds or RFC3339.
func parseTimeRange(c *gin.Context) (analytics.TimeRange, error) {
	now := time.Now()
	timeRange := analytics.TimeRange{From: now.Add(-24 * time.Hour), To: now}

	if v := c.Query("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return timeRange, fmt.Errorf("invalid from: %w", err)
		}
		timeRange.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return timeRange, fmt.Errorf("invalid to: %w", err)
		}
		timeRange.To = t
	}

	if timeRange.To.Before(timeRange.From) {
		return timeRange, fmt.Errorf("to must not be before from")
	}

	return timeRange, nil
}

func parseTime(v string) (time.Time, error) {
	if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}

func intQuery(c *gin.Context, name string, fallback, max int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

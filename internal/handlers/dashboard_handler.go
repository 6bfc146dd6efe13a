package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"harmonyshield/internal/dashboard"
)

// DashboardHandler serves admin statistics and system health
type DashboardHandler struct {
	stats  *dashboard.Service
	health *dashboard.HealthChecker
	logger *zap.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(stats *dashboard.Service, health *dashboard.HealthChecker, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		stats:  stats,
		health: health,
		logger: logger.Named("dashboard_handler"),
	}
}

// Stats returns the aggregate counts
func (h *DashboardHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "Failed to load dashboard statistics")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// SystemHealth returns per-component health for the monitoring screen
func (h *DashboardHandler) SystemHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Check(c.Request.Context()))
}

// Health is the unauthenticated liveness probe. It answers 503 when a
// dependency is down.
func (h *DashboardHandler) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": report.Status, "components": report.Components, "timestamp": report.CheckedAt})
}

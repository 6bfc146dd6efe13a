package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"harmonyshield/internal/news"
	"harmonyshield/internal/repository"
	"harmonyshield/internal/scam"
)

// UserHandler serves the signed-in user's notifications and scam reports,
// and the public news feed.
type UserHandler struct {
	notifications *repository.NotificationRepository
	scam          *scam.Service
	news          *news.Service
	logger        *zap.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(notifications *repository.NotificationRepository, scamSvc *scam.Service, newsSvc *news.Service, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		notifications: notifications,
		scam:          scamSvc,
		news:          newsSvc,
		logger:        logger.Named("user_handler"),
	}
}

// ListNotifications lists the caller's notifications, newest first
func (h *UserHandler) ListNotifications(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	items, err := h.notifications.ListByUser(c.Request.Context(), s.UserID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "count": len(items)})
}

// MarkNotificationRead flags one notification as read
func (h *UserHandler) MarkNotificationRead(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), s.UserID, id); err != nil {
		respondError(c, h.logger, err, "Failed to update notification")
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitScamReport stores a user scam report
func (h *UserHandler) SubmitScamReport(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	var form scam.ReportForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	report, err := h.scam.Submit(c.Request.Context(), s, form)
	if err != nil {
		respondError(c, h.logger, err, scam.ErrSubmitFailed.Error())
		return
	}
	c.JSON(http.StatusCreated, report)
}

// ListScamReports lists the caller's scam reports
func (h *UserHandler) ListScamReports(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	items, err := h.scam.ListMine(c.Request.Context(), s)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list scam reports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": items, "count": len(items)})
}

// Scan asks the AI scanner to assess a URL or message
func (h *UserHandler) Scan(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	var in scam.ScanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	result, err := h.scam.Scan(c.Request.Context(), s, in)
	if err != nil {
		respondError(c, h.logger, err, "Failed to scan content")
		return
	}
	c.JSON(http.StatusOK, result)
}

// News lists the latest scam news articles
func (h *UserHandler) News(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	articles, err := h.news.Latest(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err, "Failed to load news")
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles, "count": len(articles)})
}

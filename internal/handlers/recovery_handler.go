package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"harmonyshield/internal/models"
	"harmonyshield/internal/recovery"
	"harmonyshield/internal/repository"
	"harmonyshield/internal/storage"
)

// RecoveryHandler handles HTTP requests for recovery requests
type RecoveryHandler struct {
	service  *recovery.Service
	evidence *storage.Evidence
	logger   *zap.Logger
}

// NewRecoveryHandler creates a new recovery handler. evidence may be nil,
// which disables uploads.
func NewRecoveryHandler(service *recovery.Service, evidence *storage.Evidence, logger *zap.Logger) *RecoveryHandler {
	return &RecoveryHandler{
		service:  service,
		evidence: evidence,
		logger:   logger.Named("recovery_handler"),
	}
}

// Submit creates a recovery request of the type named in the path
func (h *RecoveryHandler) Submit(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	form, err := recovery.NewForm(models.RecoveryType(c.Param("type")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown recovery type"})
		return
	}
	if err := c.ShouldBindJSON(form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	req, err := h.service.Submit(c.Request.Context(), s, form)
	if err != nil {
		respondError(c, h.logger, err, recovery.ErrSubmitFailed.Error())
		return
	}

	c.JSON(http.StatusCreated, req)
}

// ListMine lists the caller's requests
func (h *RecoveryHandler) ListMine(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	items, err := h.service.ListMine(c.Request.Context(), s)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list recovery requests")
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": items, "count": len(items)})
}

// Get returns one request to its owner or an admin
func (h *RecoveryHandler) Get(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	req, err := h.service.Get(c.Request.Context(), s, id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get recovery request")
		return
	}
	c.JSON(http.StatusOK, req)
}

// Timeline returns the milestone view of a request
func (h *RecoveryHandler) Timeline(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	timeline, err := h.service.Timeline(c.Request.Context(), s, id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to build timeline")
		return
	}
	c.JSON(http.StatusOK, timeline)
}

// UploadEvidence stores one multipart file and returns its key and URL
func (h *RecoveryHandler) UploadEvidence(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	if h.evidence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Evidence storage is not configured"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, h.logger, err, "Failed to read upload")
		return
	}
	defer file.Close()

	upload, err := h.evidence.Save(c.Request.Context(), s.UserID, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		respondError(c, h.logger, err, "Failed to store evidence")
		return
	}

	h.logger.Info("Evidence uploaded", zap.String("key", upload.Key), zap.Int64("size", upload.Size))
	c.JSON(http.StatusCreated, upload)
}

// GetEvidence streams an evidence file to its uploader or an admin
func (h *RecoveryHandler) GetEvidence(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	if h.evidence == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	data, err := h.evidence.Open(c.Request.Context(), s, evidenceKey(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to read evidence")
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// DeleteEvidence removes an evidence file
func (h *RecoveryHandler) DeleteEvidence(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	if h.evidence == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	key := evidenceKey(c)
	if err := h.evidence.Delete(c.Request.Context(), s, key); err != nil {
		respondError(c, h.logger, err, "Failed to delete evidence")
		return
	}
	h.logger.Info("Evidence deleted", zap.String("key", key), zap.String("user_id", s.UserID.String()))
	c.Status(http.StatusNoContent)
}

func evidenceKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

type listQuery struct {
	Status       string `form:"status"`
	RecoveryType string `form:"recovery_type"`
	UserID       string `form:"user_id"`
}

// List lists every request for admins, optionally filtered
func (h *RecoveryHandler) List(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query"})
		return
	}
	filter := repository.RecoveryFilter{
		Status:       models.RecoveryStatus(q.Status),
		RecoveryType: models.RecoveryType(q.RecoveryType),
	}
	if q.UserID != "" {
		uid, err := uuid.Parse(q.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
			return
		}
		filter.UserID = &uid
	}

	items, err := h.service.List(c.Request.Context(), s, filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list recovery requests")
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": items, "count": len(items)})
}

// UpdateStatus changes status and appends a progress entry
func (h *RecoveryHandler) UpdateStatus(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var update recovery.StatusUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	req, err := h.service.UpdateStatus(c.Request.Context(), s, id, update)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update status")
		return
	}
	c.JSON(http.StatusOK, req)
}

// AppendProgress adds a progress note without changing status
func (h *RecoveryHandler) AppendProgress(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var note recovery.ProgressNote
	if err := c.ShouldBindJSON(&note); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	req, err := h.service.AppendProgress(c.Request.Context(), s, id, note)
	if err != nil {
		respondError(c, h.logger, err, "Failed to add progress update")
		return
	}
	c.JSON(http.StatusOK, req)
}

// Assign sets or clears the handling admin
func (h *RecoveryHandler) Assign(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var body struct {
		AdminID *uuid.UUID `json:"admin_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	req, err := h.service.Assign(c.Request.Context(), s, id, body.AdminID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to assign request")
		return
	}
	c.JSON(http.StatusOK, req)
}

// UpdateNotes replaces the admin notes
func (h *RecoveryHandler) UpdateNotes(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var body struct {
		AdminNotes string `json:"admin_notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	req, err := h.service.UpdateNotes(c.Request.Context(), s, id, body.AdminNotes)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update notes")
		return
	}
	c.JSON(http.StatusOK, req)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"harmonyshield/internal/admin"
	"harmonyshield/internal/auth"
	"harmonyshield/internal/jobs"
	"harmonyshield/internal/recovery"
	"harmonyshield/internal/remote"
	"harmonyshield/internal/repository"
	"harmonyshield/internal/scam"
	"harmonyshield/internal/storage"
)

// respondError maps a service error onto a status code. Unexpected errors
// are logged and answered with the generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error, generic string) {
	var (
		recoveryErr *recovery.ValidationError
		adminErr    *admin.ValidationError
		scamErr     *scam.ValidationError
		remoteErr   *remote.Error
	)

	switch {
	case errors.As(err, &recoveryErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": recoveryErr.Fields})
	case errors.As(err, &adminErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": adminErr.Fields})
	case errors.As(err, &scamErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": scamErr.Fields})
	case errors.Is(err, auth.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "redirect": "/auth"})
	case errors.Is(err, auth.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "redirect": "/"})
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, storage.ErrNotFound), errors.Is(err, jobs.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, recovery.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, admin.ErrNotAllowed):
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrEmpty):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &remoteErr):
		logger.Error("Edge function failed", zap.String("procedure", remoteErr.Procedure), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": generic})
	default:
		logger.Error(generic, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": generic})
	}
}

// session returns the middleware session or answers 401
func session(c *gin.Context) (*auth.Session, bool) {
	s, ok := auth.SessionFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthenticated.Error(), "redirect": "/auth"})
		return nil, false
	}
	return s, true
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return uuid.Nil, false
	}
	return id, true
}

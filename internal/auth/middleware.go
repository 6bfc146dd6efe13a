package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	loginRoute   = "/auth"
	landingRoute = "/"
)

// RequireSession validates the bearer token and stores the session in the request
func RequireSession(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" && c.Query("access_token") != "" {
			// browsers cannot set headers on WebSocket upgrades
			header = "Bearer " + c.Query("access_token")
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthenticated(c)
			return
		}

		session, err := svc.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			abortUnauthenticated(c)
			return
		}

		setSession(c, session)
		c.Next()
	}
}

// RequireAdmin looks up the caller's role and rejects non-admins.
// Must run after RequireSession.
func RequireAdmin(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := SessionFrom(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}

		if err := svc.ResolveRole(c.Request.Context(), session); err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				abortUnauthenticated(c)
				return
			}
			svc.logger.Error("Role lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify access"})
			return
		}

		if !session.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    ErrForbidden.Error(),
				"redirect": landingRoute,
			})
			return
		}

		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    ErrUnauthenticated.Error(),
		"redirect": loginRoute,
	})
}

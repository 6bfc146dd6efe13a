package auth

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"harmonyshield/internal/models"
)

var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("admin role required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is deactivated")
	ErrEmailTaken         = errors.New("email already registered")
)

// Session is the authenticated caller. It is passed explicitly to services
// instead of being read from ambient state.
type Session struct {
	UserID uuid.UUID   `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
}

// IsAdmin reports whether the session carries the admin role
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == models.RoleAdmin
}

// RequireAdmin returns an error unless s is an admin session
func (s *Session) RequireAdmin() error {
	if s == nil || s.UserID == uuid.Nil {
		return ErrUnauthenticated
	}
	if !s.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

const sessionKey = "session"

type ctxKey struct{}

// WithSession attaches a session to a context
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached to ctx, if any
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// SessionFrom returns the session set by the auth middleware
func SessionFrom(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok && s != nil
}

func setSession(c *gin.Context, s *Session) {
	c.Set(sessionKey, s)
	c.Request = c.Request.WithContext(WithSession(c.Request.Context(), s))
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"harmonyshield/internal/models"
	"harmonyshield/internal/repository"
)

// ProfileStore is the subset of the profile repository auth needs
type ProfileStore interface {
	GetByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	Create(ctx context.Context, profile *models.UserProfile) error
	RoleOf(ctx context.Context, userID uuid.UUID) (models.Role, error)
	TouchLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// Claims are the JWT claims issued at login
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and validates session tokens
type Service struct {
	profiles   ProfileStore
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a new auth service
func NewService(profiles ProfileStore, secret string, ttl time.Duration, bcryptCost int, logger *zap.Logger) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		profiles:   profiles,
		jwtSecret:  []byte(secret),
		tokenTTL:   ttl,
		bcryptCost: bcryptCost,
		logger:     logger.Named("auth"),
		now:        time.Now,
	}
}

// LoginResult is returned on successful authentication
type LoginResult struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expires_at"`
	Profile   *models.UserProfile `json:"profile"`
}

// HashPassword creates a bcrypt hash of the password
func (s *Service) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	return string(b), err
}

// Register creates a regular user account
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*models.UserProfile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := s.profiles.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	profile := &models.UserProfile{
		Email:        email,
		FullName:     fullName,
		Role:         models.RoleUser,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.String("user_id", profile.ID.String()))
	return profile, nil
}

// Login checks credentials and issues a token
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	profile, err := s.profiles.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !profile.IsActive {
		return nil, ErrAccountDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.IssueToken(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now()
	if err := s.profiles.TouchLogin(ctx, profile.ID, now); err != nil {
		s.logger.Warn("Failed to record last login", zap.Error(err))
	}
	profile.LastLogin = &now

	return &LoginResult{Token: token, ExpiresAt: expiresAt, Profile: profile}, nil
}

// IssueToken signs a JWT for the profile
func (s *Service) IssueToken(profile *models.UserProfile) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)

	claims := Claims{
		UserID: profile.ID.String(),
		Email:  profile.Email,
		Role:   string(profile.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.ID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	return signed, expiresAt, err
}

// ParseToken validates a token and returns the session it carries
func (s *Service) ParseToken(tokenString string) (*Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	return &Session{UserID: userID, Email: claims.Email, Role: models.Role(claims.Role)}, nil
}

// ResolveRole refreshes the session role from the profile store
func (s *Service) ResolveRole(ctx context.Context, session *Session) error {
	role, err := s.profiles.RoleOf(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthenticated
		}
		return err
	}
	session.Role = role
	return nil
}

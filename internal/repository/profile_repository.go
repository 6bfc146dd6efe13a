package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"harmonyshield/internal/models"
)

// UserSummary is a profile joined with its related counts for the users screen
type UserSummary struct {
	models.UserProfile
	RecoveryCount   int64 `json:"recovery_count"`
	ScamReportCount int64 `json:"scam_report_count"`
}

// ProfileRepository reads and writes user profiles
type ProfileRepository struct {
	*Store[models.UserProfile]
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{Store: NewStore[models.UserProfile](db), db: db}
}

// GetByEmail returns the profile for an email address
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	var p models.UserProfile
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// RoleOf is the single-row role lookup keyed by user id
func (r *ProfileRepository) RoleOf(ctx context.Context, userID uuid.UUID) (models.Role, error) {
	var p models.UserProfile
	err := r.db.WithContext(ctx).Select("role", "is_active").Where("id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up role: %w", err)
	}
	if !p.IsActive {
		return "", ErrNotFound
	}
	return p.Role, nil
}

// TouchLogin records a successful login
func (r *ProfileRepository) TouchLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("id = ?", userID).
		Update("last_login", at).Error
}

// ListWithCounts loads every profile joined with recovery and scam report counts
func (r *ProfileRepository) ListWithCounts(ctx context.Context) ([]UserSummary, error) {
	var out []UserSummary
	err := r.db.WithContext(ctx).
		Table("user_profiles AS p").
		Select(`p.*,
			(SELECT count(*) FROM recovery_requests rr WHERE rr.user_id = p.id) AS recovery_count,
			(SELECT count(*) FROM scam_reports sr WHERE sr.user_id = p.id) AS scam_report_count`).
		Order("p.created_at DESC").
		Order("p.id ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return out, nil
}

// GetWithCounts loads one profile joined with its related counts
func (r *ProfileRepository) GetWithCounts(ctx context.Context, id uuid.UUID) (*UserSummary, error) {
	var out []UserSummary
	err := r.db.WithContext(ctx).
		Table("user_profiles AS p").
		Select(`p.*,
			(SELECT count(*) FROM recovery_requests rr WHERE rr.user_id = p.id) AS recovery_count,
			(SELECT count(*) FROM scam_reports sr WHERE sr.user_id = p.id) AS scam_report_count`).
		Where("p.id = ?", id).
		Limit(1).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

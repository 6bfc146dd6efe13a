package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"harmonyshield/internal/models"
)

// RecoveryFilter narrows a recovery request listing
type RecoveryFilter struct {
	UserID       *uuid.UUID
	Status       models.RecoveryStatus
	RecoveryType models.RecoveryType
}

// RecoveryRepository persists recovery requests. There is no delete path.
type RecoveryRepository struct {
	db *gorm.DB
}

// NewRecoveryRepository creates a new recovery repository
func NewRecoveryRepository(db *gorm.DB) *RecoveryRepository {
	return &RecoveryRepository{db: db}
}

// Table returns the realtime topic name for recovery requests
func (r *RecoveryRepository) Table() string {
	return "recovery_requests"
}

// Create inserts a new request
func (r *RecoveryRepository) Create(ctx context.Context, req *models.RecoveryRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create recovery request: %w", err)
	}
	return nil
}

// GetByID returns a request by id
func (r *RecoveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RecoveryRequest, error) {
	var req models.RecoveryRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery request: %w", err)
	}
	return &req, nil
}

// List returns requests matching the filter, newest first
func (r *RecoveryRepository) List(ctx context.Context, filter RecoveryFilter) ([]models.RecoveryRequest, error) {
	q := r.db.WithContext(ctx).Model(&models.RecoveryRequest{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.RecoveryType != "" {
		q = q.Where("recovery_type = ?", filter.RecoveryType)
	}

	var out []models.RecoveryRequest
	if err := q.Order("created_at DESC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list recovery requests: %w", err)
	}
	return out, nil
}

// Mutate loads a request inside a transaction, lets fn change it and saves
// the admin-editable columns. recovery_type and user_id are never written.
func (r *RecoveryRepository) Mutate(ctx context.Context, id uuid.UUID, fn func(*models.RecoveryRequest) error) (*models.RecoveryRequest, error) {
	var out models.RecoveryRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := fn(&out); err != nil {
			return err
		}

		return tx.Model(&out).
			Select("status", "admin_notes", "assigned_admin_id", "progress_updates", "evidence_files", "updated_at").
			Updates(&out).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update recovery request: %w", err)
	}
	return &out, nil
}

// CountByStatus returns the number of requests per status
func (r *RecoveryRepository) CountByStatus(ctx context.Context) (map[models.RecoveryStatus]int64, error) {
	var rows []struct {
		Status models.RecoveryStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.RecoveryRequest{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count recovery requests: %w", err)
	}

	counts := make(map[models.RecoveryStatus]int64, len(models.StatusOrder))
	for _, s := range models.StatusOrder {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

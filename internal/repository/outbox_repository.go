package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"harmonyshield/internal/models"
)

// OutboxRepository stores after-commit confirmation work
type OutboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a pending confirmation
func (r *OutboxRepository) Enqueue(ctx context.Context, entry *models.ConfirmationOutbox) error {
	entry.Status = models.OutboxPending
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to enqueue confirmation: %w", err)
	}
	return nil
}

// Pending returns pending confirmations, oldest first
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]models.ConfirmationOutbox, error) {
	var out []models.ConfirmationOutbox
	q := r.db.WithContext(ctx).Where("status = ?", models.OutboxPending).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending confirmations: %w", err)
	}
	return out, nil
}

// Get returns one outbox row
func (r *OutboxRepository) Get(ctx context.Context, id uuid.UUID) (*models.ConfirmationOutbox, error) {
	var entry models.ConfirmationOutbox
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get confirmation: %w", err)
	}
	return &entry, nil
}

// RecordAttempt stores the outcome of a delivery attempt
func (r *OutboxRepository) RecordAttempt(ctx context.Context, id uuid.UUID, status models.OutboxStatus, attempts int, lastError string) error {
	err := r.db.WithContext(ctx).Model(&models.ConfirmationOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": lastError,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record confirmation attempt: %w", err)
	}
	return nil
}

// Backlog returns the number of pending confirmations
func (r *OutboxRepository) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ConfirmationOutbox{}).
		Where("status = ?", models.OutboxPending).
		Count(&n).Error
	return n, err
}

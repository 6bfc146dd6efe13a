package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"harmonyshield/internal/models"
)

// AuditEntry describes one administrative action
type AuditEntry struct {
	AdminID    uuid.UUID
	Action     string
	Resource   string
	ResourceID string
	Details    interface{}
	IPAddress  string
}

// AuditRepository appends to the admin audit log
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends one audit row
func (r *AuditRepository) Record(ctx context.Context, entry AuditEntry) (*models.AuditLog, error) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit details: %w", err)
	}

	row := &models.AuditLog{
		AdminID:    entry.AdminID,
		Action:     entry.Action,
		Resource:   entry.Resource,
		ResourceID: entry.ResourceID,
		Details:    datatypes.JSON(details),
		IPAddress:  entry.IPAddress,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to write audit log: %w", err)
	}
	return row, nil
}

// List returns audit rows, newest first, optionally for one resource
func (r *AuditRepository) List(ctx context.Context, resource string, limit int) ([]models.AuditLog, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if resource != "" {
		q = q.Where("resource = ?", resource)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []models.AuditLog
	if err := q.Order("created_at DESC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return out, nil
}

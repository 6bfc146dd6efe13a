package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("record not found")

// Store is the single-table CRUD used by the admin screens
type Store[T any] struct {
	db    *gorm.DB
	table string
}

// NewStore creates a store for the table backing T
func NewStore[T any](db *gorm.DB) *Store[T] {
	stmt := &gorm.Statement{DB: db}
	table := ""
	if err := stmt.Parse(new(T)); err == nil {
		table = stmt.Schema.Table
	}
	return &Store[T]{db: db, table: table}
}

// Table returns the table name, used as the realtime topic
func (s *Store[T]) Table() string {
	return s.table
}

// List returns every row, newest first with id as tie-breaker so repeated
// loads without intervening writes return the same order.
func (s *Store[T]) List(ctx context.Context) ([]T, error) {
	var items []T
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.table, err)
	}
	return items, nil
}

// Find returns rows matching a condition in the same order as List
func (s *Store[T]) Find(ctx context.Context, query string, args ...interface{}) ([]T, error) {
	var items []T
	err := s.db.WithContext(ctx).Where(query, args...).Order("created_at DESC").Order("id ASC").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.table, err)
	}
	return items, nil
}

// Get returns a row by id
func (s *Store[T]) Get(ctx context.Context, id uuid.UUID) (*T, error) {
	var item T
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", s.table, err)
	}
	return &item, nil
}

// Create inserts a row
func (s *Store[T]) Create(ctx context.Context, item *T) error {
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

// Update applies a column patch to one row and returns the updated row
func (s *Store[T]) Update(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (*T, error) {
	res := s.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update %s: %w", s.table, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a row by id
func (s *Store[T]) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(new(T))
	if res.Error != nil {
		return fmt.Errorf("failed to delete %s: %w", s.table, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of rows matching an optional condition
func (s *Store[T]) Count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(new(T))
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.table, err)
	}
	return n, nil
}

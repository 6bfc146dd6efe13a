package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"harmonyshield/internal/models"
)

// NewsRepository stores aggregated news articles
type NewsRepository struct {
	*Store[models.NewsArticle]
	db *gorm.DB
}

// NewNewsRepository creates a new news repository
func NewNewsRepository(db *gorm.DB) *NewsRepository {
	return &NewsRepository{Store: NewStore[models.NewsArticle](db), db: db}
}

// Upsert inserts articles, refreshing title and summary of ones already seen by URL
func (r *NewsRepository) Upsert(ctx context.Context, articles []models.NewsArticle) (int64, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "summary", "source", "category", "published_at", "updated_at"}),
	}).Create(&articles)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to upsert news: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Latest returns the most recently published articles
func (r *NewsRepository) Latest(ctx context.Context, limit int) ([]models.NewsArticle, error) {
	var out []models.NewsArticle
	q := r.db.WithContext(ctx).Order("published_at DESC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list news: %w", err)
	}
	return out, nil
}

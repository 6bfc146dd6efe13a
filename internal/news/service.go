package news

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"harmonyshield/internal/models"
	"harmonyshield/internal/realtime"
	"harmonyshield/internal/remote"
	"harmonyshield/internal/repository"
)

const defaultLimit = 20

// Fetcher is the news aggregation edge function
type Fetcher interface {
	FetchNews(ctx context.Context) ([]remote.Article, error)
}

// Service keeps the scam news feed in sync
type Service struct {
	repo      *repository.NewsRepository
	fetcher   Fetcher
	publisher realtime.Publisher
	logger    *zap.Logger
}

// NewService creates a news service. publisher may be nil.
func NewService(repo *repository.NewsRepository, fetcher Fetcher, publisher realtime.Publisher, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		fetcher:   fetcher,
		publisher: publisher,
		logger:    logger.Named("news"),
	}
}

// Sync fetches the latest articles and upserts them by URL
func (s *Service) Sync(ctx context.Context) (int64, error) {
	articles, err := s.fetcher.FetchNews(ctx)
	if err != nil {
		return 0, err
	}

	rows := make([]models.NewsArticle, 0, len(articles))
	seen := make(map[string]bool, len(articles))
	for _, a := range articles {
		url := strings.TrimSpace(a.URL)
		if url == "" || strings.TrimSpace(a.Title) == "" || seen[url] {
			continue
		}
		seen[url] = true

		published := a.PublishedAt.UTC()
		if published.IsZero() {
			published = time.Now().UTC()
		}
		rows = append(rows, models.NewsArticle{
			Title:       strings.TrimSpace(a.Title),
			Summary:     strings.TrimSpace(a.Summary),
			URL:         url,
			Source:      a.Source,
			Category:    a.Category,
			PublishedAt: published,
		})
	}

	n, err := s.repo.Upsert(ctx, rows)
	if err != nil {
		return 0, err
	}

	s.logger.Info("News synced", zap.Int("fetched", len(articles)), zap.Int64("upserted", n))
	if n > 0 && s.publisher != nil {
		if err := s.publisher.Publish(ctx, realtime.Change{Table: s.repo.Table(), Op: realtime.OpInsert}); err != nil {
			s.logger.Warn("Failed to publish change", zap.Error(err))
		}
	}
	return n, nil
}

// Latest returns the newest articles for the public feed
func (s *Service) Latest(ctx context.Context, limit int) ([]models.NewsArticle, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	return s.repo.Latest(ctx, limit)
}

package news

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"harmonyshield/internal/database/databasetest"
	"harmonyshield/internal/remote"
	"harmonyshield/internal/repository"
)

type fakeFetcher struct {
	articles []remote.Article
	err      error
}

func (f *fakeFetcher) FetchNews(ctx context.Context) ([]remote.Article, error) {
	return f.articles, f.err
}

func TestService_SyncUpsertsByURL(t *testing.T) {
	db := databasetest.New(t)
	repo := repository.NewNewsRepository(db.DB())
	day := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{articles: []remote.Article{
		{Title: "Romance scams up 30%", URL: "https://news.example/a", PublishedAt: day},
		{Title: "Duplicate", URL: "https://news.example/a", PublishedAt: day},
		{Title: "", URL: "https://news.example/empty"},
		{Title: "Bank impersonation wave", URL: "https://news.example/b", PublishedAt: day.Add(time.Hour)},
	}}
	svc := NewService(repo, fetcher, nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	fetcher.articles = []remote.Article{
		{Title: "Romance scams up 35%", URL: "https://news.example/a", PublishedAt: day},
	}
	_, err = svc.Sync(ctx)
	require.NoError(t, err)

	latest, err := svc.Latest(ctx, 0)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "Bank impersonation wave", latest[0].Title)
	assert.Equal(t, "Romance scams up 35%", latest[1].Title)
}

func TestService_SyncFailure(t *testing.T) {
	db := databasetest.New(t)
	svc := NewService(repository.NewNewsRepository(db.DB()), &fakeFetcher{err: errors.New("upstream down")}, nil, zap.NewNop())

	_, err := svc.Sync(context.Background())
	assert.Error(t, err)
}

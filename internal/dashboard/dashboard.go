package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"harmonyshield/internal/models"
	"harmonyshield/internal/realtime"
	"harmonyshield/internal/repository"
)

const statsKey = "stats"

// Stats is the admin overview
type Stats struct {
	Users               int64                           `json:"users"`
	Admins              int64                           `json:"admins"`
	RecoveryRequests    int64                           `json:"recovery_requests"`
	RecoveryByStatus    map[models.RecoveryStatus]int64 `json:"recovery_by_status"`
	OpenRecovery        int64                           `json:"open_recovery_requests"`
	ScamReports         int64                           `json:"scam_reports"`
	PendingScamReports  int64                           `json:"pending_scam_reports"`
	RunningABTests      int64                           `json:"running_ab_tests"`
	ABTestAssignments   int64                           `json:"ab_test_assignments"`
	ActiveBotPackages   int64                           `json:"active_bot_packages"`
	ActiveSubscriptions int64                           `json:"active_subscriptions"`
	NewsArticles        int64                           `json:"news_articles"`
	UnreadNotifications int64                           `json:"unread_notifications"`
	GeneratedAt         time.Time                       `json:"generated_at"`
}

// Watcher notifies server-side listeners of table changes
type Watcher interface {
	Watch(table string, fn func(realtime.Change))
}

// watchedTables invalidate the stats cache when they change
var watchedTables = []string{
	"user_profiles",
	"recovery_requests",
	"scam_reports",
	"ab_tests",
	"ab_test_assignments",
	"bot_packages",
	"bot_subscriptions",
	"news_articles",
	"notifications",
}

// Service computes and caches dashboard statistics
type Service struct {
	profiles      *repository.Store[models.UserProfile]
	recovery      *repository.RecoveryRepository
	reports       *repository.Store[models.ScamReport]
	abTests       *repository.Store[models.ABTest]
	assignments   *repository.Store[models.ABTestAssignment]
	packages      *repository.Store[models.BotPackage]
	subscriptions *repository.Store[models.BotSubscription]
	news          *repository.Store[models.NewsArticle]
	notifications *repository.Store[models.Notification]

	cache  Cache
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	computed int

	// generation advances on every invalidation
	generation atomic.Uint64
}

// NewService creates a dashboard service
func NewService(db *gorm.DB, cache Cache, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		profiles:      repository.NewStore[models.UserProfile](db),
		recovery:      repository.NewRecoveryRepository(db),
		reports:       repository.NewStore[models.ScamReport](db),
		abTests:       repository.NewStore[models.ABTest](db),
		assignments:   repository.NewStore[models.ABTestAssignment](db),
		packages:      repository.NewStore[models.BotPackage](db),
		subscriptions: repository.NewStore[models.BotSubscription](db),
		news:          repository.NewStore[models.NewsArticle](db),
		notifications: repository.NewStore[models.Notification](db),
		cache:         cache,
		ttl:           ttl,
		logger:        logger.Named("dashboard"),
	}
}

// WatchChanges invalidates the cached stats whenever a counted table changes.
// Every change triggers a full recompute on the next read.
func (s *Service) WatchChanges(w Watcher) {
	for _, table := range watchedTables {
		w.Watch(table, func(c realtime.Change) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.Invalidate(ctx)
		})
	}
}

// Invalidate drops the cached stats
func (s *Service) Invalidate(ctx context.Context) {
	s.generation.Add(1)
	if err := s.cache.Delete(ctx, statsKey); err != nil {
		s.logger.Warn("Failed to invalidate stats cache", zap.Error(err))
	}
}

// Stats returns cached statistics, computing them when the cache is empty
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if data, ok, err := s.cache.Get(ctx, statsKey); err != nil {
		s.logger.Warn("Failed to read stats cache", zap.Error(err))
	} else if ok {
		var stats Stats
		if err := json.Unmarshal(data, &stats); err == nil {
			return &stats, nil
		}
	}

	generation := s.generation.Load()
	stats, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}
	if s.generation.Load() != generation {
		// invalidated while computing; the next read recomputes
		return stats, nil
	}

	data, err := json.Marshal(stats)
	if err == nil {
		err = s.cache.Set(ctx, statsKey, data, s.ttl)
	}
	if err != nil {
		s.logger.Warn("Failed to cache stats", zap.Error(err))
	} else if s.generation.Load() != generation {
		_ = s.cache.Delete(ctx, statsKey)
	}
	return stats, nil
}

// compute issues the count queries concurrently and waits for all of them
func (s *Service) compute(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	g, ctx := errgroup.WithContext(ctx)

	count := func(dst *int64, fn func(ctx context.Context) (int64, error)) {
		g.Go(func() error {
			n, err := fn(ctx)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}

	count(&stats.Users, func(ctx context.Context) (int64, error) {
		return s.profiles.Count(ctx, "")
	})
	count(&stats.Admins, func(ctx context.Context) (int64, error) {
		return s.profiles.Count(ctx, "role = ?", models.RoleAdmin)
	})
	count(&stats.ScamReports, func(ctx context.Context) (int64, error) {
		return s.reports.Count(ctx, "")
	})
	count(&stats.PendingScamReports, func(ctx context.Context) (int64, error) {
		return s.reports.Count(ctx, "status = ?", models.ScamReportPending)
	})
	count(&stats.RunningABTests, func(ctx context.Context) (int64, error) {
		return s.abTests.Count(ctx, "status = ?", models.ABTestRunning)
	})
	count(&stats.ABTestAssignments, func(ctx context.Context) (int64, error) {
		return s.assignments.Count(ctx, "")
	})
	count(&stats.ActiveBotPackages, func(ctx context.Context) (int64, error) {
		return s.packages.Count(ctx, "is_active = ?", true)
	})
	count(&stats.ActiveSubscriptions, func(ctx context.Context) (int64, error) {
		return s.subscriptions.Count(ctx, "status = ?", "active")
	})
	count(&stats.NewsArticles, func(ctx context.Context) (int64, error) {
		return s.news.Count(ctx, "")
	})
	count(&stats.UnreadNotifications, func(ctx context.Context) (int64, error) {
		return s.notifications.Count(ctx, "read = ?", false)
	})
	g.Go(func() error {
		byStatus, err := s.recovery.CountByStatus(ctx)
		if err != nil {
			return err
		}
		stats.RecoveryByStatus = byStatus
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute dashboard stats: %w", err)
	}

	for status, n := range stats.RecoveryByStatus {
		stats.RecoveryRequests += n
		if !status.IsTerminal() {
			stats.OpenRecovery += n
		}
	}
	stats.GeneratedAt = time.Now().UTC()

	s.mu.Lock()
	s.computed++
	s.mu.Unlock()
	return stats, nil
}

// Pinger checks a dependency
type Pinger interface {
	Health(ctx context.Context) error
}

// ClientCounter reports connected realtime clients
type ClientCounter interface {
	ConnectedClients() int
}

// BacklogCounter reports undelivered confirmations
type BacklogCounter interface {
	Backlog(ctx context.Context) (int64, error)
}

// ComponentHealth is the state of one dependency
type ComponentHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SystemHealth is the monitoring screen payload
type SystemHealth struct {
	Status          string                     `json:"status"`
	Components      map[string]ComponentHealth `json:"components"`
	RealtimeClients int                        `json:"realtime_clients"`
	OutboxBacklog   int64                      `json:"outbox_backlog"`
	CheckedAt       time.Time                  `json:"checked_at"`
}

// HealthChecker assembles system health
type HealthChecker struct {
	db      Pinger
	redis   *redis.Client
	clients ClientCounter
	outbox  BacklogCounter
}

// NewHealthChecker creates a health checker. redis may be nil.
func NewHealthChecker(db Pinger, rdb *redis.Client, clients ClientCounter, outbox BacklogCounter) *HealthChecker {
	return &HealthChecker{db: db, redis: rdb, clients: clients, outbox: outbox}
}

// Check probes every dependency
func (h *HealthChecker) Check(ctx context.Context) *SystemHealth {
	out := &SystemHealth{
		Status:     "healthy",
		Components: make(map[string]ComponentHealth),
		CheckedAt:  time.Now().UTC(),
	}

	out.Components["database"] = probe(func() error { return h.db.Health(ctx) })
	if h.redis != nil {
		out.Components["redis"] = probe(func() error { return h.redis.Ping(ctx).Err() })
	}
	for _, c := range out.Components {
		if c.Status != "healthy" {
			out.Status = "degraded"
		}
	}

	if h.clients != nil {
		out.RealtimeClients = h.clients.ConnectedClients()
	}
	if h.outbox != nil {
		if n, err := h.outbox.Backlog(ctx); err == nil {
			out.OutboxBacklog = n
		}
	}
	return out
}

func probe(fn func() error) ComponentHealth {
	start := time.Now()
	if err := fn(); err != nil {
		return ComponentHealth{Status: "unhealthy", Error: err.Error()}
	}
	return ComponentHealth{Status: "healthy", Latency: time.Since(start).String()}
}

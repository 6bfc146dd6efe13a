package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"harmonyshield/internal/config"
	"harmonyshield/internal/metrics"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskFunc is the body of a scheduled task
type TaskFunc func(ctx context.Context) error

// Task is a scheduled background job
type Task struct {
	Name       string
	Schedule   string
	Run        TaskFunc
	LastRun    time.Time
	RunCount   int64
	ErrorCount int64

	entryID cron.EntryID
}

// TaskStatus is a snapshot of a task for the admin dashboard
type TaskStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	LastRun    time.Time `json:"last_run"`
	NextRun    time.Time `json:"next_run"`
	RunCount   int64     `json:"run_count"`
	ErrorCount int64     `json:"error_count"`
}

// NewsSyncer refreshes the scam news feed
type NewsSyncer interface {
	Sync(ctx context.Context) (int64, error)
}

// OutboxSweeper retries pending confirmation deliveries
type OutboxSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler runs periodic jobs on a seconds-precision cron
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu    sync.RWMutex
	tasks map[string]*Task

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates an empty scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		logger:  logger.Named("jobs"),
		timeout: 5 * time.Minute,
		tasks:   make(map[string]*Task),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NewDefault creates a scheduler with the news sync and outbox sweep jobs
func NewDefault(cfg config.JobsConfig, news NewsSyncer, outbox OutboxSweeper, logger *zap.Logger) (*Scheduler, error) {
	s := NewScheduler(logger)

	if news != nil && cfg.NewsSchedule != "" {
		err := s.AddTask("news_sync", cfg.NewsSchedule, func(ctx context.Context) error {
			_, err := news.Sync(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	if outbox != nil && cfg.OutboxSchedule != "" {
		err := s.AddTask("outbox_sweep", cfg.OutboxSchedule, func(ctx context.Context) error {
			n, err := outbox.Sweep(ctx)
			if n > 0 {
				s.logger.Info("Outbox sweep delivered confirmations", zap.Int("delivered", n))
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// AddTask registers a task under a unique name
func (s *Scheduler) AddTask(name, schedule string, run TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already exists", name)
	}

	task := &Task{Name: name, Schedule: schedule, Run: run}
	id, err := s.cron.AddFunc(schedule, func() { s.execute(task) })
	if err != nil {
		return fmt.Errorf("invalid schedule for task %s: %w", name, err)
	}
	task.entryID = id
	s.tasks[name] = task
	return nil
}

// RunNow executes a task immediately, outside its schedule
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	task, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return s.execute(task)
}

// Start starts the cron loop
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Stop waits for running jobs and stops the cron loop
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Status returns a snapshot of every task
func (s *Scheduler) Status() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, TaskStatus{
			Name:       task.Name,
			Schedule:   task.Schedule,
			LastRun:    task.LastRun,
			NextRun:    s.cron.Entry(task.entryID).Next,
			RunCount:   task.RunCount,
			ErrorCount: task.ErrorCount,
		})
	}
	return out
}

func (s *Scheduler) execute(task *Task) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := task.Run(ctx)
	metrics.JobRuns.WithLabelValues(task.Name, metrics.Outcome(err)).Inc()

	s.mu.Lock()
	task.LastRun = start
	task.RunCount++
	if err != nil {
		task.ErrorCount++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Task failed", zap.String("task", task.Name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return err
	}
	s.logger.Debug("Task completed", zap.String("task", task.Name), zap.Duration("duration", time.Since(start)))
	return nil
}

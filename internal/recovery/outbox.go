package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"harmonyshield/internal/config"
	"harmonyshield/internal/metrics"
	"harmonyshield/internal/models"
	"harmonyshield/internal/remote"
)

const sweepBatch = 100

// OutboxStore persists confirmation work
type OutboxStore interface {
	Enqueue(ctx context.Context, entry *models.ConfirmationOutbox) error
	Pending(ctx context.Context, limit int) ([]models.ConfirmationOutbox, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ConfirmationOutbox, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, status models.OutboxStatus, attempts int, lastError string) error
}

// RequestReader loads the request a confirmation belongs to
type RequestReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecoveryRequest, error)
}

// Mailer sends the confirmation email
type Mailer interface {
	SendRecoveryEmail(ctx context.Context, email remote.RecoveryEmail) error
}

// NotificationWriter creates in-app notifications
type NotificationWriter interface {
	Create(ctx context.Context, n *models.Notification) error
}

// Outbox delivers confirmations after a request has been committed. Delivery
// failures never affect the request itself.
type Outbox struct {
	store         OutboxStore
	requests      RequestReader
	mailer        Mailer
	notifications NotificationWriter
	maxAttempts   int
	logger        *zap.Logger

	queue chan uuid.UUID
	mu    sync.Mutex
}

// NewOutbox creates an outbox
func NewOutbox(store OutboxStore, requests RequestReader, mailer Mailer, notifications NotificationWriter, cfg config.RecoveryConfig, logger *zap.Logger) *Outbox {
	maxAttempts := cfg.MaxConfirmationAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	buffer := cfg.OutboxBuffer
	if buffer < 1 {
		buffer = 1
	}
	return &Outbox{
		store:         store,
		requests:      requests,
		mailer:        mailer,
		notifications: notifications,
		maxAttempts:   maxAttempts,
		logger:        logger.Named("outbox"),
		queue:         make(chan uuid.UUID, buffer),
	}
}

// Confirm records a pending confirmation for req and hands it to the dispatcher
func (o *Outbox) Confirm(ctx context.Context, req *models.RecoveryRequest, email string) {
	entry := &models.ConfirmationOutbox{
		RequestID: req.ID,
		UserID:    req.UserID,
		Email:     email,
	}
	if err := o.store.Enqueue(ctx, entry); err != nil {
		metrics.ConfirmationDeliveries.WithLabelValues("enqueue_failed").Inc()
		o.logger.Error("Failed to enqueue confirmation",
			zap.String("request_id", req.ID.String()), zap.Error(err))
		return
	}

	select {
	case o.queue <- entry.ID:
	default:
		o.logger.Warn("Confirmation queue full, leaving for sweep", zap.String("outbox_id", entry.ID.String()))
	}
}

// Run drains the dispatch queue until ctx is done
func (o *Outbox) Run(ctx context.Context) {
	o.logger.Info("Confirmation dispatcher started")
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Confirmation dispatcher stopped")
			return
		case id := <-o.queue:
			if err := o.Deliver(ctx, id); err != nil {
				o.logger.Warn("Confirmation delivery failed", zap.String("outbox_id", id.String()), zap.Error(err))
			}
		}
	}
}

// Sweep delivers rows still pending, such as those left behind by a restart
func (o *Outbox) Sweep(ctx context.Context) (int, error) {
	entries, err := o.store.Pending(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := o.Deliver(ctx, entry.ID); err != nil {
			o.logger.Warn("Swept confirmation failed", zap.String("outbox_id", entry.ID.String()), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Deliver sends the email and creates the notification for one outbox row
func (o *Outbox) Deliver(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status != models.OutboxPending {
		return nil
	}

	attempts := entry.Attempts + 1
	err = o.send(ctx, entry)
	if err == nil {
		metrics.ConfirmationDeliveries.WithLabelValues("delivered").Inc()
		return o.store.RecordAttempt(ctx, id, models.OutboxDelivered, attempts, "")
	}

	status := models.OutboxPending
	if attempts >= o.maxAttempts {
		status = models.OutboxFailed
	}
	metrics.ConfirmationDeliveries.WithLabelValues("failed").Inc()
	if recErr := o.store.RecordAttempt(ctx, id, status, attempts, err.Error()); recErr != nil {
		o.logger.Error("Failed to record confirmation attempt", zap.String("outbox_id", id.String()), zap.Error(recErr))
	}
	return err
}

func (o *Outbox) send(ctx context.Context, entry *models.ConfirmationOutbox) error {
	req, err := o.requests.GetByID(ctx, entry.RequestID)
	if err != nil {
		return fmt.Errorf("failed to load request: %w", err)
	}

	var errs []error
	if entry.Email != "" {
		err := o.mailer.SendRecoveryEmail(ctx, remote.RecoveryEmail{
			To:           entry.Email,
			RequestID:    req.ID.String(),
			RecoveryType: string(req.RecoveryType),
			Title:        req.Title,
			AmountLost:   req.AmountLost.String(),
			Currency:     req.Currency,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	err = o.notifications.Create(ctx, &models.Notification{
		UserID:  entry.UserID,
		Title:   "Recovery request received",
		Message: fmt.Sprintf("We received your %s recovery request %q and will review it shortly.", req.RecoveryType, req.Title),
		Type:    "recovery",
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("notification: %w", err))
	}

	return errors.Join(errs...)
}

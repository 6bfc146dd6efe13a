package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"harmonyshield/internal/auth"
	"harmonyshield/internal/config"
	"harmonyshield/internal/metrics"
	"harmonyshield/internal/models"
	"harmonyshield/internal/realtime"
	"harmonyshield/internal/repository"
)

var (
	ErrSubmitFailed      = errors.New("failed to submit recovery request")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence the service needs
type Store interface {
	Table() string
	Create(ctx context.Context, req *models.RecoveryRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecoveryRequest, error)
	List(ctx context.Context, filter repository.RecoveryFilter) ([]models.RecoveryRequest, error)
	Mutate(ctx context.Context, id uuid.UUID, fn func(*models.RecoveryRequest) error) (*models.RecoveryRequest, error)
}

// AuditRecorder writes admin audit entries
type AuditRecorder interface {
	Record(ctx context.Context, entry repository.AuditEntry) error
}

// Confirmer schedules the after-commit confirmation of a new request
type Confirmer interface {
	Confirm(ctx context.Context, req *models.RecoveryRequest, email string)
}

// StatusUpdate is an admin status change
type StatusUpdate struct {
	Status     models.RecoveryStatus `json:"status"`
	Message    string                `json:"message"`
	AdminNotes string                `json:"admin_notes"`
}

// ProgressNote is a progress entry that keeps the current status
type ProgressNote struct {
	Message    string `json:"message"`
	AdminNotes string `json:"admin_notes"`
}

// Service implements the recovery request workflow
type Service struct {
	store        Store
	audit        AuditRecorder
	publisher    realtime.Publisher
	confirmer    Confirmer
	confirmTypes map[models.RecoveryType]bool
	strict       bool
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a recovery service. publisher and confirmer may be nil.
func NewService(store Store, audit AuditRecorder, publisher realtime.Publisher, confirmer Confirmer, cfg config.RecoveryConfig, logger *zap.Logger) *Service {
	confirmTypes := make(map[models.RecoveryType]bool)
	for _, t := range cfg.ConfirmTypes {
		confirmTypes[models.RecoveryType(strings.ToLower(t))] = true
	}
	return &Service{
		store:        store,
		audit:        audit,
		publisher:    publisher,
		confirmer:    confirmer,
		confirmTypes: confirmTypes,
		strict:       cfg.StrictTransitions,
		logger:       logger.Named("recovery"),
		now:          time.Now,
	}
}

// Submit validates the form and creates exactly one request owned by the session user
func (s *Service) Submit(ctx context.Context, session *auth.Session, form Form) (*models.RecoveryRequest, error) {
	if session == nil || session.UserID == uuid.Nil {
		return nil, auth.ErrUnauthenticated
	}

	recoveryType := string(form.Type())
	if fields := form.Validate(); len(fields) > 0 {
		metrics.RecoverySubmissions.WithLabelValues(recoveryType, "invalid").Inc()
		return nil, &ValidationError{Fields: fields}
	}

	req, err := form.build(session.UserID)
	if err != nil {
		metrics.RecoverySubmissions.WithLabelValues(recoveryType, "invalid").Inc()
		return nil, &ValidationError{Fields: FieldErrors{"form": err.Error()}}
	}

	if err := s.store.Create(ctx, req); err != nil {
		metrics.RecoverySubmissions.WithLabelValues(recoveryType, "error").Inc()
		s.logger.Error("Failed to create recovery request",
			zap.String("user_id", session.UserID.String()),
			zap.String("recovery_type", recoveryType),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	metrics.RecoverySubmissions.WithLabelValues(recoveryType, "success").Inc()
	s.logger.Info("Recovery request submitted",
		zap.String("request_id", req.ID.String()),
		zap.String("recovery_type", recoveryType))

	s.publish(ctx, realtime.OpInsert, req)

	if s.confirmer != nil && s.confirmTypes[req.RecoveryType] {
		email := req.ContactDetails.Data().Email
		if email == "" {
			email = session.Email
		}
		s.confirmer.Confirm(ctx, req, email)
	}

	return req, nil
}

// Get returns a request visible to the session: its owner or an admin
func (s *Service) Get(ctx context.Context, session *auth.Session, id uuid.UUID) (*models.RecoveryRequest, error) {
	if session == nil || session.UserID == uuid.Nil {
		return nil, auth.ErrUnauthenticated
	}
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != session.UserID && !session.IsAdmin() {
		return nil, repository.ErrNotFound
	}
	return req, nil
}

// ListMine returns the session user's requests, newest first
func (s *Service) ListMine(ctx context.Context, session *auth.Session) ([]models.RecoveryRequest, error) {
	if session == nil || session.UserID == uuid.Nil {
		return nil, auth.ErrUnauthenticated
	}
	return s.store.List(ctx, repository.RecoveryFilter{UserID: &session.UserID})
}

// List returns every request matching the filter. Admin only.
func (s *Service) List(ctx context.Context, session *auth.Session, filter repository.RecoveryFilter) ([]models.RecoveryRequest, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, filter)
}

// Timeline returns the derived progress view of a request
func (s *Service) Timeline(ctx context.Context, session *auth.Session, id uuid.UUID) (Timeline, error) {
	req, err := s.Get(ctx, session, id)
	if err != nil {
		return Timeline{}, err
	}
	return BuildTimeline(req.Status, req.ProgressUpdates), nil
}

// UpdateStatus sets a new status and appends the matching progress entry
func (s *Service) UpdateStatus(ctx context.Context, session *auth.Session, id uuid.UUID, update StatusUpdate) (*models.RecoveryRequest, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}
	if !update.Status.IsValid() {
		return nil, &ValidationError{Fields: FieldErrors{"status": "must be one of: " + statusList()}}
	}

	var previous models.RecoveryStatus
	req, err := s.store.Mutate(ctx, id, func(r *models.RecoveryRequest) error {
		previous = r.Status
		if s.strict && !models.CanTransition(r.Status, update.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, update.Status)
		}

		message := strings.TrimSpace(update.Message)
		if message == "" {
			message = fmt.Sprintf("Status changed to %s", update.Status)
		}
		r.Status = update.Status
		s.appendProgress(r, models.ProgressUpdate{
			Status:     update.Status,
			Message:    message,
			AdminNotes: strings.TrimSpace(update.AdminNotes),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.StatusChanges.WithLabelValues(string(update.Status)).Inc()
	s.record(ctx, session, "update_status", id, map[string]interface{}{
		"from": previous,
		"to":   update.Status,
	})
	s.publish(ctx, realtime.OpUpdate, req)
	return req, nil
}

// AppendProgress adds a progress entry without changing the status
func (s *Service) AppendProgress(ctx context.Context, session *auth.Session, id uuid.UUID, note ProgressNote) (*models.RecoveryRequest, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}
	message := strings.TrimSpace(note.Message)
	if message == "" {
		return nil, &ValidationError{Fields: FieldErrors{"message": "required"}}
	}

	req, err := s.store.Mutate(ctx, id, func(r *models.RecoveryRequest) error {
		s.appendProgress(r, models.ProgressUpdate{
			Status:     r.Status,
			Message:    message,
			AdminNotes: strings.TrimSpace(note.AdminNotes),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, session, "append_progress", id, map[string]interface{}{"message": message})
	s.publish(ctx, realtime.OpUpdate, req)
	return req, nil
}

// Assign sets or clears the admin handling a request
func (s *Service) Assign(ctx context.Context, session *auth.Session, id uuid.UUID, adminID *uuid.UUID) (*models.RecoveryRequest, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}

	req, err := s.store.Mutate(ctx, id, func(r *models.RecoveryRequest) error {
		r.AssignedAdminID = adminID
		return nil
	})
	if err != nil {
		return nil, err
	}

	details := map[string]interface{}{"assigned_admin_id": nil}
	if adminID != nil {
		details["assigned_admin_id"] = adminID.String()
	}
	s.record(ctx, session, "assign", id, details)
	s.publish(ctx, realtime.OpUpdate, req)
	return req, nil
}

// UpdateNotes replaces the internal admin notes, e.g. a police report reference
func (s *Service) UpdateNotes(ctx context.Context, session *auth.Session, id uuid.UUID, notes string) (*models.RecoveryRequest, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}

	req, err := s.store.Mutate(ctx, id, func(r *models.RecoveryRequest) error {
		r.AdminNotes = strings.TrimSpace(notes)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, session, "update_notes", id, nil)
	s.publish(ctx, realtime.OpUpdate, req)
	return req, nil
}

// appendProgress adds entry to the log, keeping timestamps non-decreasing
func (s *Service) appendProgress(r *models.RecoveryRequest, entry models.ProgressUpdate) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if last, ok := r.ProgressUpdates.Last(); ok && entry.Timestamp.Before(last.Timestamp) {
		entry.Timestamp = last.Timestamp
	}
	r.ProgressUpdates = append(r.ProgressUpdates, entry)
}

func (s *Service) record(ctx context.Context, session *auth.Session, action string, id uuid.UUID, details interface{}) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, repository.AuditEntry{
		AdminID:    session.UserID,
		Action:     action,
		Resource:   s.store.Table(),
		ResourceID: id.String(),
		Details:    details,
	})
	if err != nil {
		s.logger.Error("Failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, op realtime.Operation, req *models.RecoveryRequest) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, realtime.Change{
		Table:   s.store.Table(),
		Op:      op,
		RowID:   req.ID.String(),
		OwnerID: req.UserID.String(),
	})
	if err != nil {
		s.logger.Warn("Failed to publish change", zap.String("request_id", req.ID.String()), zap.Error(err))
	}
}

func statusList() string {
	names := make([]string, len(models.StatusOrder))
	for i, st := range models.StatusOrder {
		names[i] = string(st)
	}
	return strings.Join(names, ", ")
}

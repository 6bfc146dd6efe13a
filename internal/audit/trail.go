package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"harmonyshield/internal/models"
	"harmonyshield/internal/remote"
	"harmonyshield/internal/repository"
)

// Recorder persists audit rows
type Recorder interface {
	Record(ctx context.Context, entry repository.AuditEntry) (*models.AuditLog, error)
}

// RemoteLogger mirrors admin actions to the external audit trail
type RemoteLogger interface {
	LogAdminAction(ctx context.Context, action remote.AdminAction) error
}

type ipKey struct{}

// WithIP attaches the caller address used for audit entries
func WithIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

// IPFrom returns the caller address attached by WithIP
func IPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}

// Trail writes the admin audit log. The local row is authoritative; the
// remote mirror is best-effort.
type Trail struct {
	repo   Recorder
	remote RemoteLogger
	logger *zap.Logger
}

// NewTrail creates an audit trail. remote may be nil.
func NewTrail(repo Recorder, remote RemoteLogger, logger *zap.Logger) *Trail {
	return &Trail{
		repo:   repo,
		remote: remote,
		logger: logger.Named("audit"),
	}
}

// Record appends an audit entry
func (t *Trail) Record(ctx context.Context, entry repository.AuditEntry) error {
	if entry.IPAddress == "" {
		entry.IPAddress = IPFrom(ctx)
	}

	row, err := t.repo.Record(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	t.logger.Info("Admin action",
		zap.String("admin_id", entry.AdminID.String()),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
		zap.String("resource_id", entry.ResourceID),
		zap.String("audit_id", row.ID.String()))

	if t.remote == nil {
		return nil
	}
	err = t.remote.LogAdminAction(ctx, remote.AdminAction{
		AdminID:    entry.AdminID.String(),
		Action:     entry.Action,
		Resource:   entry.Resource,
		ResourceID: entry.ResourceID,
		Details:    entry.Details,
	})
	if err != nil {
		t.logger.Warn("Failed to mirror admin action", zap.String("action", entry.Action), zap.Error(err))
	}
	return nil
}

package scam

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"harmonyshield/internal/auth"
	"harmonyshield/internal/models"
	"harmonyshield/internal/realtime"
	"harmonyshield/internal/remote"
	"harmonyshield/internal/repository"
	"harmonyshield/internal/validation"
)

var ErrSubmitFailed = errors.New("failed to submit scam report")

// ValidationError reports rejected report fields
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

// ReportForm is a user scam report
type ReportForm struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"required,min=10"`
	ScamType    string `json:"scam_type" validate:"required,oneof=phishing investment romance shopping lottery impersonation tech_support crypto other"`
	URL         string `json:"url" validate:"omitempty,url"`
	AmountLost  string `json:"amount_lost" validate:"omitempty,amount"`
}

// ScanInput asks the AI scanner about a URL or text, optionally scoring a report
type ScanInput struct {
	URL      string     `json:"url"`
	Text     string     `json:"text"`
	ReportID *uuid.UUID `json:"report_id"`
}

// Scanner is the AI scanner edge function
type Scanner interface {
	ScanContent(ctx context.Context, req remote.ScanRequest) (*remote.ScanResult, error)
}

// Service handles user scam reports and content scans
type Service struct {
	reports   *repository.Store[models.ScamReport]
	scanner   Scanner
	publisher realtime.Publisher
	logger    *zap.Logger
}

// NewService creates a scam report service. publisher may be nil.
func NewService(reports *repository.Store[models.ScamReport], scanner Scanner, publisher realtime.Publisher, logger *zap.Logger) *Service {
	return &Service{
		reports:   reports,
		scanner:   scanner,
		publisher: publisher,
		logger:    logger.Named("scam"),
	}
}

// Submit validates and stores a report owned by the session user
func (s *Service) Submit(ctx context.Context, session *auth.Session, form ReportForm) (*models.ScamReport, error) {
	if session == nil || session.UserID == uuid.Nil {
		return nil, auth.ErrUnauthenticated
	}
	if fields := validation.Struct(&form); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	report := &models.ScamReport{
		UserID:      session.UserID,
		Title:       strings.TrimSpace(form.Title),
		Description: strings.TrimSpace(form.Description),
		ScamType:    form.ScamType,
		URL:         strings.TrimSpace(form.URL),
		Status:      models.ScamReportPending,
	}
	if form.AmountLost != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(form.AmountLost))
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"amount_lost": "must be a non-negative amount"}}
		}
		report.AmountLost = &amount
	}

	if err := s.reports.Create(ctx, report); err != nil {
		s.logger.Error("Failed to create scam report", zap.String("user_id", session.UserID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	s.publish(ctx, realtime.OpInsert, report)
	return report, nil
}

// ListMine returns the session user's reports
func (s *Service) ListMine(ctx context.Context, session *auth.Session) ([]models.ScamReport, error) {
	if session == nil || session.UserID == uuid.Nil {
		return nil, auth.ErrUnauthenticated
	}
	return s.reports.Find(ctx, "user_id = ?", session.UserID)
}

// Scan runs the AI scanner. When a report id is given the risk score is
// stored on that report.
func (s *Service) Scan(ctx context.Context, session *auth.Session, in ScanInput) (*remote.ScanResult, error) {
	if session == nil || session.UserID == uuid.Nil {
		return nil, auth.ErrUnauthenticated
	}
	if strings.TrimSpace(in.URL) == "" && strings.TrimSpace(in.Text) == "" {
		return nil, &ValidationError{Fields: map[string]string{"url": "url or text is required"}}
	}

	var report *models.ScamReport
	if in.ReportID != nil {
		r, err := s.reports.Get(ctx, *in.ReportID)
		if err != nil {
			return nil, err
		}
		if r.UserID != session.UserID && !session.IsAdmin() {
			return nil, repository.ErrNotFound
		}
		report = r
	}

	result, err := s.scanner.ScanContent(ctx, remote.ScanRequest{URL: in.URL, Text: in.Text})
	if err != nil {
		return nil, err
	}

	if report != nil {
		_, err := s.reports.Update(ctx, report.ID, map[string]interface{}{"risk_score": result.RiskScore})
		if err != nil {
			s.logger.Warn("Failed to store risk score", zap.String("report_id", report.ID.String()), zap.Error(err))
		} else {
			s.publish(ctx, realtime.OpUpdate, report)
		}
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, op realtime.Operation, report *models.ScamReport) {
	if s.publisher == nil {
		return
	}
	change := realtime.Change{Table: s.reports.Table(), Op: op, RowID: report.ID.String(), OwnerID: report.UserID.String()}
	err := s.publisher.Publish(ctx, change)
	if err != nil {
		s.logger.Warn("Failed to publish change", zap.Error(err))
	}
}

package admin

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"harmonyshield/internal/auth"
	"harmonyshield/internal/models"
	"harmonyshield/internal/realtime"
	"harmonyshield/internal/repository"
)

// Resources is the set of admin screens
type Resources struct {
	Users         *Resource[repository.UserSummary]
	ScamReports   *Resource[models.ScamReport]
	ABTests       *Resource[models.ABTest]
	BotPackages   *Resource[models.BotPackage]
	News          *Resource[models.NewsArticle]
	SystemConfig  *Resource[models.SystemConfig]
	Recovery      *Resource[models.RecoveryRequest]
	AuditLogs     *Resource[models.AuditLog]
	Notifications *Resource[models.Notification]
}

// NewResources wires every admin screen over db
func NewResources(db *gorm.DB, audit AuditRecorder, publisher realtime.Publisher, logger *zap.Logger) *Resources {
	profiles := repository.NewProfileRepository(db)

	return &Resources{
		Users:         NewResource[repository.UserSummary](&userBackend{profiles: profiles}, userOptions(), audit, publisher, logger),
		ScamReports:   NewResource[models.ScamReport](repository.NewStore[models.ScamReport](db), scamReportOptions(), audit, publisher, logger),
		ABTests:       NewResource[models.ABTest](repository.NewStore[models.ABTest](db), abTestOptions(), audit, publisher, logger),
		BotPackages:   NewResource[models.BotPackage](repository.NewStore[models.BotPackage](db), botPackageOptions(), audit, publisher, logger),
		News:          NewResource[models.NewsArticle](repository.NewStore[models.NewsArticle](db), newsOptions(), audit, publisher, logger),
		SystemConfig:  NewResource[models.SystemConfig](repository.NewStore[models.SystemConfig](db), systemConfigOptions(), audit, publisher, logger),
		Recovery:      NewResource[models.RecoveryRequest](repository.NewStore[models.RecoveryRequest](db), recoveryOptions(), audit, publisher, logger),
		AuditLogs:     NewResource[models.AuditLog](repository.NewStore[models.AuditLog](db), auditLogOptions(), nil, nil, logger),
		Notifications: NewResource[models.Notification](repository.NewStore[models.Notification](db), notificationOptions(), audit, publisher, logger),
	}
}

// userBackend serves profiles joined with their related counts
type userBackend struct {
	profiles *repository.ProfileRepository
}

func (b *userBackend) Table() string {
	return b.profiles.Table()
}

func (b *userBackend) List(ctx context.Context) ([]repository.UserSummary, error) {
	return b.profiles.ListWithCounts(ctx)
}

func (b *userBackend) Get(ctx context.Context, id uuid.UUID) (*repository.UserSummary, error) {
	return b.profiles.GetWithCounts(ctx, id)
}

func (b *userBackend) Create(ctx context.Context, item *repository.UserSummary) error {
	return ErrNotAllowed
}

func (b *userBackend) Update(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (*repository.UserSummary, error) {
	if _, err := b.profiles.Update(ctx, id, patch); err != nil {
		return nil, err
	}
	return b.profiles.GetWithCounts(ctx, id)
}

func (b *userBackend) Delete(ctx context.Context, id uuid.UUID) error {
	return ErrNotAllowed
}

func userOptions() Options[repository.UserSummary] {
	return Options[repository.UserSummary]{
		Search: func(u *repository.UserSummary) []string {
			return []string{u.Email, u.FullName}
		},
		Enums: map[string]func(*repository.UserSummary) string{
			"role": func(u *repository.UserSummary) string { return string(u.Role) },
		},
		Editable: map[string]Column{
			"full_name": {Kind: KindString, Nullable: true},
			"role":      {Kind: KindString, Allowed: []string{string(models.RoleUser), string(models.RoleAdmin)}},
			"is_active": {Kind: KindBool},
		},
	}
}

func scamReportOptions() Options[models.ScamReport] {
	return Options[models.ScamReport]{
		Search: func(r *models.ScamReport) []string {
			return []string{r.Title, r.Description, r.ScamType, r.URL}
		},
		Enums: map[string]func(*models.ScamReport) string{
			"status":    func(r *models.ScamReport) string { return string(r.Status) },
			"scam_type": func(r *models.ScamReport) string { return r.ScamType },
		},
		Editable: map[string]Column{
			"status": {Kind: KindString, Allowed: []string{
				string(models.ScamReportPending),
				string(models.ScamReportReviewing),
				string(models.ScamReportVerified),
				string(models.ScamReportRejected),
			}},
			"title":       {Kind: KindString},
			"description": {Kind: KindString, Nullable: true},
		},
		Deletable: true,
		Owner:     func(r *models.ScamReport) uuid.UUID { return r.UserID },
	}
}

func abTestOptions() Options[models.ABTest] {
	return Options[models.ABTest]{
		Search: func(t *models.ABTest) []string {
			return []string{t.Name, t.Description}
		},
		Enums: map[string]func(*models.ABTest) string{
			"status": func(t *models.ABTest) string { return string(t.Status) },
		},
		Editable: map[string]Column{
			"name":          {Kind: KindString},
			"description":   {Kind: KindString, Nullable: true},
			"variants":      {Kind: KindJSON},
			"traffic_split": {Kind: KindInt, Min: intPtr(0), Max: intPtr(100)},
			"status": {Kind: KindString, Allowed: []string{
				string(models.ABTestDraft),
				string(models.ABTestRunning),
				string(models.ABTestPaused),
				string(models.ABTestCompleted),
			}},
		},
		Creatable: true,
		Deletable: true,
		Validate: func(t *models.ABTest) map[string]string {
			fields := map[string]string{}
			if strings.TrimSpace(t.Name) == "" {
				fields["name"] = "required"
			}
			if t.TrafficSplit < 0 || t.TrafficSplit > 100 {
				fields["traffic_split"] = "must be between 0 and 100"
			}
			return fields
		},
		BeforeCreate: func(_ *auth.Session, t *models.ABTest) {
			t.Status = models.ABTestDraft
			t.StartedAt, t.EndedAt = nil, nil
			if len(t.Variants) == 0 {
				t.Variants = []byte(`[]`)
			}
		},
		BeforeUpdate: func(_ *auth.Session, current *models.ABTest, patch map[string]interface{}) {
			status, ok := patch["status"].(string)
			if !ok || models.ABTestStatus(status) == current.Status {
				return
			}
			now := time.Now().UTC()
			switch models.ABTestStatus(status) {
			case models.ABTestRunning:
				if current.StartedAt == nil {
					patch["started_at"] = now
				}
			case models.ABTestCompleted:
				patch["ended_at"] = now
			}
		},
	}
}

func botPackageOptions() Options[models.BotPackage] {
	return Options[models.BotPackage]{
		Search: func(p *models.BotPackage) []string {
			return []string{p.Name, p.Description}
		},
		Enums: map[string]func(*models.BotPackage) string{
			"is_active": func(p *models.BotPackage) string {
				if p.IsActive {
					return "true"
				}
				return "false"
			},
		},
		Editable: map[string]Column{
			"name":        {Kind: KindString},
			"description": {Kind: KindString, Nullable: true},
			"price":       {Kind: KindDecimal},
			"features":    {Kind: KindJSON},
			"is_active":   {Kind: KindBool},
		},
		Creatable: true,
		Deletable: true,
		Validate: func(p *models.BotPackage) map[string]string {
			fields := map[string]string{}
			if strings.TrimSpace(p.Name) == "" {
				fields["name"] = "required"
			}
			if p.Price.IsNegative() {
				fields["price"] = "must not be negative"
			}
			return fields
		},
		BeforeCreate: func(_ *auth.Session, p *models.BotPackage) {
			if len(p.Features) == 0 {
				p.Features = []byte(`[]`)
			}
		},
	}
}

func newsOptions() Options[models.NewsArticle] {
	return Options[models.NewsArticle]{
		Search: func(a *models.NewsArticle) []string {
			return []string{a.Title, a.Summary, a.Source}
		},
		Enums: map[string]func(*models.NewsArticle) string{
			"category": func(a *models.NewsArticle) string { return a.Category },
			"source":   func(a *models.NewsArticle) string { return a.Source },
		},
		Editable: map[string]Column{
			"title":        {Kind: KindString},
			"summary":      {Kind: KindString, Nullable: true},
			"url":          {Kind: KindString},
			"source":       {Kind: KindString, Nullable: true},
			"category":     {Kind: KindString, Nullable: true},
			"published_at": {Kind: KindTime},
		},
		Creatable: true,
		Deletable: true,
		Validate: func(a *models.NewsArticle) map[string]string {
			fields := map[string]string{}
			if strings.TrimSpace(a.Title) == "" {
				fields["title"] = "required"
			}
			if strings.TrimSpace(a.URL) == "" {
				fields["url"] = "required"
			}
			return fields
		},
		BeforeCreate: func(_ *auth.Session, a *models.NewsArticle) {
			if a.PublishedAt.IsZero() {
				a.PublishedAt = time.Now().UTC()
			}
		},
	}
}

func systemConfigOptions() Options[models.SystemConfig] {
	return Options[models.SystemConfig]{
		Search: func(c *models.SystemConfig) []string {
			return []string{c.Key, c.Description}
		},
		Editable: map[string]Column{
			"value":       {Kind: KindJSON},
			"description": {Kind: KindString, Nullable: true},
		},
		Creatable: true,
		Deletable: true,
		Validate: func(c *models.SystemConfig) map[string]string {
			fields := map[string]string{}
			if strings.TrimSpace(c.Key) == "" {
				fields["key"] = "required"
			}
			if len(c.Value) == 0 {
				fields["value"] = "required"
			}
			return fields
		},
		BeforeCreate: func(s *auth.Session, c *models.SystemConfig) {
			id := s.UserID
			c.UpdatedBy = &id
		},
		BeforeUpdate: func(s *auth.Session, _ *models.SystemConfig, patch map[string]interface{}) {
			patch["updated_by"] = s.UserID
		},
	}
}

// recovery requests are list/filter only here; mutations go through the recovery service
func recoveryOptions() Options[models.RecoveryRequest] {
	return Options[models.RecoveryRequest]{
		Search: func(r *models.RecoveryRequest) []string {
			return []string{r.Title, r.Description, r.Currency, r.AdminNotes}
		},
		Enums: map[string]func(*models.RecoveryRequest) string{
			"status":         func(r *models.RecoveryRequest) string { return string(r.Status) },
			"recovery_type":  func(r *models.RecoveryRequest) string { return string(r.RecoveryType) },
			"contact_method": func(r *models.RecoveryRequest) string { return string(r.ContactMethod) },
		},
		Owner: func(r *models.RecoveryRequest) uuid.UUID { return r.UserID },
	}
}

func auditLogOptions() Options[models.AuditLog] {
	return Options[models.AuditLog]{
		Search: func(l *models.AuditLog) []string {
			return []string{l.Action, l.ResourceID, l.IPAddress}
		},
		Enums: map[string]func(*models.AuditLog) string{
			"resource": func(l *models.AuditLog) string { return l.Resource },
			"action":   func(l *models.AuditLog) string { return l.Action },
		},
	}
}

func notificationOptions() Options[models.Notification] {
	return Options[models.Notification]{
		Search: func(n *models.Notification) []string {
			return []string{n.Title, n.Message}
		},
		Enums: map[string]func(*models.Notification) string{
			"type": func(n *models.Notification) string { return n.Type },
		},
		Creatable: true,
		Deletable: true,
		Owner:     func(n *models.Notification) uuid.UUID { return n.UserID },
		Validate: func(n *models.Notification) map[string]string {
			fields := map[string]string{}
			if n.UserID == uuid.Nil {
				fields["user_id"] = "required"
			}
			if strings.TrimSpace(n.Title) == "" {
				fields["title"] = "required"
			}
			return fields
		},
		BeforeCreate: func(_ *auth.Session, n *models.Notification) {
			n.Read = false
			if n.Type == "" {
				n.Type = "info"
			}
		},
	}
}

package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"harmonyshield/internal/audit"
	"harmonyshield/internal/auth"
	"harmonyshield/internal/config"
	"harmonyshield/internal/database/databasetest"
	"harmonyshield/internal/models"
	"harmonyshield/internal/realtime"
	"harmonyshield/internal/remote"
	"harmonyshield/internal/repository"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []realtime.Change
}

func (p *recordingPublisher) Publish(ctx context.Context, change realtime.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

// countingStore counts Create calls and can be told to fail them
type countingStore struct {
	*repository.RecoveryRepository
	creates   int
	createErr error
}

func (s *countingStore) Create(ctx context.Context, req *models.RecoveryRequest) error {
	s.creates++
	if s.createErr != nil {
		return s.createErr
	}
	return s.RecoveryRepository.Create(ctx, req)
}

type fakeConfirmer struct {
	requests []*models.RecoveryRequest
	emails   []string
}

func (f *fakeConfirmer) Confirm(ctx context.Context, req *models.RecoveryRequest, email string) {
	f.requests = append(f.requests, req)
	f.emails = append(f.emails, email)
}

type fixture struct {
	service   *Service
	store     *countingStore
	publisher *recordingPublisher
	confirmer *fakeConfirmer
	audits    *repository.AuditRepository
	user      *auth.Session
	admin     *auth.Session
}

func newFixture(t *testing.T, cfg config.RecoveryConfig) *fixture {
	t.Helper()
	db := databasetest.New(t)

	f := &fixture{
		store:     &countingStore{RecoveryRepository: repository.NewRecoveryRepository(db.DB())},
		publisher: &recordingPublisher{},
		confirmer: &fakeConfirmer{},
		audits:    repository.NewAuditRepository(db.DB()),
		user:      &auth.Session{UserID: uuid.New(), Email: "victim@example.com", Role: models.RoleUser},
		admin:     &auth.Session{UserID: uuid.New(), Email: "admin@example.com", Role: models.RoleAdmin},
	}
	trail := audit.NewTrail(f.audits, nil, zap.NewNop())
	f.service = NewService(f.store, trail, f.publisher, f.confirmer, cfg, zap.NewNop())
	return f
}

func defaultConfig() config.RecoveryConfig {
	return config.RecoveryConfig{ConfirmTypes: []string{"cash"}, MaxConfirmationAttempts: 1, OutboxBuffer: 8}
}

func validCommon() Common {
	return Common{
		Title:         "Fake investment broker",
		Description:   "Transferred savings to a broker that vanished.",
		IncidentDate:  "2026-09-14",
		AmountLost:    "1500.50",
		Currency:      "USD",
		ContactMethod: "both",
		ContactEmail:  "victim@example.com",
		ContactPhone:  "+15551234567",
	}
}

func validCashForm() *CashForm {
	return &CashForm{
		Common:               validCommon(),
		BankName:             "First Bank",
		AccountNumber:        "4321",
		TransactionReference: "TX-991",
	}
}

func TestSubmit_CashScenario(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req, err := f.service.Submit(ctx, f.user, validCashForm())
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.creates)

	stored, err := f.store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryTypeCash, stored.RecoveryType)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.True(t, stored.AmountLost.Equal(decimal.RequireFromString("1500.50")))
	assert.Equal(t, "USD", stored.Currency)
	assert.Equal(t, f.user.UserID, stored.UserID)
	assert.True(t, stored.HasPayloadFor())
	assert.Empty(t, stored.ProgressUpdates)
	require.NotNil(t, stored.TransactionReference)
	assert.Equal(t, "TX-991", *stored.TransactionReference)

	require.Len(t, f.publisher.changes, 1)
	assert.Equal(t, "recovery_requests", f.publisher.changes[0].Table)
	assert.Equal(t, realtime.OpInsert, f.publisher.changes[0].Op)
	assert.Equal(t, f.user.UserID.String(), f.publisher.changes[0].OwnerID)

	require.Len(t, f.confirmer.requests, 1)
	assert.Equal(t, "victim@example.com", f.confirmer.emails[0])
}

func TestSubmit_CryptoMissingWalletIsBlocked(t *testing.T) {
	f := newFixture(t, defaultConfig())

	form := &CryptoForm{
		Common:            validCommon(),
		WalletAddress:     "",
		BlockchainNetwork: "ethereum",
	}
	_, err := f.service.Submit(context.Background(), f.user, form)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "required", verr.Fields["wallet_address"])
	assert.Equal(t, 0, f.store.creates)
	assert.Empty(t, f.publisher.changes)
}

func TestSubmit_OnlyConfiguredTypesAreConfirmed(t *testing.T) {
	f := newFixture(t, defaultConfig())

	form := &CryptoForm{
		Common:            validCommon(),
		WalletAddress:     "0x52908400098527886E0F7030069857D2E4169EE7",
		BlockchainNetwork: "ethereum",
		ScamPlatform:      "Telegram",
		ScamType:          "investment",
	}
	req, err := f.service.Submit(context.Background(), f.user, form)
	require.NoError(t, err)
	assert.True(t, req.HasPayloadFor())
	assert.Equal(t, "Telegram", req.ContactDetails.Data().Extras["scam_platform"])
	assert.Empty(t, f.confirmer.requests)
}

func TestSubmit_RequiresSession(t *testing.T) {
	f := newFixture(t, defaultConfig())

	_, err := f.service.Submit(context.Background(), nil, validCashForm())
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.Equal(t, 0, f.store.creates)
}

func TestSubmit_StoreFailure(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.store.createErr = errors.New("connection reset")

	_, err := f.service.Submit(context.Background(), f.user, validCashForm())
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Equal(t, 1, f.store.creates)
	assert.Empty(t, f.confirmer.requests)
}

func TestSubmit_CurrencyStoredAsSubmitted(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	for _, code := range []string{"usd", "Eur", "USDT"} {
		form := validCashForm()
		form.Currency = code
		req, err := f.service.Submit(ctx, f.user, form)
		require.NoError(t, err)

		stored, err := f.store.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, code, stored.Currency)
	}

	form := validCashForm()
	form.Currency = " usd "
	_, err := f.service.Submit(ctx, f.user, form)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must not start or end with spaces", verr.Fields["currency"])
}

func TestSubmit_PaddedTextIsMeasuredTrimmed(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	form := validCashForm()
	form.Description = "         x"
	_, err := f.service.Submit(ctx, f.user, form)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must be at least 10 characters", verr.Fields["description"])

	crypto := &CryptoForm{
		Common:            validCommon(),
		WalletAddress:     "          ",
		BlockchainNetwork: "bitcoin",
	}
	_, err = f.service.Submit(ctx, f.user, crypto)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "required", verr.Fields["wallet_address"])
	assert.Equal(t, 0, f.store.creates)

	form = validCashForm()
	form.Description = "  Transferred savings to a broker.  "
	req, err := f.service.Submit(ctx, f.user, form)
	require.NoError(t, err)
	stored, err := f.store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Transferred savings to a broker.", stored.Description)
}

func TestValidate_FieldMessages(t *testing.T) {
	tests := []struct {
		name   string
		form   Form
		field  string
		expect string
	}{
		{
			name: "short description",
			form: func() Form {
				form := validCashForm()
				form.Description = "too short"
				return form
			}(),
			field:  "description",
			expect: "must be at least 10 characters",
		},
		{
			name: "negative amount",
			form: func() Form {
				form := validCashForm()
				form.AmountLost = "-5"
				return form
			}(),
			field:  "amount_lost",
			expect: "must be a non-negative amount",
		},
		{
			name: "bad email",
			form: func() Form {
				form := validCashForm()
				form.ContactEmail = "not-an-email"
				return form
			}(),
			field:  "contact_email",
			expect: "must be a valid email address",
		},
		{
			name: "phone required for phone contact",
			form: func() Form {
				form := validCashForm()
				form.ContactMethod = "phone"
				form.ContactPhone = ""
				return form
			}(),
			field:  "contact_phone",
			expect: "required",
		},
		{
			name: "unknown contact method",
			form: func() Form {
				form := validCashForm()
				form.ContactMethod = "fax"
				return form
			}(),
			field:  "contact_method",
			expect: "must be one of: email, phone, both",
		},
		{
			name: "card last four",
			form: &CardsForm{
				Common:         validCommon(),
				CardType:       "credit",
				CardIssuer:     "Visa",
				LastFourDigits: "12a4",
				FraudType:      "skimming",
			},
			field:  "last_four_digits",
			expect: "must contain digits only",
		},
		{
			name: "dispute reference required when filed",
			form: &CardsForm{
				Common:         validCommon(),
				CardType:       "debit",
				CardIssuer:     "Mastercard",
				LastFourDigits: "1234",
				FraudType:      "phishing",
				DisputeFiled:   true,
			},
			field:  "dispute_reference",
			expect: "required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := tt.form.Validate()
			require.Contains(t, fields, tt.field)
			assert.Equal(t, tt.expect, fields[tt.field])
		})
	}

	assert.Nil(t, validCashForm().Validate())
}

func TestUpdateStatus_PendingToClosed(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req, err := f.service.Submit(ctx, f.user, validCashForm())
	require.NoError(t, err)

	updated, err := f.service.UpdateStatus(ctx, f.admin, req.ID, StatusUpdate{Status: models.StatusClosed})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, updated.Status)
	require.Len(t, updated.ProgressUpdates, 1)
	assert.Equal(t, "Status changed to closed", updated.ProgressUpdates[0].Message)

	stored, err := f.store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, stored.Status)
	assert.Equal(t, models.RecoveryTypeCash, stored.RecoveryType)
	assert.Equal(t, f.user.UserID, stored.UserID)

	logs, err := f.audits.List(ctx, "recovery_requests", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "update_status", logs[0].Action)
	assert.Equal(t, f.admin.UserID, logs[0].AdminID)
}

func TestUpdateStatus_NonStrictAllowsBackward(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req, err := f.service.Submit(ctx, f.user, validCashForm())
	require.NoError(t, err)

	_, err = f.service.UpdateStatus(ctx, f.admin, req.ID, StatusUpdate{Status: models.StatusCompleted})
	require.NoError(t, err)
	updated, err := f.service.UpdateStatus(ctx, f.admin, req.ID, StatusUpdate{Status: models.StatusInvestigating})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvestigating, updated.Status)
}

func TestUpdateStatus_StrictRejectsBackward(t *testing.T) {
	cfg := defaultConfig()
	cfg.StrictTransitions = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	req, err := f.service.Submit(ctx, f.user, validCashForm())
	require.NoError(t, err)

	_, err = f.service.UpdateStatus(ctx, f.admin, req.ID, StatusUpdate{Status: models.StatusInProgress})
	require.NoError(t, err)

	_, err = f.service.UpdateStatus(ctx, f.admin, req.ID, StatusUpdate{Status: models.StatusPending})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := f.store.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.Len(t, stored.ProgressUpdates, 1)

	_, err = f.service.UpdateStatus(ctx, f.admin, req.ID, StatusUpdate{Status: models.StatusClosed})
	assert.NoError(t, err)
}

func TestUpdateStatus_Authorization(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req, err := f.service.Submit(ctx, f.user, validCashForm())
	require.NoError(t, err)

	_, err = f.service.UpdateStatus(ctx, f.user, req.ID, StatusUpdate{Status: models.StatusClosed})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.service.UpdateStatus(ctx, nil, req.ID, StatusUpdate{Status: models.StatusClosed})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = f.service.UpdateStatus(ctx, f.admin, req.ID, StatusUpdate{Status: "archived"})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.service.UpdateStatus(ctx, f.admin, uuid.New(), StatusUpdate{Status: models.StatusClosed})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAppendProgress_TimestampsNonDecreasing(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req, err := f.service.Submit(ctx, f.user, validCashForm())
	require.NoError(t, err)

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(time.Minute)}
	i := 0
	f.service.now = func() time.Time {
		ts := clock[i]
		i++
		return ts
	}

	_, err = f.service.UpdateStatus(ctx, f.admin, req.ID, StatusUpdate{Status: models.StatusInvestigating, Message: "Assigned to team"})
	require.NoError(t, err)
	_, err = f.service.AppendProgress(ctx, f.admin, req.ID, ProgressNote{Message: "Contacted bank"})
	require.NoError(t, err)
	updated, err := f.service.AppendProgress(ctx, f.admin, req.ID, ProgressNote{Message: "Bank replied", AdminNotes: "ref 77"})
	require.NoError(t, err)

	require.Len(t, updated.ProgressUpdates, 3)
	for j := 1; j < len(updated.ProgressUpdates); j++ {
		assert.False(t, updated.ProgressUpdates[j].Timestamp.Before(updated.ProgressUpdates[j-1].Timestamp))
	}
	assert.True(t, updated.ProgressUpdates[1].Timestamp.Equal(base), "clamped to the previous entry")
	assert.Equal(t, models.StatusInvestigating, updated.ProgressUpdates[2].Status)

	_, err = f.service.AppendProgress(ctx, f.admin, req.ID, ProgressNote{})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestAssignAndNotes(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req, err := f.service.Submit(ctx, f.user, validCashForm())
	require.NoError(t, err)

	_, err = f.service.Assign(ctx, f.admin, req.ID, &f.admin.UserID)
	require.NoError(t, err)
	updated, err := f.service.UpdateNotes(ctx, f.admin, req.ID, "Police report CR-2026-118")
	require.NoError(t, err)

	require.NotNil(t, updated.AssignedAdminID)
	assert.Equal(t, f.admin.UserID, *updated.AssignedAdminID)
	assert.Equal(t, "Police report CR-2026-118", updated.AdminNotes)
	assert.Equal(t, models.StatusPending, updated.Status)
}

func TestGet_OwnerOrAdmin(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req, err := f.service.Submit(ctx, f.user, validCashForm())
	require.NoError(t, err)

	_, err = f.service.Get(ctx, f.user, req.ID)
	assert.NoError(t, err)
	_, err = f.service.Get(ctx, f.admin, req.ID)
	assert.NoError(t, err)

	stranger := &auth.Session{UserID: uuid.New(), Role: models.RoleUser}
	_, err = f.service.Get(ctx, stranger, req.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	mine, err := f.service.ListMine(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = f.service.List(ctx, f.user, repository.RecoveryFilter{})
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestBuildTimeline(t *testing.T) {
	states := func(tl Timeline) []MilestoneState {
		out := make([]MilestoneState, len(tl.Milestones))
		for i, m := range tl.Milestones {
			out[i] = m.State
		}
		return out
	}

	tests := []struct {
		status models.RecoveryStatus
		want   []MilestoneState
	}{
		{models.StatusPending, []MilestoneState{MilestoneCompleted, MilestoneCurrent, MilestoneUpcoming, MilestoneUpcoming}},
		{models.StatusInProgress, []MilestoneState{MilestoneCompleted, MilestoneCompleted, MilestoneCompleted, MilestoneCurrent}},
		{models.StatusCompleted, []MilestoneState{MilestoneCompleted, MilestoneCompleted, MilestoneCompleted, MilestoneCompleted}},
		{models.StatusClosed, []MilestoneState{MilestoneCompleted, MilestoneCompleted, MilestoneCompleted, MilestoneCompleted}},
		{"unknown", []MilestoneState{MilestoneCurrent, MilestoneUpcoming, MilestoneUpcoming, MilestoneUpcoming}},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, states(BuildTimeline(tt.status, nil)))
		})
	}
}

func TestBuildTimeline_UpdatesAsStored(t *testing.T) {
	now := time.Now().UTC()
	updates := models.ProgressUpdates{
		{Status: models.StatusInvestigating, Message: "first", Timestamp: now},
		{Status: models.StatusInProgress, Message: "second", Timestamp: now.Add(time.Hour)},
	}

	tl := BuildTimeline(models.StatusInProgress, updates)
	require.Len(t, tl.Updates, 2)
	assert.Equal(t, "first", tl.Updates[0].Message)
	assert.Equal(t, "second", tl.Updates[1].Message)
	assert.Equal(t, MilestoneCurrent, tl.Milestones[3].State)
	assert.Equal(t, models.StatusCompleted, tl.Milestones[3].Status)
}

type fakeMailer struct {
	mu    sync.Mutex
	sent  []remote.RecoveryEmail
	err   error
	calls chan struct{}
}

func (m *fakeMailer) SendRecoveryEmail(ctx context.Context, email remote.RecoveryEmail) error {
	m.mu.Lock()
	m.sent = append(m.sent, email)
	m.mu.Unlock()
	if m.calls != nil {
		m.calls <- struct{}{}
	}
	return m.err
}

func newOutboxFixture(t *testing.T, mailer *fakeMailer, cfg config.RecoveryConfig) (*Outbox, *repository.RecoveryRepository, *repository.OutboxRepository, *repository.NotificationRepository) {
	t.Helper()
	db := databasetest.New(t)
	requests := repository.NewRecoveryRepository(db.DB())
	outboxRepo := repository.NewOutboxRepository(db.DB())
	notifications := repository.NewNotificationRepository(db.DB())
	return NewOutbox(outboxRepo, requests, mailer, notifications, cfg, zap.NewNop()), requests, outboxRepo, notifications
}

func createRequest(t *testing.T, repo *repository.RecoveryRepository) *models.RecoveryRequest {
	t.Helper()
	req, err := validCashForm().build(uuid.New())
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), req))
	return req
}

func TestOutbox_DispatchesAfterCommit(t *testing.T) {
	mailer := &fakeMailer{calls: make(chan struct{}, 1)}
	outbox, requests, outboxRepo, notifications := newOutboxFixture(t, mailer, defaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go outbox.Run(ctx)

	req := createRequest(t, requests)
	outbox.Confirm(ctx, req, "victim@example.com")

	select {
	case <-mailer.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation email was not sent")
	}

	require.Eventually(t, func() bool {
		n, err := outboxRepo.Backlog(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	list, err := notifications.ListByUser(context.Background(), req.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "recovery", list[0].Type)

	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	assert.Equal(t, "1500.5", mailer.sent[0].AmountLost)
	assert.Equal(t, req.ID.String(), mailer.sent[0].RequestID)
}

func TestOutbox_FailureIsRecordedNotRetried(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp unavailable")}
	outbox, requests, outboxRepo, notifications := newOutboxFixture(t, mailer, defaultConfig())
	ctx := context.Background()

	req := createRequest(t, requests)
	outbox.Confirm(ctx, req, "victim@example.com")

	delivered, err := outbox.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	pending, err := outboxRepo.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "a single attempt marks the row failed")

	// the request and the notification survive the email failure
	_, err = requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	list, err := notifications.ListByUser(ctx, req.UserID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	again, err := outbox.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
	assert.Len(t, mailer.sent, 1)
}

func TestOutbox_RetriesUpToMaxAttempts(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxConfirmationAttempts = 2
	mailer := &fakeMailer{err: errors.New("timeout")}
	outbox, requests, outboxRepo, _ := newOutboxFixture(t, mailer, cfg)
	ctx := context.Background()

	req := createRequest(t, requests)
	outbox.Confirm(ctx, req, "victim@example.com")

	_, err := outbox.Sweep(ctx)
	require.NoError(t, err)
	pending, err := outboxRepo.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	mailer.err = nil
	delivered, err := outbox.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	entry, err := outboxRepo.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxDelivered, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"harmonyshield/internal/models"
	"harmonyshield/internal/repository"
)

// MockProfileStore keeps profiles in memory
type MockProfileStore struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.UserProfile
}

func newMockProfileStore() *MockProfileStore {
	return &MockProfileStore{profiles: make(map[uuid.UUID]*models.UserProfile)}
}

func (m *MockProfileStore) GetByEmail(_ context.Context, email string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockProfileStore) Create(_ context.Context, p *models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *MockProfileStore) RoleOf(_ context.Context, id uuid.UUID) (models.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || !p.IsActive {
		return "", repository.ErrNotFound
	}
	return p.Role, nil
}

func (m *MockProfileStore) TouchLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[id]; ok {
		p.LastLogin = &at
	}
	return nil
}

func (m *MockProfileStore) setRole(id uuid.UUID, role models.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[id].Role = role
}

func newTestService(store ProfileStore) *Service {
	return NewService(store, "test-secret", time.Hour, bcrypt.MinCost, zap.NewNop())
}

func TestService_RegisterAndLogin(t *testing.T) {
	store := newMockProfileStore()
	svc := newTestService(store)
	ctx := context.Background()

	profile, err := svc.Register(ctx, "Victim@Example.com", "correct horse", "Vic Tim")
	require.NoError(t, err)
	assert.Equal(t, "victim@example.com", profile.Email)
	assert.Equal(t, models.RoleUser, profile.Role)

	_, err = svc.Register(ctx, "victim@example.com", "another", "Dup")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Login(ctx, "victim@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := svc.Login(ctx, "victim@example.com", "correct horse")
	require.NoError(t, err)
	require.NotNil(t, res.Profile.LastLogin)

	session, err := svc.ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, session.UserID)
	assert.Equal(t, models.RoleUser, session.Role)
}

func TestService_ParseToken_Rejects(t *testing.T) {
	store := newMockProfileStore()
	svc := newTestService(store)

	profile := &models.UserProfile{Base: models.Base{ID: uuid.New()}, Email: "a@example.com", Role: models.RoleUser}
	token, _, err := svc.IssueToken(profile)
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewService(store, "other-secret", time.Hour, bcrypt.MinCost, zap.NewNop())
		_, err := other.ParseToken(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("expired", func(t *testing.T) {
		expired := newTestService(store)
		expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := expired.ParseToken(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ParseToken("not-a-token")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestSession_RequireAdmin(t *testing.T) {
	var nilSession *Session
	assert.ErrorIs(t, nilSession.RequireAdmin(), ErrUnauthenticated)
	assert.ErrorIs(t, (&Session{UserID: uuid.New(), Role: models.RoleUser}).RequireAdmin(), ErrForbidden)
	assert.NoError(t, (&Session{UserID: uuid.New(), Role: models.RoleAdmin}).RequireAdmin())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := newMockProfileStore()
	svc := newTestService(store)

	user := &models.UserProfile{Email: "u@example.com", Role: models.RoleUser, IsActive: true}
	require.NoError(t, store.Create(context.Background(), user))
	token, _, err := svc.IssueToken(user)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/me", RequireSession(svc), func(c *gin.Context) {
		s, ok := SessionFrom(c)
		require.True(t, ok)
		fromCtx, ok := FromContext(c.Request.Context())
		require.True(t, ok)
		assert.Equal(t, s.UserID, fromCtx.UserID)
		c.JSON(http.StatusOK, s)
	})
	router.GET("/admin", RequireSession(svc), RequireAdmin(svc), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	t.Run("missing session redirects to login", func(t *testing.T) {
		rr := do("/me", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), `"redirect":"/auth"`)
	})

	t.Run("valid session passes", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do("/me", token).Code)
	})

	t.Run("non admin redirects to landing", func(t *testing.T) {
		rr := do("/admin", token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Contains(t, rr.Body.String(), `"redirect":"/"`)
	})

	t.Run("role is looked up, not trusted from the token", func(t *testing.T) {
		store.setRole(user.ID, models.RoleAdmin)
		assert.Equal(t, http.StatusNoContent, do("/admin", token).Code)
	})
}

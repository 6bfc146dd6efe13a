package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmonyshield/internal/auth"
	"harmonyshield/internal/config"
	"harmonyshield/internal/models"
)

func TestEvidenceKey(t *testing.T) {
	userID := uuid.New()

	key := EvidenceKey(userID, "../../etc/bank statement (1).pdf")
	assert.True(t, strings.HasPrefix(key, userID.String()+"/"))
	assert.True(t, strings.HasSuffix(key, "_bank_statement_1_.pdf"))
	assert.NotContains(t, key, "..")

	assert.True(t, strings.HasSuffix(EvidenceKey(userID, "..."), "_file"))
}

func TestEvidence_LocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend := NewLocalStorage(config.StorageConfig{LocalPath: dir, PublicBaseURL: "/evidence/"})
	evidence := NewEvidence(backend, 1024)
	ctx := context.Background()
	userID := uuid.New()

	body := "screenshot bytes"
	upload, err := evidence.Save(ctx, userID, "chat.png", "image/png", strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, "/evidence/"+upload.Key, upload.URL)
	assert.Equal(t, "image/png", upload.ContentType)

	data, err := backend.Retrieve(ctx, upload.Key)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	owner := &auth.Session{UserID: userID, Role: models.RoleUser}
	data, err = evidence.Open(ctx, owner, upload.Key)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	require.NoError(t, evidence.Delete(ctx, owner, upload.Key))
	_, err = backend.Retrieve(ctx, upload.Key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, evidence.Delete(ctx, owner, upload.Key), ErrNotFound)
}

func TestEvidence_OwnerOrAdmin(t *testing.T) {
	backend := NewLocalStorage(config.StorageConfig{LocalPath: t.TempDir()})
	evidence := NewEvidence(backend, 1024)
	ctx := context.Background()
	ownerID := uuid.New()

	upload, err := evidence.Save(ctx, ownerID, "card.png", "image/png", strings.NewReader("png"), 3)
	require.NoError(t, err)

	other := &auth.Session{UserID: uuid.New(), Role: models.RoleUser}
	_, err = evidence.Open(ctx, other, upload.Key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, evidence.Delete(ctx, other, upload.Key), ErrNotFound)

	_, err = evidence.Open(ctx, nil, upload.Key)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	admin := &auth.Session{UserID: uuid.New(), Role: models.RoleAdmin}
	data, err := evidence.Open(ctx, admin, upload.Key)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	_, err = evidence.Open(ctx, admin, "not-a-user/file.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvidence_Limits(t *testing.T) {
	backend := NewLocalStorage(config.StorageConfig{LocalPath: t.TempDir()})
	evidence := NewEvidence(backend, 4)
	ctx := context.Background()

	_, err := evidence.Save(ctx, uuid.New(), "a.txt", "", strings.NewReader("too long"), 8)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = evidence.Save(ctx, uuid.New(), "a.txt", "", strings.NewReader(""), 0)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	backend := NewLocalStorage(config.StorageConfig{LocalPath: t.TempDir()})
	err := backend.Store(context.Background(), "../outside.txt", "text/plain", strings.NewReader("x"), 1)
	assert.Error(t, err)
}

func TestNewService_UnknownType(t *testing.T) {
	_, err := NewService(context.Background(), config.StorageConfig{Type: "gcs"})
	assert.Error(t, err)
}

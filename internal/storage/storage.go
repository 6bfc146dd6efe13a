package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"harmonyshield/internal/auth"
	"harmonyshield/internal/config"
)

var (
	ErrTooLarge = errors.New("file exceeds maximum upload size")
	ErrEmpty    = errors.New("file is empty")
	ErrNotFound = errors.New("file not found")
)

// Service defines the storage interface
type Service interface {
	Store(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// NewService creates a new storage service based on configuration
func NewService(ctx context.Context, cfg config.StorageConfig) (Service, error) {
	switch cfg.Type {
	case "local":
		return NewLocalStorage(cfg), nil
	case "minio":
		return NewMinioStorage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// EvidenceKey returns the object key for an uploaded evidence file
func EvidenceKey(userID uuid.UUID, fileName string) string {
	name := unsafeChars.ReplaceAllString(filepath.Base(fileName), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "file"
	}
	return path.Join(userID.String(), uuid.NewString()+"_"+name)
}

// Upload is a stored evidence file
type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Evidence stores user evidence files with a size limit
type Evidence struct {
	backend  Service
	maxBytes int64
}

// NewEvidence creates an evidence store over backend
func NewEvidence(backend Service, maxBytes int64) *Evidence {
	return &Evidence{backend: backend, maxBytes: maxBytes}
}

// Save stores one file under the user's prefix
func (e *Evidence) Save(ctx context.Context, userID uuid.UUID, fileName, contentType string, r io.Reader, size int64) (*Upload, error) {
	if size <= 0 {
		return nil, ErrEmpty
	}
	if e.maxBytes > 0 && size > e.maxBytes {
		return nil, ErrTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := EvidenceKey(userID, fileName)
	if err := e.backend.Store(ctx, key, contentType, io.LimitReader(r, size), size); err != nil {
		return nil, err
	}
	return &Upload{Key: key, URL: e.backend.URL(key), Size: size, ContentType: contentType}, nil
}

// Open reads a file visible to the session: its uploader or an admin.
// Anyone else gets ErrNotFound.
func (e *Evidence) Open(ctx context.Context, session *auth.Session, key string) ([]byte, error) {
	if err := authorize(session, key); err != nil {
		return nil, err
	}
	return e.backend.Retrieve(ctx, key)
}

// Delete removes a file owned by the session user, or any file for an admin
func (e *Evidence) Delete(ctx context.Context, session *auth.Session, key string) error {
	if err := authorize(session, key); err != nil {
		return err
	}
	return e.backend.Delete(ctx, key)
}

// KeyOwner returns the user an evidence key was stored for
func KeyOwner(key string) (uuid.UUID, bool) {
	prefix, _, ok := strings.Cut(key, "/")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(prefix)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func authorize(session *auth.Session, key string) error {
	if session == nil || session.UserID == uuid.Nil {
		return auth.ErrUnauthenticated
	}
	owner, ok := KeyOwner(key)
	if !ok {
		return ErrNotFound
	}
	if owner != session.UserID && !session.IsAdmin() {
		return ErrNotFound
	}
	return nil
}

// LocalStorage implements local file system storage
type LocalStorage struct {
	basePath  string
	publicURL string
}

// NewLocalStorage creates a new local storage service
func NewLocalStorage(cfg config.StorageConfig) *LocalStorage {
	return &LocalStorage{
		basePath:  cfg.LocalPath,
		publicURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

func (ls *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(ls.basePath, clean), nil
}

// Store saves a file to local storage
func (ls *LocalStorage) Store(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	p, err := ls.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return f.Close()
}

// Retrieve reads a file from local storage
func (ls *LocalStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	p, err := ls.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := ls.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// URL returns the public path the server exposes the file under
func (ls *LocalStorage) URL(key string) string {
	return ls.publicURL + "/" + key
}

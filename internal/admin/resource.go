package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"harmonyshield/internal/auth"
	"harmonyshield/internal/realtime"
	"harmonyshield/internal/repository"
)

var ErrNotAllowed = errors.New("operation not allowed on this resource")

// ValidationError reports rejected fields of a create or patch payload
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "invalid fields: " + strings.Join(names, ", ")
}

// Backend is the table access a resource needs
type Backend[T any] interface {
	Table() string
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id uuid.UUID) (*T, error)
	Create(ctx context.Context, item *T) error
	Update(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (*T, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditRecorder writes admin audit entries
type AuditRecorder interface {
	Record(ctx context.Context, entry repository.AuditEntry) error
}

// Kind is how a patchable column is decoded
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindDecimal
	KindJSON
	KindTime
	KindUUID
)

// Column describes one editable column
type Column struct {
	Kind     Kind
	Allowed  []string
	Nullable bool
	Min, Max *int
}

// Query is a client-side style filter over a loaded list
type Query struct {
	Search string `form:"search"`
	Field  string `form:"field"`
	Value  string `form:"value"`
}

// Options declares what a resource allows
type Options[T any] struct {
	// Search returns the text fields matched by Query.Search
	Search func(*T) []string
	// Enums maps a filterable field to its accessor
	Enums map[string]func(*T) string
	// Editable is the column allow-list for Mutate, keyed by column name
	Editable  map[string]Column
	Creatable bool
	Deletable bool
	// Validate checks a create payload
	Validate func(*T) map[string]string
	// BeforeCreate fills server-owned fields of a new row
	BeforeCreate func(session *auth.Session, item *T)
	// BeforeUpdate may add server-owned columns to a patch
	BeforeUpdate func(session *auth.Session, current *T, patch map[string]interface{})
	// Owner returns the user a row belongs to, scoping its realtime changes
	Owner func(*T) uuid.UUID
}

// Resource is the list/detail contract behind one admin screen
type Resource[T any] struct {
	backend   Backend[T]
	opts      Options[T]
	audit     AuditRecorder
	publisher realtime.Publisher
	logger    *zap.Logger
}

// NewResource creates a resource over backend
func NewResource[T any](backend Backend[T], opts Options[T], audit AuditRecorder, publisher realtime.Publisher, logger *zap.Logger) *Resource[T] {
	return &Resource[T]{
		backend:   backend,
		opts:      opts,
		audit:     audit,
		publisher: publisher,
		logger:    logger.Named("admin").With(zap.String("resource", backend.Table())),
	}
}

// Table returns the backing table name
func (r *Resource[T]) Table() string {
	return r.backend.Table()
}

// Load reads every row in a stable order
func (r *Resource[T]) Load(ctx context.Context, session *auth.Session) ([]T, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}
	return r.backend.List(ctx)
}

// Get reads one row
func (r *Resource[T]) Get(ctx context.Context, session *auth.Session, id uuid.UUID) (*T, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}
	return r.backend.Get(ctx, id)
}

// Filter narrows an already loaded list by case-insensitive substring over
// the search fields and by exact enum equality.
func (r *Resource[T]) Filter(items []T, q Query) ([]T, error) {
	var enum func(*T) string
	if q.Field != "" {
		var ok bool
		enum, ok = r.opts.Enums[q.Field]
		if !ok {
			return nil, &ValidationError{Fields: map[string]string{"field": "not filterable"}}
		}
	}

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]T, 0, len(items))
	for i := range items {
		item := &items[i]
		if enum != nil && q.Value != "" && enum(item) != q.Value {
			continue
		}
		if needle != "" && !r.matches(item, needle) {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (r *Resource[T]) matches(item *T, needle string) bool {
	if r.opts.Search == nil {
		return false
	}
	for _, field := range r.opts.Search(item) {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// Mutate applies a patch of allow-listed columns to one row
func (r *Resource[T]) Mutate(ctx context.Context, session *auth.Session, id uuid.UUID, raw map[string]json.RawMessage) (*T, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}
	if len(r.opts.Editable) == 0 {
		return nil, ErrNotAllowed
	}

	patch, err := r.decode(raw)
	if err != nil {
		return nil, err
	}

	if r.opts.BeforeUpdate != nil {
		current, err := r.backend.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		r.opts.BeforeUpdate(session, current, patch)
	}

	item, err := r.backend.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	r.record(ctx, session, "update", id, raw)
	r.publish(ctx, realtime.OpUpdate, id, item)
	return item, nil
}

// Create inserts a new row
func (r *Resource[T]) Create(ctx context.Context, session *auth.Session, item *T) (*T, error) {
	if err := session.RequireAdmin(); err != nil {
		return nil, err
	}
	if !r.opts.Creatable {
		return nil, ErrNotAllowed
	}

	if b, ok := any(item).(interface{ ResetIdentity() }); ok {
		b.ResetIdentity()
	}
	if r.opts.Validate != nil {
		if fields := r.opts.Validate(item); len(fields) > 0 {
			return nil, &ValidationError{Fields: fields}
		}
	}
	if r.opts.BeforeCreate != nil {
		r.opts.BeforeCreate(session, item)
	}

	if err := r.backend.Create(ctx, item); err != nil {
		return nil, err
	}

	id := primaryKey(item)
	r.record(ctx, session, "create", id, item)
	r.publish(ctx, realtime.OpInsert, id, item)
	return item, nil
}

// Delete removes a row
func (r *Resource[T]) Delete(ctx context.Context, session *auth.Session, id uuid.UUID) error {
	if err := session.RequireAdmin(); err != nil {
		return err
	}
	if !r.opts.Deletable {
		return ErrNotAllowed
	}

	var current *T
	if r.opts.Owner != nil {
		item, err := r.backend.Get(ctx, id)
		if err != nil {
			return err
		}
		current = item
	}

	if err := r.backend.Delete(ctx, id); err != nil {
		return err
	}

	r.record(ctx, session, "delete", id, nil)
	r.publish(ctx, realtime.OpDelete, id, current)
	return nil
}

func (r *Resource[T]) decode(raw map[string]json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"patch": "required"}}
	}

	patch := make(map[string]interface{}, len(raw))
	fields := make(map[string]string)
	for name, value := range raw {
		col, ok := r.opts.Editable[name]
		if !ok {
			fields[name] = "not editable"
			continue
		}
		v, err := col.decode(value)
		if err != nil {
			fields[name] = err.Error()
			continue
		}
		patch[name] = v
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return patch, nil
}

func (c Column) decode(raw json.RawMessage) (interface{}, error) {
	if string(raw) == "null" {
		if !c.Nullable {
			return nil, errors.New("required")
		}
		return nil, nil
	}

	switch c.Kind {
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.New("must be a string")
		}
		s = strings.TrimSpace(s)
		if len(c.Allowed) > 0 && !contains(c.Allowed, s) {
			return nil, fmt.Errorf("must be one of: %s", strings.Join(c.Allowed, ", "))
		}
		if s == "" && !c.Nullable {
			return nil, errors.New("required")
		}
		return s, nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, errors.New("must be a boolean")
		}
		return b, nil
	case KindInt:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, errors.New("must be an integer")
		}
		if c.Min != nil && n < *c.Min {
			return nil, fmt.Errorf("must be at least %d", *c.Min)
		}
		if c.Max != nil && n > *c.Max {
			return nil, fmt.Errorf("must be at most %d", *c.Max)
		}
		return n, nil
	case KindDecimal:
		var d decimal.Decimal
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.New("must be a number")
		}
		if d.IsNegative() {
			return nil, errors.New("must not be negative")
		}
		return d, nil
	case KindJSON:
		if !json.Valid(raw) {
			return nil, errors.New("must be valid JSON")
		}
		return datatypes.JSON(raw), nil
	case KindTime:
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, errors.New("must be an RFC 3339 timestamp")
		}
		return t.UTC(), nil
	case KindUUID:
		var id uuid.UUID
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, errors.New("must be a UUID")
		}
		return id, nil
	}
	return nil, errors.New("unsupported column")
}

func (r *Resource[T]) record(ctx context.Context, session *auth.Session, action string, id uuid.UUID, details interface{}) {
	if r.audit == nil {
		return
	}
	err := r.audit.Record(ctx, repository.AuditEntry{
		AdminID:    session.UserID,
		Action:     action,
		Resource:   r.backend.Table(),
		ResourceID: id.String(),
		Details:    details,
	})
	if err != nil {
		r.logger.Error("Failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (r *Resource[T]) publish(ctx context.Context, op realtime.Operation, id uuid.UUID, item *T) {
	if r.publisher == nil {
		return
	}
	change := realtime.Change{Table: r.backend.Table(), Op: op, RowID: id.String()}
	if r.opts.Owner != nil && item != nil {
		change.OwnerID = r.opts.Owner(item).String()
	}
	if err := r.publisher.Publish(ctx, change); err != nil {
		r.logger.Warn("Failed to publish change", zap.Error(err))
	}
}

func primaryKey(item interface{}) uuid.UUID {
	if pk, ok := item.(interface{ PrimaryKey() uuid.UUID }); ok {
		return pk.PrimaryKey()
	}
	return uuid.Nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func intPtr(n int) *int {
	return &n
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexops/accessgate/internal/gate/entitlement"
	"github.com/lexops/accessgate/internal/gate/gatemetrics"
	"github.com/rs/zerolog/log"
)

const defaultStoreTimeout = 5 * time.Second

// Backend is a keyed-record datastore holding entitlements.
//
// Insert must rely on the datastore's uniqueness constraint on token and
// report a violation as ErrTokenExists. MergeGrant must apply the grant
// atomically in the datastore, keeping stored values for empty incoming
// fields, and report whether a row matched.
type Backend interface {
	Find(ctx context.Context, token string) (*entitlement.Record, error)
	Insert(ctx context.Context, rec *entitlement.Record) error
	MergeGrant(ctx context.Context, rec *entitlement.Record, now time.Time) (bool, error)
	SetStatus(ctx context.Context, token, status string, now time.Time) (bool, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options configures Open.
type Options struct {
	URL      string        // postgres://..., sqlite:///path/file.db, memory:// or a bare file path
	Password string        // optional credential injected into the connection
	Timeout  time.Duration // per-call timeout, default 5s
}

// Store is the entitlement store adapter used by ingestion and validation.
type Store struct {
	backend Backend
	timeout time.Duration
	now     func() time.Time
}

// New wraps a backend. A non-positive timeout selects the default.
func New(backend Backend, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Store{
		backend: backend,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to the datastore named by opts.URL and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return nil, ErrNotConfigured
	}

	var (
		backend Backend
		err     error
	)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		backend, err = NewPostgresBackend(ctx, raw, opts.Password)
	case raw == "memory://":
		backend = NewMemoryBackend()
	default:
		backend, err = NewSQLiteBackend(sqlitePath(raw))
	}
	if err != nil {
		return nil, err
	}
	return New(backend, opts.Timeout), nil
}

func sqlitePath(raw string) string {
	for _, prefix := range []string{"sqlite://", "file:"} {
		if strings.HasPrefix(raw, prefix) {
			return strings.TrimPrefix(raw, prefix)
		}
	}
	return raw
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// UpsertGrant creates or refreshes the entitlement for rec.Token. It returns
// true when a new record was inserted. Applying the same grant repeatedly
// yields the same stored state. The caller's record is left untouched.
func (s *Store) UpsertGrant(ctx context.Context, grant *entitlement.Record) (bool, error) {
	if s == nil || s.backend == nil {
		return false, ErrNotConfigured
	}
	if grant == nil || strings.TrimSpace(grant.Token) == "" {
		return false, fmt.Errorf("upsert grant: token is required")
	}
	stamped := *grant
	rec := &stamped
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	rec.Status = entitlement.StatusPaid

	matched, err := s.backend.MergeGrant(ctx, rec, now)
	if err != nil {
		return false, wrapStoreError("merge grant", err)
	}
	if matched {
		return false, nil
	}

	rec.CreatedAt = now
	rec.UpdatedAt = now
	err = s.backend.Insert(ctx, rec)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrTokenExists) {
		return false, wrapStoreError("insert", err)
	}

	// Another delivery inserted the same token between our merge and insert.
	gatemetrics.InsertRaceFallbacks.Inc()
	log.Info().
		Str("token_prefix", entitlement.TokenPrefix(rec.Token)).
		Msg("Entitlement insert lost uniqueness race, falling back to update")

	matched, err = s.backend.MergeGrant(ctx, rec, now)
	if err != nil {
		return false, wrapStoreError("merge grant after conflict", err)
	}
	if !matched {
		return false, wrapStoreError("merge grant after conflict", fmt.Errorf("token %q rejected as duplicate but not found", entitlement.TokenPrefix(rec.Token)))
	}
	return false, nil
}

// MarkRevoked sets the record status to cancelado. It returns false without
// error when the token is unknown.
func (s *Store) MarkRevoked(ctx context.Context, token string) (bool, error) {
	if s == nil || s.backend == nil {
		return false, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	found, err := s.backend.SetStatus(ctx, token, entitlement.StatusCancelled, s.now())
	if err != nil {
		return false, wrapStoreError("mark revoked", err)
	}
	return found, nil
}

// FindByToken returns the record for token or ErrNotFound.
func (s *Store) FindByToken(ctx context.Context, token string) (*entitlement.Record, error) {
	if s == nil || s.backend == nil {
		return nil, ErrNotConfigured
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.backend.Find(ctx, token)
	if err != nil {
		return nil, wrapStoreError("find", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	if s == nil || s.backend == nil {
		return nil, ErrNotConfigured
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	counts, err := s.backend.CountByStatus(ctx)
	if err != nil {
		return nil, wrapStoreError("count by status", err)
	}
	return counts, nil
}

// Ping checks datastore connectivity (used for readiness probes).
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return ErrNotConfigured
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return wrapStoreError("ping", s.backend.Ping(ctx))
}

// Close releases the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

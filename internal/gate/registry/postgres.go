package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lexops/accessgate/internal/gate/entitlement"
)

const pgUniqueViolation = "23505"

// PostgresBackend stores entitlements in a shared PostgreSQL database.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects to dsn and applies the schema. A non-empty
// password overrides the one embedded in the DSN.
func NewPostgresBackend(ctx context.Context, dsn, password string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if password != "" {
		cfg.ConnConfig.Password = password
	}
	cfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	if err := b.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) initSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitlements (
	token             TEXT PRIMARY KEY,
	email             TEXT NOT NULL DEFAULT '',
	customer_name     TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT '',
	plan              TEXT NOT NULL DEFAULT '',
	provider          TEXT NOT NULL DEFAULT '',
	provider_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	expires_at        TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entitlements_status ON entitlements(status);
CREATE INDEX IF NOT EXISTS idx_entitlements_email ON entitlements(email);
`)
	if err != nil {
		return fmt.Errorf("init entitlement schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}

func (b *PostgresBackend) Find(ctx context.Context, token string) (*entitlement.Record, error) {
	var (
		rec       entitlement.Record
		meta      []byte
		expiresAt *time.Time
	)
	err := b.pool.QueryRow(ctx, `
SELECT token, email, customer_name, status, plan, provider,
	provider_metadata, expires_at, created_at, updated_at
FROM entitlements
WHERE token = $1
LIMIT 1
`, token).Scan(
		&rec.Token, &rec.Email, &rec.CustomerName, &rec.Status, &rec.Plan, &rec.Provider,
		&meta, &expiresAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entitlement: %w", err)
	}

	rec.Metadata, err = decodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if expiresAt != nil {
		ts := expiresAt.UTC()
		rec.ExpiresAt = &ts
	}
	return &rec, nil
}

func (b *PostgresBackend) Insert(ctx context.Context, rec *entitlement.Record) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `
INSERT INTO entitlements (
	token, email, customer_name, status, plan, provider,
	provider_metadata, expires_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10)
`, rec.Token, rec.Email, rec.CustomerName, rec.Status, rec.Plan, rec.Provider,
		meta, rec.ExpiresAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenExists
		}
		return fmt.Errorf("insert entitlement: %w", err)
	}
	return nil
}

func (b *PostgresBackend) MergeGrant(ctx context.Context, rec *entitlement.Record, now time.Time) (bool, error) {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return false, err
	}
	tag, err := b.pool.Exec(ctx, `
UPDATE entitlements SET
	status = $2,
	email = COALESCE(NULLIF($3, ''), email),
	customer_name = COALESCE(NULLIF($4, ''), customer_name),
	plan = COALESCE(NULLIF($5, ''), plan),
	provider = COALESCE(NULLIF($6, ''), provider),
	expires_at = COALESCE($7, expires_at),
	provider_metadata = provider_metadata || $8::jsonb,
	updated_at = $9
WHERE token = $1
`, rec.Token, entitlement.StatusPaid, rec.Email, rec.CustomerName, rec.Plan, rec.Provider,
		rec.ExpiresAt, meta, now)
	if err != nil {
		return false, fmt.Errorf("merge entitlement: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (b *PostgresBackend) SetStatus(ctx context.Context, token, status string, now time.Time) (bool, error) {
	tag, err := b.pool.Exec(ctx, `
UPDATE entitlements SET status = $2, updated_at = $3
WHERE token = $1
`, token, status, now)
	if err != nil {
		return false, fmt.Errorf("set entitlement status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (b *PostgresBackend) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := b.pool.Query(ctx, `SELECT status, COUNT(*) FROM entitlements GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count entitlements by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

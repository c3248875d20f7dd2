package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexops/accessgate/internal/gate/entitlement"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteBackend stores entitlements in a single SQLite file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the entitlement database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entitlement db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		token             TEXT PRIMARY KEY,
		email             TEXT NOT NULL DEFAULT '',
		customer_name     TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT '',
		plan              TEXT NOT NULL DEFAULT '',
		provider          TEXT NOT NULL DEFAULT '',
		provider_metadata TEXT NOT NULL DEFAULT '{}',
		expires_at        INTEGER,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entitlements_status ON entitlements(status);
	CREATE INDEX IF NOT EXISTS idx_entitlements_email ON entitlements(email);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("init entitlement schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLiteBackend) Find(ctx context.Context, token string) (*entitlement.Record, error) {
	row := b.db.QueryRowContext(ctx, `SELECT
		token, email, customer_name, status, plan, provider,
		provider_metadata, expires_at, created_at, updated_at
		FROM entitlements WHERE token = ?`, token)
	return scanRecord(row)
}

func (b *SQLiteBackend) Insert(ctx context.Context, rec *entitlement.Record) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO entitlements (
			token, email, customer_name, status, plan, provider,
			provider_metadata, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Token, rec.Email, rec.CustomerName, rec.Status, rec.Plan, rec.Provider,
		meta, nullableTimeUnix(rec.ExpiresAt), rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrTokenExists
		}
		return fmt.Errorf("insert entitlement: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) MergeGrant(ctx context.Context, rec *entitlement.Record, now time.Time) (bool, error) {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return false, err
	}
	res, err := b.db.ExecContext(ctx, `
		UPDATE entitlements SET
			status = ?,
			email = COALESCE(NULLIF(?, ''), email),
			customer_name = COALESCE(NULLIF(?, ''), customer_name),
			plan = COALESCE(NULLIF(?, ''), plan),
			provider = COALESCE(NULLIF(?, ''), provider),
			expires_at = COALESCE(?, expires_at),
			provider_metadata = json_patch(provider_metadata, ?),
			updated_at = ?
		WHERE token = ?`,
		entitlement.StatusPaid, rec.Email, rec.CustomerName, rec.Plan, rec.Provider,
		nullableTimeUnix(rec.ExpiresAt), meta, now.Unix(), rec.Token,
	)
	if err != nil {
		return false, fmt.Errorf("merge entitlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("merge entitlement rows affected: %w", err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) SetStatus(ctx context.Context, token, status string, now time.Time) (bool, error) {
	res, err := b.db.ExecContext(ctx,
		`UPDATE entitlements SET status = ?, updated_at = ? WHERE token = ?`,
		status, now.Unix(), token)
	if err != nil {
		return false, fmt.Errorf("set entitlement status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set entitlement status rows affected: %w", err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM entitlements GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count entitlements by status: %w", err)
	}
	defer rows.Close()
	return scanCounts(rows)
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*entitlement.Record, error) {
	var rec entitlement.Record
	var meta string
	var expiresAt sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(
		&rec.Token, &rec.Email, &rec.CustomerName, &rec.Status, &rec.Plan, &rec.Provider,
		&meta, &expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan entitlement: %w", err)
	}

	rec.Metadata, err = decodeMetadata([]byte(meta))
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if expiresAt.Valid {
		ts := time.Unix(expiresAt.Int64, 0).UTC()
		rec.ExpiresAt = &ts
	}
	return &rec, nil
}

func scanCounts(rows *sql.Rows) (map[string]int, error) {
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

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	clean := make(map[string]string, len(meta))
	for k, v := range meta {
		if strings.TrimSpace(v) == "" {
			continue
		}
		clean[k] = v
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("encode provider metadata: %w", err)
	}
	return string(raw), nil
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode provider metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

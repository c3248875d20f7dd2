package registry

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned by FindByToken when no record matches.
	ErrNotFound = errors.New("entitlement not found")
	// ErrTokenExists is returned by Backend.Insert when the token uniqueness
	// constraint rejects the row.
	ErrTokenExists = errors.New("entitlement token already exists")
	// ErrUnavailable matches transient store failures (timeouts, connectivity).
	ErrUnavailable = errors.New("entitlement store unavailable")
	// ErrNotConfigured is returned when no datastore has been configured.
	ErrNotConfigured = errors.New("entitlement store not configured")
)

// StoreError is a structured error for store operations.
type StoreError struct {
	Op        string // operation that failed, e.g. "find", "insert"
	Err       error
	Transient bool
}

func (e *StoreError) Error() string {
	if e.Transient {
		return fmt.Sprintf("store %s failed (transient): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is so transient failures match ErrUnavailable.
func (e *StoreError) Is(target error) bool {
	if target == ErrUnavailable {
		return e.Transient
	}
	return false
}

func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err, Transient: isTransient(err)}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

package registry

import (
	"context"
	"sync"
	"time"

	"github.com/lexops/accessgate/internal/gate/entitlement"
)

// MemoryBackend keeps entitlements in process memory. Records do not survive
// a restart; it serves local development (GATE_STORE_URL=memory://) and tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]*entitlement.Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]*entitlement.Record)}
}

func (b *MemoryBackend) Find(_ context.Context, token string) (*entitlement.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.data[token]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (b *MemoryBackend) Insert(_ context.Context, rec *entitlement.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.data[rec.Token]; ok {
		return ErrTokenExists
	}
	b.data[rec.Token] = cloneRecord(rec)
	return nil
}

func (b *MemoryBackend) MergeGrant(_ context.Context, rec *entitlement.Record, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.data[rec.Token]
	if !ok {
		return false, nil
	}
	stored.Merge(rec)
	stored.UpdatedAt = now
	return true, nil
}

func (b *MemoryBackend) SetStatus(_ context.Context, token, status string, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.data[token]
	if !ok {
		return false, nil
	}
	stored.Status = status
	stored.UpdatedAt = now
	return true, nil
}

func (b *MemoryBackend) CountByStatus(_ context.Context) (map[string]int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range b.data {
		counts[rec.Status]++
	}
	return counts, nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }

func cloneRecord(rec *entitlement.Record) *entitlement.Record {
	cp := *rec
	if rec.ExpiresAt != nil {
		ts := *rec.ExpiresAt
		cp.ExpiresAt = &ts
	}
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

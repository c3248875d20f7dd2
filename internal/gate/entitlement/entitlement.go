package entitlement

import (
	"strings"
	"time"
)

// Status values written by the engine. Records may also carry provider-native
// strings imported from older integrations; those are evaluated by IsValidStatus.
const (
	StatusPaid      = "pago"
	StatusCancelled = "cancelado"
)

// validStatuses is the validity-equivalence class: provider status strings
// that mean "paid and active".
var validStatuses = map[string]struct{}{
	"active":   {},
	"pago":     {},
	"paid":     {},
	"valid":    {},
	"approved": {},
}

// IsValidStatus reports whether status belongs to the validity-equivalence
// class. Comparison is case-insensitive and ignores surrounding whitespace.
func IsValidStatus(status string) bool {
	_, ok := validStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// Record is the persisted entitlement, keyed by Token.
type Record struct {
	Token        string            `json:"token"`
	Email        string            `json:"email,omitempty"`
	CustomerName string            `json:"customer_name,omitempty"`
	Status       string            `json:"status"`
	Plan         string            `json:"plan,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Metadata     map[string]string `json:"provider_metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ExpiredAt reports whether the record is expired at now. A record is valid
// only while now is strictly before ExpiresAt.
func (r *Record) ExpiredAt(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

// Merge applies the fields of a later grant onto r. Empty incoming values
// never replace stored ones, metadata merges key-wise, and the status is
// always reset to StatusPaid. Merge is idempotent.
func (r *Record) Merge(in *Record) {
	if in == nil {
		return
	}
	r.Status = StatusPaid
	if v := strings.TrimSpace(in.Email); v != "" {
		r.Email = v
	}
	if v := strings.TrimSpace(in.CustomerName); v != "" {
		r.CustomerName = v
	}
	if v := strings.TrimSpace(in.Plan); v != "" {
		r.Plan = v
	}
	if v := strings.TrimSpace(in.Provider); v != "" {
		r.Provider = v
	}
	if in.ExpiresAt != nil {
		ts := in.ExpiresAt.UTC()
		r.ExpiresAt = &ts
	}
	if len(in.Metadata) > 0 {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string, len(in.Metadata))
		}
		for k, v := range in.Metadata {
			if strings.TrimSpace(v) == "" {
				continue
			}
			r.Metadata[k] = v
		}
	}
}

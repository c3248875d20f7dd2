package normalize

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/lexops/accessgate/internal/gate/entitlement"
)

// Fields holds the ordered candidate paths for each canonical field. The
// first candidate that yields a non-empty value wins.
type Fields struct {
	Token        []string
	Email        []string
	Name         []string
	Status       []string
	Plan         []string
	ExpiresAt    []string
	OriginSecret []string
}

// Provider is the declared extraction table for one integration.
type Provider struct {
	Name string

	// Scopes are envelope objects tried in order; the first that resolves to
	// an object is where Fields are looked up. The root is used when none do.
	Scopes []string
	Fields Fields

	// KindKeys locate the event kind, looked up on the root first and then
	// on the scope.
	KindKeys    []string
	DefaultKind string

	GrantKinds     []string
	RevokeKinds    []string
	PaidStatuses   []string // provider sentinels that mean paid, e.g. "3"
	RevokeStatuses []string
	// StatusKinds, when set, limits status-based classification to these
	// event kinds. A trailing "*" matches by prefix.
	StatusKinds []string

	// Meta maps provider_metadata keys to candidate paths.
	Meta         map[string][]string
	MetaDefaults map[string]string

	// GenerateToken mints a random token for grants that carry an email but
	// no provider identifier.
	GenerateToken bool
}

func (pr *Provider) scope(p Payload) (Payload, bool) {
	for _, s := range pr.Scopes {
		if obj, ok := p.Object(s); ok {
			return obj, true
		}
	}
	return p, false
}

// Normalize extracts the canonical event from p and classifies it.
func (pr *Provider) Normalize(p Payload) entitlement.Event {
	if p == nil {
		p = Payload{}
	}
	scope, scoped := pr.scope(p)

	ev := entitlement.Event{
		Provider:     pr.Name,
		Token:        scope.First(pr.Fields.Token...),
		Email:        scope.First(pr.Fields.Email...),
		Name:         scope.First(pr.Fields.Name...),
		Status:       scope.First(pr.Fields.Status...),
		Plan:         scope.First(pr.Fields.Plan...),
		OriginSecret: scope.First(pr.Fields.OriginSecret...),
		ExpiresAt:    ParseExpiry(scope.First(pr.Fields.ExpiresAt...)),
	}

	eventKind := p.First(pr.KindKeys...)
	if eventKind == "" && scoped {
		eventKind = scope.First(pr.KindKeys...)
	}
	if eventKind == "" {
		eventKind = pr.DefaultKind
	}

	ev.Meta = pr.metadata(scope)
	if ev.Status != "" {
		ev.Meta["provider_status"] = ev.Status
	}
	if eventKind != "" {
		ev.Meta["event"] = eventKind
	}

	ev.Kind, ev.Outcome = pr.classify(eventKind, ev.Status)

	if ev.Token == "" && ev.Kind == entitlement.KindGrant && pr.GenerateToken && ev.Email != "" {
		if token, err := GenerateToken(); err == nil {
			ev.Token = token
			ev.TokenGenerated = true
		}
	}

	if ev.Token == "" {
		ev.Kind = entitlement.KindNoop
		if ev.Email == "" {
			ev.Outcome = entitlement.OutcomeConnectivityTest
		} else {
			ev.Outcome = entitlement.OutcomeTokenMissing
		}
	}
	return ev
}

func (pr *Provider) classify(eventKind, status string) (entitlement.Kind, entitlement.Outcome) {
	byStatus := len(pr.StatusKinds) == 0 || matchesKind(pr.StatusKinds, eventKind)
	switch {
	case contains(pr.RevokeKinds, eventKind):
		return entitlement.KindRevoke, entitlement.OutcomeRevoke
	case byStatus && contains(pr.RevokeStatuses, status):
		return entitlement.KindRevoke, entitlement.OutcomeRevoke
	case byStatus && (entitlement.IsValidStatus(status) || contains(pr.PaidStatuses, status)):
		return entitlement.KindGrant, entitlement.OutcomeGrant
	case status == "" && contains(pr.GrantKinds, eventKind):
		return entitlement.KindGrant, entitlement.OutcomeGrant
	default:
		return entitlement.KindNoop, entitlement.OutcomeIgnoredStatus
	}
}

func (pr *Provider) metadata(scope Payload) map[string]string {
	meta := make(map[string]string, len(pr.Meta)+2)
	for key, paths := range pr.Meta {
		if v := scope.First(paths...); v != "" {
			meta[key] = v
		}
	}
	for key, v := range pr.MetaDefaults {
		if _, ok := meta[key]; !ok {
			meta[key] = v
		}
	}
	return meta
}

func contains(set []string, v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.ToLower(s) == v {
			return true
		}
	}
	return false
}

func matchesKind(patterns []string, kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(p)
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(kind, prefix) {
				return true
			}
			continue
		}
		if p == kind {
			return true
		}
	}
	return false
}

// GenerateToken returns 32 hex characters from 16 random bytes.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ParseExpiry accepts RFC 3339, unix seconds, or "2006-01-02 15:04:05" (UTC).
// Unparseable values yield nil.
func ParseExpiry(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs <= 0 {
			return nil
		}
		ts := time.Unix(secs, 0).UTC()
		return &ts
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

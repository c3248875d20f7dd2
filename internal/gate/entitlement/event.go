package entitlement

import "time"

// Kind classifies a normalized provider event.
type Kind string

const (
	KindGrant  Kind = "grant"
	KindRevoke Kind = "revoke"
	KindNoop   Kind = "noop"
)

// Outcome is the diagnostic label attached to a normalized event.
type Outcome string

const (
	OutcomeGrant            Outcome = "grant"
	OutcomeRevoke           Outcome = "revoke"
	OutcomeIgnoredStatus    Outcome = "ignored_status"
	OutcomeTokenMissing     Outcome = "token_missing"
	OutcomeConnectivityTest Outcome = "connectivity_test"
)

// Event is the canonical shape every provider payload is normalized into.
type Event struct {
	Provider     string
	Token        string
	Email        string
	Name         string
	Status       string
	Plan         string
	ExpiresAt    *time.Time
	Kind         Kind
	Outcome      Outcome
	OriginSecret string
	Meta         map[string]string

	// TokenGenerated is set when the engine minted Token because the provider
	// supplied no identifier.
	TokenGenerated bool
}

// Record converts a grant event into the record shape the store merges.
func (e *Event) Record() *Record {
	rec := &Record{
		Token:        e.Token,
		Email:        e.Email,
		CustomerName: e.Name,
		Status:       StatusPaid,
		Plan:         e.Plan,
		Provider:     e.Provider,
	}
	if e.ExpiresAt != nil {
		ts := e.ExpiresAt.UTC()
		rec.ExpiresAt = &ts
	}
	if len(e.Meta) > 0 {
		rec.Metadata = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			rec.Metadata[k] = v
		}
	}
	return rec
}

// TokenPrefix returns a log-safe prefix of a token.
func TokenPrefix(token string) string {
	const n = 8
	if len(token) <= n {
		return token
	}
	return token[:n] + "..."
}

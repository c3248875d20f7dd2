// Package signature authenticates inbound provider webhooks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	// ErrNotConfigured means the provider signs its requests but no secret is
	// configured. This is an operator problem, not a caller problem.
	ErrNotConfigured = errors.New("webhook secret not configured")
	// ErrMissingSignature means the request carried no signature header.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrMismatch means the signature did not verify against the raw body.
	ErrMismatch = errors.New("webhook signature mismatch")
)

// Verifier authenticates a raw webhook body using the request headers.
type Verifier interface {
	Verify(header http.Header, body []byte) error
}

// IsMismatch reports whether err is a confirmed authentication failure
// (as opposed to a configuration problem).
func IsMismatch(err error) bool {
	return errors.Is(err, ErrMismatch) || errors.Is(err, ErrMissingSignature)
}

const defaultHMACHeader = "X-Signature"

// HMAC verifies a hex-encoded HMAC-SHA256 of the raw body.
type HMAC struct {
	Secret string
	Header string // defaults to X-Signature
}

func (h HMAC) Verify(header http.Header, body []byte) error {
	name := h.Header
	if name == "" {
		name = defaultHMACHeader
	}
	return h.VerifySignature(body, header.Get(name))
}

// VerifySignature checks claimed against HMAC-SHA256(secret, body). An
// optional "sha256=" prefix is accepted and hex case is ignored.
func (h HMAC) VerifySignature(body []byte, claimed string) error {
	if strings.TrimSpace(h.Secret) == "" {
		return ErrNotConfigured
	}
	claimed = strings.ToLower(strings.TrimSpace(claimed))
	claimed = strings.TrimPrefix(claimed, "sha256=")
	if claimed == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(claimed)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrMismatch)
	}

	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrMismatch
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body. Used by tests and tooling that
// replay provider deliveries.
func (h HMAC) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Stripe verifies the Stripe-Signature header.
type Stripe struct {
	Secret string
}

func (s Stripe) Verify(header http.Header, body []byte) error {
	_, err := s.ConstructEvent(body, header.Get("Stripe-Signature"))
	return err
}

// ConstructEvent verifies sigHeader against body and decodes the event.
func (s Stripe) ConstructEvent(body []byte, sigHeader string) (stripelib.Event, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return stripelib.Event{}, ErrNotConfigured
	}
	if strings.TrimSpace(sigHeader) == "" {
		return stripelib.Event{}, ErrMissingSignature
	}
	event, err := webhook.ConstructEventWithOptions(body, sigHeader, s.Secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripelib.Event{}, fmt.Errorf("%w: %v", ErrMismatch, err)
	}
	return event, nil
}

// OriginSecretMatches compares a provider-supplied shared field against the
// configured value. The check only applies when both sides are non-empty.
func OriginSecretMatches(configured, received string) bool {
	configured = strings.TrimSpace(configured)
	received = strings.TrimSpace(received)
	if configured == "" || received == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(received)) == 1
}

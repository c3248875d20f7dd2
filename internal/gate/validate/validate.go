// Package validate answers whether a presented token is currently entitled.
package validate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lexops/accessgate/internal/gate/entitlement"
	"github.com/lexops/accessgate/internal/gate/registry"
)

// Code identifies a verdict.
type Code string

const (
	CodeValid         Code = "Valid"
	CodeTokenMissing  Code = "TokenMissing"
	CodeTokenInvalid  Code = "TokenInvalid"
	CodeTokenExpired  Code = "TokenExpired"
	CodeTokenDisabled Code = "TokenDisabled"
	CodeUnavailable   Code = "Unavailable"
)

const (
	defaultEmail        = "usuário"
	defaultCustomerName = "Cliente"

	msgMissing     = "token ausente"
	msgInvalid     = "Código de transação inválido ou não encontrado."
	msgExpired     = "Este acesso expirou."
	msgDisabled    = "Este acesso foi desativado."
	msgUnavailable = "Serviço temporariamente indisponível. Tente novamente em instantes."
)

// Finder looks records up by token.
type Finder interface {
	FindByToken(ctx context.Context, token string) (*entitlement.Record, error)
}

// Verdict is the outcome of a validation.
type Verdict struct {
	Status       int
	Code         Code
	Email        string
	CustomerName string
	Message      string

	// Record is the stored entitlement behind a Valid verdict.
	Record *entitlement.Record
	Err    error
}

// Valid reports whether the verdict grants access.
func (v Verdict) Valid() bool { return v.Code == CodeValid }

// Validator is a pure function of stored state and the injected clock.
type Validator struct {
	store Finder
	now   func() time.Time
}

// New creates a validator. A nil store yields Unavailable verdicts.
func New(store Finder) *Validator {
	return &Validator{store: store, now: time.Now}
}

// WithClock returns a copy of v that reads time from now.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	cp := *v
	cp.now = now
	return &cp
}

// Check evaluates token against the store.
func (v *Validator) Check(ctx context.Context, token string) Verdict {
	token = strings.TrimSpace(token)
	if token == "" {
		return Verdict{Status: http.StatusUnauthorized, Code: CodeTokenMissing, Message: msgMissing}
	}
	if v == nil || v.store == nil {
		return Verdict{Status: http.StatusInternalServerError, Code: CodeUnavailable, Message: msgUnavailable, Err: registry.ErrNotConfigured}
	}

	rec, err := v.store.FindByToken(ctx, token)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return Verdict{Status: http.StatusForbidden, Code: CodeTokenInvalid, Message: msgInvalid}
	case err != nil:
		return Verdict{Status: http.StatusInternalServerError, Code: CodeUnavailable, Message: msgUnavailable, Err: err}
	case rec == nil:
		return Verdict{Status: http.StatusForbidden, Code: CodeTokenInvalid, Message: msgInvalid}
	}

	if rec.ExpiredAt(v.now()) {
		return Verdict{Status: http.StatusForbidden, Code: CodeTokenExpired, Message: msgExpired}
	}
	if strings.TrimSpace(rec.Status) != "" && !entitlement.IsValidStatus(rec.Status) {
		return Verdict{Status: http.StatusForbidden, Code: CodeTokenDisabled, Message: msgDisabled}
	}

	out := Verdict{
		Status:       http.StatusOK,
		Code:         CodeValid,
		Email:        rec.Email,
		CustomerName: rec.CustomerName,
		Record:       rec,
	}
	if out.Email == "" {
		out.Email = defaultEmail
	}
	if out.CustomerName == "" {
		out.CustomerName = defaultCustomerName
	}
	return out
}

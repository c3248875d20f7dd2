// Package ingest turns provider webhook deliveries into entitlement writes.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lexops/accessgate/internal/gate/entitlement"
	"github.com/lexops/accessgate/internal/gate/gatemetrics"
	"github.com/lexops/accessgate/internal/gate/normalize"
	"github.com/lexops/accessgate/internal/gate/registry"
	"github.com/lexops/accessgate/internal/gate/signature"
	"github.com/lexops/accessgate/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Flavor selects how a successful grant is answered.
type Flavor int

const (
	// ServerToServer answers with a JSON envelope.
	ServerToServer Flavor = iota
	// BrowserRedirect sends the buyer on to the dashboard.
	BrowserRedirect
)

// Outcome labels beyond the normalizer's own, used for logs and metrics.
const (
	outcomeConfigError    = "config_error"
	outcomeBadSignature   = "bad_signature"
	outcomeVerifyError    = "verify_error"
	outcomeOriginMismatch = "origin_mismatch"
	outcomeUnparseable    = "unparseable"
	outcomeHealth         = "health"
	outcomePanic          = "panic"
)

// Store is the subset of the entitlement store ingestion writes through.
type Store interface {
	UpsertGrant(ctx context.Context, rec *entitlement.Record) (bool, error)
	MarkRevoked(ctx context.Context, token string) (bool, error)
}

// Config describes one provider endpoint.
type Config struct {
	Provider *normalize.Provider
	Flavor   Flavor

	// Verifier authenticates the raw body. Nil means the provider does not sign.
	Verifier signature.Verifier
	// OriginSecret is compared with the payload's origin secret field.
	OriginSecret string

	Store        Store
	SiteURL      string
	RedirectMode string

	// UseQuery merges the URL query into the payload; query keys win.
	UseQuery bool
	// HealthMessage, when set, answers GET requests as a URL probe.
	HealthMessage string
	// MissingTokenMessage overrides the token_missing envelope message.
	MissingTokenMessage string
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

// Handler ingests deliveries for one provider.
type Handler struct {
	cfg Config
}

// NewHandler creates a provider ingestion handler.
func NewHandler(cfg Config) *Handler {
	if cfg.RedirectMode == "" {
		cfg.RedirectMode = RedirectHTML
	}
	if cfg.MissingTokenMessage == "" {
		cfg.MissingTokenMessage = "Token não encontrado no payload"
	}
	return &Handler{cfg: cfg}
}

// result is what a delivery resolved to before it is written out.
type result struct {
	status   int
	outcome  string
	body     envelope
	redirect string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	provider := h.cfg.Provider.Name
	res := result{status: http.StatusOK, outcome: "unknown"}
	defer func() {
		gatemetrics.WebhookRequestsTotal.WithLabelValues(provider, res.outcome, strconv.Itoa(res.status)).Inc()
		gatemetrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	switch {
	case r.Method == http.MethodOptions:
		res.outcome = "preflight"
		w.WriteHeader(http.StatusOK)
		return
	case r.Method == http.MethodGet && h.cfg.HealthMessage != "":
		res.outcome = outcomeHealth
		writeJSON(w, http.StatusOK, envelope{Status: "ok", Message: h.cfg.HealthMessage})
		return
	case r.Method == http.MethodGet && h.cfg.UseQuery:
	case r.Method != http.MethodPost:
		res.status = http.StatusMethodNotAllowed
		res.outcome = "method_not_allowed"
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Status: "error", Message: "Method Not Allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	res = h.process(r)
	if res.redirect != "" {
		res.status = writeRedirect(w, r, h.cfg.RedirectMode, res.redirect)
		return
	}
	writeJSON(w, res.status, res.body)
}

func (h *Handler) process(r *http.Request) (res result) {
	base := logging.FromContext(r.Context()).With().Str("provider", h.cfg.Provider.Name).Logger()
	defer func() {
		if rec := recover(); rec != nil {
			base.Error().Interface("panic", rec).Msg("Webhook processing panicked")
			res = result{
				status:  http.StatusOK,
				outcome: outcomePanic,
				body:    envelope{Status: "error", Message: "Erro interno"},
			}
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		base.Warn().Err(err).Msg("Webhook body unreadable")
		return errorResult(outcomeUnparseable, "Falha ao ler o corpo da requisição")
	}

	if h.cfg.Verifier != nil {
		if err := h.cfg.Verifier.Verify(r.Header, body); err != nil {
			switch {
			case errors.Is(err, signature.ErrNotConfigured):
				base.Error().Err(err).Msg("Webhook secret not configured; delivery dropped")
				return errorResult(outcomeConfigError, "Webhook não configurado")
			case signature.IsMismatch(err):
				base.Warn().Err(err).Msg("Webhook signature rejected")
				rejected := errorResult(outcomeBadSignature, "Assinatura inválida")
				rejected.status = http.StatusUnauthorized
				return rejected
			default:
				base.Error().Err(err).Msg("Webhook verification failed unexpectedly")
				return errorResult(outcomeVerifyError, "Erro interno")
			}
		}
	}

	payload, err := h.payload(r, body)
	if err != nil {
		base.Warn().Err(err).Int("bytes", len(body)).Msg("Webhook payload unparseable")
		return errorResult(outcomeUnparseable, "Payload inválido")
	}

	ev := h.cfg.Provider.Normalize(payload)
	logger := base.With().
		Str("token_prefix", entitlement.TokenPrefix(ev.Token)).
		Str("outcome", string(ev.Outcome)).
		Str("status", ev.Status).
		Logger()

	if !signature.OriginSecretMatches(h.cfg.OriginSecret, ev.OriginSecret) {
		logger.Warn().Msg("Webhook origin secret mismatch")
		return errorResult(outcomeOriginMismatch, "Autenticação inválida")
	}

	res = result{status: http.StatusOK, outcome: string(ev.Outcome)}
	switch ev.Kind {
	case entitlement.KindRevoke:
		h.revoke(r.Context(), logger, ev)
		res.body = envelope{Status: "ok", Message: "Remoção processada", Token: ev.Token}
		return res

	case entitlement.KindGrant:
		h.grant(r.Context(), logger, ev)
		if h.cfg.Flavor == BrowserRedirect {
			res.redirect = AccessRedirectURL(h.cfg.SiteURL, r.Host, ev.Token)
			logger.Info().Msg("Webhook grant processed; redirecting buyer")
			return res
		}
		logger.Info().Bool("token_generated", ev.TokenGenerated).Msg("Webhook grant processed")
		res.body = envelope{Status: "ok", Message: "Webhook processado", Token: ev.Token}
		return res
	}

	switch ev.Outcome {
	case entitlement.OutcomeConnectivityTest:
		logger.Info().Msg("Webhook connectivity test")
		res.body = envelope{Status: "ok", Message: "Teste recebido com sucesso"}
	case entitlement.OutcomeTokenMissing:
		logger.Warn().Msg("Webhook carried no token")
		res.body = envelope{Status: "error", Message: h.cfg.MissingTokenMessage}
	default:
		// Buyers land on the dashboard either way; nothing is granted until
		// a paid status arrives.
		if h.cfg.Flavor == BrowserRedirect && ev.Token != "" {
			logger.Info().Msg("Webhook ignored; redirecting buyer")
			res.redirect = AccessRedirectURL(h.cfg.SiteURL, r.Host, ev.Token)
			return res
		}
		logger.Info().Msg("Webhook ignored")
		res.body = envelope{Status: "ok", Message: "Evento ignorado", Token: ev.Token}
	}
	return res
}

func (h *Handler) payload(r *http.Request, body []byte) (normalize.Payload, error) {
	parsed, err := normalize.Parse(r.Header.Get("Content-Type"), body)
	if !h.cfg.UseQuery {
		return parsed, err
	}
	query := normalize.FromQuery(r.URL.Query())
	if err != nil {
		if len(query) == 0 {
			return nil, err
		}
		return query, nil
	}
	return query.Merge(parsed), nil
}

// grant and revoke never fail the delivery: store errors are logged and
// counted, and the provider still receives a success-class response.
func (h *Handler) grant(ctx context.Context, logger zerolog.Logger, ev entitlement.Event) {
	if h.cfg.Store == nil {
		logger.Error().Err(registry.ErrNotConfigured).Msg("Entitlement store not configured; grant not persisted")
		return
	}
	created, err := h.cfg.Store.UpsertGrant(ctx, ev.Record())
	if err != nil {
		gatemetrics.StoreWriteErrors.WithLabelValues("upsert").Inc()
		logger.Error().Err(err).Msg("Entitlement grant failed")
		return
	}
	logger.Info().Bool("created", created).Msg("Entitlement granted")
}

func (h *Handler) revoke(ctx context.Context, logger zerolog.Logger, ev entitlement.Event) {
	if h.cfg.Store == nil {
		logger.Error().Err(registry.ErrNotConfigured).Msg("Entitlement store not configured; revoke not persisted")
		return
	}
	found, err := h.cfg.Store.MarkRevoked(ctx, ev.Token)
	if err != nil {
		gatemetrics.StoreWriteErrors.WithLabelValues("revoke").Inc()
		logger.Error().Err(err).Msg("Entitlement revoke failed")
		return
	}
	logger.Info().Bool("found", found).Msg("Entitlement revoked")
}

func errorResult(outcome, message string) result {
	return result{
		status:  http.StatusOK,
		outcome: outcome,
		body:    envelope{Status: "error", Message: message},
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("ingest: encode response")
	}
}

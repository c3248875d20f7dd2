package validate

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lexops/accessgate/internal/gate/entitlement"
	"github.com/lexops/accessgate/internal/gate/gatemetrics"
	"github.com/lexops/accessgate/internal/gate/notify"
	"github.com/lexops/accessgate/internal/logging"
	"github.com/rs/zerolog/log"
)

type response struct {
	Valid        bool   `json:"valid"`
	Email        string `json:"email,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Message      string `json:"message,omitempty"`
	Code         Code   `json:"code,omitempty"`
}

// Firer receives notices for valid tokens.
type Firer interface {
	Fire(n notify.Notice)
}

// Handler serves GET /api/validate?token=.
type Handler struct {
	validator *Validator
	notifier  Firer
}

// NewHandler creates the validation handler. notifier may be nil.
func NewHandler(validator *Validator, notifier Firer) *Handler {
	return &Handler{validator: validator, notifier: notifier}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, response{Message: "método não permitido"})
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	v := h.validator.Check(r.Context(), token)
	gatemetrics.ValidationsTotal.WithLabelValues(string(v.Code)).Inc()

	logger := logging.FromContext(r.Context())
	evt := logger.Info()
	if v.Status >= http.StatusInternalServerError {
		evt = logger.Error().Err(v.Err)
	}
	evt.Str("code", string(v.Code)).
		Str("token_prefix", entitlement.TokenPrefix(token)).
		Int("status", v.Status).
		Msg("Token validation")

	if v.Valid() && h.notifier != nil && v.Record != nil {
		h.notifier.Fire(notify.Notice{
			Email: v.Record.Email,
			Token: token,
			Name:  v.Record.CustomerName,

			RequestID: logging.RequestIDFromContext(r.Context()),
		})
	}

	resp := response{Valid: v.Valid(), Message: v.Message}
	if v.Valid() {
		resp.Email = v.Email
		resp.CustomerName = v.CustomerName
	} else {
		resp.Code = v.Code
	}
	writeJSON(w, v.Status, resp)
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("validate: encode response")
	}
}

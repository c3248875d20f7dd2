package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/lexops/accessgate/internal/gate/entitlement"
	"github.com/lexops/accessgate/internal/logging"
	"github.com/rs/zerolog/log"
)

const notifyBodyLimit = 64 * 1024

type notifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
	Name  string `json:"name"`
	Nome  string `json:"nome"`
}

// HandleNotify serves POST /api/notify. A nil notifier answers 503.
func HandleNotify(notifier Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, Ack{Message: "método não permitido"})
			return
		}
		if notifier == nil {
			writeJSON(w, http.StatusServiceUnavailable, Ack{Message: "envio de email não configurado"})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, notifyBodyLimit)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Ack{Message: "falha ao ler o corpo da requisição"})
			return
		}
		var req notifyRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Ack{Message: "JSON inválido"})
			return
		}

		n := Notice{Email: req.Email, Token: req.Token, Name: req.Name}
		if n.Name == "" {
			n.Name = req.Nome
		}
		if strings.TrimSpace(n.Email) == "" {
			writeJSON(w, http.StatusBadRequest, Ack{Message: "Email é obrigatório"})
			return
		}
		if strings.TrimSpace(n.Token) == "" {
			writeJSON(w, http.StatusBadRequest, Ack{Message: "Token é obrigatório"})
			return
		}

		ack, err := notifier.Dispatch(r.Context(), n)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, ErrInvalidNotice) {
				status = http.StatusBadRequest
			}
			logger := logging.FromContext(r.Context())
			logger.Warn().Err(err).
				Str("token_prefix", entitlement.TokenPrefix(n.Token)).
				Msg("Notify endpoint dispatch failed")
			writeJSON(w, status, Ack{Success: false, Message: "Erro ao enviar email"})
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("notify: encode response")
	}
}

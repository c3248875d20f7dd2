package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lexops/accessgate/internal/gate/gatemetrics"
	"github.com/rs/zerolog/log"
)

// Pinger reports datastore reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter reports stored entitlements per status.
type Counter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type statusResponse struct {
	Version           string         `json:"version"`
	TotalEntitlements int            `json:"total_entitlements"`
	ByStatus          map[string]int `json:"by_status"`
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks datastore connectivity (readiness probe).
func HandleReadyz(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeText(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		if err := store.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Readiness check failed")
			writeText(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeText(w, http.StatusOK, "ready")
	}
}

// HandleStatus returns a handler that reports entitlement counts by status.
func HandleStatus(store Counter, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "store not configured", http.StatusServiceUnavailable)
			return
		}
		counts, err := store.CountByStatus(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Status: count entitlements")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Sync gauges on status calls; there is no background updater.
		total := 0
		for status, c := range counts {
			gatemetrics.EntitlementsByStatus.WithLabelValues(status).Set(float64(c))
			total += c
		}
		if counts == nil {
			counts = map[string]int{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(statusResponse{
			Version:           version,
			TotalEntitlements: total,
			ByStatus:          counts,
		})
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

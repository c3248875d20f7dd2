package gate

import (
	"net/http"

	"github.com/lexops/accessgate/internal/gate/admin"
	"github.com/lexops/accessgate/internal/gate/ingest"
	"github.com/lexops/accessgate/internal/gate/normalize"
	"github.com/lexops/accessgate/internal/gate/notify"
	"github.com/lexops/accessgate/internal/gate/registry"
	"github.com/lexops/accessgate/internal/gate/signature"
	"github.com/lexops/accessgate/internal/gate/validate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config   *Config
	Store    *registry.Store // nil if no datastore is configured
	Notifier notify.Notifier // nil disables /api/notify
	Trigger  *notify.Trigger
	Version  string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	cfg := deps.Config
	adminAuth := func(next http.Handler) http.Handler {
		return admin.AdminKeyMiddleware(cfg.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", admin.HandleHealthz)
	mux.Handle("/readyz", admin.HandleReadyz(storeOrNil(deps.Store)))

	// Status and metrics are private by default.
	mux.Handle("/status", adminAuth(admin.HandleStatus(storeOrNil(deps.Store), deps.Version)))
	metricsHandler := promhttp.Handler()
	if cfg.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	var store ingest.Store
	if deps.Store != nil {
		store = deps.Store
	}
	endpoint := func(c ingest.Config) http.Handler {
		c.Store = store
		c.SiteURL = cfg.SiteURL
		c.RedirectMode = cfg.RedirectMode
		return ingest.NewHandler(c)
	}

	mux.Handle("/webhooks/eduzz", endpoint(ingest.Config{
		Provider:     normalize.EduzzWebhook(),
		Flavor:       ingest.ServerToServer,
		OriginSecret: cfg.EduzzOriginSecret,
	}))
	mux.Handle("/webhooks/eduzz/delivery", corsMiddleware(endpoint(ingest.Config{
		Provider:      normalize.EduzzDelivery(),
		Flavor:        ingest.BrowserRedirect,
		OriginSecret:  cfg.EduzzOriginSecret,
		HealthMessage: "Entrega customizada LexOps Insight ativa",
	})))
	mux.Handle("/webhooks/eduzz/thank-you", corsMiddleware(endpoint(ingest.Config{
		Provider:            normalize.EduzzThankYou(),
		Flavor:              ingest.BrowserRedirect,
		OriginSecret:        cfg.EduzzOriginSecret,
		UseQuery:            true,
		MissingTokenMessage: "token não encontrado nos parâmetros",
	})))
	mux.Handle("/webhooks/lemonsqueezy", endpoint(ingest.Config{
		Provider: normalize.LemonSqueezy(),
		Flavor:   ingest.ServerToServer,
		Verifier: signature.HMAC{Secret: cfg.LemonSqueezyWebhookSecret},
	}))
	mux.Handle("/webhooks/stripe", endpoint(ingest.Config{
		Provider: normalize.Stripe(),
		Flavor:   ingest.ServerToServer,
		Verifier: signature.Stripe{Secret: cfg.StripeWebhookSecret},
	}))

	var finder validate.Finder
	if deps.Store != nil {
		finder = deps.Store
	}
	var firer validate.Firer
	if deps.Trigger != nil {
		firer = deps.Trigger
	}
	validateHandler := corsMiddleware(validate.NewHandler(validate.New(finder), firer))
	mux.Handle("/api/validate", validateHandler)
	mux.Handle("/validate", validateHandler)

	var notifyHandler http.Handler = notify.HandleNotify(deps.Notifier)
	if cfg.AdminKey != "" {
		notifyHandler = adminAuth(notifyHandler)
	}
	mux.Handle("/api/notify", corsMiddleware(preflightOr(notifyHandler)))
}

// NewHandler builds the full HTTP handler: routes plus request middleware.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return requestMiddleware(mux)
}

type storeAPI interface {
	admin.Pinger
	admin.Counter
}

// storeOrNil keeps a nil *registry.Store from becoming a non-nil interface.
func storeOrNil(s *registry.Store) storeAPI {
	if s == nil {
		return nil
	}
	return s
}

// preflightOr answers CORS preflight before next's authentication runs.
func preflightOr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

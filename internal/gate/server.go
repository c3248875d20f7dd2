package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexops/accessgate/internal/gate/email"
	"github.com/lexops/accessgate/internal/gate/notify"
	"github.com/lexops/accessgate/internal/gate/registry"
	"github.com/lexops/accessgate/internal/logging"
	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// OpenStore opens the configured datastore. A missing store URL is not an
// error: the gate runs degraded and reports it loudly.
func OpenStore(ctx context.Context, cfg *Config) (*registry.Store, error) {
	if cfg.StoreURL == "" {
		log.Error().Msg("GATE_STORE_URL not set; validation answers 500 and webhooks are not persisted")
		return nil, nil
	}
	store, err := registry.Open(ctx, registry.Options{
		URL:      cfg.StoreURL,
		Password: cfg.StorePassword,
		Timeout:  cfg.StoreTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open entitlement store: %w", err)
	}
	return store, nil
}

// NewSender selects the email sender for cfg. Without a credential emails are
// only logged.
func NewSender(cfg *Config, client *http.Client) email.Sender {
	if cfg.EmailConfigured() {
		if cfg.EmailProvider == EmailProviderPostmark {
			log.Info().Msg("Email sender configured (Postmark)")
			return email.NewPostmarkSender(cfg.PostmarkServerToken, client)
		}
		log.Info().Msg("Email sender configured (Resend)")
		return email.NewResendSender(cfg.ResendAPIKey, client)
	}
	log.Info().Str("provider", cfg.EmailProvider).Msg("Email sender: log-only (no provider credential configured)")
	return email.NewLogSender(func(to, subject, body string) {
		const maxBody = 4096
		bodyForLog := body
		if len(bodyForLog) > maxBody {
			bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
		}
		log.Info().
			Str("to", to).
			Str("subject", subject).
			Str("body", bodyForLog).
			Msg("Email (log-only, no email provider configured)")
	})
}

// Run starts the access gate HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "accessgate",
	})
	log.Info().Str("version", version).Msg("Starting access gate")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	resolver := &dnscache.Resolver{}
	client := email.NewHTTPClient(resolver, cfg.NotifyTimeout)
	dispatcher := notify.NewDispatcher(NewSender(cfg, client), cfg.EmailFrom, cfg.SiteURL)
	trigger := notify.NewTrigger(dispatcher, cfg.NotifyTimeout, cfg.NotifyOnValidate)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: NewHandler(&Deps{
			Config:   cfg,
			Store:    store,
			Notifier: dispatcher,
			Trigger:  trigger,
			Version:  version,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Access gate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return email.RefreshDNS(ctx, resolver, 0)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		if err := trigger.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Pending access emails abandoned")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Access gate stopped")
	return nil
}

package gate

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lexops/accessgate/internal/gate/ingest"
	"github.com/lexops/accessgate/internal/gate/notify"
)

// Email providers accepted by GATE_EMAIL_PROVIDER.
const (
	EmailProviderResend   = "resend"
	EmailProviderPostmark = "postmark"
)

// Config holds all configuration for the access gate.
type Config struct {
	BindAddress string
	Port        int

	StoreURL      string
	StorePassword string
	StoreTimeout  time.Duration

	SiteURL      string // dashboard base URL; empty falls back to https://<request host>
	RedirectMode string // "html" or "302"

	LemonSqueezyWebhookSecret string
	StripeWebhookSecret       string
	EduzzOriginSecret         string

	EmailProvider       string
	ResendAPIKey        string
	PostmarkServerToken string
	EmailFrom           string
	NotifyOnValidate    bool
	NotifyTimeout       time.Duration

	AdminKey      string
	PublicMetrics bool

	LogLevel  string
	LogFormat string
}

// LoadConfig loads gate configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("GATE_PORT", 8080)
	if err != nil {
		return nil, err
	}
	storeTimeout, err := envOrDefaultDuration("GATE_STORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	notifyTimeout, err := envOrDefaultDuration("GATE_NOTIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	notifyOnValidate, err := envOrDefaultBool("GATE_NOTIFY_ON_VALIDATE", true)
	if err != nil {
		return nil, err
	}
	publicMetrics, err := envOrDefaultBool("GATE_PUBLIC_METRICS", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BindAddress:               envOrDefault("GATE_BIND_ADDRESS", "0.0.0.0"),
		Port:                      port,
		StoreURL:                  strings.TrimSpace(os.Getenv("GATE_STORE_URL")),
		StorePassword:             os.Getenv("GATE_STORE_PASSWORD"),
		StoreTimeout:              storeTimeout,
		SiteURL:                   strings.TrimRight(strings.TrimSpace(os.Getenv("GATE_SITE_URL")), "/"),
		RedirectMode:              strings.ToLower(envOrDefault("GATE_REDIRECT_MODE", ingest.RedirectHTML)),
		LemonSqueezyWebhookSecret: strings.TrimSpace(os.Getenv("LEMONSQUEEZY_WEBHOOK_SECRET")),
		StripeWebhookSecret:       strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		EduzzOriginSecret:         strings.TrimSpace(os.Getenv("EDUZZ_ORIGIN_SECRET")),
		EmailProvider:             strings.ToLower(envOrDefault("GATE_EMAIL_PROVIDER", EmailProviderResend)),
		ResendAPIKey:              strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		PostmarkServerToken:       strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:                 envOrDefault("GATE_EMAIL_FROM", notify.DefaultFrom),
		NotifyOnValidate:          notifyOnValidate,
		NotifyTimeout:             notifyTimeout,
		AdminKey:                  strings.TrimSpace(os.Getenv("GATE_ADMIN_KEY")),
		PublicMetrics:             publicMetrics,
		LogLevel:                  envOrDefault("GATE_LOG_LEVEL", "info"),
		LogFormat:                 envOrDefault("GATE_LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate gate config: %w", err)
	}
	return cfg, nil
}

// EmailConfigured reports whether the selected email provider has a credential.
func (c *Config) EmailConfigured() bool {
	switch c.EmailProvider {
	case EmailProviderPostmark:
		return c.PostmarkServerToken != ""
	default:
		return c.ResendAPIKey != ""
	}
}

// Missing secrets are not an error; the affected endpoints degrade per request.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("GATE_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("GATE_STORE_TIMEOUT must be greater than 0, got %s", c.StoreTimeout)
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("GATE_NOTIFY_TIMEOUT must be greater than 0, got %s", c.NotifyTimeout)
	}
	switch c.RedirectMode {
	case ingest.RedirectHTML, ingest.RedirectFound:
	default:
		return fmt.Errorf("GATE_REDIRECT_MODE must be %q or %q, got %q", ingest.RedirectHTML, ingest.RedirectFound, c.RedirectMode)
	}
	switch c.EmailProvider {
	case EmailProviderResend, EmailProviderPostmark:
	default:
		return fmt.Errorf("GATE_EMAIL_PROVIDER must be %q or %q, got %q", EmailProviderResend, EmailProviderPostmark, c.EmailProvider)
	}

	if c.SiteURL != "" {
		parsed, err := url.Parse(c.SiteURL)
		if err != nil {
			return fmt.Errorf("GATE_SITE_URL must be a valid URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("GATE_SITE_URL must use http or https scheme")
		}
		if parsed.Host == "" {
			return fmt.Errorf("GATE_SITE_URL must include a host")
		}
	}
	if c.StoreURL != "" && strings.Contains(c.StoreURL, "://") {
		parsed, err := url.Parse(c.StoreURL)
		if err != nil {
			return fmt.Errorf("GATE_STORE_URL must be a valid URL: %w", err)
		}
		switch parsed.Scheme {
		case "postgres", "postgresql", "sqlite", "file", "memory":
		default:
			return fmt.Errorf("GATE_STORE_URL scheme %q is not supported", parsed.Scheme)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

package gatemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts provider webhook requests by provider, normalized outcome and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accessgate",
		Subsystem: "ingest",
		Name:      "webhook_requests_total",
		Help:      "Total provider webhook requests by provider, outcome and HTTP status.",
	}, []string{"provider", "outcome", "status"})

	// WebhookDuration tracks provider webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "accessgate",
		Subsystem: "ingest",
		Name:      "webhook_duration_seconds",
		Help:      "Provider webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// StoreWriteErrors counts failed store writes during ingestion.
	StoreWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accessgate",
		Subsystem: "store",
		Name:      "write_errors_total",
		Help:      "Store write failures during ingestion by operation.",
	}, []string{"op"})

	// InsertRaceFallbacks counts inserts that lost a uniqueness race and fell back to an update.
	InsertRaceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "accessgate",
		Subsystem: "store",
		Name:      "insert_race_fallbacks_total",
		Help:      "Inserts rejected by the token uniqueness constraint and retried as updates.",
	})

	// ValidationsTotal counts token validation verdicts.
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accessgate",
		Subsystem: "validate",
		Name:      "verdicts_total",
		Help:      "Token validation verdicts by code.",
	}, []string{"code"})

	// NotificationsTotal counts access email notifications by result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "accessgate",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Access email notifications by result (sent/failed/skipped).",
	}, []string{"result"})

	// EntitlementsByStatus tracks stored entitlements per status.
	EntitlementsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "accessgate",
		Subsystem: "store",
		Name:      "entitlements_by_status",
		Help:      "Number of stored entitlements by status.",
	}, []string{"status"})
)

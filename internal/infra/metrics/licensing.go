package metrics

import (
	"strings"

	"license-server/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		activationsTotal,
		validationsTotal,
		signLatencyMs,
		rateLimitedTotal,
		licensesByStatus,
	)
}

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_activations_total",
			Help: "Activation attempts by outcome (success or error kind).",
		},
		[]string{"outcome"},
	)

	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_validations_total",
			Help: "Validation attempts by kind (heartbeat/check) and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	signLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "license_sign_latency_ms",
			Help:    "RSA-PSS signing latency distribution in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_rate_limited_total",
			Help: "Requests rejected by the per-IP attempt limiter.",
		},
	)

	licensesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "licenses_total",
			Help: "Current number of licenses by stored status.",
		},
		[]string{"status"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncActivation(outcome string) {
	activationsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncValidation(kind, outcome string) {
	validationsTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func ObserveSignLatency(ms float64) {
	signLatencyMs.Observe(ms)
}

func IncRateLimited() { rateLimitedTotal.Inc() }

func SetLicensesTotal(counts map[model.LicenseStatus]int) {
	statuses := []model.LicenseStatus{
		model.LicenseStatusPending,
		model.LicenseStatusActive,
		model.LicenseStatusSuspended,
		model.LicenseStatusRevoked,
		model.LicenseStatusExpired,
	}
	for _, status := range statuses {
		if count, ok := counts[status]; ok {
			licensesByStatus.WithLabelValues(string(status)).Set(float64(count))
		}
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/finkargo/tip-analytics/internal/core"
)

// Collector records orchestration metrics. It satisfies analytics.Recorder.
type Collector struct {
	// Provider dispatch
	providerRequests  *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	providerExhausted *prometheus.CounterVec

	// Health
	providerStatus *prometheus.GaugeVec
	overallHealth  prometheus.Gauge
	fallbackActive prometheus.Gauge
	lastHealthTime prometheus.Gauge

	// Uploads
	uploadsTotal *prometheus.CounterVec
	skippedRows  *prometheus.CounterVec
}

// NewCollector registers the collector's metrics with reg. A nil reg uses
// the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		providerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tip_provider_requests_total",
				Help: "Total number of provider fetch attempts",
			},
			[]string{"tenant_id", "provider", "data_type", "outcome"},
		),

		providerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tip_provider_request_duration_seconds",
				Help:    "Duration of provider fetch attempts in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tenant_id", "provider", "data_type"},
		),

		providerExhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tip_providers_exhausted_total",
				Help: "Queries for which every capable provider failed",
			},
			[]string{"tenant_id", "data_type"},
		),

		providerStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tip_provider_status",
				Help: "Provider status (1=online, 0.5=degraded, 0=offline)",
			},
			[]string{"provider"},
		),

		overallHealth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tip_overall_health",
				Help: "Overall provider health (1=healthy, 0.5=degraded, 0=critical)",
			},
		),

		fallbackActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tip_fallback_active",
				Help: "Whether the primary provider is not online (1) or online (0)",
			},
		),

		lastHealthTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tip_last_health_check_timestamp",
				Help: "Unix time of the last health sweep",
			},
		),

		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tip_uploads_total",
				Help: "Total number of tabular uploads",
			},
			[]string{"tenant_id", "status"},
		),

		skippedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tip_upload_skipped_rows_total",
				Help: "Malformed rows skipped during ingestion",
			},
			[]string{"tenant_id"},
		),
	}
}

func (c *Collector) RecordFetch(tenantID, provider string, dataType core.DataType, outcome string, duration time.Duration) {
	c.providerRequests.With(prometheus.Labels{
		"tenant_id": tenantID,
		"provider":  provider,
		"data_type": string(dataType),
		"outcome":   outcome,
	}).Inc()

	c.providerDuration.With(prometheus.Labels{
		"tenant_id": tenantID,
		"provider":  provider,
		"data_type": string(dataType),
	}).Observe(duration.Seconds())
}

func (c *Collector) RecordExhausted(tenantID string, dataType core.DataType) {
	c.providerExhausted.With(prometheus.Labels{
		"tenant_id": tenantID,
		"data_type": string(dataType),
	}).Inc()
}

func (c *Collector) RecordProviderStatus(provider string, status core.ProviderStatus) {
	c.providerStatus.With(prometheus.Labels{"provider": provider}).Set(statusValue(status))
}

func (c *Collector) RecordHealth(status core.HealthStatus) {
	c.overallHealth.Set(healthValue(status.OverallHealth))

	active := 0.0
	if status.FallbackActive {
		active = 1.0
	}
	c.fallbackActive.Set(active)

	if !status.LastCheck.IsZero() {
		c.lastHealthTime.Set(float64(status.LastCheck.Unix()))
	}
}

func (c *Collector) RecordUpload(tenantID string, success bool, skippedRows int) {
	status := "success"
	if !success {
		status = "failed"
	}
	c.uploadsTotal.With(prometheus.Labels{
		"tenant_id": tenantID,
		"status":    status,
	}).Inc()

	if skippedRows > 0 {
		c.skippedRows.With(prometheus.Labels{"tenant_id": tenantID}).Add(float64(skippedRows))
	}
}

// ForgetProvider drops the status series of a removed provider.
func (c *Collector) ForgetProvider(provider string) {
	c.providerStatus.Delete(prometheus.Labels{"provider": provider})
}

func statusValue(status core.ProviderStatus) float64 {
	switch status {
	case core.ProviderOnline:
		return 1
	case core.ProviderDegraded:
		return 0.5
	default:
		return 0
	}
}

func healthValue(h core.OverallHealth) float64 {
	switch h {
	case core.HealthHealthy:
		return 1
	case core.HealthDegraded:
		return 0.5
	default:
		return 0
	}
}

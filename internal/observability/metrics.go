// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimited         prometheus.Counter

	// Upstream metrics
	RPCCallLatency *prometheus.HistogramVec
	UpstreamErrors *prometheus.CounterVec

	// Supply metrics
	TotalSupply          prometheus.Gauge
	CirculatingSupply    prometheus.Gauge
	LockedAccounts       prometheus.Gauge
	NegativeCirculating  prometheus.Counter
	LastSuccessfulReport prometheus.Gauge

	// Recorder metrics
	SnapshotsRecorded *prometheus.CounterVec
	MintNotifications prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "forge_supply"
	}

	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}),

		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		UpstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "upstream_errors_total",
			Help:      "Total number of failed supply computations by error kind and operation",
		}, []string{"kind", "op"}),

		TotalSupply: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "total",
			Help:      "Last observed total supply in whole tokens (approximate)",
		}),
		CirculatingSupply: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "circulating",
			Help:      "Last observed circulating supply in whole tokens (approximate)",
		}),
		LockedAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "locked_accounts",
			Help:      "Number of locked token accounts in the last report",
		}),
		NegativeCirculating: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "negative_circulating_total",
			Help:      "Reports where locked supply exceeded total supply",
		}),
		LastSuccessfulReport: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_report_timestamp",
			Help:      "Unix timestamp of last successful supply report",
		}),

		SnapshotsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "snapshots_total",
			Help:      "Total number of snapshot writes by sink and status",
		}, []string{"sink", "status"}),
		MintNotifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "mint_notifications_total",
			Help:      "Total number of mint account change notifications received",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route, status string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, status).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordRateLimited increments the rate limited counter.
func RecordRateLimited() {
	DefaultMetrics.RateLimited.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordUpstreamError records a failed supply computation.
func RecordUpstreamError(kind, op string) {
	DefaultMetrics.UpstreamErrors.WithLabelValues(kind, op).Inc()
}

// RecordReport updates supply gauges after a successful computation.
// total and circulating are whole-token approximations for dashboards only.
func RecordReport(total, circulating float64, lockedAccounts int, unixSeconds int64) {
	DefaultMetrics.TotalSupply.Set(total)
	DefaultMetrics.CirculatingSupply.Set(circulating)
	DefaultMetrics.LockedAccounts.Set(float64(lockedAccounts))
	DefaultMetrics.LastSuccessfulReport.Set(float64(unixSeconds))
}

// RecordNegativeCirculating increments the negative circulating counter.
func RecordNegativeCirculating() {
	DefaultMetrics.NegativeCirculating.Inc()
}

// RecordSnapshot records a snapshot write to a sink.
func RecordSnapshot(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.SnapshotsRecorded.WithLabelValues(sink, status).Inc()
}

// RecordMintNotification increments the mint notification counter.
func RecordMintNotification() {
	DefaultMetrics.MintNotifications.Inc()
}

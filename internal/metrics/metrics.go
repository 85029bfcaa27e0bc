package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream endpoint labels
const (
	EndpointLoginStatus = "login_status"
	EndpointLogin       = "login"
	EndpointData        = "data"
	EndpointAsset       = "asset"
)

var (
	// Response cache metrics
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fritzmesh_cache_lookups_total",
			Help: "Total number of response cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fritzmesh_cache_entries",
			Help: "Number of responses currently held in the cache",
		},
	)

	// Upstream router metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fritzmesh_upstream_requests_total",
			Help: "Total number of requests sent to the router by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fritzmesh_upstream_request_duration_seconds",
			Help:    "Duration of requests sent to the router",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// Session metrics
	SessionRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fritzmesh_session_renewals_total",
			Help: "Total number of session renewals by outcome",
		},
		[]string{"outcome"}, // reused, login, failed
	)

	SessionValid = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fritzmesh_session_valid",
			Help: "Whether the proxy currently holds a valid router session (1) or not (0)",
		},
	)

	// Telemetry poller metrics
	TelemetryPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fritzmesh_telemetry_polls_total",
			Help: "Total number of data.lua refresh polls by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	// Downstream HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fritzmesh_http_requests_total",
			Help: "Total number of requests served by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fritzmesh_http_request_duration_seconds",
			Help:    "Duration of requests served",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TelemetryLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fritzmesh_telemetry_last_success_timestamp_seconds",
			Help: "Unix time of the last successful telemetry refresh",
		},
	)
)

// RecordCacheLookup records a cache lookup result
func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetCacheEntries records the current cache size
func SetCacheEntries(n int) {
	CacheEntries.Set(float64(n))
}

// ObserveUpstream records a finished upstream request
func ObserveUpstream(endpoint string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

// RecordSessionRenewal records a renewal outcome and the resulting session state
func RecordSessionRenewal(outcome string, valid bool) {
	SessionRenewalsTotal.WithLabelValues(outcome).Inc()
	if valid {
		SessionValid.Set(1)
	} else {
		SessionValid.Set(0)
	}
}

// RecordTelemetryPoll records a poll outcome
func RecordTelemetryPoll(success bool, at time.Time) {
	if !success {
		TelemetryPollsTotal.WithLabelValues("failure").Inc()
		return
	}
	TelemetryPollsTotal.WithLabelValues("success").Inc()
	TelemetryLastSuccess.Set(float64(at.Unix()))
}

// RecordHTTPRequest records a served request
func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

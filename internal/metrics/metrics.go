package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-contact/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// submission guard
	decisionsTotal     *prometheus.CounterVec
	sanitizerResets    *prometheus.CounterVec
	storageErrorsTotal *prometheus.CounterVec
	fallbackTotal      prometheus.Counter
	deliveriesTotal    *prometheus.CounterVec
	deliveryDuration   prometheus.Histogram
	invalidSubmissions *prometheus.CounterVec
	policyInfo         *prometheus.GaugeVec
	policyLoadedTs     prometheus.Gauge
	policyDailyCeiling prometheus.Gauge
	policyCooldown     prometheus.Gauge

	// policy watcher
	watcherPollsTotal    prometheus.Counter
	watcherSwapsTotal    prometheus.Counter
	watcherErrorsTotal   *prometheus.CounterVec
	watcherLastSuccessTs prometheus.Gauge
	watcherStale         prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_guard_decisions_total",
			Help: "Submission guard verdicts by operation (check, submit) and reason",
		}, []string{"op", "reason"}),
		sanitizerResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_guard_sanitizer_resets_total",
			Help: "Stored values discarded by the sanitizer by key and reason",
		}, []string{"key", "reason"}),
		storageErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_guard_storage_errors_total",
			Help: "Failed visitor storage operations by scope and operation",
		}, []string{"scope", "op"}),
		fallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contact_guard_fallback_total",
			Help: "Sessions switched to session-only storage after a persistent storage failure",
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_deliveries_total",
			Help: "Accepted contact messages handed to the sink by result",
		}, []string{"result"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contact_delivery_duration_seconds",
			Help:    "Time to hand an accepted message to the sink",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		invalidSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_invalid_submissions_total",
			Help: "Submissions rejected before the guard by field",
		}, []string{"field"}),
		policyInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contact_policy_info",
			Help: "Active submission policy (labels carry identity, value is always 1)",
		}, []string{"source", "version"}),
		policyLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contact_policy_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the active policy was loaded",
		}),
		policyDailyCeiling: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contact_policy_daily_ceiling",
			Help: "Submissions allowed per visitor per calendar day",
		}),
		policyCooldown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contact_policy_cooldown_seconds",
			Help: "Minimum time between submissions from one visitor",
		}),
		watcherPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "policy_watcher_polls_total",
			Help: "Total number of policy watcher poll cycles",
		}),
		watcherSwapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "policy_watcher_swaps_total",
			Help: "Total number of policy swaps",
		}),
		watcherErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_watcher_errors_total",
			Help: "Total policy watcher errors by type",
		}, []string{"type"}),
		watcherLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "policy_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful SSM poll",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "policy_watcher_stale",
			Help: "Whether the policy watcher is stale (1) or healthy (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.decisionsTotal,
		m.sanitizerResets,
		m.storageErrorsTotal,
		m.fallbackTotal,
		m.deliveriesTotal,
		m.deliveryDuration,
		m.invalidSubmissions,
		m.policyInfo,
		m.policyLoadedTs,
		m.policyDailyCeiling,
		m.policyCooldown,
		m.watcherPollsTotal,
		m.watcherSwapsTotal,
		m.watcherErrorsTotal,
		m.watcherLastSuccessTs,
		m.watcherStale,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncGuardDecision(op, reason string) {
	m.decisionsTotal.WithLabelValues(op, reason).Inc()
}

func (m *ServerMetrics) IncSanitizerReset(key, reason string) {
	m.sanitizerResets.WithLabelValues(key, reason).Inc()
}

func (m *ServerMetrics) IncStorageError(scope, op string) {
	m.storageErrorsTotal.WithLabelValues(scope, op).Inc()
}

func (m *ServerMetrics) IncFallback() {
	m.fallbackTotal.Inc()
}

// ObserveDelivery records one sink call. result is "ok" or "error".
func (m *ServerMetrics) ObserveDelivery(result string, d time.Duration) {
	m.deliveriesTotal.WithLabelValues(result).Inc()
	m.deliveryDuration.Observe(d.Seconds())
}

func (m *ServerMetrics) IncInvalidSubmission(field string) {
	m.invalidSubmissions.WithLabelValues(field).Inc()
}

// SetPolicy publishes the active policy, call on startup and on every swap.
func (m *ServerMetrics) SetPolicy(source, version string, dailyCeiling int, cooldown time.Duration, loadedAt time.Time) {
	m.policyInfo.Reset() // clear previous label values
	m.policyInfo.WithLabelValues(source, version).Set(1)
	m.policyDailyCeiling.Set(float64(dailyCeiling))
	m.policyCooldown.Set(cooldown.Seconds())
	m.policyLoadedTs.Set(float64(loadedAt.Unix()))
}

func (m *ServerMetrics) IncPolicyPolls() {
	m.watcherPollsTotal.Inc()
}

func (m *ServerMetrics) IncPolicySwaps() {
	m.watcherSwapsTotal.Inc()
}

func (m *ServerMetrics) IncPolicyError(errType string) {
	m.watcherErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) SetPolicyLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetPolicyStale(stale bool) {
	if stale {
		m.watcherStale.Set(1)
	} else {
		m.watcherStale.Set(0)
	}
}

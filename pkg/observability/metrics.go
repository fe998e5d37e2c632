package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/transcript-mcp/pkg/session"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Namespace prefixes every metric (default: transcript_mcp)
	Namespace string
	// HistogramBuckets for request latency in milliseconds
	HistogramBuckets []float64
	// ConstLabels are added to every metric
	ConstLabels prometheus.Labels
	// IncludeRuntime registers the Go and process collectors
	IncludeRuntime bool
}

// Metrics holds the server's Prometheus collectors in a private registry. It
// implements session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive    *prometheus.GaugeVec
	sessionsCreated   *prometheus.CounterVec
	sessionsRemoved   *prometheus.CounterVec
	admissionRejected *prometheus.CounterVec
	heartbeats        prometheus.Counter
	toolCalls         *prometheus.CounterVec

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ session.Observer = (*Metrics)(nil)

// NewMetrics creates and registers every collector.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "transcript_mcp"
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}

	ns, labels := config.Namespace, config.ConstLabels
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "sessions_active", ConstLabels: labels,
			Help: "Live sessions by transport",
		}, []string{"transport"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "sessions_created_total", ConstLabels: labels,
			Help: "Sessions admitted by transport",
		}, []string{"transport"}),
		sessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "sessions_removed_total", ConstLabels: labels,
			Help: "Sessions removed by transport and reason",
		}, []string{"transport", "reason"}),
		admissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "admission_rejected_total", ConstLabels: labels,
			Help: "Session creations refused, by error code",
		}, []string{"code"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "heartbeats_total", ConstLabels: labels,
			Help: "Heartbeat frames written to stream sessions",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "tool_calls_total", ConstLabels: labels,
			Help: "Tool invocations by tool and outcome",
		}, []string{"tool", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_requests_total", ConstLabels: labels,
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_request_duration_milliseconds", ConstLabels: labels,
			Help:    "HTTP request latency in milliseconds",
			Buckets: config.HistogramBuckets,
		}, []string{"route"}),
	}

	collectorsToRegister := []prometheus.Collector{
		m.sessionsActive, m.sessionsCreated, m.sessionsRemoved, m.admissionRejected,
		m.heartbeats, m.toolCalls, m.requestTotal, m.requestDuration,
	}
	if config.IncludeRuntime {
		collectorsToRegister = append(collectorsToRegister,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, c := range collectorsToRegister {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SessionCreated(kind session.Kind) {
	m.sessionsCreated.WithLabelValues(string(kind)).Inc()
	m.sessionsActive.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SessionRemoved(kind session.Kind, reason session.RemoveReason) {
	m.sessionsRemoved.WithLabelValues(string(kind), string(reason)).Inc()
	m.sessionsActive.WithLabelValues(string(kind)).Dec()
}

func (m *Metrics) HeartbeatSent() {
	m.heartbeats.Inc()
}

// AdmissionRejected counts a refused session creation.
func (m *Metrics) AdmissionRejected(code string) {
	m.admissionRejected.WithLabelValues(code).Inc()
}

// ToolCalled counts one tool invocation; status is "ok" or "error".
func (m *Metrics) ToolCalled(tool, status string) {
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, duration time.Duration) {
	m.requestTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(float64(duration) / float64(time.Millisecond))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

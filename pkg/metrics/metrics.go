package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/unla-edge/internal/common/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	sessionsActive prometheus.Gauge
	handshakes     *prometheus.CounterVec
	sessionsClosed *prometheus.CounterVec
	messages       *prometheus.CounterVec
	pending        prometheus.Gauge
	timeouts       prometheus.Counter
	backpressure   prometheus.Counter
	rateLimited    *prometheus.CounterVec
	broadcasts     prometheus.Counter
	droppedResults *prometheus.CounterVec

	mcpReqCnt  *prometheus.CounterVec
	mcpReqDur  *prometheus.HistogramVec
	mcpReqInfl *prometheus.GaugeVec

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	toolExecCnt  *prometheus.CounterVec
	toolExecDur  *prometheus.HistogramVec
	toolExecInfl *prometheus.GaugeVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{registry: r}

	m.httpReqCnt = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	m.httpDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"})
	m.httpInfl = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(m.httpReqCnt, m.httpDur, m.httpInfl)

	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sessions_active", Help: "Sessions currently registered"})
	m.handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "handshakes_total"}, []string{"result"})
	m.sessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "sessions_closed_total"}, []string{"reason"})
	m.messages = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "messages_total"}, []string{"direction", "kind"})
	m.pending = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "pending_requests", Help: "In-flight requests across all sessions"})
	m.timeouts = prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "request_timeouts_total"})
	m.backpressure = prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "backpressure_rejections_total"})
	m.rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "rate_limited_total"}, []string{"scope"})
	m.broadcasts = prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "broadcast_notifications_total"})
	m.droppedResults = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "dropped_results_total", Help: "Dispatch results discarded without a reply"}, []string{"reason"})
	r.MustRegister(m.sessionsActive, m.handshakes, m.sessionsClosed, m.messages, m.pending,
		m.timeouts, m.backpressure, m.rateLimited, m.broadcasts, m.droppedResults)

	m.mcpReqCnt = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "mcp_requests_total"}, []string{"method", "outcome"})
	m.mcpReqDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "mcp_request_duration_seconds", Buckets: buckets}, []string{"method"})
	m.mcpReqInfl = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "mcp_requests_inflight"}, []string{"method"})
	r.MustRegister(m.mcpReqCnt, m.mcpReqDur, m.mcpReqInfl)

	m.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "breaker_state", Help: "0 closed, 1 half-open, 2 open"}, []string{"target"})
	m.breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "breaker_transitions_total"}, []string{"target", "from", "to"})
	r.MustRegister(m.breakerState, m.breakerTransitions)

	m.toolExecCnt = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "tool_execution_total"}, []string{"tool_name", "status"})
	m.toolExecDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "tool_execution_duration_seconds", Buckets: buckets}, []string{"tool_name", "status"})
	m.toolExecInfl = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "tool_execution_inflight_requests"}, []string{"tool_name"})
	r.MustRegister(m.toolExecCnt, m.toolExecDur, m.toolExecInfl)

	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

// Handshake records an authentication outcome: accepted, rejected or bypass
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// Message counts a frame; direction is in or out
func (m *Metrics) Message(direction, kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) PendingAdd(delta int) {
	if m == nil {
		return
	}
	m.pending.Add(float64(delta))
}

func (m *Metrics) RequestTimedOut() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *Metrics) BackpressureRejected() {
	if m == nil {
		return
	}
	m.backpressure.Inc()
}

// RateLimited counts a denial; scope is global or session
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

// ResultDropped counts a result that found no pending entry; reason is
// session_closed or superseded
func (m *Metrics) ResultDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedResults.WithLabelValues(reason).Inc()
}

func (m *Metrics) McpReqStart(method string) {
	if m == nil {
		return
	}
	m.mcpReqInfl.WithLabelValues(method).Inc()
}

func (m *Metrics) McpReqDone(method, outcome string, since time.Time) {
	if m == nil {
		return
	}
	m.mcpReqCnt.WithLabelValues(method, outcome).Inc()
	m.mcpReqDur.WithLabelValues(method).Observe(time.Since(since).Seconds())
	m.mcpReqInfl.WithLabelValues(method).Dec()
}

// BreakerTransition records a state change; level is the numeric state
func (m *Metrics) BreakerTransition(target, from, to string, level int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(target).Set(float64(level))
	m.breakerTransitions.WithLabelValues(target, from, to).Inc()
}

func (m *Metrics) ToolExecStart(toolName string) {
	if m == nil {
		return
	}
	m.toolExecInfl.WithLabelValues(toolName).Inc()
}

func (m *Metrics) ToolExecDone(toolName, status string, since time.Time) {
	if m == nil {
		return
	}
	m.toolExecCnt.WithLabelValues(toolName, status).Inc()
	m.toolExecDur.WithLabelValues(toolName, status).Observe(time.Since(since).Seconds())
	m.toolExecInfl.WithLabelValues(toolName).Dec()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

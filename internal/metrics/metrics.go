// Package metrics provides Prometheus instrumentation for agentwatch.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentwatch",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentwatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Risk engine ---

	// MessagesProcessedTotal counts agent messages by resulting status.
	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentwatch",
			Name:      "messages_processed_total",
			Help:      "Agent messages processed by resulting status.",
		},
		[]string{"status"},
	)

	// KeywordHitsTotal counts scam keyword matches.
	KeywordHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentwatch",
			Name:      "keyword_hits_total",
			Help:      "Scam keyword matches by keyword.",
		},
		[]string{"keyword"},
	)

	// IncidentsTotal counts incident log entries by status.
	IncidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentwatch",
			Name:      "incidents_total",
			Help:      "Incident log entries appended by status.",
		},
		[]string{"status"},
	)

	// AgentRiskScore tracks each agent's current risk score.
	AgentRiskScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentwatch",
			Name:      "agent_risk_score",
			Help:      "Current risk score per agent.",
		},
		[]string{"agent_id"},
	)

	// --- Spam classifier ---

	// SpamClassificationsTotal counts successful classifications by verdict.
	SpamClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentwatch",
			Name:      "spam_classifications_total",
			Help:      "Spam classifications by verdict.",
		},
		[]string{"status"},
	)

	// ClassifierErrorsTotal counts failed classifier calls by failure kind.
	ClassifierErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentwatch",
			Name:      "classifier_errors_total",
			Help:      "Spam classifier failures by kind.",
		},
		[]string{"kind"},
	)

	// ClassifierRequestDuration observes upstream inference latency.
	ClassifierRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentwatch",
		Name:      "classifier_request_duration_seconds",
		Help:      "Upstream spam model request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// --- Runtime ---

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentwatch",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentwatch", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MessagesProcessedTotal,
		KeywordHitsTotal,
		IncidentsTotal,
		AgentRiskScore,
		SpamClassificationsTotal,
		ClassifierErrorsTotal,
		ClassifierRequestDuration,
		ActiveWebSocketClients,
		GoroutineCount,
	)
}

// StartRuntimeCollector periodically samples the goroutine count.
// Call in a goroutine; exits when ctx is done.
func StartRuntimeCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern, not actual path
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

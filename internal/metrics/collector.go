package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/jamesprial/storegate/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
)

// UnmatchedRoute labels requests that ended before a route was resolved.
const UnmatchedRoute = "unmatched"

// RouteMetrics holds aggregated metrics for a single route
type RouteMetrics struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	PerStatus          map[int]int64
}

// AuthMetrics holds aggregated gate decisions
type AuthMetrics struct {
	Allowed             int64
	Denied              int64
	CredentialsObserved int64
}

// MetricsCollector records per-request and per-decision metrics. It
// implements pipeline.Observer and auth.DecisionRecorder.
type MetricsCollector struct {
	routes map[string]*RouteMetrics
	auth   AuthMetrics
	mu     sync.Mutex

	RequestsTotal       *prometheus.CounterVec
	RequestLatency      *prometheus.HistogramVec
	AuthDecisions       *prometheus.CounterVec
	CredentialsObserved prometheus.Counter
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.RequestsTotal.Collect(ch)
	c.RequestLatency.Collect(ch)
	c.AuthDecisions.Collect(ch)
	c.CredentialsObserved.Collect(ch)
}

// NewMetricsCollector creates a new MetricsCollector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		routes: make(map[string]*RouteMetrics),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Requests handled by the gateway pipeline",
			},
			[]string{"route", "method", "status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Request latency in seconds, including the backend call",
				Buckets: []float64{0.005, 0.025, 0.1, 0.3, 0.5, 1, 3, 5, 10},
			},
			[]string{"route", "method"},
		),
		AuthDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auth_decisions_total",
				Help: "Auth gate decisions by result and reason",
			},
			[]string{"result", "reason"},
		),
		CredentialsObserved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_credentials_observed_total",
				Help: "Requests admitted because they carried a credential",
			},
		),
	}
}

// RecordRequest records metrics for a completed request
func (c *MetricsCollector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	if route == "" {
		route = UnmatchedRoute
	}

	c.mu.Lock()
	rm, ok := c.routes[route]
	if !ok {
		rm = &RouteMetrics{PerStatus: make(map[int]int64)}
		c.routes[route] = rm
	}
	rm.TotalRequests++
	if statusCode >= 200 && statusCode < 400 {
		rm.SuccessfulRequests++
	} else {
		rm.FailedRequests++
	}
	rm.PerStatus[statusCode]++
	c.mu.Unlock()

	c.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.RequestLatency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObserveRequest implements pipeline.Observer.
func (c *MetricsCollector) ObserveRequest(rc *pipeline.RequestContext, status int, duration time.Duration) {
	c.RecordRequest(rc.RouteName(), rc.Method, status, duration)
}

// RecordAuthDecision implements auth.DecisionRecorder.
func (c *MetricsCollector) RecordAuthDecision(allowed bool, reason string, credentialObserved bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}

	c.mu.Lock()
	if allowed {
		c.auth.Allowed++
	} else {
		c.auth.Denied++
	}
	if credentialObserved {
		c.auth.CredentialsObserved++
	}
	c.mu.Unlock()

	c.AuthDecisions.WithLabelValues(result, reason).Inc()
	if credentialObserved {
		c.CredentialsObserved.Inc()
	}
}

// GetMetrics returns a snapshot of the aggregated metrics keyed by route,
// plus an "auth" entry with gate totals.
func (c *MetricsCollector) GetMetrics() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	routes := make(map[string]*RouteMetrics, len(c.routes))
	for name, rm := range c.routes {
		cp := *rm
		cp.PerStatus = make(map[int]int64, len(rm.PerStatus))
		for status, n := range rm.PerStatus {
			cp.PerStatus[status] = n
		}
		routes[name] = &cp
	}

	auth := c.auth
	return map[string]any{
		"routes": routes,
		"auth":   &auth,
	}
}

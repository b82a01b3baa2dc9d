// Package metrics exposes Prometheus collectors for HTTP traffic, policy
// decisions and provisioning steps.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenant_platform"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	authzDecisions   *prometheus.CounterVec
	provisionSteps   *prometheus.CounterVec
	provisionLatency *prometheus.HistogramVec
	capRejections    prometheus.Counter
}

// New registers every collector on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Policy engine decisions by predicate and outcome",
		}, []string{"predicate", "allowed"}),
		provisionSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_steps_total",
			Help:      "Provisioning steps executed by workflow, step and outcome",
		}, []string{"workflow", "step", "outcome"}),
		provisionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provisioning_step_duration_seconds",
			Help:      "Duration of provisioning steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "step"}),
		capRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_in_flight_rejections_total",
			Help:      "Provisioning requests rejected by the per-caller in-flight cap",
		}),
	}
	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.authzDecisions,
		m.provisionSteps, m.provisionLatency, m.capRejections,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records count and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ObserveDecision implements policy.Observer.
func (m *Metrics) ObserveDecision(predicate string, allowed bool) {
	m.authzDecisions.WithLabelValues(predicate, strconv.FormatBool(allowed)).Inc()
}

// ObserveStep implements provisioning.Observer.
func (m *Metrics) ObserveStep(workflow, step string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.provisionSteps.WithLabelValues(workflow, step, outcome).Inc()
	m.provisionLatency.WithLabelValues(workflow, step).Observe(elapsed.Seconds())
}

func (m *Metrics) CapRejected() { m.capRejections.Inc() }

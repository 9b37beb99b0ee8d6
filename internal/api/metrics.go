package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSet is the process-wide set of Prometheus collectors the HTTP
// surface exports at /metrics, grounded on the same client_golang
// constructors the dependency manifest already carries.
type metricsSet struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inferenceTokens *prometheus.CounterVec
	jobsActive      *prometheus.GaugeVec
}

func newMetricsSet() *metricsSet {
	return newMetricsSetWithRegistry(prometheus.DefaultRegisterer)
}

// newMetricsSetWithRegistry lets tests substitute a fresh prometheus.Registry
// so repeated Server construction doesn't collide on the default registerer,
// the same injectable-registerer shape the metrics package this is grounded
// on uses for NewWithRegistry.
func newMetricsSetWithRegistry(registerer prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_http_requests_total",
			Help: "Total HTTP requests handled by the control plane, by method/path/status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by method/path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inferenceTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_inference_tokens_total",
			Help: "Tokens proxied through the inference byte-pipe, by direction.",
		}, []string{"direction", "model"}),
		jobsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_jobs_active",
			Help: "Whether a job runner currently holds an active job (1) or is idle (0), by kind.",
		}, []string{"kind"}),
	}
	registerer.MustRegister(m.requestsTotal, m.requestDuration, m.inferenceTokens, m.jobsActive)
	return m
}

func (m *metricsSet) observeRequest(method, path string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *metricsSet) observeInferenceTokens(model string, tokensIn, tokensOut int) {
	if tokensIn > 0 {
		m.inferenceTokens.WithLabelValues("input", model).Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		m.inferenceTokens.WithLabelValues("output", model).Add(float64(tokensOut))
	}
}

func (m *metricsSet) setJobActive(kind string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.jobsActive.WithLabelValues(kind).Set(v)
}

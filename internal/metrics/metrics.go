// Package metrics exposes Prometheus instruments for generation and public intake.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application instruments. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	GenerationRequests *prometheus.CounterVec
	GenerationErrors   *prometheus.CounterVec
	ModelLatency       prometheus.Histogram
	ModelTokens        *prometheus.CounterVec
	PublicRequests     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		GenerationRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anagami_generation_requests_total",
			Help: "Generation requests by module",
		}, []string{"module"}),
		GenerationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anagami_generation_errors_total",
			Help: "Failed generations by module and failure kind",
		}, []string{"module", "kind"}),
		ModelLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "anagami_model_request_duration_seconds",
			Help:    "Model call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		ModelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anagami_model_tokens_total",
			Help: "Tokens consumed by direction",
		}, []string{"direction"}),
		PublicRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "anagami_public_requests_total",
			Help: "Public generate requests by status code",
		}, []string{"status"}),
	}
}

func (m *Metrics) RecordGeneration(module string) {
	if m == nil {
		return
	}
	m.GenerationRequests.WithLabelValues(module).Inc()
}

func (m *Metrics) RecordGenerationError(module, kind string) {
	if m == nil {
		return
	}
	m.GenerationErrors.WithLabelValues(module, kind).Inc()
}

func (m *Metrics) RecordModelCall(seconds float64, tokensIn, tokensOut int) {
	if m == nil {
		return
	}
	m.ModelLatency.Observe(seconds)
	m.ModelTokens.WithLabelValues("in").Add(float64(tokensIn))
	m.ModelTokens.WithLabelValues("out").Add(float64(tokensOut))
}

func (m *Metrics) RecordPublic(status int) {
	if m == nil {
		return
	}
	m.PublicRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder reports generation metrics using Prometheus primitives.
type PrometheusRecorder struct {
	registry    *prometheus.Registry
	generations *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	degenerate  *prometheus.CounterVec
}

func NewPrometheusRecorder(registry *prometheus.Registry) (*PrometheusRecorder, error) {
	if registry == nil {
		return nil, fmt.Errorf("prometheus registry is nil")
	}

	r := &PrometheusRecorder{
		registry: registry,
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mathapp_generations_total",
			Help: "Generation calls by provider and outcome",
		}, []string{"provider", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mathapp_generation_duration_seconds",
			Help:    "Generation latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mathapp_generation_retries_total",
			Help: "Token-limit retries issued by provider",
		}, []string{"provider"}),
		degenerate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mathapp_generation_degenerate_total",
			Help: "Successful calls that produced no usable text, by provider and cause",
		}, []string{"provider", "cause"}),
	}

	for _, collector := range []prometheus.Collector{r.generations, r.durations, r.retries, r.degenerate} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveGeneration(provider, status string, duration time.Duration) {
	r.generations.WithLabelValues(provider, status).Inc()
	r.durations.WithLabelValues(provider).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) ObserveRetry(provider string) {
	r.retries.WithLabelValues(provider).Inc()
}

func (r *PrometheusRecorder) ObserveDegenerate(provider, cause string) {
	r.degenerate.WithLabelValues(provider, cause).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

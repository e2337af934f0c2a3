// Package metrics provides Prometheus-based metrics recording for the
// generation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records completion, sandbox and iteration metrics.
type Recorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sandboxRuns     *prometheus.CounterVec
	iterationsTotal *prometheus.CounterVec
	coveragePercent *prometheus.GaugeVec
}

// NewRecorder creates a recorder registered against reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testforge_llm_requests_total",
				Help: "Total completion requests by model and status",
			},
			[]string{"model", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testforge_llm_tokens_total",
				Help: "Total tokens used in completion requests",
			},
			[]string{"model", "type"},
		),
		costsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testforge_llm_costs_total",
				Help: "Total cost in USD for completion requests",
			},
			[]string{"model"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testforge_llm_request_duration_seconds",
				Help:    "Duration of completion requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		sandboxRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testforge_sandbox_runs_total",
				Help: "Total candidate executions by outcome",
			},
			[]string{"outcome"},
		),
		iterationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testforge_iterations_total",
				Help: "Total repair iterations by terminal state",
			},
			[]string{"state"},
		),
		coveragePercent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "testforge_coverage_percent",
				Help: "Latest coverage percentage per target",
			},
			[]string{"module", "object"},
		),
	}
}

// ObserveRequest records one completion request.
func (r *Recorder) ObserveRequest(model string, promptTokens, completionTokens int64,
	cost float64, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.requestsTotal.WithLabelValues(model, status, errorType).Inc()
	if success {
		r.tokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
		r.tokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
		r.costsTotal.WithLabelValues(model).Add(cost)
	}
	r.requestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// ObserveSandboxRun records one candidate execution. outcome is "passed",
// "compile_failure", "test_failures" or "infrastructure_error".
func (r *Recorder) ObserveSandboxRun(outcome string) {
	r.sandboxRuns.WithLabelValues(outcome).Inc()
}

// ObserveIterations records how many repair iterations a run consumed and how
// it ended. state is "accepted" or "exhausted".
func (r *Recorder) ObserveIterations(state string, iterations int) {
	r.iterationsTotal.WithLabelValues(state).Add(float64(iterations))
}

// SetCoverage records the latest coverage percentage for a target.
func (r *Recorder) SetCoverage(module, object string, percent int) {
	r.coveragePercent.WithLabelValues(module, object).Set(float64(percent))
}

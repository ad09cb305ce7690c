package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	runsTotal            *prometheus.CounterVec
	tokensTotal          *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec
	sessionOpensTotal    *prometheus.CounterVec
	retriesTotal         *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder registered on the default
// Prometheus registry, for use with the promhttp handler.
func NewPrometheusRecorder() *PrometheusRecorder {
	return newPrometheusRecorder(promauto.With(prometheus.DefaultRegisterer))
}

// NewPrometheusRecorderWith creates a recorder registered on a caller-owned
// registry. Tests use this to avoid duplicate registration panics.
func NewPrometheusRecorderWith(reg prometheus.Registerer) *PrometheusRecorder {
	return newPrometheusRecorder(promauto.With(reg))
}

func newPrometheusRecorder(factory promauto.Factory) *PrometheusRecorder {
	return &PrometheusRecorder{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_runs_total",
				Help: "Total number of agent runs by deployment and status",
			},
			[]string{"deployment", "status"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_tokens_total",
				Help: "Total number of tokens used in agent runs",
			},
			[]string{"deployment", "type"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foundry_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"deployment"},
		),
		toolDispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_tool_dispatch_total",
				Help: "Total number of tool dispatches by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foundry_tool_dispatch_duration_seconds",
				Help:    "Duration of tool handler executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		sessionOpensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_session_opens_total",
				Help: "Total number of session open attempts by final status",
			},
			[]string{"status"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foundry_retries_total",
				Help: "Total number of retried attempts by operation",
			},
			[]string{"operation"},
		),
	}
}

// ObserveRun records a completed agent run.
func (p *PrometheusRecorder) ObserveRun(deployment, status string, promptTokens, completionTokens int64, duration time.Duration) {
	p.runsTotal.WithLabelValues(deployment, status).Inc()

	// Token usage is only reported for runs the platform completed.
	if promptTokens > 0 || completionTokens > 0 {
		p.tokensTotal.WithLabelValues(deployment, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(deployment, "completion").Add(float64(completionTokens))
	}

	p.runDuration.WithLabelValues(deployment).Observe(duration.Seconds())
}

// ObserveToolDispatch records one tool dispatch and its outcome.
func (p *PrometheusRecorder) ObserveToolDispatch(tool, outcome string, duration time.Duration) {
	p.toolDispatchTotal.WithLabelValues(tool, outcome).Inc()
	p.toolDispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// IncSessionOpen counts a session open attempt by final status.
func (p *PrometheusRecorder) IncSessionOpen(status string) {
	p.sessionOpensTotal.WithLabelValues(status).Inc()
}

// IncRetry counts a retried attempt for the named operation.
func (p *PrometheusRecorder) IncRetry(operation string) {
	p.retriesTotal.WithLabelValues(operation).Inc()
}

package metrics

import "time"

// Recorder defines the interface for exporting platform operation metrics.
// The in-process Metrics type answers "how is this process doing"; a
// Recorder feeds the long-term series a Prometheus server scrapes.
type Recorder interface {
	// ObserveRun records a completed agent run.
	ObserveRun(deployment, status string, promptTokens, completionTokens int64, duration time.Duration)

	// ObserveToolDispatch records one tool dispatch and its outcome.
	ObserveToolDispatch(tool, outcome string, duration time.Duration)

	// IncSessionOpen counts a session open attempt by final status.
	IncSessionOpen(status string)

	// IncRetry counts a retried attempt for the named operation.
	IncRetry(operation string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRun does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRun(_, _ string, _, _ int64, _ time.Duration) {
	// No-op
}

// ObserveToolDispatch does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveToolDispatch(_, _ string, _ time.Duration) {
	// No-op
}

// IncSessionOpen does nothing in the no-op recorder.
func (n *NoopRecorder) IncSessionOpen(_ string) {
	// No-op
}

// IncRetry does nothing in the no-op recorder.
func (n *NoopRecorder) IncRetry(_ string) {
	// No-op
}

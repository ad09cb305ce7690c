// Package metrics provides in-process run counters, a Prometheus recorder
// for exported series, and a query service for reading aggregates back from
// a Prometheus server.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics accumulates run statistics in-process. All methods are safe for
// concurrent use; a run is counted exactly once no matter how it ends.
type Metrics struct {
	totalRuns        atomic.Int64
	successfulRuns   atomic.Int64
	failedRuns       atomic.Int64
	durationNanos    atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64

	toolCalls        atomic.Int64
	dispatches       atomic.Int64
	failedDispatches atomic.Int64
	dispatchNanos    atomic.Int64
}

// Snapshot is a point-in-time view of the accumulated metrics. Derived
// values (success rate, average duration) are computed at snapshot time so
// the hot path stays increment-only.
type Snapshot struct {
	TotalRuns        int64         `json:"total_runs"`
	SuccessfulRuns   int64         `json:"successful_runs"`
	FailedRuns       int64         `json:"failed_runs"`
	SuccessRate      float64       `json:"success_rate"`
	AvgDuration      time.Duration `json:"avg_duration_ns"`
	TotalTokens      int64         `json:"total_tokens"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`

	ToolCalls        int64         `json:"tool_calls"`
	Dispatches       int64         `json:"dispatches"`
	FailedDispatches int64         `json:"failed_dispatches"`
	AvgDispatch      time.Duration `json:"avg_dispatch_ns"`
}

// NewMetrics returns a zeroed metrics accumulator.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRun counts one completed run. Token counts are only meaningful for
// successful runs but are accepted either way; the platform reports zero
// usage for failed runs.
func (m *Metrics) RecordRun(success bool, duration time.Duration, promptTokens, completionTokens int64) {
	m.totalRuns.Add(1)
	if success {
		m.successfulRuns.Add(1)
	} else {
		m.failedRuns.Add(1)
	}
	m.durationNanos.Add(int64(duration))
	m.promptTokens.Add(promptTokens)
	m.completionTokens.Add(completionTokens)
}

// RecordToolCalls counts tool invocations requested during runs.
func (m *Metrics) RecordToolCalls(n int64) {
	m.toolCalls.Add(n)
}

// RecordDispatch counts one registry dispatch, successful or not. Called
// exactly once per dispatch regardless of how it ends.
func (m *Metrics) RecordDispatch(ok bool, duration time.Duration) {
	m.dispatches.Add(1)
	if !ok {
		m.failedDispatches.Add(1)
	}
	m.dispatchNanos.Add(int64(duration))
}

// Snapshot returns the current totals. A snapshot taken concurrently with
// RecordRun may straddle an in-flight run's fields but individual counters
// are never lost or double counted.
func (m *Metrics) Snapshot() Snapshot {
	total := m.totalRuns.Load()
	success := m.successfulRuns.Load()
	prompt := m.promptTokens.Load()
	completion := m.completionTokens.Load()

	snap := Snapshot{
		TotalRuns:        total,
		SuccessfulRuns:   success,
		FailedRuns:       m.failedRuns.Load(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
	if total > 0 {
		snap.SuccessRate = float64(success) / float64(total)
		snap.AvgDuration = time.Duration(m.durationNanos.Load() / total)
	}

	snap.ToolCalls = m.toolCalls.Load()
	snap.Dispatches = m.dispatches.Load()
	snap.FailedDispatches = m.failedDispatches.Load()
	if snap.Dispatches > 0 {
		snap.AvgDispatch = time.Duration(m.dispatchNanos.Load() / snap.Dispatches)
	}
	return snap
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.totalRuns.Store(0)
	m.successfulRuns.Store(0)
	m.failedRuns.Store(0)
	m.durationNanos.Store(0)
	m.promptTokens.Store(0)
	m.completionTokens.Store(0)
	m.toolCalls.Store(0)
	m.dispatches.Store(0)
	m.failedDispatches.Store(0)
	m.dispatchNanos.Store(0)
}

// Package retry provides retry logic with exponential backoff for calls to
// the managed agent platform.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"foundry/pkg/clienterrors"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `json:"max_attempts"`   // Maximum number of attempts (including initial)
	InitialDelay  time.Duration `json:"initial_delay"`  // Initial delay before first retry
	MaxDelay      time.Duration `json:"max_delay"`      // Maximum delay between retries
	BackoffFactor float64       `json:"backoff_factor"` // Multiplier for exponential backoff
	Jitter        bool          `json:"jitter"`         // Add random jitter to prevent thundering herd
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  2 * time.Second,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default error classifier that determines retry behavior.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// Never retry caller cancellation.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Classified errors decide for themselves.
	var cerr *clienterrors.Error
	if errors.As(err, &cerr) {
		return cerr.IsRetryable()
	}

	// Bare DeadlineExceeded is a per-request HTTP timeout; the parent context
	// may still be valid, so retrying is worthwhile.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Auth failures fail fast: retrying a bad credential wastes quota.
	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") {
		return false
	}

	// Malformed requests will not improve on retry.
	if strings.Contains(errStr, "400") || strings.Contains(errStr, "404") {
		return false
	}

	// Everything else is presumed transient (blocklist approach).
	return true
}

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a new retry policy with the given configuration and classifier.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// FromMaxAttempts returns a policy with the default backoff curve and the
// given attempt budget. A budget below one means a single attempt.
func FromMaxAttempts(maxAttempts int) *Policy {
	cfg := DefaultConfig
	if maxAttempts >= 1 {
		cfg.MaxAttempts = maxAttempts
	} else {
		cfg.MaxAttempts = 1
	}
	return NewPolicy(cfg, nil)
}

// CalculateDelay computes the delay for the given attempt number.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))

	// Cap at maximum delay
	if delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	// Add jitter if enabled
	if p.Config.Jitter && delay > 0 {
		jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(delay)) //nolint:gosec // Jitter does not need crypto rand
		delay += jitter
		if delay < 0 {
			delay = p.Config.InitialDelay
		}
	}

	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

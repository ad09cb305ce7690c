package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"foundry/pkg/clienterrors"
)

// =============================================================================
// ShouldRetry classifier tests
// =============================================================================

func TestShouldRetry_NilError(t *testing.T) {
	if ShouldRetry(nil) {
		t.Error("Expected false for nil error")
	}
}

func TestShouldRetry_ContextCanceled(t *testing.T) {
	if ShouldRetry(context.Canceled) {
		t.Error("Expected false for context.Canceled")
	}
}

func TestShouldRetry_WrappedContextCanceled(t *testing.T) {
	err := fmt.Errorf("operation failed: %w", context.Canceled)
	if ShouldRetry(err) {
		t.Error("Expected false for wrapped context.Canceled")
	}
}

func TestShouldRetry_ContextDeadlineExceeded(t *testing.T) {
	// DeadlineExceeded SHOULD be retryable: per-request HTTP timeouts wrap
	// DeadlineExceeded but the parent context is still valid.
	if !ShouldRetry(context.DeadlineExceeded) {
		t.Error("Expected true for context.DeadlineExceeded (per-request timeouts should retry)")
	}
}

func TestShouldRetry_WrappedDeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("http call failed: %w", context.DeadlineExceeded)
	if !ShouldRetry(err) {
		t.Error("Expected true for wrapped DeadlineExceeded")
	}
}

func TestShouldRetry_AuthError(t *testing.T) {
	err := &clienterrors.Error{Type: clienterrors.ErrorTypeAuth, Message: "invalid credential"}
	if ShouldRetry(err) {
		t.Error("Expected false for auth error")
	}
}

func TestShouldRetry_BadRequestError(t *testing.T) {
	err := &clienterrors.Error{Type: clienterrors.ErrorTypeBadRequest, Message: "unknown deployment"}
	if ShouldRetry(err) {
		t.Error("Expected false for bad request error")
	}
}

func TestShouldRetry_TimeoutError(t *testing.T) {
	err := clienterrors.NewTimeoutError(context.DeadlineExceeded, "caller deadline expired")
	if ShouldRetry(err) {
		t.Error("Expected false for caller-deadline timeout error")
	}
}

func TestShouldRetry_ServiceUnavailable(t *testing.T) {
	err := clienterrors.NewServiceUnavailableError(errors.New("503"), 3)
	if ShouldRetry(err) {
		t.Error("Expected false for service unavailable (already exhausted retries)")
	}
}

func TestShouldRetry_RateLimitError(t *testing.T) {
	err := &clienterrors.Error{Type: clienterrors.ErrorTypeRateLimit, Message: "rate limited"}
	if !ShouldRetry(err) {
		t.Error("Expected true for rate limit error")
	}
}

func TestShouldRetry_TransientError(t *testing.T) {
	err := &clienterrors.Error{Type: clienterrors.ErrorTypeTransient, StatusCode: 503}
	if !ShouldRetry(err) {
		t.Error("Expected true for transient error")
	}
}

func TestShouldRetry_WrappedAuthError(t *testing.T) {
	inner := &clienterrors.Error{Type: clienterrors.ErrorTypeAuth, Message: "invalid credential"}
	err := fmt.Errorf("open session failed: %w", inner)
	if ShouldRetry(err) {
		t.Error("Expected false for wrapped auth error")
	}
}

func TestShouldRetry_UnclassifiedAuthPatterns(t *testing.T) {
	patterns := []string{
		"HTTP 401 Unauthorized",
		"403 Forbidden",
		"unauthorized access to resource",
		"invalid api key provided",
	}
	for _, p := range patterns {
		if ShouldRetry(errors.New(p)) {
			t.Errorf("Expected false for auth pattern: %q", p)
		}
	}
}

func TestShouldRetry_UnclassifiedBadRequestPatterns(t *testing.T) {
	patterns := []string{
		"HTTP 400 Bad Request",
		"404 Not Found",
	}
	for _, p := range patterns {
		if ShouldRetry(errors.New(p)) {
			t.Errorf("Expected false for bad request pattern: %q", p)
		}
	}
}

func TestShouldRetry_UnknownErrors(t *testing.T) {
	// Unknown errors should be retryable (blocklist approach)
	unknowns := []string{
		"connection reset by peer",
		"timeout exceeded",
		"EOF",
		"something completely unexpected",
	}
	for _, msg := range unknowns {
		if !ShouldRetry(errors.New(msg)) {
			t.Errorf("Expected true for unknown error: %q", msg)
		}
	}
}

func TestShouldRetry_DeadlineExceededWrappedInClientError(t *testing.T) {
	// Simulates per-request HTTP timeout: DeadlineExceeded wrapped in an
	// unknown-typed client error.
	inner := fmt.Errorf("http request failed: %w", context.DeadlineExceeded)
	cerr := &clienterrors.Error{
		Type:    clienterrors.ErrorTypeUnknown,
		Err:     inner,
		Message: "request timed out",
	}
	if !ShouldRetry(cerr) {
		t.Error("Expected true: per-request timeout wrapped in unknown-typed error should be retryable")
	}
}

// =============================================================================
// Policy tests
// =============================================================================

func TestNewPolicy_DefaultClassifier(t *testing.T) {
	p := NewPolicy(DefaultConfig, nil)
	if p.Classifier == nil {
		t.Error("Expected default classifier when nil passed")
	}
	if p.ShouldRetry(nil) {
		t.Error("Expected false for nil error with default classifier")
	}
}

func TestNewPolicy_CustomClassifier(t *testing.T) {
	alwaysRetry := func(err error) bool { return err != nil }
	p := NewPolicy(DefaultConfig, alwaysRetry)

	if !p.ShouldRetry(errors.New("anything")) {
		t.Error("Expected custom classifier to be used")
	}
}

func TestFromMaxAttempts(t *testing.T) {
	p := FromMaxAttempts(5)
	if p.Config.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", p.Config.MaxAttempts)
	}

	// Zero retries still means one attempt.
	p = FromMaxAttempts(0)
	if p.Config.MaxAttempts != 1 {
		t.Errorf("Expected 1 attempt for zero budget, got %d", p.Config.MaxAttempts)
	}
}

func TestCalculateDelay_FirstAttempt(t *testing.T) {
	p := NewPolicy(Config{
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        false,
	}, nil)

	delay := p.CalculateDelay(1)
	if delay != 0 {
		t.Errorf("Expected 0 delay for first attempt, got: %v", delay)
	}
}

func TestCalculateDelay_ExponentialBackoff(t *testing.T) {
	p := NewPolicy(Config{
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        false,
	}, nil)

	// Attempt 2: 1s * 2^0 = 1s
	delay2 := p.CalculateDelay(2)
	if delay2 != time.Second {
		t.Errorf("Expected 1s for attempt 2, got: %v", delay2)
	}

	// Attempt 3: 1s * 2^1 = 2s
	delay3 := p.CalculateDelay(3)
	if delay3 != 2*time.Second {
		t.Errorf("Expected 2s for attempt 3, got: %v", delay3)
	}

	// Attempt 4: 1s * 2^2 = 4s
	delay4 := p.CalculateDelay(4)
	if delay4 != 4*time.Second {
		t.Errorf("Expected 4s for attempt 4, got: %v", delay4)
	}
}

func TestCalculateDelay_NonDecreasing(t *testing.T) {
	p := NewPolicy(Config{
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		Jitter:        false,
	}, nil)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := p.CalculateDelay(attempt)
		if d < prev {
			t.Errorf("Delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestCalculateDelay_MaxDelayCap(t *testing.T) {
	p := NewPolicy(Config{
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        false,
	}, nil)

	// Attempt 10: 1s * 2^8 = 256s, but capped at 5s
	delay := p.CalculateDelay(10)
	if delay != 5*time.Second {
		t.Errorf("Expected 5s (max delay cap) for attempt 10, got: %v", delay)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	p := NewPolicy(Config{
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}, nil)

	// With jitter, delay should be within ±10% of base delay
	baseDelay := time.Second
	minDelay := baseDelay - time.Duration(float64(baseDelay)*0.1)
	maxDelay := baseDelay + time.Duration(float64(baseDelay)*0.1)

	for i := 0; i < 20; i++ {
		delay := p.CalculateDelay(2)
		if delay < minDelay || delay > maxDelay {
			t.Fatalf("Expected delay within ±10%% of %v, got: %v", baseDelay, delay)
		}
	}
}

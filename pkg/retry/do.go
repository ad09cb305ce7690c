package retry

import (
	"context"
	"time"

	"foundry/pkg/clienterrors"
	"foundry/pkg/logx"
)

// Do runs fn under the policy, sleeping between attempts according to the
// backoff curve. It returns the number of attempts made and the final error.
//
// Each scheduled retry is logged with the attempt number and the upcoming
// delay. A non-retryable error stops the loop immediately and is returned
// as-is. Exhausting the budget on a retryable error returns a
// ServiceUnavailable-typed error carrying the attempt count and last cause.
func Do(ctx context.Context, p *Policy, logger *logx.Logger, op string, fn func(context.Context) error) (int, error) {
	if logger == nil {
		logger = logx.NewLogger("retry")
	}

	var lastErr error

	for attempt := 1; attempt <= p.Config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("%s: succeeded on attempt %d/%d", op, attempt, p.Config.MaxAttempts)
			}
			return attempt, nil
		}

		lastErr = err

		if !p.ShouldRetry(err) {
			logger.Debug("%s: attempt %d/%d failed with non-retryable error: %v", op, attempt, p.Config.MaxAttempts, err)
			return attempt, lastErr
		}

		if attempt >= p.Config.MaxAttempts {
			break
		}

		delay := p.CalculateDelay(attempt + 1)
		logger.Warn("%s: attempt %d/%d failed: %v (retrying in %s)", op, attempt, p.Config.MaxAttempts, err, delay)

		if delay > 0 {
			select {
			case <-ctx.Done():
				return attempt, clienterrors.NewTimeoutError(ctx.Err(), op+" aborted while waiting to retry")
			case <-time.After(delay):
			}
		}
	}

	return p.Config.MaxAttempts, clienterrors.NewServiceUnavailableError(lastErr, p.Config.MaxAttempts)
}

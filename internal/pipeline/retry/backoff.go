package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Policy bounds a retried operation. Delay before retry n (1-based) is
// BaseDelay * 2^n, so the defaults wait 2s then 4s.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep replaces the context-aware timer, mainly in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, decision Decision, delay time.Duration, err error)
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay returns the backoff before retry number attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}
	return base << uint(attempt)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Do runs op until it succeeds, returns a terminal error, or the attempt
// cap is reached. The last error is returned wrapped with the stage name.
func Do[T any](ctx context.Context, p Policy, stage string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.attempts()

	var lastErr error
	lastDecision := Decision{Class: ClassTerminal, Reason: "unset"}
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		lastDecision = Classify(err)

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !lastDecision.IsTransient() {
			return zero, fmt.Errorf("terminal_failure stage=%s attempt=%d reason=%s: %w", stage, attempt, lastDecision.Reason, err)
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastDecision, delay, err)
		} else {
			slog.Warn("transient failure; retrying",
				"stage", stage,
				"classification_reason", lastDecision.Reason,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
	}

	return zero, fmt.Errorf("transient_recovery_exhausted stage=%s attempts=%d reason=%s: %w", stage, attempts, lastDecision.Reason, lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

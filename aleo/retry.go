package aleo

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryStrategy decides whether and when a failed request is retried.
//
// Built-in strategies: ExponentialBackoffStrategy (default), LinearBackoffStrategy,
// ConstantBackoffStrategy and NoRetryStrategy.
type RetryStrategy interface {
	// NextInterval returns the wait before retry number attempt (1-based).
	// A zero duration stops retrying.
	NextInterval(attempt int) time.Duration

	// ShouldRetry reports whether err may be retried on the given attempt.
	ShouldRetry(err error, attempt int) bool
}

// budgeted is implemented by strategies carrying a RetryBudget.
type budgeted interface {
	budget() *RetryBudget
}

// RetryBudget limits retries by count, total time and error type.
//
//	strategy := aleo.DefaultExponentialBackoff()
//	strategy.Budget = aleo.RetryBudget{
//	    MaxAttempts:     5,
//	    MaxDuration:     time.Minute,
//	    RetryableErrors: []aleo.ErrorType{aleo.ErrorTypeNetwork, aleo.ErrorTypeServer},
//	}
type RetryBudget struct {
	// MaxAttempts is the maximum number of attempts. 0 means unlimited.
	MaxAttempts int

	// MaxDuration caps the time spent across all attempts. 0 means no limit.
	MaxDuration time.Duration

	// RetryableErrors restricts retries to these error types when non-empty.
	RetryableErrors []ErrorType
}

// DefaultRetryBudget returns 3 attempts within 30 seconds.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{
		MaxAttempts: 3,
		MaxDuration: 30 * time.Second,
	}
}

// IsExhausted checks if the retry budget is exhausted
func (rb *RetryBudget) IsExhausted(attempt int, elapsed time.Duration) bool {
	if rb.MaxAttempts > 0 && attempt >= rb.MaxAttempts {
		return true
	}
	if rb.MaxDuration > 0 && elapsed >= rb.MaxDuration {
		return true
	}
	return false
}

// IsRetryable checks if an error is allowed by the budget
func (rb *RetryBudget) IsRetryable(err error) bool {
	if !IsRetryable(err) {
		return false
	}
	if len(rb.RetryableErrors) == 0 {
		return true
	}

	var typed *Error
	if errors.As(err, &typed) {
		for _, allowed := range rb.RetryableErrors {
			if typed.Type == allowed {
				return true
			}
		}
	}
	return false
}

// ExponentialBackoffStrategy waits InitialInterval * Multiplier^(attempt-1),
// capped at MaxInterval, with ±Jitter randomization.
type ExponentialBackoffStrategy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor in [0, 1].
	Jitter float64
	Budget RetryBudget
}

// DefaultExponentialBackoff returns 100ms doubling up to 5s with 30% jitter.
func DefaultExponentialBackoff() *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.3,
		Budget:          DefaultRetryBudget(),
	}
}

// NextInterval calculates the next retry interval
func (s *ExponentialBackoffStrategy) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	interval := float64(s.InitialInterval) * math.Pow(s.Multiplier, float64(attempt-1))
	if interval > float64(s.MaxInterval) {
		interval = float64(s.MaxInterval)
	}
	return applyJitter(interval, s.Jitter)
}

// ShouldRetry determines if the error is retryable
func (s *ExponentialBackoffStrategy) ShouldRetry(err error, attempt int) bool {
	return s.Budget.IsRetryable(err)
}

func (s *ExponentialBackoffStrategy) budget() *RetryBudget { return &s.Budget }

// LinearBackoffStrategy waits Interval between every retry, with optional jitter.
type LinearBackoffStrategy struct {
	Interval time.Duration
	Jitter   float64
	Budget   RetryBudget
}

// DefaultLinearBackoff returns 1s intervals with 10% jitter.
func DefaultLinearBackoff() *LinearBackoffStrategy {
	return &LinearBackoffStrategy{
		Interval: 1 * time.Second,
		Jitter:   0.1,
		Budget:   DefaultRetryBudget(),
	}
}

// NextInterval returns the next retry interval
func (s *LinearBackoffStrategy) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return applyJitter(float64(s.Interval), s.Jitter)
}

// ShouldRetry determines if the error is retryable
func (s *LinearBackoffStrategy) ShouldRetry(err error, attempt int) bool {
	return s.Budget.IsRetryable(err)
}

func (s *LinearBackoffStrategy) budget() *RetryBudget { return &s.Budget }

// ConstantBackoffStrategy waits exactly Interval between retries.
type ConstantBackoffStrategy struct {
	Interval time.Duration
	Budget   RetryBudget
}

// DefaultConstantBackoff returns 500ms intervals.
func DefaultConstantBackoff() *ConstantBackoffStrategy {
	return &ConstantBackoffStrategy{
		Interval: 500 * time.Millisecond,
		Budget:   DefaultRetryBudget(),
	}
}

// NextInterval returns the next retry interval
func (s *ConstantBackoffStrategy) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return s.Interval
}

// ShouldRetry determines if the error is retryable
func (s *ConstantBackoffStrategy) ShouldRetry(err error, attempt int) bool {
	return s.Budget.IsRetryable(err)
}

func (s *ConstantBackoffStrategy) budget() *RetryBudget { return &s.Budget }

// NoRetryStrategy disables retries.
type NoRetryStrategy struct{}

// NextInterval always returns 0
func (s *NoRetryStrategy) NextInterval(attempt int) time.Duration {
	return 0
}

// ShouldRetry always returns false
func (s *NoRetryStrategy) ShouldRetry(err error, attempt int) bool {
	return false
}

func applyJitter(interval, jitter float64) time.Duration {
	if jitter > 0 {
		spread := interval * jitter
		interval += spread * (2*rand.Float64() - 1)
	}
	if interval < 0 {
		interval = 0
	}
	return time.Duration(interval)
}

// retryExecutor runs a request under a RetryStrategy.
type retryExecutor struct {
	strategy RetryStrategy
}

func newRetryExecutor(strategy RetryStrategy) *retryExecutor {
	if strategy == nil {
		strategy = DefaultExponentialBackoff()
	}
	return &retryExecutor{strategy: strategy}
}

// Execute calls fn until it succeeds, the strategy gives up, or ctx ends.
// onRetry, if set, is called before each wait. It returns the number of
// retries performed and the last error.
func (re *retryExecutor) Execute(ctx context.Context, fn func() error, onRetry func(attempt int, delay time.Duration, err error)) (int, error) {
	startTime := time.Now()

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}

		if !re.strategy.ShouldRetry(err, attempt+1) {
			return attempt, err
		}

		if ctx.Err() != nil {
			return attempt, contextError(ctx.Err())
		}

		if b, ok := re.strategy.(budgeted); ok {
			if b.budget().IsExhausted(attempt+1, time.Since(startTime)) {
				return attempt, err
			}
		}

		interval := re.strategy.NextInterval(attempt + 1)
		if interval <= 0 {
			return attempt, err
		}

		if onRetry != nil {
			onRetry(attempt+1, interval, err)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, contextError(ctx.Err())
		case <-timer.C:
		}
	}
}

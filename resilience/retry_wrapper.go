package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// maxRetryAttempts bounds MaxAttempts so the uint64 conversion below cannot overflow.
const maxRetryAttempts = 100

// RetryWrapper decorates a ResilientClient with backoff retries for transient failures.
type RetryWrapper[Req, Resp any] struct {
	client     ResilientClient[Req, Resp]
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier

	mu    sync.RWMutex
	stats RetryStats
}

// RetryStats holds counters for a RetryWrapper.
type RetryStats struct {
	// LastAttemptTime is the time of the last attempt.
	LastAttemptTime time.Time

	// LastError is the last terminal error, if any.
	LastError error

	// TotalAttempts counts every call to the wrapped client.
	TotalAttempts int64

	// TotalRetries counts attempts after the first of each Execute.
	TotalRetries int64

	// TotalSuccesses counts Execute calls that ended in success.
	TotalSuccesses int64

	// TotalFailures counts Execute calls that ended in failure.
	TotalFailures int64
}

// NewRetryWrapper wraps client with retry behavior configured by opts.
func NewRetryWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	opts ...RetryOption,
) *RetryWrapper[Req, Resp] {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier()
	}

	return &RetryWrapper[Req, Resp]{
		client:     client,
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
	}
}

// Execute calls the wrapped client, retrying retryable errors with the configured backoff
// until MaxAttempts is reached or ctx ends.
func (w *RetryWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	if w.config.MaxAttempts <= 0 {
		return zero, errors.New("resilience: max attempts must be positive")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var (
		response Resp
		attempts int
	)

	err := retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		attempts++
		w.noteAttempt(attempts)

		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := w.client.Execute(ctx, req)
		if err == nil {
			if attempts > 1 {
				w.logger.Info("request succeeded after retry", "attempts", attempts)
			}
			response = resp
			return nil
		}

		if !w.classifier.IsRetryable(err) {
			w.logger.Debug("non-retryable error, giving up",
				"error", err,
				"attempts", attempts)
			return err
		}

		w.logger.Debug("retrying request after delay",
			"attempt", attempts,
			"error", err)
		return retry.RetryableError(err)
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.logger.Warn("request failed after retries",
			"attempts", attempts,
			"error", err)
		w.stats.TotalFailures++
		w.stats.LastError = err
		return zero, err
	}
	w.stats.TotalSuccesses++
	return response, nil
}

func (w *RetryWrapper[Req, Resp]) noteAttempt(attempt int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.TotalAttempts++
	if attempt > 1 {
		w.stats.TotalRetries++
	}
	w.stats.LastAttemptTime = time.Now()
}

// backoff builds the go-retry policy. retry.Do counts the first call, so the retry budget
// is MaxAttempts-1.
func (w *RetryWrapper[Req, Resp]) backoff() retry.Backoff {
	attempts := min(max(w.config.MaxAttempts, 1), maxRetryAttempts)
	retries := uint64(attempts - 1) // #nosec G115 - bounded above

	initial := w.config.InitialDelay
	if initial <= 0 {
		initial = time.Millisecond
	}
	jitter := initial / 10

	var base retry.Backoff
	switch w.config.Strategy {
	case RetryStrategyConstant:
		base = retry.BackoffFunc(func() (time.Duration, bool) {
			if jitter <= 0 {
				return initial, false
			}
			return initial + rand.N(jitter), false
		})
		return retry.WithMaxRetries(retries, base)
	case RetryStrategyFibonacci:
		base = retry.NewFibonacci(initial)
	default:
		base = retry.NewExponential(initial)
	}

	if w.config.MaxDelay > 0 {
		base = retry.WithCappedDuration(w.config.MaxDelay, retry.WithJitter(jitter, base))
	} else {
		base = retry.WithJitter(jitter, base)
	}
	return retry.WithMaxRetries(retries, base)
}

// GetRetryStats returns a snapshot of the wrapper's counters.
func (w *RetryWrapper[Req, Resp]) GetRetryStats() RetryStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

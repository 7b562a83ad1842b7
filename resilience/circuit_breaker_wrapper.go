package resilience

import (
	"context"
	"errors"
	"log/slog"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerWrapper decorates a ResilientClient with a CircuitBreaker. Unlike Capability it
// has no fallback: rejections surface as jp-go-errors circuit breaker errors, which suits
// callers that retry on their own, such as session bootstrap.
type CircuitBreakerWrapper[Req, Resp any] struct {
	client  ResilientClient[Req, Resp]
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewCircuitBreakerWrapper wraps client with breaker.
func NewCircuitBreakerWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	breaker *CircuitBreaker,
) *CircuitBreakerWrapper[Req, Resp] {
	return &CircuitBreakerWrapper[Req, Resp]{
		client:  client,
		breaker: breaker,
		logger:  breaker.logger,
	}
}

// Execute runs the request through the breaker. An open breaker rejects without calling the
// client; the returned error wraps gobreaker.ErrOpenState, or gobreaker.ErrTooManyRequests when
// a half-open trial is already in flight.
func (w *CircuitBreakerWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	attempt, err := w.breaker.allow()
	if err != nil {
		return zero, w.rejection(err)
	}

	resp, err := w.client.Execute(ctx, req)
	attempt.Record(err)
	if err != nil {
		w.logger.Debug("request failed through circuit breaker",
			"name", w.breaker.Name(),
			"error", err,
			"counted", w.breaker.classifier.ShouldTripCircuit(err))
		return zero, err
	}
	return resp, nil
}

func (w *CircuitBreakerWrapper[Req, Resp]) rejection(err error) error {
	counts := w.breaker.Counts()
	circuitCounts := jperrors.CircuitCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}

	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return jperrors.NewCircuitBreakerError(
			"trial request already in flight",
			w.breaker.Name(),
			StateHalfOpen.String(),
			jperrors.WithCause(err),
			jperrors.WithCounts(circuitCounts),
		)
	}
	return jperrors.NewCircuitBreakerError(
		"request rejected",
		w.breaker.Name(),
		StateOpen.String(),
		jperrors.WithCause(err),
		jperrors.WithCounts(circuitCounts),
	)
}

// State returns the state of the underlying breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) State() CircuitBreakerState {
	return w.breaker.State()
}

// CombineRetryAndCircuitBreaker layers retry (outer) over a circuit breaker (inner), so the
// breaker sees every attempt and an open breaker stops the retry loop.
func CombineRetryAndCircuitBreaker[Req, Resp any](
	client ResilientClient[Req, Resp],
	retryConfig *RetryConfig,
	breaker *CircuitBreaker,
	logger *slog.Logger,
) ResilientClient[Req, Resp] {
	withCB := NewCircuitBreakerWrapper(client, breaker)

	return NewRetryWrapper[Req, Resp](withCB, func(c *RetryConfig) {
		if retryConfig != nil {
			*c = *retryConfig
		}
		if logger != nil {
			c.Logger = logger
		}
	})
}

package resilience

// Outcome classifies how a guarded call ended. It drives health and breaker bookkeeping
// and is exposed for metrics; callers decide on the error value, not the outcome.
type Outcome int

const (
	// OutcomeSuccess means the API answered 2xx and the payload decoded.
	OutcomeSuccess Outcome = iota

	// OutcomeTimeoutFailure means the call exceeded its timeout and was aborted.
	OutcomeTimeoutFailure

	// OutcomeNetworkFailure means the request never got an HTTP answer.
	OutcomeNetworkFailure

	// OutcomeHTTPError means the API answered with a non-2xx status or an unreadable body.
	OutcomeHTTPError

	// OutcomeAuthMissing means no access token was available.
	OutcomeAuthMissing

	// OutcomeShortCircuited means the health flag was down and no request was sent.
	OutcomeShortCircuited

	// OutcomeCircuitOpen means a capability breaker rejected the call.
	OutcomeCircuitOpen

	// OutcomeCanceled means the caller's own context ended before the call completed.
	OutcomeCanceled

	// OutcomeInvalidInput means the request failed a client-side check and was never sent.
	OutcomeInvalidInput
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeoutFailure:
		return "timeout"
	case OutcomeNetworkFailure:
		return "network"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeAuthMissing:
		return "auth_missing"
	case OutcomeShortCircuited:
		return "short_circuited"
	case OutcomeCircuitOpen:
		return "circuit_open"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Result is the discriminated success/failure value returned by every guarded call.
// A degraded result carries a substitute value (cached or synthesized) and no error;
// Cause then reports why the live value could not be used.
type Result[T any] struct {
	value    T
	err      error
	cause    error
	outcome  Outcome
	degraded bool
}

// Success returns a successful Result.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value, outcome: OutcomeSuccess}
}

// Failure returns a failed Result.
func Failure[T any](outcome Outcome, err error) Result[T] {
	return Result[T]{err: err, outcome: outcome}
}

// Degraded returns a Result carrying a substitute value served in place of a failed call.
func Degraded[T any](value T, outcome Outcome, cause error) Result[T] {
	return Result[T]{value: value, cause: cause, outcome: outcome, degraded: true}
}

// OK reports whether the result carries a value, live or substitute.
func (r Result[T]) OK() bool {
	return r.err == nil
}

// Value returns the carried value, or the zero value on failure.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the classified failure, or nil.
func (r Result[T]) Err() error {
	return r.err
}

// Unwrap returns the value and error as a Go pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

// Outcome returns how the underlying call ended.
func (r Result[T]) Outcome() Outcome {
	return r.outcome
}

// Degraded reports whether the value is a substitute rather than a live answer.
func (r Result[T]) Degraded() bool {
	return r.degraded
}

// Cause returns the failure hidden behind a degraded value.
func (r Result[T]) Cause() error {
	return r.cause
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrServiceUnavailable is returned when the API is known to be down, did not answer in
	// time, or could not be reached. Timeouts and network failures both map to it; the
	// Result outcome keeps them apart.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrUnauthenticated is returned when no access token is available for the call.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// HTTPStatusError is a non-2xx answer from the API. Message carries the server-provided
// `error` field when there was one, otherwise "HTTP <status>".
type HTTPStatusError struct {
	Code    int
	Message string
}

// NewHTTPStatusError builds an HTTPStatusError, defaulting the message to "HTTP <status>".
func NewHTTPStatusError(code int, message string) *HTTPStatusError {
	message = strings.TrimSpace(message)
	if message == "" {
		message = fmt.Sprintf("HTTP %d", code)
	}
	return &HTTPStatusError{Code: code, Message: message}
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return e.Message
}

// StatusCode implements HTTPError.
func (e *HTTPStatusError) StatusCode() int {
	return e.Code
}

// ValidationError is a client-side input check failure. It never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// isCallerError reports whether err came from the caller rather than the API: its own
// cancellation or deadline, or input rejected before the call was sent.
func isCallerError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsServiceUnavailable reports whether err is the merged outage/timeout sentinel.
func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// ErrorClassifier determines whether an error should trigger a retry.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a transient failure
	// that should be retried.
	IsRetryable(err error) bool
}

// CircuitBreakerErrorClassifier determines whether an error counts as a breaker failure.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error should be recorded as a failure.
	// Errors for which it returns false are recorded as successes.
	ShouldTripCircuit(err error) bool
}

// CircuitBreakerErrorClassifierFunc adapts a function to CircuitBreakerErrorClassifier.
type CircuitBreakerErrorClassifierFunc func(err error) bool

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
func (f CircuitBreakerErrorClassifierFunc) ShouldTripCircuit(err error) bool {
	return f(err)
}

// AnyFailureClassifier counts every error as a breaker failure except client-side
// validation errors and caller cancellation, which say nothing about the health of the API.
type AnyFailureClassifier struct{}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
func (AnyFailureClassifier) ShouldTripCircuit(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var validationErr *ValidationError
	return !errors.As(err, &validationErr)
}

// HTTPStatusClassifier classifies errors by HTTP status code.
type HTTPStatusClassifier struct {
	// RetryableStatuses lists HTTP status codes that should trigger retries.
	// Defaults to 408, 429, 500, 502, 503, 504 if nil.
	RetryableStatuses []int

	// CircuitTripStatuses lists HTTP status codes that should count as breaker failures.
	// Defaults to 401, 403, 500, 502, 503, 504 if nil.
	CircuitTripStatuses []int
}

var (
	defaultRetryableStatuses = []int{
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
	defaultCircuitTripStatuses = []int{
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
)

// NewHTTPStatusClassifier creates an HTTPStatusClassifier with the default status mappings.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		RetryableStatuses:   defaultRetryableStatuses,
		CircuitTripStatuses: defaultCircuitTripStatuses,
	}
}

// IsRetryable implements ErrorClassifier.
func (c *HTTPStatusClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// The parent context is gone; another attempt would fail immediately.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) || errors.Is(err, ErrUnauthenticated) {
		return false
	}

	// An open breaker will keep rejecting until its reset timeout.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, jperrors.ErrRateLimited) {
		return true
	}
	if jperrors.IsTimeout(err) {
		return true
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		// Unknown errors are usually transport problems.
		return true
	}
	return containsStatus(c.retryableStatuses(), statusCode)
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
func (c *HTTPStatusClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	if errors.Is(err, jperrors.ErrRateLimited) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		return true
	}
	return containsStatus(c.circuitTripStatuses(), statusCode)
}

func (c *HTTPStatusClassifier) retryableStatuses() []int {
	if c.RetryableStatuses != nil {
		return c.RetryableStatuses
	}
	return defaultRetryableStatuses
}

func (c *HTTPStatusClassifier) circuitTripStatuses() []int {
	if c.CircuitTripStatuses != nil {
		return c.CircuitTripStatuses
	}
	return defaultCircuitTripStatuses
}

func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return 0
}

func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultErrorClassifier is the retry classifier used when none is configured.
func DefaultErrorClassifier() ErrorClassifier {
	return NewHTTPStatusClassifier()
}

// DefaultCircuitBreakerErrorClassifier is the breaker classifier used when none is configured.
// Every gateway failure counts, so a capability trips after MaxFailures failed calls.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return AnyFailureClassifier{}
}

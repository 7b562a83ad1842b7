package resilience

import (
	"log/slog"
	"time"
)

// RetryStrategy defines the backoff strategy for retry operations.
type RetryStrategy string

const (
	// RetryStrategyExponential uses exponential backoff with jitter.
	RetryStrategyExponential RetryStrategy = "exponential"

	// RetryStrategyConstant uses a constant delay between retries with jitter.
	RetryStrategyConstant RetryStrategy = "constant"

	// RetryStrategyFibonacci uses fibonacci backoff with jitter.
	RetryStrategyFibonacci RetryStrategy = "fibonacci"
)

// RetryConfig holds retry configuration options.
type RetryConfig struct {
	// ErrorClassifier determines which errors should trigger retries.
	// Default: HTTPStatusClassifier
	ErrorClassifier ErrorClassifier

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Strategy defines the backoff strategy.
	// Default: RetryStrategyExponential
	Strategy RetryStrategy

	// InitialDelay is the delay before the first retry.
	// Default: 200 milliseconds
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 5 seconds
	MaxDelay time.Duration

	// MaxAttempts is the maximum number of attempts including the first one.
	// Default: 3
	MaxAttempts int
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the total number of attempts, including the first one.
func WithMaxAttempts(attempts int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = attempts
	}
}

// WithExponentialBackoff configures exponential backoff with jitter, capped at maxDelay.
//
// Example:
//
//	resilience.WithExponentialBackoff(200*time.Millisecond, 2*time.Second)
//	// ~200ms, ~400ms, ~800ms, ~1.6s, 2s (capped)
func WithExponentialBackoff(initialDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyExponential
		c.InitialDelay = initialDelay
		c.MaxDelay = maxDelay
	}
}

// WithConstantBackoff configures a constant delay with jitter between retries.
func WithConstantBackoff(delay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyConstant
		c.InitialDelay = delay
		c.MaxDelay = delay
	}
}

// WithFibonacciBackoff configures fibonacci backoff with jitter, capped at maxDelay.
func WithFibonacciBackoff(initialDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyFibonacci
		c.InitialDelay = initialDelay
		c.MaxDelay = maxDelay
	}
}

// WithErrorClassifier sets the classifier that decides which errors are retried.
func WithErrorClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithRetryLogger sets the logger for retry operations.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// DefaultRetryConfig returns retry configuration suited to interactive session calls.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		Strategy:        RetryStrategyExponential,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		ErrorClassifier: DefaultErrorClassifier(),
		Logger:          slog.Default(),
	}
}

// CircuitBreakerConfig holds circuit breaker configuration options.
type CircuitBreakerConfig struct {
	// ErrorClassifier decides which errors count as failures.
	// Default: AnyFailureClassifier
	ErrorClassifier CircuitBreakerErrorClassifier

	// OnStateChange is called whenever the breaker changes state.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// Logger for circuit breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now stamps LastFailureAt. ResetTimeout always runs on the real clock.
	// Default: time.Now
	Now func() time.Time

	// ResetTimeout is how long the breaker stays open before allowing one probe.
	// Default: 60 seconds
	ResetTimeout time.Duration

	// MaxFailures is the number of consecutive failures that opens the breaker.
	// Default: 3
	MaxFailures uint32
}

// CircuitBreakerOption is a functional option for configuring circuit breaker behavior.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// WithMaxFailures sets the consecutive failure count that opens the breaker.
func WithMaxFailures(maxFailures uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.MaxFailures = maxFailures
	}
}

// WithResetTimeout sets how long the breaker stays open before probing recovery.
func WithResetTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ResetTimeout = timeout
	}
}

// WithCircuitBreakerErrorClassifier sets the classifier that decides which errors count as failures.
func WithCircuitBreakerErrorClassifier(classifier CircuitBreakerErrorClassifier) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithStateChangeHandler sets a callback for breaker state changes.
// The callback runs while the breaker is mid-transition and must not call back into it.
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithCircuitBreakerLogger sets the logger for circuit breaker operations.
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// WithCircuitBreakerClock sets the clock used to stamp LastFailureAt. It does not drive the
// reset timeout, which gobreaker measures on the real clock.
func WithCircuitBreakerClock(now func() time.Time) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Now = now
	}
}

// DefaultCircuitBreakerConfig returns the three-strikes, sixty-second breaker configuration.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxFailures:     3,
		ResetTimeout:    60 * time.Second,
		ErrorClassifier: DefaultCircuitBreakerErrorClassifier(),
		Logger:          slog.Default(),
		Now:             time.Now,
	}
}

// HealthConfig holds HealthMonitor configuration options.
type HealthConfig struct {
	// Logger for health transitions.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now is the clock used for the debounce window.
	// Default: time.Now
	Now func() time.Time

	// RecheckInterval is the debounce window during which the cached flag is returned.
	// Default: 30 seconds
	RecheckInterval time.Duration

	// ProbeTimeout bounds a single health probe.
	// Default: 1.5 seconds
	ProbeTimeout time.Duration
}

// HealthOption is a functional option for configuring the HealthMonitor.
type HealthOption func(*HealthConfig)

// WithRecheckInterval sets the debounce window.
func WithRecheckInterval(interval time.Duration) HealthOption {
	return func(c *HealthConfig) {
		c.RecheckInterval = interval
	}
}

// WithProbeTimeout sets the timeout of a single probe.
func WithProbeTimeout(timeout time.Duration) HealthOption {
	return func(c *HealthConfig) {
		c.ProbeTimeout = timeout
	}
}

// WithHealthLogger sets the logger for health transitions.
func WithHealthLogger(logger *slog.Logger) HealthOption {
	return func(c *HealthConfig) {
		c.Logger = logger
	}
}

// WithHealthClock sets the clock used for the debounce window.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(c *HealthConfig) {
		c.Now = now
	}
}

// DefaultHealthConfig returns the 30s debounce, 1.5s probe configuration.
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		RecheckInterval: 30 * time.Second,
		ProbeTimeout:    1500 * time.Millisecond,
		Logger:          slog.Default(),
		Now:             time.Now,
	}
}

// GatewayConfig holds Gateway configuration options.
type GatewayConfig struct {
	// Transport performs the HTTP exchange.
	// Default: NewHTTPTransport(nil)
	Transport Transport

	// Logger for gateway failures.
	// Default: slog.Default()
	Logger *slog.Logger

	// UserAgent is sent on every request when set.
	UserAgent string

	// DefaultTimeout applies when a call passes a non-positive timeout.
	// Default: 10 seconds
	DefaultTimeout time.Duration

	// MaxResponseBytes bounds how much of a response body is read.
	// Default: 8 MiB
	MaxResponseBytes int64
}

// GatewayOption is a functional option for configuring the Gateway.
type GatewayOption func(*GatewayConfig)

// WithTransport sets the HTTP leg used by the gateway.
func WithTransport(transport Transport) GatewayOption {
	return func(c *GatewayConfig) {
		c.Transport = transport
	}
}

// WithGatewayLogger sets the logger for gateway failures.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(c *GatewayConfig) {
		c.Logger = logger
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) GatewayOption {
	return func(c *GatewayConfig) {
		c.UserAgent = userAgent
	}
}

// WithDefaultTimeout sets the timeout used when a call does not supply one.
func WithDefaultTimeout(timeout time.Duration) GatewayOption {
	return func(c *GatewayConfig) {
		c.DefaultTimeout = timeout
	}
}

// WithMaxResponseBytes bounds how much of a response body is read.
func WithMaxResponseBytes(n int64) GatewayOption {
	return func(c *GatewayConfig) {
		c.MaxResponseBytes = n
	}
}

// DefaultGatewayConfig returns the default gateway configuration.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Transport:        NewHTTPTransport(nil),
		Logger:           slog.Default(),
		DefaultTimeout:   10 * time.Second,
		MaxResponseBytes: 8 << 20,
	}
}

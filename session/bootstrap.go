package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// BreakerName is the capability name of the session fetch breaker.
const BreakerName = "session"

// Fetcher retrieves the raw session payload from the BaaS provider. A nil payload with a nil
// error means there is no signed-in user.
type Fetcher interface {
	FetchSession(ctx context.Context) ([]byte, error)
}

// FetcherFunc adapts a plain function to a Fetcher.
type FetcherFunc func(ctx context.Context) ([]byte, error)

// FetchSession implements Fetcher.
func (f FetcherFunc) FetchSession(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// BootstrapConfig configures a Bootstrapper.
type BootstrapConfig struct {
	// Retry configures retries around the fetch.
	// Default: resilience.DefaultRetryConfig()
	Retry *resilience.RetryConfig

	// Breaker guards the fetch.
	// Default: a "session" breaker with default settings
	Breaker *resilience.CircuitBreaker

	// Logger for bootstrap failures.
	// Default: slog.Default()
	Logger *slog.Logger

	// AttemptTimeout bounds each fetch attempt.
	// Default: 15 seconds
	AttemptTimeout time.Duration
}

// BootstrapOption configures a Bootstrapper.
type BootstrapOption func(*BootstrapConfig)

// WithRetryConfig sets the retry policy.
func WithRetryConfig(cfg *resilience.RetryConfig) BootstrapOption {
	return func(c *BootstrapConfig) {
		c.Retry = cfg
	}
}

// WithBreaker sets the breaker guarding the fetch.
func WithBreaker(b *resilience.CircuitBreaker) BootstrapOption {
	return func(c *BootstrapConfig) {
		c.Breaker = b
	}
}

// WithAttemptTimeout sets the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) BootstrapOption {
	return func(c *BootstrapConfig) {
		c.AttemptTimeout = d
	}
}

// WithBootstrapLogger sets the bootstrap logger.
func WithBootstrapLogger(logger *slog.Logger) BootstrapOption {
	return func(c *BootstrapConfig) {
		c.Logger = logger
	}
}

// Bootstrapper loads the initial session into a Store.
type Bootstrapper struct {
	client resilience.ResilientClient[struct{}, []byte]
	store  *Store
	logger *slog.Logger
}

// NewBootstrapper builds a Bootstrapper that fetches through fetcher with a per-attempt
// timeout, a circuit breaker and retries, in that order from the inside out.
func NewBootstrapper(fetcher Fetcher, store *Store, opts ...BootstrapOption) *Bootstrapper {
	config := &BootstrapConfig{
		AttemptTimeout: 15 * time.Second,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Retry == nil {
		config.Retry = resilience.DefaultRetryConfig()
	}
	if config.Breaker == nil {
		config.Breaker = resilience.NewCircuitBreaker(BreakerName,
			resilience.WithCircuitBreakerLogger(config.Logger),
			resilience.WithCircuitBreakerErrorClassifier(resilience.NewHTTPStatusClassifier()))
	}

	timed := &timedFetch{fetcher: fetcher, timeout: config.AttemptTimeout}
	return &Bootstrapper{
		client: resilience.CombineRetryAndCircuitBreaker[struct{}, []byte](
			timed, config.Retry, config.Breaker, config.Logger),
		store:  store,
		logger: config.Logger,
	}
}

// Bootstrap fetches the session and stores it. Any failure, including a payload that does not
// validate, leaves the store signed out and returns resilience.ErrUnauthenticated; the cause is
// logged rather than returned. A caller-cancelled context returns the context error.
func (b *Bootstrapper) Bootstrap(ctx context.Context) error {
	raw, err := b.client.Execute(ctx, struct{}{})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		b.logger.Warn("session fetch failed", "error", err)
		b.store.Clear()
		return resilience.ErrUnauthenticated
	}

	if len(raw) == 0 {
		b.store.Clear()
		return resilience.ErrUnauthenticated
	}

	sess, err := Parse(raw)
	if err != nil {
		b.logger.Warn("session payload rejected", "error", err)
		b.store.Clear()
		return resilience.ErrUnauthenticated
	}

	event := EventSignedIn
	if prev := b.store.Current(); prev != nil && prev.User.ID == sess.User.ID {
		event = EventTokenRefreshed
	}
	b.store.Set(event, sess)
	return nil
}

// timedFetch bounds each attempt and reports a missed deadline as a jp-go-errors timeout so
// the retry classifier treats it as transient.
type timedFetch struct {
	fetcher Fetcher
	timeout time.Duration
}

func (t *timedFetch) Execute(ctx context.Context, _ struct{}) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	raw, err := t.fetcher.FetchSession(attemptCtx)
	if err == nil {
		return raw, nil
	}
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, jperrors.NewTimeoutError("session fetch timed out", "fetch_session", t.timeout)
	}
	return nil, err
}

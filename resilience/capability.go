package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCapabilityCacheSize = 128
	defaultCapabilityTimeout   = 30 * time.Second
)

// CallFunc performs the live call for a capability, usually through Call on a Gateway.
type CallFunc[Req, Resp any] func(ctx context.Context, req Req) Result[Resp]

// FallbackFunc synthesizes a substitute value when neither the live call nor the
// last-known cache can answer. It returns false when it has nothing to offer.
type FallbackFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, bool)

// CapabilityConfig describes a guarded capability.
type CapabilityConfig[Req, Resp any] struct {
	// Call performs the live request. Required.
	Call CallFunc[Req, Resp]

	// Key maps a request to its deduplication and cache key. Required.
	Key func(Req) string

	// Fallback synthesizes a value when nothing cached is available.
	Fallback FallbackFunc[Req, Resp]

	// Breaker guards the capability. Required.
	Breaker *CircuitBreaker

	// Logger for degraded answers.
	// Default: slog.Default()
	Logger *slog.Logger

	// Name prefixes every key. Default: the breaker name.
	Name string

	// CacheSize bounds the last-known-value cache. Default: 128.
	CacheSize int

	// Timeout bounds a shared live call, which does not follow any single caller's
	// cancellation. Default: 30 seconds
	Timeout time.Duration
}

// Capability wraps one remote capability (for example "profile") with a circuit breaker,
// in-flight deduplication and a last-known-value cache.
//
// Concurrent Execute calls for the same key share one live call. The shared call runs detached
// from the callers' cancellation; a caller that gives up gets its context error back while the
// call completes for the others. While the breaker is open the
// live call is skipped entirely and a cached or synthesized value is served; the same happens
// when a live call fails with ErrServiceUnavailable. HTTP and validation errors are returned
// to the caller as-is.
type Capability[Req, Resp any] struct {
	call     CallFunc[Req, Resp]
	key      func(Req) string
	fallback FallbackFunc[Req, Resp]
	breaker  *CircuitBreaker
	logger   *slog.Logger
	cache    *lru.Cache[string, Resp]
	inflight singleflight.Group
	name     string
	timeout  time.Duration
}

// NewCapability builds a Capability from config.
func NewCapability[Req, Resp any](config CapabilityConfig[Req, Resp]) (*Capability[Req, Resp], error) {
	if config.Call == nil || config.Key == nil || config.Breaker == nil {
		return nil, errors.New("resilience: capability requires Call, Key and Breaker")
	}
	if config.Name == "" {
		config.Name = config.Breaker.Name()
	}
	if config.CacheSize <= 0 {
		config.CacheSize = defaultCapabilityCacheSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultCapabilityTimeout
	}

	cache, err := lru.New[string, Resp](config.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Capability[Req, Resp]{
		call:     config.Call,
		key:      config.Key,
		fallback: config.Fallback,
		breaker:  config.Breaker,
		logger:   config.Logger,
		cache:    cache,
		name:     config.Name,
		timeout:  config.Timeout,
	}, nil
}

// Execute runs the capability for req. A caller whose context ends first gets
// OutcomeCanceled with the context error.
func (c *Capability[Req, Resp]) Execute(ctx context.Context, req Req) Result[Resp] {
	if err := ctx.Err(); err != nil {
		return Failure[Resp](OutcomeCanceled, err)
	}

	key := c.cacheKey(req)
	ch := c.inflight.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.execute(shared, req, key), nil
	})

	select {
	case r := <-ch:
		return r.Val.(Result[Resp])
	case <-ctx.Done():
		return Failure[Resp](OutcomeCanceled, ctx.Err())
	}
}

func (c *Capability[Req, Resp]) execute(ctx context.Context, req Req, key string) Result[Resp] {
	attempt, ok := c.breaker.CanExecute()
	if !ok {
		return c.degrade(ctx, req, key, OutcomeCircuitOpen, ErrServiceUnavailable)
	}

	res := c.call(ctx, req)
	attempt.Record(res.Err())

	if res.OK() {
		c.cache.Add(key, res.Value())
		return res
	}

	if IsServiceUnavailable(res.Err()) {
		return c.degrade(ctx, req, key, res.Outcome(), res.Err())
	}
	return res
}

// degrade serves the last known value for key, else the fallback, else the failure itself.
func (c *Capability[Req, Resp]) degrade(ctx context.Context, req Req, key string, outcome Outcome, cause error) Result[Resp] {
	if cached, ok := c.cache.Get(key); ok {
		c.logger.Debug("serving cached value", "capability", c.name, "outcome", outcome.String())
		return Degraded(cached, outcome, cause)
	}

	if c.fallback != nil {
		if value, ok := c.fallback(ctx, req); ok {
			c.logger.Debug("serving fallback value", "capability", c.name, "outcome", outcome.String())
			return Degraded(value, outcome, cause)
		}
	}
	return Failure[Resp](outcome, cause)
}

// Remember stores value as the last known answer for req.
func (c *Capability[Req, Resp]) Remember(req Req, value Resp) {
	c.cache.Add(c.cacheKey(req), value)
}

// Forget drops the last known answer for req.
func (c *Capability[Req, Resp]) Forget(req Req) {
	c.cache.Remove(c.cacheKey(req))
}

// Purge drops every cached answer, e.g. on sign-out.
func (c *Capability[Req, Resp]) Purge() {
	c.cache.Purge()
}

// Breaker returns the breaker guarding the capability.
func (c *Capability[Req, Resp]) Breaker() *CircuitBreaker {
	return c.breaker
}

func (c *Capability[Req, Resp]) cacheKey(req Req) string {
	return c.name + ":" + c.key(req)
}

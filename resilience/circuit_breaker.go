package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen means exactly one trial request is allowed through.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerCounts holds the internal counts of the underlying breaker for the current
// generation. They reset on every state change.
type CircuitBreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// BreakerHealth is a JSON-friendly view of one breaker.
type BreakerHealth struct {
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	Name          string     `json:"name"`
	State         string     `json:"state"`
	FailureCount  uint32     `json:"failure_count"`
	Healthy       bool       `json:"healthy"`
}

// CircuitBreaker guards one capability. After MaxFailures consecutive failures it opens and
// rejects every call; once ResetTimeout has elapsed the next CanExecute moves it to half-open
// and admits exactly one trial call, whose result closes or re-opens it.
type CircuitBreaker struct {
	tcb        *gobreaker.TwoStepCircuitBreaker[struct{}]
	classifier CircuitBreakerErrorClassifier
	logger     *slog.Logger
	now        func() time.Time
	name       string

	// Guarded by mu. generation advances on every state change; results from attempts
	// admitted in an older generation are ignored, as gobreaker ignores them.
	mu            sync.RWMutex
	state         CircuitBreakerState
	generation    uint64
	failures      uint32
	lastFailureAt time.Time
}

// NewCircuitBreaker creates a breaker for the named capability.
//
// Example:
//
//	breaker := resilience.NewCircuitBreaker("profile",
//	    resilience.WithMaxFailures(3),
//	    resilience.WithResetTimeout(time.Minute),
//	)
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 1
	}

	b := &CircuitBreaker{
		classifier: config.ErrorClassifier,
		logger:     config.Logger,
		now:        config.Now,
		name:       name,
	}
	instr := telemetry()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		// Runs under the gobreaker lock: touch only our own fields here.
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromState := convertGobreakerState(from)
			toState := convertGobreakerState(to)

			b.mu.Lock()
			b.state = toState
			b.generation++
			if toState == StateOpen {
				b.lastFailureAt = b.now()
			}
			b.mu.Unlock()

			config.Logger.Warn("circuit breaker state changed",
				"name", name,
				"from", fromState.String(),
				"to", toState.String())
			instr.recordTransition(name, fromState, toState)

			if config.OnStateChange != nil {
				config.OnStateChange(name, fromState, toState)
			}
		},
	}

	b.tcb = gobreaker.NewTwoStepCircuitBreaker[struct{}](settings)
	return b
}

// Attempt is the permission handed out by CanExecute. Exactly one of OnSuccess, OnFailure,
// Release or Record should be called; later calls are ignored. An attempt resolved after the
// breaker changed state leaves the breaker untouched.
type Attempt struct {
	breaker    *CircuitBreaker
	done       func(success bool)
	state      CircuitBreakerState
	generation uint64
	once       sync.Once
}

// OnSuccess resets the failure count and closes the breaker.
func (a *Attempt) OnSuccess() {
	a.once.Do(func() {
		if a.breaker.settle(a.generation, func(b *CircuitBreaker) { b.failures = 0 }) {
			a.done(true)
		}
	})
}

// OnFailure counts a failure and opens the breaker once MaxFailures is reached.
func (a *Attempt) OnFailure() {
	a.once.Do(func() {
		if a.breaker.settle(a.generation, func(b *CircuitBreaker) { b.failures++ }) {
			a.done(false)
		}
	})
}

// Release resolves the attempt without a verdict on the API: the failure count is kept and a
// half-open trial re-opens the breaker, since nothing showed the API has recovered.
func (a *Attempt) Release() {
	a.once.Do(func() {
		if a.state == StateHalfOpen && a.breaker.settle(a.generation, nil) {
			a.done(false)
		}
	})
}

// Record reports err through the breaker's classifier. Caller cancellation and client-side
// validation errors release the attempt; other errors the classifier does not count are
// recorded as successes.
func (a *Attempt) Record(err error) {
	switch {
	case err == nil:
		a.OnSuccess()
	case isCallerError(err):
		a.Release()
	case a.breaker.classifier.ShouldTripCircuit(err):
		a.OnFailure()
	default:
		a.OnSuccess()
	}
}

// settle applies update when generation is still current and reports whether it was.
func (b *CircuitBreaker) settle(generation uint64, update func(*CircuitBreaker)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if generation != b.generation {
		return false
	}
	if update != nil {
		update(b)
	}
	return true
}

// CanExecute reports whether a call may proceed. A rejection has no side effects and is not
// logged. When it returns true the caller must resolve the returned Attempt.
func (b *CircuitBreaker) CanExecute() (*Attempt, bool) {
	attempt, err := b.allow()
	return attempt, err == nil
}

func (b *CircuitBreaker) allow() (*Attempt, error) {
	done, err := b.tcb.Allow()
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return &Attempt{breaker: b, done: done, state: b.state, generation: b.generation}, nil
}

// Name returns the capability name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current state. Reading it after ResetTimeout has elapsed moves an open
// breaker to half-open.
func (b *CircuitBreaker) State() CircuitBreakerState {
	return convertGobreakerState(b.tcb.State())
}

// FailureCount returns the number of consecutive failures since the last success. It is at
// least MaxFailures while the breaker is open.
func (b *CircuitBreaker) FailureCount() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// LastFailureAt returns when the breaker last opened, or the zero time.
func (b *CircuitBreaker) LastFailureAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastFailureAt
}

// Counts returns the underlying counts for the current generation.
func (b *CircuitBreaker) Counts() CircuitBreakerCounts {
	counts := b.tcb.Counts()
	return CircuitBreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// Health returns a JSON-friendly view of the breaker. Half-open counts as healthy:
// degraded but operational.
func (b *CircuitBreaker) Health() BreakerHealth {
	state := b.State()
	health := BreakerHealth{
		Name:         b.name,
		State:        state.String(),
		FailureCount: b.FailureCount(),
		Healthy:      state != StateOpen,
	}
	if last := b.LastFailureAt(); !last.IsZero() {
		health.LastFailureAt = &last
	}
	return health
}

func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/magdee-client/resilience"
)

type transition struct {
	from, to resilience.CircuitBreakerState
}

var _ = Describe("CircuitBreaker", func() {
	var (
		breaker     *resilience.CircuitBreaker
		clock       *fakeClock
		mu          sync.Mutex
		transitions []transition
	)

	fail := func(times int) {
		for range times {
			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			attempt.OnFailure()
		}
	}

	recorded := func() []transition {
		mu.Lock()
		defer mu.Unlock()
		return append([]transition(nil), transitions...)
	}

	BeforeEach(func() {
		clock = newFakeClock()
		transitions = nil
		breaker = resilience.NewCircuitBreaker("profile",
			resilience.WithMaxFailures(3),
			resilience.WithResetTimeout(50*time.Millisecond),
			resilience.WithCircuitBreakerClock(clock.Now),
			resilience.WithCircuitBreakerLogger(discardLogger),
			resilience.WithStateChangeHandler(func(_ string, from, to resilience.CircuitBreakerState) {
				mu.Lock()
				defer mu.Unlock()
				transitions = append(transitions, transition{from, to})
			}),
		)
	})

	Describe("Default Configuration", func() {
		It("should use three failures and a sixty second reset", func() {
			config := resilience.DefaultCircuitBreakerConfig()
			Expect(config.MaxFailures).To(Equal(uint32(3)))
			Expect(config.ResetTimeout).To(Equal(60 * time.Second))
			Expect(config.ErrorClassifier).To(Equal(resilience.AnyFailureClassifier{}))
		})

		It("should start closed with no failures", func() {
			Expect(breaker.Name()).To(Equal("profile"))
			Expect(breaker.State()).To(Equal(resilience.StateClosed))
			Expect(breaker.FailureCount()).To(BeZero())
			Expect(breaker.LastFailureAt()).To(BeZero())
		})
	})

	Describe("Closed to Open", func() {
		It("should stay closed below the failure threshold", func() {
			fail(2)
			Expect(breaker.State()).To(Equal(resilience.StateClosed))
			Expect(breaker.FailureCount()).To(Equal(uint32(2)))
		})

		It("should open after max consecutive failures and reject every call", func() {
			fail(3)

			Expect(breaker.State()).To(Equal(resilience.StateOpen))
			Expect(breaker.FailureCount()).To(Equal(uint32(3)))
			Expect(breaker.LastFailureAt()).To(Equal(clock.Now()))

			for range 5 {
				attempt, ok := breaker.CanExecute()
				Expect(ok).To(BeFalse())
				Expect(attempt).To(BeNil())
			}
			Expect(breaker.State()).To(Equal(resilience.StateOpen))
			Expect(recorded()).To(Equal([]transition{{resilience.StateClosed, resilience.StateOpen}}))
		})

		It("should reset the failure count on a single success", func() {
			fail(2)

			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			attempt.OnSuccess()

			Expect(breaker.FailureCount()).To(BeZero())
			Expect(breaker.State()).To(Equal(resilience.StateClosed))

			fail(2)
			Expect(breaker.State()).To(Equal(resilience.StateClosed))
		})
	})

	Describe("Open to HalfOpen", func() {
		BeforeEach(func() {
			fail(3)
			Expect(breaker.State()).To(Equal(resilience.StateOpen))
		})

		It("should move to half-open once the reset timeout has elapsed", func() {
			Eventually(breaker.State).WithTimeout(time.Second).
				Should(Equal(resilience.StateHalfOpen))
		})

		It("should admit exactly one trial call", func() {
			Eventually(breaker.State).WithTimeout(time.Second).
				Should(Equal(resilience.StateHalfOpen))

			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			Expect(attempt).NotTo(BeNil())

			_, ok = breaker.CanExecute()
			Expect(ok).To(BeFalse())
			_, ok = breaker.CanExecute()
			Expect(ok).To(BeFalse())
		})

		It("should close when the trial succeeds", func() {
			Eventually(breaker.State).WithTimeout(time.Second).
				Should(Equal(resilience.StateHalfOpen))

			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			attempt.OnSuccess()

			Expect(breaker.State()).To(Equal(resilience.StateClosed))
			Expect(breaker.FailureCount()).To(BeZero())
			Expect(recorded()).To(Equal([]transition{
				{resilience.StateClosed, resilience.StateOpen},
				{resilience.StateOpen, resilience.StateHalfOpen},
				{resilience.StateHalfOpen, resilience.StateClosed},
			}))
		})

		It("should re-open when the trial fails", func() {
			Eventually(breaker.State).WithTimeout(time.Second).
				Should(Equal(resilience.StateHalfOpen))

			clock.Advance(time.Minute)
			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			attempt.OnFailure()

			Expect(breaker.State()).To(Equal(resilience.StateOpen))
			Expect(breaker.LastFailureAt()).To(Equal(clock.Now()))
			_, ok = breaker.CanExecute()
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Attempt", func() {
		It("should ignore a second resolution", func() {
			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())

			attempt.OnFailure()
			attempt.OnFailure()
			attempt.OnSuccess()

			Expect(breaker.FailureCount()).To(Equal(uint32(1)))
		})

		It("should record errors through the classifier", func() {
			for range 3 {
				attempt, ok := breaker.CanExecute()
				Expect(ok).To(BeTrue())
				attempt.Record(resilience.NewValidationError("title", "is required"))
			}
			Expect(breaker.State()).To(Equal(resilience.StateClosed))
			Expect(breaker.FailureCount()).To(BeZero())

			for range 3 {
				attempt, ok := breaker.CanExecute()
				Expect(ok).To(BeTrue())
				attempt.Record(resilience.ErrServiceUnavailable)
			}
			Expect(breaker.State()).To(Equal(resilience.StateOpen))
		})

		It("should ignore a success that lands after the breaker opened", func() {
			late, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())

			fail(3)
			Expect(breaker.State()).To(Equal(resilience.StateOpen))

			late.OnSuccess()

			Expect(breaker.State()).To(Equal(resilience.StateOpen))
			Expect(breaker.FailureCount()).To(Equal(uint32(3)))
			Expect(breaker.Health().FailureCount).To(Equal(uint32(3)))
		})

		It("should ignore a failure that lands after the breaker opened", func() {
			late, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())

			fail(3)
			late.OnFailure()

			Expect(breaker.FailureCount()).To(Equal(uint32(3)))
			Expect(recorded()).To(Equal([]transition{{resilience.StateClosed, resilience.StateOpen}}))
		})

		It("should keep counted failures when the caller cancels", func() {
			fail(2)

			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			attempt.Record(context.Canceled)

			Expect(breaker.FailureCount()).To(Equal(uint32(2)))
			Expect(breaker.State()).To(Equal(resilience.StateClosed))

			fail(1)
			Expect(breaker.State()).To(Equal(resilience.StateOpen))
		})

		It("should keep counted failures on a client-side validation error", func() {
			fail(2)

			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			attempt.Record(fmt.Errorf("create: %w", resilience.NewValidationError("title", "is required")))

			Expect(breaker.FailureCount()).To(Equal(uint32(2)))
		})

		It("should re-open when a half-open trial is cancelled", func() {
			fail(3)
			Eventually(breaker.State).WithTimeout(time.Second).
				Should(Equal(resilience.StateHalfOpen))

			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			attempt.Record(context.DeadlineExceeded)

			Expect(breaker.State()).To(Equal(resilience.StateOpen))
			Expect(breaker.FailureCount()).To(BeNumerically(">=", 3))
		})

		It("should re-open when a half-open trial is released", func() {
			fail(3)
			Eventually(breaker.State).WithTimeout(time.Second).
				Should(Equal(resilience.StateHalfOpen))

			attempt, ok := breaker.CanExecute()
			Expect(ok).To(BeTrue())
			attempt.Release()
			attempt.OnSuccess()

			Expect(breaker.State()).To(Equal(resilience.StateOpen))
			_, ok = breaker.CanExecute()
			Expect(ok).To(BeFalse())
		})

		It("should honour a custom classifier", func() {
			breaker = resilience.NewCircuitBreaker("books",
				resilience.WithMaxFailures(1),
				resilience.WithCircuitBreakerLogger(discardLogger),
				resilience.WithCircuitBreakerErrorClassifier(
					resilience.CircuitBreakerErrorClassifierFunc(func(err error) bool {
						return !errors.Is(err, resilience.ErrUnauthenticated)
					})),
			)

			attempt, _ := breaker.CanExecute()
			attempt.Record(resilience.ErrUnauthenticated)
			Expect(breaker.State()).To(Equal(resilience.StateClosed))

			attempt, _ = breaker.CanExecute()
			attempt.Record(errors.New("boom"))
			Expect(breaker.State()).To(Equal(resilience.StateOpen))
		})
	})

	Describe("Health", func() {
		It("should report a closed breaker as healthy", func() {
			health := breaker.Health()
			Expect(health.Name).To(Equal("profile"))
			Expect(health.State).To(Equal("closed"))
			Expect(health.Healthy).To(BeTrue())
			Expect(health.LastFailureAt).To(BeNil())
		})

		It("should report an open breaker with its last failure", func() {
			fail(3)

			health := breaker.Health()
			Expect(health.State).To(Equal("open"))
			Expect(health.Healthy).To(BeFalse())
			Expect(health.FailureCount).To(Equal(uint32(3)))
			Expect(health.LastFailureAt).NotTo(BeNil())
			Expect(*health.LastFailureAt).To(Equal(clock.Now()))
		})
	})

	Describe("State", func() {
		It("should render state names", func() {
			Expect(resilience.StateClosed.String()).To(Equal("closed"))
			Expect(resilience.StateHalfOpen.String()).To(Equal("half-open"))
			Expect(resilience.StateOpen.String()).To(Equal("open"))
			Expect(resilience.CircuitBreakerState(42).String()).To(Equal("unknown"))
		})
	})
})

package resilience

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/JohnPlummer/magdee-client/resilience"

// instruments come from the global otel providers; without an installed SDK they are no-ops.
type instruments struct {
	tracer      trace.Tracer
	calls       metric.Int64Counter
	transitions metric.Int64Counter
	healthFlips metric.Int64Counter
}

var (
	instrumentsOnce sync.Once
	sharedInstr     *instruments
)

func telemetry() *instruments {
	instrumentsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		sharedInstr = &instruments{
			tracer:      otel.Tracer(instrumentationName),
			calls:       counter(meter, "magdee.gateway.calls", "Gateway calls by outcome"),
			transitions: counter(meter, "magdee.breaker.transitions", "Circuit breaker state transitions"),
			healthFlips: counter(meter, "magdee.health.transitions", "API health flag changes"),
		}
	})
	return sharedInstr
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (i *instruments) recordCall(ctx context.Context, method string, outcome Outcome) {
	i.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("magdee.outcome", outcome.String()),
	))
}

func (i *instruments) recordTransition(name string, from, to CircuitBreakerState) {
	i.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("magdee.capability", name),
		attribute.String("magdee.breaker.from", from.String()),
		attribute.String("magdee.breaker.to", to.String()),
	))
}

func (i *instruments) recordHealthFlip(healthy bool) {
	i.healthFlips.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Bool("magdee.healthy", healthy),
	))
}

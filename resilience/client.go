// Package resilience guards every outbound call to the Magdee API. A shared HealthMonitor
// decides whether the API is worth calling at all, the Gateway applies authentication,
// timeouts and failure classification, and per-capability circuit breakers shield callers
// from cascades of failing requests by serving cached or synthesized values instead.
//
// Failures are returned as typed Result values; nothing in this package panics or hands a
// raw transport error to the caller.
package resilience

import (
	"context"
	"net/http"
)

// ResilientClient defines a generic interface for executing requests with retry and circuit breaker support.
// Type parameters Req and Resp can be any types. The Gateway and HealthMonitor use it for their
// HTTP leg, and session bootstrap uses it for the BaaS session fetch.
//
// Example:
//
//	fetch := resilience.NewRetryWrapper(
//	    sessionClient,
//	    resilience.WithMaxAttempts(3),
//	    resilience.WithExponentialBackoff(200*time.Millisecond, 2*time.Second),
//	)
type ResilientClient[Req, Resp any] interface {
	// Execute performs a request and returns a response or error.
	// The context should be used to control timeouts and cancellation.
	Execute(ctx context.Context, req Req) (Resp, error)
}

// Transport is the HTTP leg shared by the Gateway and the HealthMonitor.
type Transport = ResilientClient[*http.Request, *http.Response]

// TransportFunc adapts a plain function to a Transport.
type TransportFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Execute implements Transport.
func (f TransportFunc) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPTransport wraps *http.Client so it satisfies Transport.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a Transport backed by client, or by a zero http.Client when nil.
// Timeouts are applied per request through the context, so the client itself should not set one.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

// Execute implements Transport.
func (t *HTTPTransport) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.Do(req.WithContext(ctx))
}

// TokenSource yields the bearer token attached to every Gateway call.
// An empty token or an error both mean the caller is not authenticated.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a plain function to a TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// AccessToken implements TokenSource.
func (f TokenSourceFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

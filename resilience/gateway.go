package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the per-call id generated by the Gateway.
const RequestIDHeader = "X-Request-ID"

// Request describes one API call relative to the Gateway base URL.
type Request struct {
	// Body is JSON-encoded when non-nil.
	Body any

	// Query is appended to the URL.
	Query url.Values

	// Header holds extra headers; Authorization and Content-Type are always set by the Gateway.
	Header http.Header

	// Method defaults to GET.
	Method string

	// Path is joined to the base URL, e.g. "/books/42/progress".
	Path string

	// ForceHealthCheck probes the API before the call even inside the debounce window.
	ForceHealthCheck bool
}

// Gateway is the single chokepoint for outbound API calls. Before each call it consults the
// HealthMonitor and fetches a token; it bounds the call with a timeout, classifies the result,
// and writes the outcome back to the HealthMonitor.
//
// A failure on any endpoint degrades the shared health flag, so unrelated calls short-circuit
// until the next probe. Outages are assumed to be global rather than per endpoint.
type Gateway struct {
	transport Transport
	health    *HealthMonitor
	tokens    TokenSource
	config    *GatewayConfig
	logger    *slog.Logger
	instr     *instruments
	baseURL   *url.URL
}

// NewGateway creates a Gateway for the API rooted at baseURL.
func NewGateway(baseURL string, health *HealthMonitor, tokens TokenSource, opts ...GatewayOption) (*Gateway, error) {
	if health == nil {
		return nil, errors.New("resilience: gateway requires a health monitor")
	}
	if tokens == nil {
		return nil, errors.New("resilience: gateway requires a token source")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("resilience: invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("resilience: base url %q must be absolute", baseURL)
	}

	config := DefaultGatewayConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Transport == nil {
		config.Transport = NewHTTPTransport(nil)
	}

	return &Gateway{
		transport: config.Transport,
		health:    health,
		tokens:    tokens,
		config:    config,
		logger:    config.Logger,
		instr:     telemetry(),
		baseURL:   u,
	}, nil
}

// Health returns the monitor the gateway consults.
func (g *Gateway) Health() *HealthMonitor {
	return g.health
}

// Call sends req through g and decodes the payload into T. Responses shaped as
// `{"data": ...}` are unwrapped; flat objects decode as-is. A timeout of zero or less uses the
// gateway default.
//
// Call never returns a raw transport error. Timeouts, network failures and a down health flag
// all yield ErrServiceUnavailable; a missing token yields ErrUnauthenticated; non-2xx answers
// yield *HTTPStatusError.
func Call[T any](ctx context.Context, g *Gateway, req Request, timeout time.Duration) Result[T] {
	body, outcome, err := g.exchange(ctx, req, timeout)
	if err != nil {
		return Failure[T](outcome, err)
	}

	var value T
	if err := decodePayload(body.data, &value); err != nil {
		g.logger.Debug("gateway response undecodable",
			"path", req.Path,
			"status", body.status,
			"error", err)
		return Failure[T](OutcomeHTTPError, NewHTTPStatusError(body.status, "malformed response"))
	}
	return Success(value)
}

type payload struct {
	data   []byte
	status int
}

func (g *Gateway) exchange(ctx context.Context, req Request, timeout time.Duration) (payload, Outcome, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := g.instr.tracer.Start(ctx, "magdee.gateway "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Path),
		))
	defer span.End()

	body, outcome, err := g.send(ctx, method, req, timeout)
	g.instr.recordCall(ctx, method, outcome)
	span.SetAttributes(attribute.String("magdee.outcome", outcome.String()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return body, outcome, err
}

func (g *Gateway) send(ctx context.Context, method string, req Request, timeout time.Duration) (payload, Outcome, error) {
	healthy := g.health.CheckHealth(ctx, req.ForceHealthCheck)
	if err := ctx.Err(); err != nil {
		return payload{}, OutcomeCanceled, err
	}
	if !healthy {
		return payload{}, OutcomeShortCircuited, ErrServiceUnavailable
	}

	token, err := g.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		if err != nil {
			g.logger.Debug("no access token for call", "path", req.Path, "error", err)
		}
		return payload{}, OutcomeAuthMissing, ErrUnauthenticated
	}

	if timeout <= 0 {
		timeout = g.config.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := g.newHTTPRequest(callCtx, method, req, token)
	if err != nil {
		return payload{}, OutcomeInvalidInput, NewValidationError("request", err.Error())
	}

	resp, err := g.transport.Execute(callCtx, httpReq)
	if err != nil {
		outcome, err := g.transportFailure(ctx, req, err)
		return payload{}, outcome, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.config.MaxResponseBytes))
	if err != nil {
		outcome, err := g.transportFailure(ctx, req, err)
		return payload{}, outcome, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.health.MarkUnhealthy()
		httpErr := NewHTTPStatusError(resp.StatusCode, serverMessage(data))
		g.logger.Debug("gateway call rejected by api",
			"method", method,
			"path", req.Path,
			"status", resp.StatusCode,
			"error", httpErr)
		return payload{}, OutcomeHTTPError, httpErr
	}

	g.health.MarkHealthy()
	return payload{data: data, status: resp.StatusCode}, OutcomeSuccess, nil
}

// transportFailure classifies a call that got no usable HTTP answer. A caller that cancelled
// its own context gets the context error back and the health flag is left alone; otherwise
// the API is marked unhealthy and the cause is hidden behind ErrServiceUnavailable.
func (g *Gateway) transportFailure(parent context.Context, req Request, cause error) (Outcome, error) {
	if parent.Err() != nil {
		return OutcomeCanceled, parent.Err()
	}

	outcome := OutcomeNetworkFailure
	if errors.Is(cause, context.DeadlineExceeded) {
		outcome = OutcomeTimeoutFailure
	}

	g.health.MarkUnhealthy()
	g.logger.Debug("gateway call failed",
		"path", req.Path,
		"outcome", outcome.String(),
		"error", cause)
	trace.SpanFromContext(parent).RecordError(cause)
	return outcome, ErrServiceUnavailable
}

func (g *Gateway) newHTTPRequest(ctx context.Context, method string, req Request, token string) (*http.Request, error) {
	target := g.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if httpReq.Header.Get(RequestIDHeader) == "" {
		httpReq.Header.Set(RequestIDHeader, uuid.NewString())
	}
	if g.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", g.config.UserAgent)
	}
	return httpReq, nil
}

// serverMessage extracts the `error` (or `message`) field of an error body.
func serverMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	switch {
	case body.Error != "":
		return body.Error
	case body.Message != "":
		return body.Message
	default:
		return body.Detail
	}
}

// decodePayload decodes data into out, unwrapping a top-level `data` envelope.
// An empty body leaves out at its zero value.
func decodePayload(data []byte, out any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return err
		}
		if inner, ok := envelope["data"]; ok {
			trimmed = inner
		}
	}
	return json.Unmarshal(trimmed, out)
}

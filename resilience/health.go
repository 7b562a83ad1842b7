package resilience

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// HealthStatus is the last known reachability of the API.
type HealthStatus struct {
	// LastCheckedAt is when the flag was last written, by a probe or by the Gateway.
	LastCheckedAt time.Time `json:"last_checked_at"`

	// Report is the decoded body of the last successful probe, if it was JSON.
	Report *HealthReport `json:"report,omitempty"`

	// Healthy is the last known reachability. It starts out true.
	Healthy bool `json:"healthy"`
}

// HealthReport is the body served by the API health endpoint.
type HealthReport struct {
	Services    map[string]string `json:"services,omitempty"`
	Status      string            `json:"status"`
	Environment string            `json:"environment,omitempty"`
	Timestamp   float64           `json:"timestamp,omitempty"`
}

// HealthMonitor tracks whether the API is reachable. It is the single source of truth the
// Gateway consults before every call, and the Gateway writes back to it after every call
// that reaches the network.
type HealthMonitor struct {
	transport Transport
	config    *HealthConfig
	logger    *slog.Logger
	instr     *instruments
	probes    singleflight.Group
	url       string

	mu     sync.RWMutex
	status HealthStatus
}

// NewHealthMonitor creates a monitor probing url with GET requests through transport.
// A nil transport uses NewHTTPTransport(nil).
func NewHealthMonitor(transport Transport, url string, opts ...HealthOption) *HealthMonitor {
	config := DefaultHealthConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}

	return &HealthMonitor{
		transport: transport,
		url:       url,
		config:    config,
		logger:    config.Logger,
		instr:     telemetry(),
		status:    HealthStatus{Healthy: true},
	}
}

// CheckHealth returns whether the API is reachable. Within the debounce window the cached
// flag is returned without a network call unless force is set. Concurrent probes collapse
// into one. It never fails: every probe error reads as unhealthy.
//
// The probe is bounded by ProbeTimeout only, never by the caller's cancellation. A caller
// whose context ends first gets the cached flag and the probe result is recorded when it
// arrives.
func (m *HealthMonitor) CheckHealth(ctx context.Context, force bool) bool {
	if !force {
		m.mu.RLock()
		status := m.status
		m.mu.RUnlock()

		if m.config.Now().Sub(status.LastCheckedAt) < m.config.RecheckInterval {
			return status.Healthy
		}
	}
	if ctx.Err() != nil {
		return m.Status().Healthy
	}

	ch := m.probes.DoChan("probe", func() (any, error) {
		return m.probe(context.WithoutCancel(ctx)), nil
	})
	select {
	case r := <-ch:
		return r.Val.(bool)
	case <-ctx.Done():
		return m.Status().Healthy
	}
}

func (m *HealthMonitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		m.logger.Debug("health probe request invalid", "url", m.url, "error", err)
		m.record(false, nil)
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.transport.Execute(ctx, req)
	if err != nil {
		m.logger.Debug("health probe failed", "url", m.url, "error", err)
		m.record(false, nil)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	var report *HealthReport
	if healthy {
		var r HealthReport
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&r); err == nil {
			report = &r
		}
	} else {
		m.logger.Debug("health probe returned non-2xx", "url", m.url, "status", resp.StatusCode)
	}

	m.record(healthy, report)
	return healthy
}

// MarkHealthy records a successful call made outside the probe.
func (m *HealthMonitor) MarkHealthy() {
	m.record(true, nil)
}

// MarkUnhealthy records a timeout, network failure or non-2xx answer made outside the probe.
func (m *HealthMonitor) MarkUnhealthy() {
	m.record(false, nil)
}

func (m *HealthMonitor) record(healthy bool, report *HealthReport) {
	m.mu.Lock()
	prev := m.status.Healthy
	m.status.Healthy = healthy
	m.status.LastCheckedAt = m.config.Now()
	if report != nil {
		m.status.Report = report
	}
	m.mu.Unlock()

	if prev != healthy {
		m.logger.Info("api health changed", "url", m.url, "healthy", healthy)
		m.instr.recordHealthFlip(healthy)
	}
}

// Status returns a snapshot of the current health flag.
func (m *HealthMonitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

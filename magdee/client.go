// Package magdee is the typed client for the Magdee API. Every call goes through a
// resilience.Gateway; read capabilities are additionally guarded by a per-capability circuit
// breaker with in-flight deduplication and a last-known-value cache. During an outage they
// answer with cached or synthesized values instead of errors.
package magdee

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/JohnPlummer/magdee-client/resilience"
	"github.com/JohnPlummer/magdee-client/session"
)

// Capability names, also used as breaker names.
const (
	CapabilityProfile       = "profile"
	CapabilityBooks         = "books"
	CapabilityNotifications = "notifications"
	CapabilityAnalytics     = "analytics"
	CapabilityAudioSettings = "audio_settings"
	CapabilityAchievements  = "achievements"
)

// Timeouts are the per-call-site deadlines.
type Timeouts struct {
	// Read bounds GET requests. Default: 10 seconds
	Read time.Duration

	// Write bounds create, update and delete requests. Default: 15 seconds
	Write time.Duration

	// Upload bounds file uploads. Default: 30 seconds
	Upload time.Duration
}

// DefaultTimeouts returns the default per-call-site deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:   10 * time.Second,
		Write:  15 * time.Second,
		Upload: 30 * time.Second,
	}
}

// Option configures a Client.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	registry  *resilience.Registry
	timeouts  Timeouts
	cacheSize int
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry sets the registry the capability breakers are taken from.
func WithRegistry(registry *resilience.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithTimeouts overrides the per-call-site deadlines. Zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(o *options) {
		if t.Read > 0 {
			o.timeouts.Read = t.Read
		}
		if t.Write > 0 {
			o.timeouts.Write = t.Write
		}
		if t.Upload > 0 {
			o.timeouts.Upload = t.Upload
		}
	}
}

// WithCacheSize bounds each capability's last-known-value cache.
func WithCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

// Client is the typed Magdee API client.
type Client struct {
	gateway  *resilience.Gateway
	store    *session.Store
	registry *resilience.Registry
	logger   *slog.Logger
	timeouts Timeouts

	profile       *resilience.Capability[string, Profile]
	books         *resilience.Capability[string, []Book]
	notifications *resilience.Capability[string, []Notification]
	analytics     *resilience.Capability[string, Analytics]
	audio         *resilience.Capability[string, AudioSettings]
	achievements  *resilience.Capability[string, []Achievement]

	unsubscribe func()
}

// New creates a Client calling through gateway as the user held by store. The client purges
// its caches when the store signs out; call Close to stop listening.
func New(gateway *resilience.Gateway, store *session.Store, opts ...Option) (*Client, error) {
	o := &options{
		logger:   slog.Default(),
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = resilience.NewRegistry(resilience.WithCircuitBreakerLogger(o.logger))
	}

	c := &Client{
		gateway:  gateway,
		store:    store,
		registry: o.registry,
		logger:   o.logger,
		timeouts: o.timeouts,
	}

	var err error
	if c.profile, err = newCapability(c, o, CapabilityProfile, c.fetchProfile, c.profileFallback); err != nil {
		return nil, err
	}
	if c.books, err = newCapability(c, o, CapabilityBooks, c.fetchBooks, emptyList[Book]); err != nil {
		return nil, err
	}
	if c.notifications, err = newCapability(c, o, CapabilityNotifications, c.fetchNotifications, emptyList[Notification]); err != nil {
		return nil, err
	}
	if c.analytics, err = newCapability(c, o, CapabilityAnalytics, c.fetchAnalytics, emptyAnalytics); err != nil {
		return nil, err
	}
	if c.audio, err = newCapability(c, o, CapabilityAudioSettings, c.fetchAudioSettings, defaultSettingsFallback); err != nil {
		return nil, err
	}
	if c.achievements, err = newCapability(c, o, CapabilityAchievements, c.fetchAchievements, emptyList[Achievement]); err != nil {
		return nil, err
	}

	c.unsubscribe = store.Subscribe(func(event session.Event, _ *session.Session) {
		if event == session.EventSignedOut {
			c.purge()
		}
	})
	return c, nil
}

func newCapability[T any](
	c *Client,
	o *options,
	name string,
	call resilience.CallFunc[string, T],
	fallback resilience.FallbackFunc[string, T],
) (*resilience.Capability[string, T], error) {
	return resilience.NewCapability(resilience.CapabilityConfig[string, T]{
		Call:      call,
		Key:       func(userID string) string { return userID },
		Fallback:  fallback,
		Breaker:   c.registry.Get(name),
		Logger:    o.logger,
		Name:      name,
		CacheSize: o.cacheSize,
	})
}

// Close stops listening for auth state changes.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// Diagnostics is the client's view of API reachability and its breakers.
type Diagnostics struct {
	Breakers []resilience.BreakerHealth `json:"breakers"`
	API      resilience.HealthStatus    `json:"api"`
	Online   bool                       `json:"online"`
}

// Health checks API reachability, probing even inside the debounce window when force is set,
// and reports every capability breaker.
func (c *Client) Health(ctx context.Context, force bool) Diagnostics {
	online := c.gateway.Health().CheckHealth(ctx, force)
	return Diagnostics{
		Online:   online,
		API:      c.gateway.Health().Status(),
		Breakers: c.registry.Snapshot(),
	}
}

func (c *Client) purge() {
	c.profile.Purge()
	c.books.Purge()
	c.notifications.Purge()
	c.analytics.Purge()
	c.audio.Purge()
	c.achievements.Purge()
	c.logger.Debug("capability caches purged")
}

// currentUser returns the signed-in user's id.
func (c *Client) currentUser() (string, bool) {
	s := c.store.Current()
	if s == nil || s.User.ID == "" {
		return "", false
	}
	return s.User.ID, true
}

// read runs a guarded read capability for the signed-in user.
func read[T any](ctx context.Context, c *Client, capability *resilience.Capability[string, T]) resilience.Result[T] {
	userID, ok := c.currentUser()
	if !ok {
		return resilience.Failure[T](resilience.OutcomeAuthMissing, resilience.ErrUnauthenticated)
	}
	return capability.Execute(ctx, userID)
}

// send validates input, when there is any, and sends req through the gateway.
func send[T any](ctx context.Context, c *Client, req resilience.Request, timeout time.Duration) resilience.Result[T] {
	if req.Body != nil {
		if err := resilience.Validate(req.Body); err != nil {
			return resilience.Failure[T](resilience.OutcomeInvalidInput, err)
		}
	}
	return resilience.Call[T](ctx, c.gateway, req, timeout)
}

// emptyList is the substitute for a list nothing is known about.
func emptyList[E any](context.Context, string) ([]E, bool) {
	return []E{}, true
}

// emptyAnalytics is the substitute summary when nothing is known.
func emptyAnalytics(context.Context, string) (Analytics, bool) {
	return Analytics{}, true
}

// invalid returns a client-side validation failure.
func invalid[T any](field, message string) resilience.Result[T] {
	return resilience.Failure[T](resilience.OutcomeInvalidInput, resilience.NewValidationError(field, message))
}

// path joins escaped segments into an API path.
func path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(escaped, "/")
}

// Command magdee-check reports whether the Magdee API is reachable. With a session file it
// also loads the profile through the full client stack.
//
//	magdee-check -config magdee.yaml
//	magdee-check -session session.json -json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/JohnPlummer/magdee-client/config"
	"github.com/JohnPlummer/magdee-client/magdee"
	"github.com/JohnPlummer/magdee-client/resilience"
	"github.com/JohnPlummer/magdee-client/session"
)

const (
	exitOnline  = 0
	exitOffline = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type report struct {
	Profile     *magdee.Profile    `json:"profile,omitempty"`
	Diagnostics magdee.Diagnostics `json:"diagnostics"`
	BaseURL     string             `json:"base_url"`
	ProfileErr  string             `json:"profile_error,omitempty"`
	Status      string             `json:"status"`
	Elapsed     jsonDuration       `json:"elapsed"`
}

// jsonDuration encodes as a duration string.
type jsonDuration time.Duration

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("magdee-check", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "Path to YAML config file")
	baseURL := flags.String("base-url", "", "API base URL (overrides config)")
	sessionPath := flags.String("session", "", "Path to a session JSON payload; enables the profile check")
	asJSON := flags.Bool("json", false, "Print a JSON report")
	timeout := flags.Duration("timeout", 20*time.Second, "Overall deadline")

	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}
	if *baseURL != "" {
		cfg.API.BaseURL = *baseURL
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}

	logger := config.NewLogger(cfg.Log, stderr)

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	healthURL, err := cfg.API.HealthURL()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}

	monitor := resilience.NewHealthMonitor(nil, healthURL,
		resilience.WithRecheckInterval(cfg.Health.RecheckInterval),
		resilience.WithProbeTimeout(cfg.Health.ProbeTimeout),
		resilience.WithHealthLogger(logger))

	store := session.NewStore(session.WithLogger(logger))
	gateway, err := resilience.NewGateway(cfg.API.BaseURL, monitor, store,
		resilience.WithGatewayLogger(logger),
		resilience.WithUserAgent(cfg.API.UserAgent),
		resilience.WithDefaultTimeout(cfg.API.DefaultTimeout))
	if err != nil {
		fmt.Fprintf(stderr, "gateway: %v\n", err)
		return exitUsage
	}

	registry := resilience.NewRegistry(
		resilience.WithMaxFailures(cfg.Breaker.MaxFailures),
		resilience.WithResetTimeout(cfg.Breaker.ResetTimeout),
		resilience.WithCircuitBreakerLogger(logger))

	client, err := magdee.New(gateway, store,
		magdee.WithLogger(logger),
		magdee.WithRegistry(registry))
	if err != nil {
		fmt.Fprintf(stderr, "client: %v\n", err)
		return exitUsage
	}
	defer client.Close()

	started := time.Now()
	out := report{BaseURL: cfg.API.BaseURL}
	out.Diagnostics = client.Health(ctx, true)

	if *sessionPath != "" && out.Diagnostics.Online {
		out.Profile, out.ProfileErr = checkProfile(ctx, cfg, registry, store, client, logger, *sessionPath)
		out.Diagnostics = client.Health(ctx, false)
	}

	out.Status = "OFFLINE"
	if out.Diagnostics.Online {
		out.Status = "ONLINE"
	}
	out.Elapsed = jsonDuration(time.Since(started))

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "encode report: %v\n", err)
		}
	} else {
		printReport(stdout, out)
	}

	if !out.Diagnostics.Online {
		return exitOffline
	}
	return exitOnline
}

func checkProfile(
	ctx context.Context,
	cfg *config.Config,
	registry *resilience.Registry,
	store *session.Store,
	client *magdee.Client,
	logger *slog.Logger,
	path string,
) (*magdee.Profile, string) {
	fetch := session.FetcherFunc(func(context.Context) ([]byte, error) {
		return os.ReadFile(path)
	})
	classifier := sessionFileClassifier{resilience.NewHTTPStatusClassifier()}
	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = cfg.Session.MaxAttempts
	retryConfig.ErrorClassifier = classifier
	retryConfig.Logger = logger

	boot := session.NewBootstrapper(fetch, store,
		session.WithAttemptTimeout(cfg.Session.Timeout),
		session.WithRetryConfig(retryConfig),
		session.WithBootstrapLogger(logger),
		session.WithBreaker(registry.Get(session.BreakerName,
			resilience.WithCircuitBreakerErrorClassifier(classifier))))

	if err := boot.Bootstrap(ctx); err != nil {
		return nil, err.Error()
	}

	res := client.Profile(ctx)
	if !res.OK() {
		var httpErr resilience.HTTPError
		if errors.As(res.Err(), &httpErr) {
			return nil, fmt.Sprintf("%s (status %d)", httpErr.Error(), httpErr.StatusCode())
		}
		return nil, res.Err().Error()
	}
	profile := res.Value()
	return &profile, ""
}

// sessionFileClassifier treats a missing session file as final: it is neither retried nor
// counted against the session breaker.
type sessionFileClassifier struct {
	*resilience.HTTPStatusClassifier
}

func (c sessionFileClassifier) IsRetryable(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return c.HTTPStatusClassifier.IsRetryable(err)
}

func (c sessionFileClassifier) ShouldTripCircuit(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return c.HTTPStatusClassifier.ShouldTripCircuit(err)
}

func printReport(w io.Writer, r report) {
	fmt.Fprintf(w, "%s  %s  (%s)\n", r.Status, r.BaseURL, time.Duration(r.Elapsed).Round(time.Millisecond))

	api := r.Diagnostics.API
	if api.Report != nil {
		fmt.Fprintf(w, "  api: status=%s environment=%s\n", api.Report.Status, api.Report.Environment)
		for _, name := range slices.Sorted(maps.Keys(api.Report.Services)) {
			fmt.Fprintf(w, "    %s: %s\n", name, api.Report.Services[name])
		}
	}

	for _, b := range r.Diagnostics.Breakers {
		fmt.Fprintf(w, "  breaker %-15s %-9s failures=%d\n", b.Name, b.State, b.FailureCount)
	}

	switch {
	case r.Profile != nil:
		note := ""
		if r.Profile.Synthesized {
			note = " (from session)"
		}
		fmt.Fprintf(w, "  profile: %s <%s>%s\n", r.Profile.Name, r.Profile.Email, note)
	case r.ProfileErr != "":
		fmt.Fprintf(w, "  profile: %s\n", r.ProfileErr)
	}
}

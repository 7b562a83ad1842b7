// Package config loads client settings from defaults, an optional YAML file and MAGDEE_
// environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. The first underscore after the prefix
// separates the section from the key: MAGDEE_API_BASE_URL sets api.base_url.
const EnvPrefix = "MAGDEE_"

type Config struct {
	API     APIConfig     `koanf:"api"`
	Log     LogConfig     `koanf:"log"`
	Health  HealthConfig  `koanf:"health"`
	Breaker BreakerConfig `koanf:"breaker"`
	Session SessionConfig `koanf:"session"`
}

type APIConfig struct {
	BaseURL        string        `koanf:"base_url"`
	HealthPath     string        `koanf:"health_path"`
	UserAgent      string        `koanf:"user_agent"`
	DefaultTimeout time.Duration `koanf:"default_timeout"`
}

// HealthURL returns the absolute URL of the health endpoint.
func (c APIConfig) HealthURL() (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	return base.JoinPath(c.HealthPath).String(), nil
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type HealthConfig struct {
	RecheckInterval time.Duration `koanf:"recheck_interval"`
	ProbeTimeout    time.Duration `koanf:"probe_timeout"`
}

type BreakerConfig struct {
	MaxFailures  uint32        `koanf:"max_failures"`
	ResetTimeout time.Duration `koanf:"reset_timeout"`
}

type SessionConfig struct {
	Timeout     time.Duration `koanf:"timeout"`
	MaxAttempts int           `koanf:"max_attempts"`
}

func defaults(k *koanf.Koanf) {
	k.Set("api.base_url", "")
	k.Set("api.health_path", "/health")
	k.Set("api.user_agent", "magdee-client")
	k.Set("api.default_timeout", 10*time.Second)

	k.Set("health.recheck_interval", 30*time.Second)
	k.Set("health.probe_timeout", 1500*time.Millisecond)

	k.Set("breaker.max_failures", 3)
	k.Set("breaker.reset_timeout", 60*time.Second)

	k.Set("session.timeout", 15*time.Second)
	k.Set("session.max_attempts", 3)

	k.Set("log.level", "info")
	k.Set("log.format", "text")
}

// Load reads configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q must be an absolute URL", c.API.BaseURL)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"api.default_timeout", c.API.DefaultTimeout},
		{"health.recheck_interval", c.Health.RecheckInterval},
		{"health.probe_timeout", c.Health.ProbeTimeout},
		{"breaker.reset_timeout", c.Breaker.ResetTimeout},
		{"session.timeout", c.Session.Timeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if c.Breaker.MaxFailures == 0 {
		return errors.New("breaker.max_failures must be at least 1")
	}
	if c.Session.MaxAttempts < 1 {
		return errors.New("session.max_attempts must be at least 1")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", level, err)
	}
	return l, nil
}

// NewLogger builds a logger writing to w in the configured format and level. An unknown
// level falls back to info.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

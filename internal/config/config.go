// Package config loads settings from code defaults, an optional YAML file and
// the environment, in that order of precedence (later wins). Command flags are
// applied on top by cmd/enricher.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/krishanraja/mindmaker-sub000/internal/backoff"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format" env:"LOG_FORMAT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	Workers      int     `yaml:"workers" env:"WORKERS"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	FailFast     bool    `yaml:"fail_fast" env:"FAIL_FAST"`

	Backoff    Backoffs   `yaml:"backoff" envPrefix:"BACKOFF_"`
	Enrich     Enrich     `yaml:"enrich" envPrefix:"ENRICH_"`
	Gemini     Gemini     `yaml:"gemini" envPrefix:"GEMINI_"`
	Vertex     Vertex     `yaml:"vertex" envPrefix:"VERTEX_"`
	Credential Credential `yaml:"credential" envPrefix:"CREDENTIAL_"`
	Redis      Redis      `yaml:"redis" envPrefix:"REDIS_"`
	Notify     Notify     `yaml:"notify" envPrefix:"NOTIFY_"`
	Resend     Resend     `yaml:"resend" envPrefix:"RESEND_"`
}

type Backoff struct {
	Initial    time.Duration `yaml:"initial" env:"INITIAL"`
	Multiplier float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Max        time.Duration `yaml:"max" env:"MAX"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	JitterFrac float64       `yaml:"jitter_frac" env:"JITTER_FRAC"`
}

// Policy converts b to a backoff policy. Unset fields take the generic defaults.
func (b Backoff) Policy() backoff.Policy {
	return backoff.Policy{
		Initial:    b.Initial,
		Multiplier: b.Multiplier,
		Max:        b.Max,
		MaxRetries: b.MaxRetries,
		JitterFrac: b.JitterFrac,
	}.WithDefaults()
}

func fromPolicy(p backoff.Policy, jitter float64) Backoff {
	return Backoff{
		Initial:    p.Initial,
		Multiplier: p.Multiplier,
		Max:        p.Max,
		MaxRetries: p.MaxRetries,
		JitterFrac: jitter,
	}
}

type Backoffs struct {
	Generic Backoff `yaml:"generic" envPrefix:"GENERIC_"`
	Notify  Backoff `yaml:"notify" envPrefix:"NOTIFY_"`
}

type Enrich struct {
	Provider       string        `yaml:"provider" env:"PROVIDER"`
	Cache          string        `yaml:"cache" env:"CACHE"`
	LongTTL        time.Duration `yaml:"long_ttl" env:"LONG_TTL"`
	ShortTTL       time.Duration `yaml:"short_ttl" env:"SHORT_TTL"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	Coalesce       bool          `yaml:"coalesce" env:"COALESCE"`
}

type Gemini struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	Model   string `yaml:"model" env:"MODEL"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

type Vertex struct {
	Project     string  `yaml:"project" env:"PROJECT"`
	Location    string  `yaml:"location" env:"LOCATION"`
	Model       string  `yaml:"model" env:"MODEL"`
	BaseURL     string  `yaml:"base_url" env:"BASE_URL"`
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
}

type Credential struct {
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
	TokenURL string `yaml:"token_url" env:"TOKEN_URL"`
	Scope    string `yaml:"scope" env:"SCOPE"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

type Redis struct {
	URL string `yaml:"url" env:"URL"`
}

type Notify struct {
	Sender      string `yaml:"sender" env:"SENDER"`
	From        string `yaml:"from" env:"FROM"`
	OwnerEmail  string `yaml:"owner_email" env:"OWNER_EMAIL"`
	ShoutrrrURL string `yaml:"shoutrrr_url" env:"SHOUTRRR_URL"`

	// ConfirmContact also emails the person who filled in the contact form.
	ConfirmContact bool `yaml:"confirm_contact" env:"CONFIRM_CONTACT"`
}

type Resend struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// Default returns production defaults.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		RequestTimeout:  90 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		Workers:         10,
		Backoff: Backoffs{
			Generic: fromPolicy(backoff.Default(), 0.2),
			Notify:  fromPolicy(backoff.Notify(), 0.2),
		},
		Enrich: Enrich{
			Provider:       "vertex",
			Cache:          "memory",
			LongTTL:        30 * 24 * time.Hour,
			ShortTTL:       24 * time.Hour,
			AttemptTimeout: 30 * time.Second,
			Coalesce:       true,
		},
		Gemini: Gemini{Model: "gemini-2.0-flash"},
		Vertex: Vertex{Location: "us-central1", Model: "gemini-2.0-flash", Temperature: 0.2},
		Notify: Notify{Sender: "resend"},
	}
}

// Load applies path (if not empty) and the environment over Default, then
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Validate checks settings every command depends on.
func (c Config) Validate() error {
	var errs []error
	if c.Workers <= 0 {
		errs = append(errs, invalid("workers must be > 0"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, invalid("rate_limit_rps must be >= 0"))
	}
	for name, b := range map[string]Backoff{"generic": c.Backoff.Generic, "notify": c.Backoff.Notify} {
		if b.Initial <= 0 || b.Max < b.Initial {
			errs = append(errs, invalid("backoff.%s: need 0 < initial <= max", name))
		}
		if b.Multiplier < 1 {
			errs = append(errs, invalid("backoff.%s: multiplier must be >= 1", name))
		}
		if b.MaxRetries < 0 {
			errs = append(errs, invalid("backoff.%s: max_retries must be >= 0", name))
		}
		if b.JitterFrac < 0 || b.JitterFrac >= 1 {
			errs = append(errs, invalid("backoff.%s: jitter_frac must be in [0,1)", name))
		}
	}
	switch c.Enrich.Provider {
	case "gemini", "vertex":
	default:
		errs = append(errs, invalid("enrich.provider must be gemini or vertex, got %q", c.Enrich.Provider))
	}
	switch c.Enrich.Cache {
	case "memory", "redis", "tiered", "none":
	default:
		errs = append(errs, invalid("enrich.cache must be memory, redis, tiered or none, got %q", c.Enrich.Cache))
	}
	if c.Enrich.LongTTL <= 0 || c.Enrich.ShortTTL <= 0 {
		errs = append(errs, invalid("enrich ttls must be > 0"))
	}
	switch c.Notify.Sender {
	case "resend", "shoutrrr", "log":
	default:
		errs = append(errs, invalid("notify.sender must be resend, shoutrrr or log, got %q", c.Notify.Sender))
	}
	return errors.Join(errs...)
}

// ValidateEnrich checks provider and cache credentials.
func (c Config) ValidateEnrich() error {
	var errs []error
	switch c.Enrich.Provider {
	case "gemini":
		if strings.TrimSpace(c.Gemini.APIKey) == "" {
			errs = append(errs, invalid("GEMINI_API_KEY is required for the gemini provider"))
		}
		if strings.TrimSpace(c.Gemini.Model) == "" {
			errs = append(errs, invalid("GEMINI_MODEL is required"))
		}
	case "vertex":
		if strings.TrimSpace(c.Vertex.Project) == "" {
			errs = append(errs, invalid("VERTEX_PROJECT is required for the vertex provider"))
		}
		if strings.TrimSpace(c.Credential.KeyFile) == "" {
			errs = append(errs, invalid("CREDENTIAL_KEY_FILE is required for the vertex provider"))
		}
	}
	if (c.Enrich.Cache == "redis" || c.Enrich.Cache == "tiered") && strings.TrimSpace(c.Redis.URL) == "" {
		errs = append(errs, invalid("REDIS_URL is required for the %s cache", c.Enrich.Cache))
	}
	return errors.Join(errs...)
}

// ValidateNotify checks sender settings and the owner address.
func (c Config) ValidateNotify() error {
	var errs []error
	if _, err := mail.ParseAddress(c.Notify.OwnerEmail); err != nil {
		errs = append(errs, invalid("NOTIFY_OWNER_EMAIL must be an email address"))
	}
	switch c.Notify.Sender {
	case "resend":
		if strings.TrimSpace(c.Resend.APIKey) == "" {
			errs = append(errs, invalid("RESEND_API_KEY is required for the resend sender"))
		}
		if strings.TrimSpace(c.Notify.From) == "" {
			errs = append(errs, invalid("NOTIFY_FROM is required for the resend sender"))
		}
	case "shoutrrr":
		if strings.TrimSpace(c.Notify.ShoutrrrURL) == "" {
			errs = append(errs, invalid("NOTIFY_SHOUTRRR_URL is required for the shoutrrr sender"))
		}
	}
	return errors.Join(errs...)
}

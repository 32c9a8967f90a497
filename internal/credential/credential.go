// Package credential exchanges a service-account signing key for short-lived
// bearer tokens and caches the current one.
package credential

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/krishanraja/mindmaker-sub000/internal/fault"
	"github.com/krishanraja/mindmaker-sub000/internal/redact"
	"github.com/krishanraja/mindmaker-sub000/internal/version"
)

const (
	// GrantType is the OAuth2 JWT bearer grant.
	GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// DefaultTokenURL is Google's OAuth2 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	// DefaultScope grants Vertex AI access.
	DefaultScope = "https://www.googleapis.com/auth/cloud-platform"

	defaultAssertionLifetime = 60 * time.Minute
	defaultCacheFor          = 50 * time.Minute
	defaultSafetyMargin      = 10 * time.Minute
)

// Credential is a bearer token and the time this process stops trusting it.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// FreshAt reports whether c has more than margin left at now.
func (c Credential) FreshAt(now time.Time, margin time.Duration) bool {
	return c.Token != "" && c.ExpiresAt.Sub(now) > margin
}

// RefreshRecorder is told about every token exchange.
type RefreshRecorder interface {
	RecordCredentialRefresh(err error)
}

// Config identifies the service account and the token endpoint.
type Config struct {
	Issuer     string
	Scope      string
	Audience   string
	TokenURL   string
	PrivateKey *rsa.PrivateKey
	KeyID      string

	// AssertionLifetime is how long the signed assertion stays valid.
	AssertionLifetime time.Duration
	// CacheFor caps how long an issued token is trusted.
	CacheFor time.Duration
	// SafetyMargin is the remaining lifetime below which a cached token is
	// regenerated. It is not subtracted from the issued lifetime.
	SafetyMargin time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *slog.Logger
	Recorder   RefreshRecorder
}

func (c Config) withDefaults() Config {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.Audience == "" {
		c.Audience = c.TokenURL
	}
	if c.AssertionLifetime <= 0 {
		c.AssertionLifetime = defaultAssertionLifetime
	}
	if c.CacheFor <= 0 {
		c.CacheFor = defaultCacheFor
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = defaultSafetyMargin
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager holds one identity's current credential.
//
// The slot is a single atomic pointer. Concurrent refreshes both succeed and
// the last store wins; no lock is held across the exchange.
type Manager struct {
	cfg    Config
	keyPEM []byte
	slot   atomic.Pointer[Credential]
}

// New validates cfg and returns a Manager with an empty slot.
func New(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	var errs []error
	if strings.TrimSpace(cfg.Issuer) == "" {
		errs = append(errs, errors.New("credential issuer is required"))
	}
	if cfg.PrivateKey == nil {
		errs = append(errs, errors.New("credential private key is required"))
	}
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid token url: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(cfg.PrivateKey),
	})
	return &Manager{cfg: cfg, keyPEM: keyPEM}, nil
}

// Get returns a credential with more than the safety margin left, exchanging a
// new assertion when the slot is empty, stale, or force is set.
func (m *Manager) Get(ctx context.Context, force bool) (Credential, error) {
	if !force {
		if c := m.slot.Load(); c != nil && c.FreshAt(m.cfg.Now(), m.cfg.SafetyMargin) {
			return *c, nil
		}
	}

	c, err := m.exchange(ctx)
	if m.cfg.Recorder != nil {
		m.cfg.Recorder.RecordCredentialRefresh(err)
	}
	if err != nil {
		m.cfg.Logger.Warn("credential exchange failed",
			"issuer", m.cfg.Issuer,
			"kind", fault.KindOf(err),
			"error", redact.Secrets(err.Error()),
		)
		return Credential{}, err
	}
	m.slot.Store(&c)
	m.cfg.Logger.Debug("credential refreshed", "issuer", m.cfg.Issuer, "expires_at", c.ExpiresAt)
	return c, nil
}

// Token returns only the bearer token from Get(ctx, false).
func (m *Manager) Token(ctx context.Context) (string, error) {
	c, err := m.Get(ctx, false)
	if err != nil {
		return "", err
	}
	return c.Token, nil
}

// ForceToken returns the bearer token from Get(ctx, true).
func (m *Manager) ForceToken(ctx context.Context) (string, error) {
	c, err := m.Get(ctx, true)
	if err != nil {
		return "", err
	}
	return c.Token, nil
}

// Invalidate drops the cached credential. Callers use it after a 401.
func (m *Manager) Invalidate() {
	m.slot.Store(nil)
}

// transport carries the caller's context and User-Agent onto every request
// the token source makes, and keeps the last transport error so it can be
// classified; oauth2 flattens it into a string.
type transport struct {
	ctx  context.Context
	base http.RoundTripper
	err  error
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(t.ctx)
	r.Header.Set("User-Agent", version.UserAgent())
	r.Header.Set("Accept", "application/json")
	resp, err := t.base.RoundTrip(r)
	if err != nil {
		t.err = err
	}
	return resp, err
}

func (m *Manager) exchange(ctx context.Context) (Credential, error) {
	const op = "credential.exchange"

	base := m.cfg.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	tr := &transport{ctx: ctx, base: base}
	hc := &http.Client{Transport: tr, Timeout: m.cfg.HTTPClient.Timeout}

	conf := &jwt.Config{
		Email:        m.cfg.Issuer,
		PrivateKey:   m.keyPEM,
		PrivateKeyID: m.cfg.KeyID,
		Scopes:       strings.Fields(m.cfg.Scope),
		TokenURL:     m.cfg.TokenURL,
		Audience:     m.cfg.Audience,
		Expires:      m.cfg.AssertionLifetime,
	}
	tok, err := conf.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, hc)).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		switch {
		case errors.As(err, &re):
			fe := fault.FromStatus(op, re.Response, re.Body)
			fe.Kind = fault.KindCredentialExchangeFailed
			return Credential{}, &ExchangeError{Err: fe}
		case ctx.Err() != nil:
			return Credential{}, ctx.Err()
		case tr.err != nil:
			return Credential{}, fault.FromTransport(op, tr.err)
		default:
			return Credential{}, &ExchangeError{Err: fault.New(fault.KindCredentialExchangeFailed, op, err)}
		}
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return Credential{}, &ExchangeError{Err: fault.Newf(fault.KindCredentialExchangeFailed, op, "token response has no access_token")}
	}

	return Credential{
		Token:     tok.AccessToken,
		ExpiresAt: m.cfg.Now().Add(m.trustFor(issuedLifetime(tok))),
	}, nil
}

// issuedLifetime reads expires_in from the raw response so the trust window
// follows the injected clock rather than the wall-clock Expiry oauth2 stamps.
func issuedLifetime(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case string:
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// trustFor is min(CacheFor, issued). The safety margin is applied once, when
// Get decides whether the cached credential is still fresh.
func (m *Manager) trustFor(issued time.Duration) time.Duration {
	if issued <= 0 {
		return m.cfg.CacheFor
	}
	return min(issued, m.cfg.CacheFor)
}

// ExchangeError is returned when the token endpoint rejects an assertion.
type ExchangeError struct {
	Err *fault.Error
}

func (e *ExchangeError) Error() string {
	if e == nil || e.Err == nil {
		return "credential exchange failed"
	}
	return e.Err.Error()
}

func (e *ExchangeError) Unwrap() error {
	if e == nil || e.Err == nil {
		return nil
	}
	return e.Err
}

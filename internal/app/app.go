// Package app wires configuration into the enrichment pipeline, the
// notification dispatcher and the commands that drive them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/krishanraja/mindmaker-sub000/internal/batch"
	"github.com/krishanraja/mindmaker-sub000/internal/cache"
	"github.com/krishanraja/mindmaker-sub000/internal/config"
	"github.com/krishanraja/mindmaker-sub000/internal/credential"
	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
	"github.com/krishanraja/mindmaker-sub000/internal/enrich/gemini"
	"github.com/krishanraja/mindmaker-sub000/internal/enrich/vertex"
	"github.com/krishanraja/mindmaker-sub000/internal/invoke"
	"github.com/krishanraja/mindmaker-sub000/internal/metrics"
	"github.com/krishanraja/mindmaker-sub000/internal/notify"
	"github.com/krishanraja/mindmaker-sub000/internal/notify/resend"
	"github.com/krishanraja/mindmaker-sub000/internal/notify/shoutrrr"
	"github.com/krishanraja/mindmaker-sub000/internal/server"
)

const (
	l1TTL           = 10 * time.Minute
	memoryCleanup   = 10 * time.Minute
	shoutrrrTimeout = 15 * time.Second
)

// Deps are process-level collaborators. Zero values are filled with defaults.
type Deps struct {
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	HTTPClient *http.Client

	// Sleeper replaces the backoff wait; tests use it to skip real delays.
	Sleeper invoke.Sleeper
}

// App holds the wired components for one process.
type App struct {
	cfg  config.Config
	log  *slog.Logger
	reg  *prometheus.Registry
	met  *metrics.Metrics
	deps Deps

	Pipeline   *enrich.Pipeline
	Dispatcher *notify.Dispatcher

	closers []func() error
}

// New builds the enrichment pipeline, and the dispatcher when withNotify is set.
func New(ctx context.Context, cfg config.Config, deps Deps, withNotify bool) (*App, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	var errs []error
	errs = append(errs, cfg.ValidateEnrich())
	if withNotify {
		errs = append(errs, cfg.ValidateNotify())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	a := &App{
		cfg:  cfg,
		log:  deps.Logger,
		reg:  deps.Registry,
		met:  metrics.New(deps.Registry),
		deps: deps,
	}

	provider, err := a.provider(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.cache(ctx)
	if err != nil {
		return nil, err
	}
	a.Pipeline = enrich.New(provider, store, enrich.Options{
		Policy:          cfg.Backoff.Generic.Policy(),
		AttemptTimeout:  cfg.Enrich.AttemptTimeout,
		LongTTL:         cfg.Enrich.LongTTL,
		ShortTTL:        cfg.Enrich.ShortTTL,
		DisableCoalesce: !cfg.Enrich.Coalesce,
		Logger:          a.log,
		Recorder:        a.met,
		Observer:        a.met,
		Sleeper:         deps.Sleeper,
	})

	if withNotify {
		sender, err := a.sender()
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Dispatcher = notify.NewDispatcher(sender, notify.Options{
			Policy:   cfg.Backoff.Notify.Policy(),
			Logger:   a.log,
			Recorder: a.met,
			Observer: a.met,
			Sleeper:  deps.Sleeper,
		})
	}

	a.log.Info("app configured",
		"provider", provider.Name(),
		"cache", cfg.Enrich.Cache,
		"coalesce", cfg.Enrich.Coalesce,
		"notify", withNotify,
	)
	return a, nil
}

func (a *App) provider(ctx context.Context) (enrich.Provider, error) {
	cfg := a.cfg
	switch cfg.Enrich.Provider {
	case "gemini":
		p, err := gemini.New(ctx, gemini.Config{
			APIKey:     cfg.Gemini.APIKey,
			Model:      cfg.Gemini.Model,
			BaseURL:    cfg.Gemini.BaseURL,
			HTTPClient: a.deps.HTTPClient,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		return p, nil
	case "vertex":
		creds, err := a.credentials()
		if err != nil {
			return nil, err
		}
		p, err := vertex.New(vertex.Config{
			Project:     cfg.Vertex.Project,
			Location:    cfg.Vertex.Location,
			Model:       cfg.Vertex.Model,
			BaseURL:     cfg.Vertex.BaseURL,
			Temperature: cfg.Vertex.Temperature,
			HTTPClient:  a.deps.HTTPClient,
			Logger:      a.log,
		}, creds)
		if err != nil {
			return nil, fmt.Errorf("vertex provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Enrich.Provider)
	}
}

func (a *App) credentials() (*credential.Manager, error) {
	c := a.cfg.Credential
	sa, err := credential.LoadServiceAccount(c.KeyFile)
	if err != nil {
		return nil, err
	}
	mc, err := sa.Config()
	if err != nil {
		return nil, err
	}
	if c.TokenURL != "" {
		mc.TokenURL = c.TokenURL
		mc.Audience = c.TokenURL
	}
	if c.Audience != "" {
		mc.Audience = c.Audience
	}
	if c.Scope != "" {
		mc.Scope = c.Scope
	}
	mc.HTTPClient = a.deps.HTTPClient
	mc.Logger = a.log
	mc.Recorder = a.met
	m, err := credential.New(mc)
	if err != nil {
		return nil, fmt.Errorf("credential manager: %w", err)
	}
	return m, nil
}

func (a *App) cache(ctx context.Context) (enrich.Cache, error) {
	switch a.cfg.Enrich.Cache {
	case "memory":
		return cache.NewMemoryStore(memoryCleanup), nil
	case "redis", "tiered":
		client, err := cache.DialRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		store := cache.NewRedisStore(client)
		if a.cfg.Enrich.Cache == "tiered" {
			return cache.NewTiered(store, l1TTL), nil
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache %q", a.cfg.Enrich.Cache)
	}
}

func (a *App) sender() (notify.Sender, error) {
	cfg := a.cfg
	switch cfg.Notify.Sender {
	case "resend":
		s, err := resend.New(resend.Config{
			APIKey:     cfg.Resend.APIKey,
			From:       cfg.Notify.From,
			BaseURL:    cfg.Resend.BaseURL,
			HTTPClient: a.deps.HTTPClient,
		})
		if err != nil {
			return nil, fmt.Errorf("resend sender: %w", err)
		}
		return s, nil
	case "shoutrrr":
		s, err := shoutrrr.New(shoutrrrTimeout, splitURLs(cfg.Notify.ShoutrrrURL)...)
		if err != nil {
			return nil, fmt.Errorf("shoutrrr sender: %w", err)
		}
		return s, nil
	case "log":
		return notify.LogSender{Logger: a.log}, nil
	default:
		return nil, fmt.Errorf("unknown sender %q", cfg.Notify.Sender)
	}
}

// Handler returns the HTTP API. It needs the dispatcher.
func (a *App) Handler() http.Handler {
	var n server.Notifier
	if a.Dispatcher != nil {
		n = a.Dispatcher
	}
	return server.New(a.Pipeline, n, server.Options{
		OwnerEmail:     a.cfg.Notify.OwnerEmail,
		ConfirmContact: a.cfg.Notify.ConfirmContact,
		RequestTimeout: a.cfg.RequestTimeout,
		Logger:         a.log,
		Gatherer:       a.reg,
	}).Handler()
}

// Serve runs the HTTP API until ctx is done, then drains in-flight requests.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", a.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down", "timeout", a.cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunLocal reads subject keys from inputPath and writes enriched rows to
// outputPath as they complete.
func (a *App) RunLocal(ctx context.Context, inputPath, outputPath string) error {
	inF, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = inF.Close()
	}()

	keys, err := batch.ReadInputs(inF)
	if err != nil {
		return err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = outF.Close()
	}()
	w, err := batch.NewWriter(outF)
	if err != nil {
		return err
	}

	start := time.Now()
	counts := map[string]int{}
	_, err = batch.Resolve(ctx, keys, a.Pipeline, batch.Options{
		Workers:      a.cfg.Workers,
		ItemTimeout:  a.cfg.RequestTimeout,
		RateLimitRPS: a.cfg.RateLimitRPS,
		FailFast:     a.cfg.FailFast,
		OnRow: func(r batch.Row) error {
			if r.Status == "ok" {
				counts[r.Source]++
			} else {
				counts["error"]++
			}
			return w.Write(r)
		},
	})
	if err != nil {
		return err
	}
	a.log.Info("local run complete",
		"rows", len(keys),
		"provider", counts[string(enrich.SourceProvider)],
		"cache", counts[string(enrich.SourceCache)],
		"default", counts[string(enrich.SourceDefault)],
		"error", counts["error"],
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outF.Close()
}

// Resolve enriches one key.
func (a *App) Resolve(ctx context.Context, key string) enrich.Record {
	return a.Pipeline.Resolve(ctx, key)
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func splitURLs(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Package enrich resolves a company domain into an enrichment record: cache
// first, then a provider call, then a default. Resolve never fails.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/krishanraja/mindmaker-sub000/internal/backoff"
	"github.com/krishanraja/mindmaker-sub000/internal/fault"
	"github.com/krishanraja/mindmaker-sub000/internal/invoke"
	"github.com/krishanraja/mindmaker-sub000/internal/redact"
)

const (
	DefaultLongTTL  = 30 * 24 * time.Hour
	DefaultShortTTL = 24 * time.Hour
)

// Recorder is told how each resolve ended.
type Recorder interface {
	RecordResolve(source string, d time.Duration)
}

type Options struct {
	Policy         backoff.Policy
	AttemptTimeout time.Duration

	// LongTTL applies to provider records, ShortTTL to defaults.
	LongTTL  time.Duration
	ShortTTL time.Duration

	// DisableCoalesce lets concurrent misses for one key each call the provider.
	DisableCoalesce bool

	Logger   *slog.Logger
	Recorder Recorder
	Observer invoke.Observer
	Sleeper  invoke.Sleeper
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Policy.Initial <= 0 {
		o.Policy = backoff.Default()
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = invoke.DefaultAttemptTimeout
	}
	if o.LongTTL <= 0 {
		o.LongTTL = DefaultLongTTL
	}
	if o.ShortTTL <= 0 {
		o.ShortTTL = DefaultShortTTL
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Pipeline struct {
	provider Provider
	cache    Cache
	opts     Options
	flights  singleflight.Group
}

// New wires a provider and a cache. A nil cache disables caching.
func New(provider Provider, cache Cache, opts Options) *Pipeline {
	return &Pipeline{
		provider: provider,
		cache:    cache,
		opts:     opts.withDefaults(),
	}
}

// Resolve returns a usable record for subjectKey. Provider and cache failures
// demote the result to a default record; they are logged, never returned.
func (p *Pipeline) Resolve(ctx context.Context, subjectKey string) Record {
	start := p.opts.Now()
	rec := p.resolve(ctx, subjectKey)
	if p.opts.Recorder != nil {
		p.opts.Recorder.RecordResolve(string(rec.Source), p.opts.Now().Sub(start))
	}
	return rec
}

func (p *Pipeline) resolve(ctx context.Context, subjectKey string) Record {
	key := NormalizeKey(subjectKey)
	if key == "" {
		rec := DefaultRecord("")
		rec.ResolvedAt = p.opts.Now()
		return rec
	}

	if rec, ok := p.lookup(ctx, key); ok {
		return rec
	}

	if p.opts.DisableCoalesce {
		return p.fill(ctx, key)
	}

	// The shared flight outlives any one caller; a caller that gives up gets a
	// default record and the flight still fills the cache.
	ch := p.flights.DoChan(key, func() (any, error) {
		return p.fill(context.WithoutCancel(ctx), key), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Record)
	case <-ctx.Done():
		rec := DefaultRecord(key)
		rec.ResolvedAt = p.opts.Now()
		return rec
	}
}

func (p *Pipeline) lookup(ctx context.Context, key string) (Record, bool) {
	if p.cache == nil {
		return Record{}, false
	}
	rec, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.opts.Logger.Warn("enrichment cache read failed", "key", key, "error", redact.Secrets(err.Error()))
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}
	rec.Source = SourceCache
	return rec, true
}

func (p *Pipeline) fill(ctx context.Context, key string) Record {
	rec, err := p.generate(ctx, key)
	if err != nil {
		p.opts.Logger.Warn("enrichment provider failed, using default",
			"key", key,
			"provider", p.provider.Name(),
			"kind", fault.KindOf(err),
			"error", redact.Secrets(err.Error()),
		)
		rec = DefaultRecord(key)
		rec.ResolvedAt = p.opts.Now()
		p.store(ctx, key, rec, p.opts.ShortTTL)
		return rec
	}
	p.store(ctx, key, rec, p.opts.LongTTL)
	return rec
}

func (p *Pipeline) generate(ctx context.Context, key string) (Record, error) {
	prompt := BuildPrompt(key)
	opts := []invoke.Option{
		invoke.Named("enrich." + p.provider.Name()),
		invoke.WithAttemptTimeout(p.opts.AttemptTimeout),
		// Paid per call: rate limiting is surfaced, not retried.
		invoke.WithTerminalKinds(fault.KindRateLimited),
		invoke.WithObserver(p.opts.Observer),
		invoke.WithSleeper(p.opts.Sleeper),
	}
	res, err := invoke.Do(ctx, p.opts.Policy, func(ctx context.Context) (string, error) {
		return p.provider.Generate(ctx, prompt)
	}, opts...)
	if err != nil {
		return Record{}, err
	}

	parsed, err := ParseResponse(res.Value)
	if err != nil {
		return Record{}, err
	}
	fields, conf, err := Validate(key, parsed)
	if err != nil {
		return Record{}, err
	}
	return Record{
		SubjectKey: key,
		Fields:     fields,
		Confidence: conf,
		Source:     SourceProvider,
		Provider:   p.provider.Name(),
		ResolvedAt: p.opts.Now(),
	}, nil
}

func (p *Pipeline) store(ctx context.Context, key string, rec Record, ttl time.Duration) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, key, rec, ttl); err != nil {
		p.opts.Logger.Warn("enrichment cache write failed", "key", key, "error", redact.Secrets(err.Error()))
	}
}

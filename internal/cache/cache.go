// Package cache provides enrichment record stores: in-process, redis, and a
// two-tier combination of both.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
)

// MemoryStore keeps records in process memory. Entries vanish on restart.
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore returns an empty store that sweeps expired entries every
// cleanup interval.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanup)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (enrich.Record, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return enrich.Record{}, false, nil
	}
	rec, ok := v.(enrich.Record)
	return rec, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, rec enrich.Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, rec, ttl)
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len counts stored entries, expired ones included until swept.
func (m *MemoryStore) Len() int { return m.c.ItemCount() }

// Tiered reads through an in-process L1 to a shared L2.
type Tiered struct {
	l1    *MemoryStore
	l2    enrich.Cache
	l1TTL time.Duration
}

// NewTiered fronts l2 with a memory tier. L1 entries live for at most l1TTL so
// writes by other instances become visible.
func NewTiered(l2 enrich.Cache, l1TTL time.Duration) *Tiered {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &Tiered{l1: NewMemoryStore(2 * l1TTL), l2: l2, l1TTL: l1TTL}
}

func (t *Tiered) Get(ctx context.Context, key string) (enrich.Record, bool, error) {
	if rec, ok, _ := t.l1.Get(ctx, key); ok {
		return rec, true, nil
	}
	rec, ok, err := t.l2.Get(ctx, key)
	if err != nil || !ok {
		return enrich.Record{}, false, err
	}
	_ = t.l1.Set(ctx, key, rec, t.l1TTL)
	return rec, true, nil
}

func (t *Tiered) Set(ctx context.Context, key string, rec enrich.Record, ttl time.Duration) error {
	_ = t.l1.Set(ctx, key, rec, min(ttl, t.l1TTL))
	return t.l2.Set(ctx, key, rec, ttl)
}

package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shortlinklabs/redirect-core/internal/cache"
	"github.com/shortlinklabs/redirect-core/internal/clickstream"
	"github.com/shortlinklabs/redirect-core/internal/logging"
	"github.com/shortlinklabs/redirect-core/internal/metrics"
	"github.com/shortlinklabs/redirect-core/internal/model"
	"github.com/shortlinklabs/redirect-core/internal/store"
)

// ErrNotFound is returned when no eligible entry exists for a key. Callers
// translate it to a 404. A durable-store outage during resolution also
// surfaces as ErrNotFound once every cache layer is exhausted, so infra
// errors never leak to end users.
var ErrNotFound = errors.New("short url not found")

// Resolver orchestrates the L1 -> L2 -> L3 lookup for redirects and owns the
// per-process cache coherence duties: local purges on Invalidate, and the
// subscription that applies other processes' invalidations to L1. Safe for
// arbitrary concurrent callers.
type Resolver struct {
	local  *cache.LocalCache
	shared *cache.SharedCache
	store  store.DurableStore
	buffer *clickstream.Buffer
	logger *slog.Logger

	hits        uint64
	misses      uint64
	unsubscribe func()
}

// New wires a resolver. shared may be nil (no L2); buffer may be nil when
// click tracking is disabled.
func New(local *cache.LocalCache, shared *cache.SharedCache, st store.DurableStore, buffer *clickstream.Buffer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Resolver{
		local:  local,
		shared: shared,
		store:  st,
		buffer: buffer,
		logger: logger,
	}
}

// Resolve looks up an entry by domain and slug through L1, L2, then the
// durable store, populating the caches on the way back. Eligibility is
// re-evaluated on every call, including cache hits: a cached entry may be
// soft stale and must never be served once expired, deactivated, or over its
// click limit. Negative results are not cached, so a newly created slug is
// resolvable immediately.
func (r *Resolver) Resolve(ctx context.Context, domain, slug string) (*model.CacheEntry, error) {
	key := model.Key(domain, slug)

	if entry, ok := r.local.Get(key); ok {
		atomic.AddUint64(&r.hits, 1)
		metrics.RecordCacheHit(true)
		return r.validated(entry)
	}

	if entry, ok := r.shared.Get(ctx, domain, slug); ok {
		atomic.AddUint64(&r.hits, 1)
		metrics.RecordCacheHit(false)
		r.local.Set(entry)
		return r.validated(entry)
	}

	atomic.AddUint64(&r.misses, 1)
	metrics.RecordCacheMiss()

	entry, err := r.store.FindByDomainSlug(ctx, domain, slug)
	if err != nil {
		r.logger.Error("durable store lookup failed", "key", key, "err", err)
		metrics.RecordNotFound()
		return nil, ErrNotFound
	}
	if entry == nil {
		metrics.RecordNotFound()
		return nil, ErrNotFound
	}

	r.shared.Set(ctx, entry)
	r.local.Set(entry)
	return r.validated(entry)
}

func (r *Resolver) validated(entry *model.CacheEntry) (*model.CacheEntry, error) {
	if !entry.Eligible(time.Now()) {
		metrics.RecordNotFound()
		return nil, ErrNotFound
	}
	return entry, nil
}

// Track hands a click event to the analytics pipeline. It never blocks: a
// full buffer drops the event and increments the drop counter. The local
// cache's copy of the entry is bumped so the click-limit check stays exact
// within this process between cache refreshes.
func (r *Resolver) Track(event model.ClickEvent) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	accepted := r.buffer.Push(event)
	if event.Domain != "" && event.Slug != "" {
		r.local.BumpClickCount(model.Key(event.Domain, event.Slug))
	}
	return accepted
}

// Invalidate purges a key everywhere: local L1 first, then the shared cache,
// then a publish so other processes purge their L1. Cross-process coherence
// is eventually consistent; L1's TTL bounds the staleness window when the
// publish is lost.
func (r *Resolver) Invalidate(ctx context.Context, domain, slug string) {
	key := model.Key(domain, slug)
	r.local.Delete(key)
	r.shared.Delete(ctx, domain, slug)
	r.shared.PublishInvalidation(ctx, domain, slug)
	r.logger.Info("cache invalidated", "key", key)
}

// StartInvalidationSubscriber begins applying other processes' invalidations
// to the local L1. Call once at startup; Close tears it down.
func (r *Resolver) StartInvalidationSubscriber(ctx context.Context) {
	if r.unsubscribe != nil {
		return
	}
	r.unsubscribe = r.shared.Subscribe(ctx, func(domain, slug string) {
		r.local.Delete(model.Key(domain, slug))
	})
}

// HitRate returns the resolver's cache hit rate in percent.
func (r *Resolver) HitRate() float64 {
	hits := atomic.LoadUint64(&r.hits)
	misses := atomic.LoadUint64(&r.misses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100.0
}

// Close stops the invalidation subscriber.
func (r *Resolver) Close() error {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	return nil
}

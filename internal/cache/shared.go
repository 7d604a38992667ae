package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/logging"
	"github.com/shortlinklabs/redirect-core/internal/metrics"
	"github.com/shortlinklabs/redirect-core/internal/model"
)

const keyPrefix = "url:"

// NewRedisClient builds the shared Redis client used by the L2 cache and the
// real-time counters. Returns (nil, nil) when no address is configured, in
// which case both degrade to no-ops.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		DB:           cfg.DB,
		Password:     cfg.Password,
		PoolSize:     50,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// SharedCache is the L2 cache: a thin wrapper over Redis with per-key TTL and
// a pub/sub channel for cross-process invalidation. L2 is an optimization,
// never a dependency the resolver can fail on: every operation degrades to a
// miss or a logged no-op when Redis is unreachable, and a nil *SharedCache is
// safe to call.
type SharedCache struct {
	client  *redis.Client
	ttl     time.Duration
	channel string
	logger  *slog.Logger
}

// NewSharedCache wraps an existing Redis client. client may be nil, which
// yields a cache where every Get is a miss.
func NewSharedCache(client *redis.Client, cfg config.SharedCacheConfig, logger *slog.Logger) *SharedCache {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	ttl := cfg.TTL.Duration
	if ttl <= 0 {
		ttl = time.Hour
	}
	channel := cfg.InvalidationChannel
	if channel == "" {
		channel = "cache:invalidate"
	}
	return &SharedCache{
		client:  client,
		ttl:     ttl,
		channel: channel,
		logger:  logger,
	}
}

func cacheKey(domain, slug string) string {
	return keyPrefix + model.Key(domain, slug)
}

// Get retrieves an entry by domain and slug. Unreachable Redis and corrupt
// payloads both count as misses.
func (c *SharedCache) Get(ctx context.Context, domain, slug string) (*model.CacheEntry, bool) {
	if c == nil {
		return nil, false
	}
	key := cacheKey(domain, slug)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("shared cache get failed", "key", key, "err", err)
		}
		return nil, false
	}
	entry := &model.CacheEntry{}
	if err := json.Unmarshal(data, entry); err != nil {
		c.logger.Warn("shared cache entry corrupt, deleting", "key", key, "err", err)
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return entry, true
}

// Set stores an entry with the configured TTL. Failures are logged, never
// returned.
func (c *SharedCache) Set(ctx context.Context, entry *model.CacheEntry) {
	if c == nil || entry == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("shared cache entry marshal failed", "key", entry.Key(), "err", err)
		return
	}
	key := keyPrefix + entry.Key()
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("shared cache set failed", "key", key, "err", err)
	}
}

// Delete removes a key from the shared cache.
func (c *SharedCache) Delete(ctx context.Context, domain, slug string) {
	if c == nil {
		return
	}
	key := cacheKey(domain, slug)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("shared cache delete failed", "key", key, "err", err)
	}
}

type invalidation struct {
	Domain string `json:"domain"`
	Slug   string `json:"slug"`
}

// PublishInvalidation tells other processes to purge their L1 copy of the
// key. Delivery is best-effort; a lost message degrades to TTL-bound
// staleness in the other process's L1.
func (c *SharedCache) PublishInvalidation(ctx context.Context, domain, slug string) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(invalidation{Domain: domain, Slug: slug})
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		c.logger.Warn("invalidation publish failed", "key", model.Key(domain, slug), "err", err)
		return
	}
	metrics.RecordInvalidationPublished()
}

// Subscribe starts a goroutine that invokes handler for every invalidation
// message received on the shared channel, for the lifetime of the process.
// The returned stop function closes the subscription and waits for the
// goroutine to exit.
func (c *SharedCache) Subscribe(ctx context.Context, handler func(domain, slug string)) func() {
	if c == nil {
		return func() {}
	}
	pubsub := c.client.Subscribe(ctx, c.channel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var inv invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				c.logger.Warn("invalidation message corrupt", "payload", msg.Payload, "err", err)
				continue
			}
			if inv.Domain == "" || inv.Slug == "" {
				continue
			}
			metrics.RecordInvalidationReceived()
			handler(inv.Domain, inv.Slug)
		}
	}()
	return func() {
		_ = pubsub.Close()
		<-done
	}
}

// Close releases the underlying Redis client.
func (c *SharedCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

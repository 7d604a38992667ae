package counters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/logging"
	"github.com/shortlinklabs/redirect-core/internal/model"
)

const (
	totalPrefix  = "rt:clicks:"
	uniquePrefix = "unique:"
	geoPrefix    = "rt:geo:"
	devicePrefix = "rt:device:"
)

// Realtime maintains the shared-cache-backed click counters: a monotonic
// per-entry total, per-minute buckets for short-term timeseries, a
// HyperLogLog visitor set per (entry, day), and per-day country/device
// breakdown hashes. All writes are fire-and-forget; dashboards and the stats
// aggregator read them, but the durable click-event log remains the source
// of truth. A nil *Realtime is safe to call and does nothing.
type Realtime struct {
	client    *redis.Client
	minuteTTL time.Duration
	dailyTTL  time.Duration
	logger    *slog.Logger
}

// New wraps an existing Redis client. client may be nil, which disables all
// counters.
func New(client *redis.Client, cfg config.CountersConfig, logger *slog.Logger) *Realtime {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	minuteTTL := cfg.MinuteTTL.Duration
	if minuteTTL <= 0 {
		minuteTTL = 24 * time.Hour
	}
	dailyTTL := cfg.DailyTTL.Duration
	if dailyTTL <= 0 {
		dailyTTL = 7 * 24 * time.Hour
	}
	return &Realtime{
		client:    client,
		minuteTTL: minuteTTL,
		dailyTTL:  dailyTTL,
		logger:    logger,
	}
}

func totalKey(entryID int64) string {
	return totalPrefix + strconv.FormatInt(entryID, 10)
}

func minuteKey(entryID, minute int64) string {
	return fmt.Sprintf("%s%d:min:%d", totalPrefix, entryID, minute)
}

func uniqueKey(entryID int64, day string) string {
	return fmt.Sprintf("%s%d:%s", uniquePrefix, entryID, day)
}

// Apply records a batch of click events in one pipeline and fills in each
// event's Unique flag from the visitor set: PFADD reports whether the hash
// changed the set's cardinality, which is exactly "first seen today". When
// Redis is unavailable every event is assumed unique, matching the
// best-effort contract.
func (r *Realtime) Apply(ctx context.Context, events []model.ClickEvent) []model.ClickEvent {
	if len(events) == 0 {
		return events
	}
	if r == nil {
		for i := range events {
			events[i].Unique = true
		}
		return events
	}

	pipe := r.client.Pipeline()
	pfadds := make([]*redis.IntCmd, len(events))
	for i, e := range events {
		day := model.DayKey(e.Timestamp)
		pipe.Incr(ctx, totalKey(e.EntryID))

		minute := e.Timestamp.Unix() / 60 * 60
		mk := minuteKey(e.EntryID, minute)
		pipe.Incr(ctx, mk)
		pipe.Expire(ctx, mk, r.minuteTTL)

		if e.ClientHash != "" {
			uk := uniqueKey(e.EntryID, day)
			pfadds[i] = pipe.PFAdd(ctx, uk, e.ClientHash)
			pipe.Expire(ctx, uk, r.dailyTTL)
		}

		if e.Country != "" {
			gk := fmt.Sprintf("%s%d:%s", geoPrefix, e.EntryID, day)
			pipe.HIncrBy(ctx, gk, e.Country, 1)
			pipe.Expire(ctx, gk, r.dailyTTL)
		}
		if e.DeviceType != "" {
			dk := fmt.Sprintf("%s%d:%s", devicePrefix, e.EntryID, day)
			pipe.HIncrBy(ctx, dk, e.DeviceType, 1)
			pipe.Expire(ctx, dk, r.dailyTTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("realtime counter update failed", "events", len(events), "err", err)
		for i := range events {
			events[i].Unique = true
		}
		return events
	}
	for i := range events {
		if pfadds[i] != nil {
			events[i].Unique = pfadds[i].Val() == 1
		} else {
			events[i].Unique = true
		}
	}
	return events
}

// TotalClicks returns the monotonic total for an entry. Zero when unknown.
func (r *Realtime) TotalClicks(ctx context.Context, entryID int64) int64 {
	if r == nil {
		return 0
	}
	count, err := r.client.Get(ctx, totalKey(entryID)).Int64()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("realtime total read failed", "entry", entryID, "err", err)
		}
		return 0
	}
	return count
}

// ClicksLastMinutes sums the per-minute buckets for the trailing window.
func (r *Realtime) ClicksLastMinutes(ctx context.Context, entryID int64, minutes int) int64 {
	if r == nil || minutes <= 0 {
		return 0
	}
	current := time.Now().Unix() / 60 * 60
	keys := make([]string, 0, minutes)
	for i := 0; i < minutes; i++ {
		keys = append(keys, minuteKey(entryID, current-int64(i)*60))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warn("realtime minute read failed", "entry", entryID, "err", err)
		return 0
	}
	var total int64
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			total += n
		}
	}
	return total
}

// UniqueCount returns the approximate distinct-visitor count for a day.
// Zero when the set is absent or Redis is unreachable.
func (r *Realtime) UniqueCount(ctx context.Context, entryID int64, day time.Time) int64 {
	if r == nil {
		return 0
	}
	count, err := r.client.PFCount(ctx, uniqueKey(entryID, model.DayKey(day))).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("realtime unique read failed", "entry", entryID, "err", err)
		}
		return 0
	}
	return count
}

// CountryBreakdown returns the per-country click counts for a day.
func (r *Realtime) CountryBreakdown(ctx context.Context, entryID int64, day time.Time) map[string]int64 {
	return r.breakdown(ctx, fmt.Sprintf("%s%d:%s", geoPrefix, entryID, model.DayKey(day)))
}

// DeviceBreakdown returns the per-device click counts for a day.
func (r *Realtime) DeviceBreakdown(ctx context.Context, entryID int64, day time.Time) map[string]int64 {
	return r.breakdown(ctx, fmt.Sprintf("%s%d:%s", devicePrefix, entryID, model.DayKey(day)))
}

func (r *Realtime) breakdown(ctx context.Context, key string) map[string]int64 {
	if r == nil {
		return nil
	}
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		r.logger.Warn("realtime breakdown read failed", "key", key, "err", err)
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]int64, len(fields))
	for k, v := range fields {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out
}

// EntryTotal pairs an entry id with its real-time total click count.
type EntryTotal struct {
	EntryID int64
	Clicks  int64
}

// TopByTotalClicks scans the total-click counters and returns the highest
// ones, most-clicked first. SCAN keeps this safe against large keyspaces;
// minute-bucket keys share the prefix and are skipped.
func (r *Realtime) TopByTotalClicks(ctx context.Context, limit int) []EntryTotal {
	if r == nil || limit <= 0 {
		return nil
	}
	var (
		cursor uint64
		ids    []int64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, totalPrefix+"*", 100).Result()
		if err != nil {
			r.logger.Warn("realtime counter scan failed", "err", err)
			return nil
		}
		for _, key := range batch {
			if strings.Contains(key, ":min:") {
				continue
			}
			id, err := strconv.ParseInt(strings.TrimPrefix(key, totalPrefix), 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, id)
			keys = append(keys, key)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warn("realtime counter read failed", "err", err)
		return nil
	}
	totals := make([]EntryTotal, 0, len(ids))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		totals = append(totals, EntryTotal{EntryID: ids[i], Clicks: n})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Clicks > totals[j].Clicks })
	if len(totals) > limit {
		totals = totals[:limit]
	}
	return totals
}

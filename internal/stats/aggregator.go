package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/shortlinklabs/redirect-core/internal/counters"
	"github.com/shortlinklabs/redirect-core/internal/logging"
	"github.com/shortlinklabs/redirect-core/internal/metrics"
	"github.com/shortlinklabs/redirect-core/internal/model"
	"github.com/shortlinklabs/redirect-core/internal/store"
)

// Aggregator rolls raw click events into one DailyStat row per entry per UTC
// day. Re-running a day is idempotent: each row is fully replaced, never
// incremented. The exact distinct-visitor count from the raw rows is used
// unless the real-time counters hold a non-zero HyperLogLog estimate for the
// same (entry, day), which is preferred because it stays cheap at scale.
type Aggregator struct {
	store    store.DurableStore
	counters *counters.Realtime
	logger   *slog.Logger
}

// NewAggregator wires an aggregator. rt may be nil, in which case the exact
// count is always used.
func NewAggregator(st store.DurableStore, rt *counters.Realtime, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Aggregator{store: st, counters: rt, logger: logger}
}

type dayAccumulator struct {
	clicks     int64
	visitors   map[string]struct{}
	byCountry  map[string]int64
	byDevice   map[string]int64
	byBrowser  map[string]int64
	byReferrer map[string]int64
}

func newDayAccumulator() *dayAccumulator {
	return &dayAccumulator{
		visitors:   make(map[string]struct{}),
		byCountry:  make(map[string]int64),
		byDevice:   make(map[string]int64),
		byBrowser:  make(map[string]int64),
		byReferrer: make(map[string]int64),
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// AggregateDay scans the click events of one UTC day and upserts one
// DailyStat per entry seen. Returns the number of entries processed. A
// failed upsert is logged and skipped; the next scheduled run replaces it.
func (a *Aggregator) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	day = model.Midnight(day)

	acc := make(map[int64]*dayAccumulator)
	err := a.store.ForEachClickEvent(ctx, day, func(e model.ClickEvent) error {
		entry, ok := acc[e.EntryID]
		if !ok {
			entry = newDayAccumulator()
			acc[e.EntryID] = entry
		}
		entry.clicks++
		if e.ClientHash != "" {
			entry.visitors[e.ClientHash] = struct{}{}
		}
		entry.byCountry[orDefault(e.Country, "XX")]++
		entry.byDevice[orDefault(e.DeviceType, "unknown")]++
		entry.byBrowser[orDefault(e.Browser, "unknown")]++
		entry.byReferrer[orDefault(e.ReferrerDomain, "direct")]++
		return nil
	})
	if err != nil {
		return 0, err
	}

	processed := 0
	for entryID, entry := range acc {
		unique := int64(len(entry.visitors))
		if hll := a.counters.UniqueCount(ctx, entryID, day); hll > 0 {
			unique = hll
		}
		stat := model.DailyStat{
			EntryID:      entryID,
			Date:         day,
			Clicks:       entry.clicks,
			UniqueClicks: unique,
			ByCountry:    entry.byCountry,
			ByDevice:     entry.byDevice,
			ByBrowser:    entry.byBrowser,
			ByReferrer:   entry.byReferrer,
		}
		if err := a.store.UpsertDailyStat(ctx, stat); err != nil {
			a.logger.Error("daily stat upsert failed", "entry", entryID, "date", day.Format("2006-01-02"), "err", err)
			continue
		}
		processed++
	}
	metrics.RecordAggregatedEntries(processed)
	a.logger.Info("aggregated daily stats", "date", day.Format("2006-01-02"), "entries", processed)
	return processed, nil
}

// AggregateYesterday runs the daily job's target: the previous UTC day.
func (a *Aggregator) AggregateYesterday(ctx context.Context) (int, error) {
	yesterday := model.Midnight(time.Now()).Add(-24 * time.Hour)
	return a.AggregateDay(ctx, yesterday)
}

// Backfill re-aggregates the past N days, most recent first. Failed days are
// logged and skipped so one bad day does not block the rest.
func (a *Aggregator) Backfill(ctx context.Context, days int) (int, error) {
	today := model.Midnight(time.Now())
	total := 0
	for i := 1; i <= days; i++ {
		target := today.Add(-time.Duration(i) * 24 * time.Hour)
		n, err := a.AggregateDay(ctx, target)
		if err != nil {
			a.logger.Error("backfill day failed", "date", target.Format("2006-01-02"), "err", err)
			continue
		}
		total += n
	}
	return total, nil
}

package warmer

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/shortlinklabs/redirect-core/internal/cache"
	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/counters"
	"github.com/shortlinklabs/redirect-core/internal/logging"
	"github.com/shortlinklabs/redirect-core/internal/metrics"
	"github.com/shortlinklabs/redirect-core/internal/store"
)

// Warmer pre-populates L1 and L2 with the entries most likely to be
// requested. Candidates come from two sources: recent click-event counts in
// the durable store, then real-time counter totals for entries the first
// source missed. DB-derived candidates win when the combined list exceeds
// the cap, since the event log is the source of truth. Store fetches are
// paced with a rate limiter so a warm pass never stampedes the store.
type Warmer struct {
	store    store.DurableStore
	counters *counters.Realtime
	local    *cache.LocalCache
	shared   *cache.SharedCache
	topN     int
	lookback time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewWarmer wires a warmer. rt and shared may be nil.
func NewWarmer(st store.DurableStore, rt *counters.Realtime, local *cache.LocalCache, shared *cache.SharedCache, cfg config.WarmerConfig, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = 1000
	}
	lookback := cfg.Lookback.Duration
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	fetchRate := cfg.FetchRate
	if fetchRate <= 0 {
		fetchRate = 200
	}
	return &Warmer{
		store:    st,
		counters: rt,
		local:    local,
		shared:   shared,
		topN:     topN,
		lookback: lookback,
		limiter:  rate.NewLimiter(rate.Limit(fetchRate), 1),
		logger:   logger,
	}
}

// Warm builds the popularity candidate list and populates the caches with
// every candidate not already cached. Returns the number of entries warmed.
// An empty candidate list (no traffic in the lookback window) is a normal
// zero-work pass, not an error.
func (w *Warmer) Warm(ctx context.Context) (int, error) {
	candidates := w.candidates(ctx)
	if len(candidates) == 0 {
		w.logger.Info("cache warm pass found no candidates")
		return 0, nil
	}

	warmed := 0
	for _, entryID := range candidates {
		if err := w.limiter.Wait(ctx); err != nil {
			return warmed, err
		}
		entry, err := w.store.FindEntryByID(ctx, entryID)
		if err != nil {
			w.logger.Warn("warm fetch failed", "entry", entryID, "err", err)
			continue
		}
		if entry == nil {
			continue
		}
		if _, ok := w.local.Get(entry.Key()); ok {
			continue
		}
		if cached, ok := w.shared.Get(ctx, entry.Domain, entry.Slug); ok {
			w.local.Set(cached)
			continue
		}
		w.shared.Set(ctx, entry)
		w.local.Set(entry)
		warmed++
	}

	metrics.RecordWarmedEntries(warmed)
	w.logger.Info("cache warm pass complete", "candidates", len(candidates), "warmed", warmed)
	return warmed, nil
}

// candidates returns entry ids to warm, capped at topN, DB-derived first.
func (w *Warmer) candidates(ctx context.Context) []int64 {
	seen := make(map[int64]struct{}, w.topN)
	out := make([]int64, 0, w.topN)

	recent, err := w.store.TopEntriesByClicksSince(ctx, time.Now().Add(-w.lookback), w.topN)
	if err != nil {
		w.logger.Warn("popularity query failed", "err", err)
	}
	for _, ec := range recent {
		if len(out) >= w.topN {
			return out
		}
		if _, ok := seen[ec.EntryID]; ok {
			continue
		}
		seen[ec.EntryID] = struct{}{}
		out = append(out, ec.EntryID)
	}

	for _, et := range w.counters.TopByTotalClicks(ctx, w.topN) {
		if len(out) >= w.topN {
			break
		}
		if _, ok := seen[et.EntryID]; ok {
			continue
		}
		seen[et.EntryID] = struct{}{}
		out = append(out, et.EntryID)
	}
	return out
}

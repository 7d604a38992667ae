package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry *prometheus.Registry
	initOnce sync.Once
)

// Prometheus metrics for the redirect core
var (
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_cache_hits_total",
		Help: "Total number of resolver cache hits (L1 + L2)",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_cache_misses_total",
		Help: "Total number of resolver lookups that fell through to the durable store",
	})

	L1HitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_l1_hits_total",
		Help: "Total number of L1 (in-process LRU) cache hits",
	})

	L2HitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_l2_hits_total",
		Help: "Total number of L2 (shared cache) hits",
	})

	NotFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_not_found_total",
		Help: "Total number of resolutions that returned not-found (absent or ineligible)",
	})

	ClicksRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_clicks_recorded_total",
		Help: "Total number of click events accepted into the buffer",
	})

	ClicksDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_clicks_dropped_total",
		Help: "Total number of click events dropped due to a full buffer",
	})

	ClicksPersistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_clicks_persisted_total",
		Help: "Total number of click events written to the durable store",
	})

	PersistFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_persist_failures_total",
		Help: "Total number of click batches dropped after a durable store write failure",
	})

	InvalidationsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_invalidations_published_total",
		Help: "Total number of cache invalidations published to the shared channel",
	})

	InvalidationsReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_invalidations_received_total",
		Help: "Total number of cache invalidations received from other processes",
	})

	WarmedEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_warmed_entries_total",
		Help: "Total number of entries pre-populated by the cache warmer",
	})

	AggregatedEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redirect_aggregated_entries_total",
		Help: "Total number of (entry, day) rows written by the stats aggregator",
	})

	// Gauges set from stats on scrape
	CacheHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redirect_cache_hit_rate",
		Help: "Resolver cache hit rate (0-100)",
	})

	L1Entries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redirect_l1_entries",
		Help: "Current number of entries in the L1 (in-process) cache",
	})

	ClickBufferUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redirect_click_buffer_used",
		Help: "Number of click events pending in the buffer",
	})
)

// StatsProvider provides current stats for gauge metrics
type StatsProvider interface {
	CacheHitRate() float64
	L1Entries() int
	ClickBufferUsed() int
}

// Init registers all metrics with a new registry and returns the registry.
// Safe to call multiple times; only the first call registers.
func Init() *prometheus.Registry {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			CacheHitsTotal,
			CacheMissesTotal,
			L1HitsTotal,
			L2HitsTotal,
			NotFoundTotal,
			ClicksRecordedTotal,
			ClicksDroppedTotal,
			ClicksPersistedTotal,
			PersistFailuresTotal,
			InvalidationsPublishedTotal,
			InvalidationsReceivedTotal,
			WarmedEntriesTotal,
			AggregatedEntriesTotal,
			CacheHitRate,
			L1Entries,
			ClickBufferUsed,
			prometheus.NewGoCollector(),
		)
	})
	return registry
}

// Registry returns the metrics registry (nil until Init is called)
func Registry() *prometheus.Registry {
	return registry
}

// RecordCacheHit increments the total cache hits counter.
// l1Hit is true when the hit came from L1 (in-process), false when from L2 (shared).
func RecordCacheHit(l1Hit bool) {
	CacheHitsTotal.Inc()
	if l1Hit {
		L1HitsTotal.Inc()
	} else {
		L2HitsTotal.Inc()
	}
}

// RecordCacheMiss increments the cache misses counter
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
}

// RecordNotFound increments the not-found counter
func RecordNotFound() {
	NotFoundTotal.Inc()
}

// RecordClickAccepted increments the recorded clicks counter
func RecordClickAccepted() {
	ClicksRecordedTotal.Inc()
}

// RecordClickDropped increments the dropped clicks counter
func RecordClickDropped() {
	ClicksDroppedTotal.Inc()
}

// RecordClicksPersisted adds n to the persisted clicks counter
func RecordClicksPersisted(n int) {
	if n > 0 {
		ClicksPersistedTotal.Add(float64(n))
	}
}

// RecordPersistFailure increments the dropped-batch counter
func RecordPersistFailure() {
	PersistFailuresTotal.Inc()
}

// RecordInvalidationPublished increments the published invalidations counter
func RecordInvalidationPublished() {
	InvalidationsPublishedTotal.Inc()
}

// RecordInvalidationReceived increments the received invalidations counter
func RecordInvalidationReceived() {
	InvalidationsReceivedTotal.Inc()
}

// RecordWarmedEntries adds n to the warmed entries counter
func RecordWarmedEntries(n int) {
	if n > 0 {
		WarmedEntriesTotal.Add(float64(n))
	}
}

// RecordAggregatedEntries adds n to the aggregated entries counter
func RecordAggregatedEntries(n int) {
	if n > 0 {
		AggregatedEntriesTotal.Add(float64(n))
	}
}

// UpdateGauges updates gauge metrics from the provided stats
func UpdateGauges(p StatsProvider) {
	if p == nil {
		return
	}
	CacheHitRate.Set(p.CacheHitRate())
	L1Entries.Set(float64(p.L1Entries()))
	ClickBufferUsed.Set(float64(p.ClickBufferUsed()))
}

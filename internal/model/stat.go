package model

import "time"

// DailyStat is the pre-aggregated roll-up of one entry's clicks for one UTC
// calendar day. At most one row exists per (entry, date); re-aggregating a
// day fully replaces the previous values rather than incrementing them, so
// the aggregation job is safe to re-run.
type DailyStat struct {
	EntryID      int64
	Date         time.Time // UTC midnight
	Clicks       int64
	UniqueClicks int64
	ByCountry    map[string]int64
	ByDevice     map[string]int64
	ByBrowser    map[string]int64
	ByReferrer   map[string]int64
}

// DayKey formats a day the way counter and visitor-set keys expect it.
func DayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

// Midnight truncates t to UTC midnight.
func Midnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

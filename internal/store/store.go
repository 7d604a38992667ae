package store

import (
	"context"
	"time"

	"github.com/shortlinklabs/redirect-core/internal/model"
)

// EntryClicks pairs an entry id with a click count, for popularity queries.
type EntryClicks struct {
	EntryID int64
	Clicks  int64
}

// DurableStore is the narrow interface the core needs from the system of
// record (L3). Find methods return (nil, nil) when the record is absent.
// *SQLStore implements this interface; tests use in-memory fakes.
type DurableStore interface {
	// FindByDomainSlug looks up an entry by its short domain and slug.
	FindByDomainSlug(ctx context.Context, domain, slug string) (*model.CacheEntry, error)
	// FindEntryByID looks up an entry by primary key.
	FindEntryByID(ctx context.Context, id int64) (*model.CacheEntry, error)
	// InsertClickEvents writes a batch of click events. The batch is all or
	// nothing; callers treat a failure as a dropped batch.
	InsertClickEvents(ctx context.Context, events []model.ClickEvent) error
	// IncrementClickCounts adds the given deltas to entries' click counts.
	IncrementClickCounts(ctx context.Context, deltas map[int64]int64) error
	// ForEachClickEvent streams the click events of one UTC day in entry-id
	// order. Returning an error from fn stops the scan.
	ForEachClickEvent(ctx context.Context, day time.Time, fn func(model.ClickEvent) error) error
	// UpsertDailyStat replaces the daily roll-up for (stat.EntryID, stat.Date).
	UpsertDailyStat(ctx context.Context, stat model.DailyStat) error
	// TopEntriesByClicksSince returns entry ids ordered by click-event count
	// recorded at or after since, most-clicked first.
	TopEntriesByClicksSince(ctx context.Context, since time.Time, limit int) ([]EntryClicks, error)
}

// Ensure *SQLStore implements DurableStore at compile time.
var _ DurableStore = (*SQLStore)(nil)

package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/shortlinklabs/redirect-core/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	s, err := Open("sqlite", dsn, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedEntry(t *testing.T, s *SQLStore, e *model.CacheEntry) int64 {
	t.Helper()
	id, err := s.CreateEntry(context.Background(), e)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	return id
}

func TestFindByDomainSlug(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seedEntry(t, s, &model.CacheEntry{
		Domain:     "sho.rt",
		Slug:       "promo",
		TargetURL:  "https://example.com/landing",
		IOSURL:     "https://example.com/ios",
		MaxClicks:  100,
		ClickCount: 3,
		Active:     true,
	})

	got, err := s.FindByDomainSlug(ctx, "sho.rt", "promo")
	if err != nil {
		t.Fatalf("FindByDomainSlug: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry")
	}
	if got.ID != id || got.TargetURL != "https://example.com/landing" || got.IOSURL != "https://example.com/ios" {
		t.Errorf("entry = %+v", got)
	}
	if got.MaxClicks != 100 || got.ClickCount != 3 || !got.Active {
		t.Errorf("entry = %+v", got)
	}

	// Absent records are (nil, nil)
	missing, err := s.FindByDomainSlug(ctx, "sho.rt", "nope")
	if err != nil {
		t.Fatalf("FindByDomainSlug absent: %v", err)
	}
	if missing != nil {
		t.Errorf("absent lookup = %+v, want nil", missing)
	}

	byID, err := s.FindEntryByID(ctx, id)
	if err != nil {
		t.Fatalf("FindEntryByID: %v", err)
	}
	if byID == nil || byID.Slug != "promo" || byID.Domain != "sho.rt" {
		t.Errorf("by id = %+v", byID)
	}
}

func TestClickEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seedEntry(t, s, &model.CacheEntry{Domain: "sho.rt", Slug: "x", TargetURL: "https://example.com", Active: true})

	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	events := []model.ClickEvent{
		{
			EntryID:        id,
			Timestamp:      day.Add(time.Hour),
			ClientHash:     "aaaa",
			Country:        "DE",
			DeviceType:     "mobile",
			Browser:        "Chrome",
			BrowserVersion: "126.0",
			OS:             "Android",
			Referrer:       strings.Repeat("r", 600),
			ReferrerDomain: "news.example",
			Unique:         true,
		},
		{EntryID: id, Timestamp: day.Add(2 * time.Hour), ClientHash: "bbbb", Bot: true},
		// Previous day, excluded from the scan
		{EntryID: id, Timestamp: day.Add(-time.Hour), ClientHash: "cccc"},
	}
	if err := s.InsertClickEvents(ctx, events); err != nil {
		t.Fatalf("InsertClickEvents: %v", err)
	}

	var got []model.ClickEvent
	err := s.ForEachClickEvent(ctx, day, func(e model.ClickEvent) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachClickEvent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("scanned %d events, want 2", len(got))
	}

	byHash := make(map[string]model.ClickEvent, len(got))
	for _, e := range got {
		byHash[e.ClientHash] = e
	}
	first, ok := byHash["aaaa"]
	if !ok {
		t.Fatal("event aaaa not scanned")
	}
	if first.Country != "DE" || first.DeviceType != "mobile" || first.Browser != "Chrome" {
		t.Errorf("event = %+v", first)
	}
	if !first.Unique || first.Bot {
		t.Errorf("flags = unique:%v bot:%v", first.Unique, first.Bot)
	}
	// Referrers are truncated to 500 characters at insert
	if len(first.Referrer) != 500 {
		t.Errorf("referrer length = %d, want 500", len(first.Referrer))
	}
	if !byHash["bbbb"].Bot {
		t.Error("bot flag lost")
	}
}

func TestTruncateReferrer(t *testing.T) {
	tests := []struct {
		name     string
		referrer string
		wantLen  int
	}{
		{"short passes through", "https://example.com", len("https://example.com")},
		{"ascii cut at limit", strings.Repeat("r", 600), 500},
		// 3-byte runes: 500 lands mid-rune, cut backs up to 498
		{"multibyte cut on rune boundary", strings.Repeat("€", 200), 498},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateReferrer(tt.referrer)
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
			if !utf8.ValidString(got) {
				t.Error("truncated referrer is not valid UTF-8")
			}
		})
	}
}

func TestIncrementClickCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedEntry(t, s, &model.CacheEntry{Domain: "sho.rt", Slug: "a", TargetURL: "https://example.com", Active: true})
	b := seedEntry(t, s, &model.CacheEntry{Domain: "sho.rt", Slug: "b", TargetURL: "https://example.com", ClickCount: 5, Active: true})

	if err := s.IncrementClickCounts(ctx, map[int64]int64{a: 3, b: 2}); err != nil {
		t.Fatalf("IncrementClickCounts: %v", err)
	}

	ea, _ := s.FindEntryByID(ctx, a)
	if ea.ClickCount != 3 {
		t.Errorf("a count = %d, want 3", ea.ClickCount)
	}
	eb, _ := s.FindEntryByID(ctx, b)
	if eb.ClickCount != 7 {
		t.Errorf("b count = %d, want 7", eb.ClickCount)
	}
}

func TestUpsertDailyStatReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	stat := model.DailyStat{
		EntryID:      1,
		Date:         day,
		Clicks:       10,
		UniqueClicks: 7,
		ByCountry:    map[string]int64{"DE": 6, "XX": 4},
		ByDevice:     map[string]int64{"mobile": 10},
	}
	if err := s.UpsertDailyStat(ctx, stat); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	stat.Clicks = 12
	stat.UniqueClicks = 8
	if err := s.UpsertDailyStat(ctx, stat); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetDailyStat(ctx, 1, day)
	if err != nil {
		t.Fatalf("GetDailyStat: %v", err)
	}
	if got == nil {
		t.Fatal("expected stat row")
	}
	// Re-aggregation replaces, never accumulates
	if got.Clicks != 12 || got.UniqueClicks != 8 {
		t.Errorf("stat = %+v, want clicks 12 unique 8", got)
	}
	if got.ByCountry["DE"] != 6 || got.ByCountry["XX"] != 4 {
		t.Errorf("ByCountry = %v", got.ByCountry)
	}

	absent, err := s.GetDailyStat(ctx, 2, day)
	if err != nil {
		t.Fatalf("GetDailyStat absent: %v", err)
	}
	if absent != nil {
		t.Errorf("absent stat = %+v, want nil", absent)
	}
}

func TestTopEntriesByClicksSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := seedEntry(t, s, &model.CacheEntry{Domain: "sho.rt", Slug: "a", TargetURL: "https://example.com", Active: true})
	b := seedEntry(t, s, &model.CacheEntry{Domain: "sho.rt", Slug: "b", TargetURL: "https://example.com", Active: true})

	var events []model.ClickEvent
	for i := 0; i < 5; i++ {
		events = append(events, model.ClickEvent{EntryID: b, Timestamp: now.Add(-time.Minute)})
	}
	events = append(events,
		model.ClickEvent{EntryID: a, Timestamp: now.Add(-time.Minute)},
		// Outside the window
		model.ClickEvent{EntryID: a, Timestamp: now.Add(-48 * time.Hour)},
	)
	if err := s.InsertClickEvents(ctx, events); err != nil {
		t.Fatalf("InsertClickEvents: %v", err)
	}

	top, err := s.TopEntriesByClicksSince(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("TopEntriesByClicksSince: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].EntryID != b || top[0].Clicks != 5 {
		t.Errorf("top[0] = %+v, want entry %d with 5", top[0], b)
	}
	if top[1].EntryID != a || top[1].Clicks != 1 {
		t.Errorf("top[1] = %+v, want entry %d with 1", top[1], a)
	}

	if got, err := s.TopEntriesByClicksSince(ctx, now, 0); err != nil || got != nil {
		t.Errorf("limit 0 = %v, %v", got, err)
	}
}

package counters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/model"
)

func newTestRealtime(t *testing.T) (*miniredis.Miniredis, *Realtime) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client, config.CountersConfig{}, nil)
}

func click(entryID int64, hash string, ts time.Time) model.ClickEvent {
	return model.ClickEvent{
		EntryID:    entryID,
		ClientHash: hash,
		Timestamp:  ts,
		Country:    "DE",
		DeviceType: "mobile",
	}
}

func TestRealtimeApply(t *testing.T) {
	_, rt := newTestRealtime(t)
	ctx := context.Background()
	now := time.Now().UTC()

	events := []model.ClickEvent{
		click(7, "aaaa", now),
		click(7, "bbbb", now),
		click(7, "aaaa", now), // repeat visitor, same day
	}
	events = rt.Apply(ctx, events)

	if !events[0].Unique || !events[1].Unique {
		t.Error("first-seen hashes not marked unique")
	}
	if events[2].Unique {
		t.Error("repeat hash marked unique")
	}

	if got := rt.TotalClicks(ctx, 7); got != 3 {
		t.Errorf("TotalClicks = %d, want 3", got)
	}
	if got := rt.UniqueCount(ctx, 7, now); got != 2 {
		t.Errorf("UniqueCount = %d, want 2", got)
	}
	if got := rt.ClicksLastMinutes(ctx, 7, 2); got != 3 {
		t.Errorf("ClicksLastMinutes = %d, want 3", got)
	}

	countries := rt.CountryBreakdown(ctx, 7, now)
	if countries["DE"] != 3 {
		t.Errorf("CountryBreakdown[DE] = %d, want 3", countries["DE"])
	}
	devices := rt.DeviceBreakdown(ctx, 7, now)
	if devices["mobile"] != 3 {
		t.Errorf("DeviceBreakdown[mobile] = %d, want 3", devices["mobile"])
	}
}

func TestRealtimeApply_NoHashCountsAsUnique(t *testing.T) {
	_, rt := newTestRealtime(t)
	ctx := context.Background()

	events := rt.Apply(ctx, []model.ClickEvent{{EntryID: 9, Timestamp: time.Now()}})
	if !events[0].Unique {
		t.Error("hashless event should default to unique")
	}
	if got := rt.UniqueCount(ctx, 9, time.Now()); got != 0 {
		t.Errorf("UniqueCount = %d for hashless events, want 0", got)
	}
}

func TestRealtimeApply_NilIsUnique(t *testing.T) {
	var rt *Realtime
	events := rt.Apply(context.Background(), []model.ClickEvent{
		click(1, "aaaa", time.Now()),
		click(1, "aaaa", time.Now()),
	})
	for i, e := range events {
		if !e.Unique {
			t.Errorf("event %d not unique with nil counters", i)
		}
	}
	if rt.TotalClicks(context.Background(), 1) != 0 {
		t.Error("nil counters returned a total")
	}
}

func TestRealtimeKeyRetention(t *testing.T) {
	mr, rt := newTestRealtime(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rt.Apply(ctx, []model.ClickEvent{click(3, "cccc", now)})

	day := model.DayKey(now)
	minute := now.Unix() / 60 * 60
	mk := minuteKey(3, minute)

	if ttl := mr.TTL(mk); ttl != 24*time.Hour {
		t.Errorf("minute bucket TTL = %v, want 24h", ttl)
	}
	if ttl := mr.TTL(uniqueKey(3, day)); ttl != 7*24*time.Hour {
		t.Errorf("visitor set TTL = %v, want 168h", ttl)
	}
	// The monotonic total never expires
	if ttl := mr.TTL(totalKey(3)); ttl != 0 {
		t.Errorf("total key TTL = %v, want none", ttl)
	}
}

func TestTopByTotalClicks(t *testing.T) {
	mr, rt := newTestRealtime(t)
	ctx := context.Background()

	mr.Set("rt:clicks:1", "5")
	mr.Set("rt:clicks:2", "9")
	mr.Set("rt:clicks:3", "1")
	// Minute buckets share the prefix and must be skipped
	mr.Set("rt:clicks:1:min:1700000000", "999")

	top := rt.TopByTotalClicks(ctx, 2)
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].EntryID != 2 || top[0].Clicks != 9 {
		t.Errorf("top[0] = %+v, want entry 2 with 9 clicks", top[0])
	}
	if top[1].EntryID != 1 || top[1].Clicks != 5 {
		t.Errorf("top[1] = %+v, want entry 1 with 5 clicks", top[1])
	}

	if got := rt.TopByTotalClicks(ctx, 0); got != nil {
		t.Errorf("limit 0 returned %v", got)
	}
}

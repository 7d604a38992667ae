package model

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestKey(t *testing.T) {
	if got := Key("sho.rt", "promo"); got != "sho.rt:promo" {
		t.Errorf("Key = %q, want sho.rt:promo", got)
	}
	e := &CacheEntry{Domain: "sho.rt", Slug: "promo"}
	if e.Key() != Key("sho.rt", "promo") {
		t.Errorf("entry key %q != package key %q", e.Key(), Key("sho.rt", "promo"))
	}
}

func TestEligible(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		entry CacheEntry
		want  bool
	}{
		{"active no limits", CacheEntry{Active: true}, true},
		{"inactive", CacheEntry{Active: false}, false},
		{"future expiry", CacheEntry{Active: true, ExpiresAt: now.Add(time.Hour).Unix()}, true},
		{"past expiry", CacheEntry{Active: true, ExpiresAt: now.Add(-time.Hour).Unix()}, false},
		{"under click limit", CacheEntry{Active: true, MaxClicks: 10, ClickCount: 9}, true},
		{"at click limit", CacheEntry{Active: true, MaxClicks: 10, ClickCount: 10}, false},
		{"over click limit", CacheEntry{Active: true, MaxClicks: 10, ClickCount: 11}, false},
		{"zero max clicks is unlimited", CacheEntry{Active: true, ClickCount: 1000000}, true},
		{"zero expiry never expires", CacheEntry{Active: true, ExpiresAt: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Eligible(now); got != tt.want {
				t.Errorf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedirectURL(t *testing.T) {
	e := &CacheEntry{
		TargetURL:  "https://example.com/default",
		IOSURL:     "https://example.com/ios",
		AndroidURL: "https://example.com/android",
	}
	if got := e.RedirectURL("ios"); got != e.IOSURL {
		t.Errorf("ios target = %q, want %q", got, e.IOSURL)
	}
	if got := e.RedirectURL("android"); got != e.AndroidURL {
		t.Errorf("android target = %q, want %q", got, e.AndroidURL)
	}
	if got := e.RedirectURL("windows"); got != e.TargetURL {
		t.Errorf("desktop target = %q, want %q", got, e.TargetURL)
	}

	// Platform URL unset falls back to the default target
	plain := &CacheEntry{TargetURL: "https://example.com/default"}
	if got := plain.RedirectURL("ios"); got != plain.TargetURL {
		t.Errorf("fallback target = %q, want %q", got, plain.TargetURL)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	e := &CacheEntry{PasswordHash: string(hash)}

	if !e.Protected() {
		t.Fatal("expected entry to be protected")
	}
	if !e.VerifyPassword("s3cret") {
		t.Error("correct password rejected")
	}
	if e.VerifyPassword("wrong") {
		t.Error("wrong password accepted")
	}

	open := &CacheEntry{}
	if open.Protected() {
		t.Error("entry without hash reported protected")
	}
	if open.VerifyPassword("anything") {
		t.Error("unprotected entry verified a password")
	}
}

func TestDayHelpers(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	if got := DayKey(ts); got != "20260314" {
		t.Errorf("DayKey = %q, want 20260314", got)
	}
	if got := Midnight(ts); !got.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Midnight = %v", got)
	}
	c := &ClickEvent{Timestamp: ts}
	if !c.Day().Equal(Midnight(ts)) {
		t.Errorf("Day = %v, want %v", c.Day(), Midnight(ts))
	}
}

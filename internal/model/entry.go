package model

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CacheEntry is the immutable cached form of a short URL record. It is what
// the resolver hands back to the redirect handler and what gets serialized
// into the shared cache. Treat instances as read-only after construction;
// refreshing an entry means fetching a new one from the durable store.
//
// Zero values mean "unset" for the optional fields: ExpiresAt == 0 is no
// expiry, MaxClicks == 0 is no click limit, empty strings are absent URLs.
type CacheEntry struct {
	ID           int64  `json:"id"`
	Domain       string `json:"domain"`
	Slug         string `json:"slug"`
	TargetURL    string `json:"target_url"`
	IOSURL       string `json:"ios_url,omitempty"`
	AndroidURL   string `json:"android_url,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // unix seconds
	PasswordHash string `json:"password_hash,omitempty"`
	MaxClicks    int64  `json:"max_clicks,omitempty"`
	ClickCount   int64  `json:"click_count"`
	Active       bool   `json:"active"`
}

// Key returns the cache lookup key for a domain+slug pair.
func Key(domain, slug string) string {
	return domain + ":" + slug
}

// Key returns the entry's cache lookup key.
func (e *CacheEntry) Key() string {
	return Key(e.Domain, e.Slug)
}

// Expired reports whether the entry's expiry has passed at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.Unix() > e.ExpiresAt
}

// ClickLimitReached reports whether the entry has used up its click budget.
func (e *CacheEntry) ClickLimitReached() bool {
	return e.MaxClicks != 0 && e.ClickCount >= e.MaxClicks
}

// Eligible reports whether the entry may be served as a redirect right now.
// This is re-checked on every resolution, including cache hits: a cached copy
// can go stale on click count or expiry between refreshes and must never be
// served once ineligible.
func (e *CacheEntry) Eligible(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.Expired(now) {
		return false
	}
	if e.ClickLimitReached() {
		return false
	}
	return true
}

// Protected reports whether the entry requires a password before redirecting.
func (e *CacheEntry) Protected() bool {
	return e.PasswordHash != ""
}

// VerifyPassword checks a cleartext password against the stored bcrypt hash.
// Always false for unprotected entries.
func (e *CacheEntry) VerifyPassword(password string) bool {
	if !e.Protected() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(e.PasswordHash), []byte(password)) == nil
}

// RedirectURL picks the target for the requesting platform. os is a lowercase
// OS family such as "ios" or "android"; anything else gets the default target.
func (e *CacheEntry) RedirectURL(os string) string {
	switch os {
	case "ios":
		if e.IOSURL != "" {
			return e.IOSURL
		}
	case "android":
		if e.AndroidURL != "" {
			return e.AndroidURL
		}
	}
	return e.TargetURL
}

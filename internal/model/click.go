package model

import "time"

// ClickEvent is one recorded redirect. Events are created by the redirect
// handler, pushed into the click buffer, and consumed exactly once by the
// persister; the durable row is the permanent record. The struct is mutable
// only between construction and handoff to the buffer, except for Unique,
// which the persister fills in from the visitor set at ingestion time.
//
// ClientHash is the anonymized client identifier, by default a salted
// one-way hash of the IP; the anonymize mode is operator-configurable.
// Geography fields are best-effort and empty when no geo classifier is
// configured. Unique and Bot are classifications computed once and never
// recomputed.
type ClickEvent struct {
	EntryID int64
	// Domain and Slug identify the cache key the click belongs to. They are
	// used to keep the local cache's click count current and are not part of
	// the durable row.
	Domain         string
	Slug           string
	Timestamp      time.Time
	ClientHash     string
	Country        string
	Region         string
	City           string
	DeviceType     string // mobile, tablet, desktop
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Referrer       string
	ReferrerDomain string
	Unique         bool
	Bot            bool
}

// Day returns the UTC calendar day the click belongs to.
func (c *ClickEvent) Day() time.Time {
	return c.Timestamp.UTC().Truncate(24 * time.Hour)
}

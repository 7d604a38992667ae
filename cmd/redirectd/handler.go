package main

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/shortlinklabs/redirect-core/internal/anonymize"
	"github.com/shortlinklabs/redirect-core/internal/cache"
	"github.com/shortlinklabs/redirect-core/internal/classify"
	"github.com/shortlinklabs/redirect-core/internal/clickstream"
	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/counters"
	"github.com/shortlinklabs/redirect-core/internal/model"
	"github.com/shortlinklabs/redirect-core/internal/resolver"
	"github.com/shortlinklabs/redirect-core/internal/stats"
	"github.com/shortlinklabs/redirect-core/internal/warmer"
)

type handler struct {
	resolver     *resolver.Resolver
	aggregator   *stats.Aggregator
	warmer       *warmer.Warmer
	buffer       *clickstream.Buffer
	local        *cache.LocalCache
	counters     *counters.Realtime
	geo          classify.GeoClassifier // optional
	privacy      config.PrivacyConfig
	backfillDays int
	logger       *slog.Logger
}

// clientIP extracts the caller's IP, honoring the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *handler) redirect(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slug := vars["slug"]
	domain := vars["domain"]
	if domain == "" {
		domain = r.Host
		if host, _, err := net.SplitHostPort(r.Host); err == nil {
			domain = host
		}
	}

	entry, err := h.resolver.Resolve(r.Context(), domain, slug)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if entry.Protected() && !entry.VerifyPassword(r.URL.Query().Get("pw")) {
		http.Error(w, "password required", http.StatusUnauthorized)
		return
	}

	ip := clientIP(r)
	uaInfo := classify.UserAgent(r.UserAgent())
	referrer := r.Referer()

	event := model.ClickEvent{
		EntryID:        entry.ID,
		Domain:         entry.Domain,
		Slug:           entry.Slug,
		Timestamp:      time.Now().UTC(),
		ClientHash:     anonymize.IP(ip, h.privacy.AnonymizeMode, h.privacy.IPHashSalt),
		DeviceType:     uaInfo.DeviceType,
		Browser:        uaInfo.Browser,
		BrowserVersion: uaInfo.BrowserVersion,
		OS:             uaInfo.OS,
		OSVersion:      uaInfo.OSVersion,
		Referrer:       referrer,
		ReferrerDomain: classify.ReferrerDomain(referrer),
		Bot:            uaInfo.Bot,
	}
	if h.geo != nil {
		if loc, ok := h.geo.Locate(ip); ok {
			event.Country = loc.Country
			event.Region = loc.Region
			event.City = loc.City
		}
	}
	h.resolver.Track(event)

	http.Redirect(w, r, entry.RedirectURL(strings.ToLower(uaInfo.OS)), http.StatusFound)
}

func (h *handler) warm(w http.ResponseWriter, r *http.Request) {
	warmed, err := h.warmer.Warm(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"warmed": warmed})
}

func (h *handler) aggregate(w http.ResponseWriter, r *http.Request) {
	dateParam := r.URL.Query().Get("date")
	day := model.Midnight(time.Now()).Add(-24 * time.Hour)
	if dateParam != "" {
		parsed, err := time.Parse("2006-01-02", dateParam)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}
	processed, err := h.aggregator.AggregateDay(r.Context(), day)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"date": day.Format("2006-01-02"), "entries": processed})
}

func (h *handler) backfill(w http.ResponseWriter, r *http.Request) {
	days := h.backfillDays
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}
	total, err := h.aggregator.Backfill(r.Context(), days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"days": days, "entries": total})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"hit_rate":     h.resolver.HitRate(),
		"local_cache":  h.local.Stats(),
		"click_buffer": h.buffer.Stats(),
	})
}

// realtime serves the live counter view for one entry, for dashboards.
func (h *handler) realtime(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "id must be an integer", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	now := time.Now().UTC()
	writeJSON(w, map[string]any{
		"entry_id":     id,
		"total_clicks": h.counters.TotalClicks(ctx, id),
		"last_hour":    h.counters.ClicksLastMinutes(ctx, id, 60),
		"unique_today": h.counters.UniqueCount(ctx, id, now),
		"by_country":   h.counters.CountryBreakdown(ctx, id, now),
		"by_device":    h.counters.DeviceBreakdown(ctx, id, now),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

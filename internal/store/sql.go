package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/shortlinklabs/redirect-core/internal/logging"
	"github.com/shortlinklabs/redirect-core/internal/model"
)

// SQLStore is a database/sql implementation of DurableStore. The SQL sticks
// to the portable subset plus ON CONFLICT upserts, which both SQLite
// (modernc.org/sqlite) and PostgreSQL accept. The driver is registered by the
// importing binary, not here.
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLStore wraps an open database handle and ensures the schema exists.
func NewSQLStore(db *sql.DB, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	s := &SQLStore{db: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("store schema init: %w", err)
	}
	return s, nil
}

// Open opens a database by driver name and DSN and wraps it in a SQLStore.
func Open(driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	return NewSQLStore(db, logger)
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS domains (
			id INTEGER PRIMARY KEY,
			domain TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS short_urls (
			id INTEGER PRIMARY KEY,
			domain_id INTEGER NOT NULL REFERENCES domains(id),
			slug TEXT NOT NULL,
			target_url TEXT NOT NULL,
			ios_url TEXT NOT NULL DEFAULT '',
			android_url TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL DEFAULT 0,
			password_hash TEXT NOT NULL DEFAULT '',
			max_clicks INTEGER NOT NULL DEFAULT 0,
			click_count INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			UNIQUE (domain_id, slug)
		)`,
		`CREATE TABLE IF NOT EXISTS click_events (
			id INTEGER PRIMARY KEY,
			short_url_id INTEGER NOT NULL,
			clicked_at INTEGER NOT NULL,
			client_hash TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			device_type TEXT NOT NULL DEFAULT '',
			browser TEXT NOT NULL DEFAULT '',
			browser_version TEXT NOT NULL DEFAULT '',
			os TEXT NOT NULL DEFAULT '',
			os_version TEXT NOT NULL DEFAULT '',
			referrer TEXT NOT NULL DEFAULT '',
			referrer_domain TEXT NOT NULL DEFAULT '',
			is_unique INTEGER NOT NULL DEFAULT 0,
			is_bot INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_click_events_clicked_at ON click_events (clicked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_click_events_url_day ON click_events (short_url_id, clicked_at)`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
			id INTEGER PRIMARY KEY,
			short_url_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			clicks INTEGER NOT NULL DEFAULT 0,
			unique_clicks INTEGER NOT NULL DEFAULT 0,
			by_country TEXT NOT NULL DEFAULT '{}',
			by_device TEXT NOT NULL DEFAULT '{}',
			by_browser TEXT NOT NULL DEFAULT '{}',
			by_referrer TEXT NOT NULL DEFAULT '{}',
			UNIQUE (short_url_id, date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const maxReferrerBytes = 500

// truncateReferrer caps a referrer at maxReferrerBytes without splitting a
// multi-byte rune.
func truncateReferrer(referrer string) string {
	if len(referrer) <= maxReferrerBytes {
		return referrer
	}
	cut := maxReferrerBytes
	for cut > 0 && !utf8.RuneStart(referrer[cut]) {
		cut--
	}
	return referrer[:cut]
}

const entryColumns = `u.id, d.domain, u.slug, u.target_url, u.ios_url, u.android_url,
	u.expires_at, u.password_hash, u.max_clicks, u.click_count, u.active`

func scanEntry(row *sql.Row) (*model.CacheEntry, error) {
	e := &model.CacheEntry{}
	err := row.Scan(&e.ID, &e.Domain, &e.Slug, &e.TargetURL, &e.IOSURL, &e.AndroidURL,
		&e.ExpiresAt, &e.PasswordHash, &e.MaxClicks, &e.ClickCount, &e.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLStore) FindByDomainSlug(ctx context.Context, domain, slug string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+`
		FROM short_urls u JOIN domains d ON u.domain_id = d.id
		WHERE d.domain = ? AND u.slug = ?`, domain, slug)
	return scanEntry(row)
}

func (s *SQLStore) FindEntryByID(ctx context.Context, id int64) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+`
		FROM short_urls u JOIN domains d ON u.domain_id = d.id
		WHERE u.id = ?`, id)
	return scanEntry(row)
}

func (s *SQLStore) InsertClickEvents(ctx context.Context, events []model.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO click_events
		(short_url_id, clicked_at, client_hash, country, region, city,
		 device_type, browser, browser_version, os, os_version,
		 referrer, referrer_domain, is_unique, is_bot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		referrer := truncateReferrer(e.Referrer)
		_, err := stmt.ExecContext(ctx, e.EntryID, e.Timestamp.Unix(), e.ClientHash,
			e.Country, e.Region, e.City, e.DeviceType, e.Browser, e.BrowserVersion,
			e.OS, e.OSVersion, referrer, e.ReferrerDomain, e.Unique, e.Bot)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) IncrementClickCounts(ctx context.Context, deltas map[int64]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for id, delta := range deltas {
		if delta == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE short_urls SET click_count = click_count + ? WHERE id = ?`, delta, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ForEachClickEvent(ctx context.Context, day time.Time, fn func(model.ClickEvent) error) error {
	start := model.Midnight(day)
	end := start.Add(24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `SELECT short_url_id, clicked_at, client_hash,
		country, region, city, device_type, browser, browser_version, os, os_version,
		referrer, referrer_domain, is_unique, is_bot
		FROM click_events
		WHERE clicked_at >= ? AND clicked_at < ?
		ORDER BY short_url_id`, start.Unix(), end.Unix())
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var e model.ClickEvent
		var clickedAt int64
		err := rows.Scan(&e.EntryID, &clickedAt, &e.ClientHash, &e.Country, &e.Region,
			&e.City, &e.DeviceType, &e.Browser, &e.BrowserVersion, &e.OS, &e.OSVersion,
			&e.Referrer, &e.ReferrerDomain, &e.Unique, &e.Bot)
		if err != nil {
			return err
		}
		e.Timestamp = time.Unix(clickedAt, 0).UTC()
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLStore) UpsertDailyStat(ctx context.Context, stat model.DailyStat) error {
	marshal := func(m map[string]int64) string {
		if len(m) == 0 {
			return "{}"
		}
		data, err := json.Marshal(m)
		if err != nil {
			return "{}"
		}
		return string(data)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO daily_stats
		(short_url_id, date, clicks, unique_clicks, by_country, by_device, by_browser, by_referrer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (short_url_id, date) DO UPDATE SET
			clicks = excluded.clicks,
			unique_clicks = excluded.unique_clicks,
			by_country = excluded.by_country,
			by_device = excluded.by_device,
			by_browser = excluded.by_browser,
			by_referrer = excluded.by_referrer`,
		stat.EntryID, stat.Date.UTC().Format("2006-01-02"), stat.Clicks, stat.UniqueClicks,
		marshal(stat.ByCountry), marshal(stat.ByDevice), marshal(stat.ByBrowser), marshal(stat.ByReferrer))
	return err
}

func (s *SQLStore) TopEntriesByClicksSince(ctx context.Context, since time.Time, limit int) ([]EntryClicks, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT short_url_id, COUNT(*) AS clicks
		FROM click_events
		WHERE clicked_at >= ?
		GROUP BY short_url_id
		ORDER BY clicks DESC
		LIMIT ?`, since.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []EntryClicks
	for rows.Next() {
		var ec EntryClicks
		if err := rows.Scan(&ec.EntryID, &ec.Clicks); err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

// GetDailyStat reads back one daily roll-up. Used by operational tooling and
// tests; dashboards query the store directly.
func (s *SQLStore) GetDailyStat(ctx context.Context, entryID int64, day time.Time) (*model.DailyStat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT clicks, unique_clicks,
		by_country, by_device, by_browser, by_referrer
		FROM daily_stats WHERE short_url_id = ? AND date = ?`,
		entryID, day.UTC().Format("2006-01-02"))

	stat := &model.DailyStat{EntryID: entryID, Date: model.Midnight(day)}
	var byCountry, byDevice, byBrowser, byReferrer string
	err := row.Scan(&stat.Clicks, &stat.UniqueClicks, &byCountry, &byDevice, &byBrowser, &byReferrer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	unmarshal := func(data string) map[string]int64 {
		m := map[string]int64{}
		_ = json.Unmarshal([]byte(data), &m)
		return m
	}
	stat.ByCountry = unmarshal(byCountry)
	stat.ByDevice = unmarshal(byDevice)
	stat.ByBrowser = unmarshal(byBrowser)
	stat.ByReferrer = unmarshal(byReferrer)
	return stat, nil
}

// CreateEntry inserts a short URL (creating its domain row when needed) and
// returns the new id. The resolver never writes entries; this exists for
// seeding, tooling, and tests.
func (s *SQLStore) CreateEntry(ctx context.Context, e *model.CacheEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var domainID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM domains WHERE domain = ?`, e.Domain).Scan(&domainID)
	if err == sql.ErrNoRows {
		res, err := tx.ExecContext(ctx, `INSERT INTO domains (domain) VALUES (?)`, e.Domain)
		if err != nil {
			return 0, err
		}
		domainID, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO short_urls
		(domain_id, slug, target_url, ios_url, android_url, expires_at, password_hash, max_clicks, click_count, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		domainID, e.Slug, e.TargetURL, e.IOSURL, e.AndroidURL, e.ExpiresAt,
		e.PasswordHash, e.MaxClicks, e.ClickCount, e.Active)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

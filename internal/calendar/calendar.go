// Package calendar answers "is this date a workday" from a cached
// public holiday feed, falling back to the plain weekend rule whenever
// the feed cannot help.
package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/model"
	"charging-alert-backend/internal/store"
)

const memCacheTTL = 6 * time.Hour

// Checker classifies dates as workdays using the holiday cache.
type Checker struct {
	store   store.Store
	client  *http.Client
	feedURL string
	loc     *time.Location
	ttl     time.Duration
	days    int
	mem     *gocache.Cache
	log     *zap.SugaredLogger
}

// NewChecker creates a Checker. Dates are computed in loc, the
// station's civil timezone, so a tick just after UTC midnight still
// lands on the right local date.
func NewChecker(s store.Store, cfg config.CalendarConfig, loc *time.Location, log *zap.SugaredLogger) *Checker {
	return &Checker{
		store:   s,
		client:  &http.Client{Timeout: 30 * time.Second},
		feedURL: cfg.FeedURL,
		loc:     loc,
		ttl:     time.Duration(cfg.CacheTTLDays) * 24 * time.Hour,
		days:    cfg.RefreshDays,
		mem:     gocache.New(memCacheTTL, 2*memCacheTTL),
		log:     log,
	}
}

// IsWorkday reports whether the date of now (in the civil timezone) is
// a working day. It never fails: on cache misses it tries a refresh,
// and on any trouble it degrades to the weekend-only rule.
func (c *Checker) IsWorkday(ctx context.Context, now time.Time) bool {
	local := now.In(c.loc)
	dateStr := local.Format("2006-01-02")

	if v, found := c.mem.Get(dateStr); found {
		return v.(bool)
	}

	entry, err := c.store.GetHoliday(ctx, dateStr)
	if err != nil {
		c.log.Errorw("holiday cache lookup failed, falling back to weekend rule",
			"date", dateStr, "error", err)
		return !isWeekend(local)
	}

	if entry != nil && now.Unix()-entry.CachedAt < int64(c.ttl.Seconds()) {
		workday := !entry.IsHoliday
		c.mem.Set(dateStr, workday, gocache.DefaultExpiration)
		return workday
	}

	if entry != nil {
		c.log.Warnw("holiday cache entry is stale, refreshing",
			"date", dateStr, "ageDays", (now.Unix()-entry.CachedAt)/86400)
	}

	if err := c.Refresh(ctx, now); err != nil {
		c.log.Warnw("holiday feed refresh failed, falling back to weekend rule",
			"date", dateStr, "error", err)
		return !isWeekend(local)
	}

	entry, err = c.store.GetHoliday(ctx, dateStr)
	if err != nil || entry == nil {
		c.log.Warnw("holiday data missing after refresh, falling back to weekend rule",
			"date", dateStr)
		return !isWeekend(local)
	}

	workday := !entry.IsHoliday
	c.mem.Set(dateStr, workday, gocache.DefaultExpiration)
	return workday
}

// Refresh fetches the holiday feed and rebuilds cache entries for the
// configured horizon starting at now's local date. When two feed events
// cover the same date, an explicit make-up workday wins over a rest
// day.
func (c *Checker) Refresh(ctx context.Context, now time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("holiday feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("holiday feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read holiday feed: %w", err)
	}

	feedEvents := ParseICS(string(body))
	if len(feedEvents) == 0 {
		return fmt.Errorf("holiday feed parsed to zero marked events")
	}
	c.log.Infow("parsed holiday feed", "events", len(feedEvents))

	byDate := make(map[string]FeedEvent, len(feedEvents))
	for _, ev := range feedEvents {
		existing, ok := byDate[ev.Date]
		if !ok || (!ev.IsHoliday && existing.IsHoliday) {
			byDate[ev.Date] = ev
		}
	}

	cachedAt := now.Unix()
	start := now.In(c.loc)
	entries := make([]model.HolidayCacheEntry, 0, c.days)
	for i := 0; i < c.days; i++ {
		d := start.AddDate(0, 0, i)
		dateStr := d.Format("2006-01-02")

		entry := model.HolidayCacheEntry{
			Date:     dateStr,
			CachedAt: cachedAt,
			Source:   "ical_feed",
		}
		if ev, ok := byDate[dateStr]; ok {
			entry.IsHoliday = ev.IsHoliday
			entry.HolidayName = ev.Name
		} else {
			entry.IsHoliday = isWeekend(d)
		}
		entries = append(entries, entry)
	}

	if err := c.store.UpsertHolidays(ctx, entries); err != nil {
		return err
	}
	c.log.Infow("holiday cache refreshed", "entries", len(entries))
	return nil
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

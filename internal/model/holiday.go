package model

// HolidayCacheEntry caches the workday classification of one calendar
// date. Entries older than the configured TTL are considered stale and
// trigger a feed refresh on next lookup.
type HolidayCacheEntry struct {
	Date        string `gorm:"primaryKey;size:10"` // YYYY-MM-DD in the civil timezone
	IsHoliday   bool   `gorm:"not null"`
	HolidayName string `gorm:"size:128"`
	CachedAt    int64  `gorm:"not null"` // unix seconds
	Source      string `gorm:"size:32"`
}

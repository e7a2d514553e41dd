package model

// IdleAlertLog records one delivery attempt of an idle-socket alert to
// one target. A successful row matching (station_id, socket_id,
// idle_start_time) means that idle episode has already been alerted.
type IdleAlertLog struct {
	ID             string `gorm:"primaryKey;size:255"`
	StationID      int64  `gorm:"not null;index:idx_idle_alert_dedup"`
	StationName    string `gorm:"size:128;not null"`
	SocketID       int    `gorm:"not null;index:idx_idle_alert_dedup"`
	IdleMinutes    int    `gorm:"not null"`
	IdleStartTime  int64  `gorm:"not null;index:idx_idle_alert_dedup"` // unix seconds
	Target         string `gorm:"size:512;not null"`
	ResponseStatus int
	ResponseBody   string `gorm:"size:1024"`
	ElapsedMs      int64
	Success        bool `gorm:"not null;index:idx_idle_alert_dedup"`
	ErrorMessage   string
	RetryCount     int
	TriggeredAt    int64  `gorm:"not null"` // unix seconds
	LogDate        string `gorm:"size:10;not null;index"`
	ChatSuccess    *bool
	ChatMessageID  string
	ChatError      string
	ChatElapsedMs  int64
}

// SummaryLog records one window-boundary broadcast, used only for the
// short-horizon dedup that suppresses repeat broadcasts.
type SummaryLog struct {
	ID             string `gorm:"primaryKey;size:64"`
	MessageType    string `gorm:"size:16;not null;index:idx_summary_dedup"`
	SocketCount    int    `gorm:"not null"`
	SentAt         int64  `gorm:"not null;index:idx_summary_dedup"` // unix seconds
	SentTimeStr    string `gorm:"size:5;not null"`
	ChatEnabled    bool
	ChatSuccess    bool
	ChatMessageID  string
	ChatError      string
	WebhookEnabled bool
	WebhookSuccess bool
	CreatedAt      int64
}

// Summary broadcast message types.
const (
	SummaryWindowStart = "window_start"
	SummaryWindowEnd   = "window_end"
)

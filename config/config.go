package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"charging-alert-backend/internal/parse"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Poller   PollerConfig   `yaml:"poller"`
	Alert    AlertConfig    `yaml:"alert"`
	Calendar CalendarConfig `yaml:"calendar"`
}

// ServerConfig holds the admin API server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// StationConfig identifies one monitored charging station.
type StationConfig struct {
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
	SimID string `yaml:"sim_id"`
}

// VendorConfig holds the upstream device API connection settings.
type VendorConfig struct {
	BaseURL        string `yaml:"base_url"`
	ChannelMessage string `yaml:"channel_message"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// PollerConfig holds the snapshot-polling configuration.
type PollerConfig struct {
	Enabled         bool            `yaml:"enabled"`
	IntervalSeconds int             `yaml:"interval_seconds"`
	Interval        time.Duration   `yaml:"-"` // Ignored by YAML parser
	Timezone        string          `yaml:"timezone"`
	RetentionDays   int             `yaml:"retention_days"`
	Vendor          VendorConfig    `yaml:"vendor"`
	Stations        []StationConfig `yaml:"stations"`
}

// ChatConfig holds the chat-sink (Lark relay) settings.
type ChatConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	APIURL            string  `yaml:"api_url" json:"apiUrl"`
	AuthToken         string  `yaml:"auth_token" json:"-"`
	ChatID            string  `yaml:"chat_id" json:"chatId"`
	MessagesPerSecond float64 `yaml:"messages_per_second" json:"messagesPerSecond"`
}

// AlertConfig holds every knob of the idle/fault alerting flow. It is
// passed explicitly into the engine on every tick rather than read from
// ambient state, so the flow stays testable with injected values.
type AlertConfig struct {
	Enabled                  bool       `yaml:"enabled" json:"enabled"`
	IdleThresholdMinutes     int        `yaml:"idle_threshold_minutes" json:"idleThresholdMinutes"`
	TimeRangeStart           string     `yaml:"time_range_start" json:"timeRangeStart"`
	TimeRangeEnd             string     `yaml:"time_range_end" json:"timeRangeEnd"`
	WebhookURLs              []string   `yaml:"webhook_urls" json:"webhookUrls"`
	EnabledStationIDs        []int64    `yaml:"enabled_station_ids" json:"enabledStationIds"` // nil = all stations
	RetryTimes               int        `yaml:"retry_times" json:"retryTimes"`
	RetryIntervalSeconds     int        `yaml:"retry_interval_seconds" json:"retryIntervalSeconds"`
	FaultDebounceMinutes     int        `yaml:"fault_debounce_minutes" json:"faultDebounceMinutes"`
	BoundaryToleranceMinutes int        `yaml:"boundary_tolerance_minutes" json:"boundaryToleranceMinutes"`
	BoundaryCooldownMinutes  int        `yaml:"boundary_cooldown_minutes" json:"boundaryCooldownMinutes"`
	SummaryDedupMinutes      int        `yaml:"summary_dedup_minutes" json:"summaryDedupMinutes"`
	Chat                     ChatConfig `yaml:"chat" json:"chat"`
}

// CalendarConfig holds the holiday feed settings.
type CalendarConfig struct {
	FeedURL      string `yaml:"feed_url"`
	RefreshDays  int    `yaml:"refresh_days"`
	CacheTTLDays int    `yaml:"cache_ttl_days"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Poller.IntervalSeconds <= 0 {
		cfg.Poller.IntervalSeconds = 60
	}
	cfg.Poller.Interval = time.Duration(cfg.Poller.IntervalSeconds) * time.Second

	if cfg.Poller.Timezone == "" {
		cfg.Poller.Timezone = "Asia/Shanghai"
	}
	if cfg.Poller.RetentionDays <= 0 {
		cfg.Poller.RetentionDays = 30
	}
	if cfg.Poller.Vendor.TimeoutSeconds <= 0 {
		cfg.Poller.Vendor.TimeoutSeconds = 30
	}

	applyAlertDefaults(&cfg.Alert)

	if cfg.Calendar.FeedURL == "" {
		cfg.Calendar.FeedURL = "https://calendars.icloud.com/holidays/cn_zh.ics"
	}
	if cfg.Calendar.RefreshDays <= 0 {
		cfg.Calendar.RefreshDays = 365
	}
	if cfg.Calendar.CacheTTLDays <= 0 {
		cfg.Calendar.CacheTTLDays = 30
	}

	if err := ValidateAlertConfig(&cfg.Alert); err != nil {
		return nil, fmt.Errorf("invalid alert config: %w", err)
	}

	return &cfg, nil
}

func applyAlertDefaults(a *AlertConfig) {
	if a.IdleThresholdMinutes <= 0 {
		a.IdleThresholdMinutes = 30
	}
	if a.TimeRangeStart == "" {
		a.TimeRangeStart = "08:00"
	}
	if a.TimeRangeEnd == "" {
		a.TimeRangeEnd = "17:00"
	}
	if a.RetryTimes <= 0 {
		a.RetryTimes = 3
	}
	if a.RetryIntervalSeconds <= 0 {
		a.RetryIntervalSeconds = 5
	}
	if a.FaultDebounceMinutes <= 0 {
		a.FaultDebounceMinutes = 3
	}
	if a.BoundaryToleranceMinutes <= 0 {
		a.BoundaryToleranceMinutes = 1
	}
	if a.BoundaryCooldownMinutes <= 0 {
		a.BoundaryCooldownMinutes = 3
	}
	if a.SummaryDedupMinutes <= 0 {
		a.SummaryDedupMinutes = 5
	}
	if a.Chat.MessagesPerSecond <= 0 {
		a.Chat.MessagesPerSecond = 2
	}
}

// ValidateAlertConfig checks range and format constraints. It is called
// at the configuration boundary (file load, admin API update) so the
// alerting flow itself never has to deal with malformed values.
func ValidateAlertConfig(a *AlertConfig) error {
	if _, err := parse.MinutesOfDay(a.TimeRangeStart); err != nil {
		return fmt.Errorf("time_range_start: %w", err)
	}
	if _, err := parse.MinutesOfDay(a.TimeRangeEnd); err != nil {
		return fmt.Errorf("time_range_end: %w", err)
	}
	if a.IdleThresholdMinutes < 1 || a.IdleThresholdMinutes > 1440 {
		return fmt.Errorf("idle_threshold_minutes must be between 1 and 1440, got %d", a.IdleThresholdMinutes)
	}
	if a.RetryTimes < 0 || a.RetryTimes > 10 {
		return fmt.Errorf("retry_times must be between 0 and 10, got %d", a.RetryTimes)
	}
	if a.RetryIntervalSeconds < 1 || a.RetryIntervalSeconds > 300 {
		return fmt.Errorf("retry_interval_seconds must be between 1 and 300, got %d", a.RetryIntervalSeconds)
	}
	for _, u := range a.WebhookURLs {
		parsed, err := url.Parse(u)
		if err != nil || !strings.HasPrefix(parsed.Scheme, "http") || parsed.Host == "" {
			return fmt.Errorf("invalid webhook url: %q", u)
		}
	}
	return nil
}

// Holder guards the mutable alert configuration so the admin API can
// update it while the poller reads a fresh copy on every tick.
type Holder struct {
	mu    sync.RWMutex
	alert AlertConfig
}

// NewHolder creates a Holder seeded with the loaded alert config.
func NewHolder(alert AlertConfig) *Holder {
	return &Holder{alert: alert}
}

// Alert returns a copy of the current alert configuration.
func (h *Holder) Alert() AlertConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.alert
}

// SetAlert validates and swaps in a new alert configuration.
func (h *Holder) SetAlert(a AlertConfig) error {
	applyAlertDefaults(&a)
	if err := ValidateAlertConfig(&a); err != nil {
		return err
	}
	h.mu.Lock()
	h.alert = a
	h.mu.Unlock()
	return nil
}

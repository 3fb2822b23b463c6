package config

// Config is the full configuration surface consumed (not owned) by the
// watcher. Unknown fields are rejected at load time so typos fail fast.
//
// All duration-like fields are Go duration strings (e.g. "30s", "10m").
type Config struct {
	Monitoring MonitoringConfig         `json:"monitoring"`
	Safety     SafetyConfig             `json:"safety"`
	Upstream   UpstreamConfig           `json:"upstream"`
	Channels   map[string]ChannelConfig `json:"channels"`
	Outbox     OutboxConfig             `json:"outbox"`
	Storage    StorageConfig            `json:"storage"`
	Logging    LoggingConfig            `json:"logging"`
}

type MonitoringConfig struct {
	FacilityID             string `json:"facility_id"`
	QueryWindowMinutes     int    `json:"query_window_minutes,omitempty"`
	PollingIntervalMinutes int    `json:"polling_interval_minutes,omitempty"`

	// OverflowLocations are excluded from receiving attribution.
	// Matching is case-insensitive.
	OverflowLocations []string `json:"overflow_locations,omitempty"`

	LogRetentionDays int `json:"log_retention_days,omitempty"`
}

type SafetyConfig struct {
	// KillSwitchFile is a marker file checked by name in the working
	// directory; presence stops the process at the next tick boundary.
	KillSwitchFile string `json:"kill_switch_file,omitempty"`

	RateLimit      RateLimitConfig      `json:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

type RateLimitConfig struct {
	MaxPollsPerHour int `json:"max_polls_per_hour,omitempty"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold,omitempty"`
	BackoffBase      string `json:"backoff_base,omitempty"`
	BackoffMax       string `json:"backoff_max,omitempty"`
}

// UpstreamConfig controls the bq CLI query client. The SQL itself lives in
// a template file outside this repo; only execution knobs are configured.
type UpstreamConfig struct {
	BqPath      string `json:"bq_path,omitempty"`
	SQLTemplate string `json:"sql_template"`
	Project     string `json:"project,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// ChannelConfig configures one notification channel. A shift with no
// destination configured is intentionally never notified on that channel.
type ChannelConfig struct {
	Enabled             bool              `json:"enabled"`
	DestinationsByShift map[string]string `json:"destinations_by_shift,omitempty"`
	MaxSendsPerHour     int               `json:"max_sends_per_hour,omitempty"`

	// Token is the bot credential for the telegram channel. Prefer the
	// ATCWATCH_TELEGRAM_TOKEN env var over putting it in the file.
	Token string `json:"token,omitempty"`

	// MaxItems caps the per-delivery item list in outbound messages.
	MaxItems int `json:"max_items,omitempty"`
}

type OutboxConfig struct {
	Dir           string `json:"dir,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Driver values:
//   - "file": one JSON file per surface, atomic replace (default)
//   - "sqlite": single SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Channel names with first-class dispatchers.
const (
	ChannelWebhook  = "webhook"
	ChannelOutbox   = "outbox"
	ChannelTelegram = "telegram"
)

package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets may be left empty in the file and supplied through CHRONOSEND_* env vars.
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Server       ServerConfig       `json:"server"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	TaskEngine   TaskEngineConfig   `json:"task_engine"`
	Storage      StorageConfig      `json:"storage"`
	Cache        CacheConfig        `json:"cache,omitempty"`
	Media        MediaConfig        `json:"media"`
	Transport    TransportConfig    `json:"transport"`
	Notifier     NotifierConfig     `json:"notifier"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile is a JSON log file rotated by size.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type ServerConfig struct {
	Addr         string `json:"addr"` // default ":8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	BodyLimitMB  int    `json:"body_limit_mb,omitempty"`
}

// SchedulerConfig controls trigger behavior.
//
// Overlap is "skip_if_running" (default) or "allow".
// FiringTimeout bounds one send; empty falls back to task_engine.default_timeout.
type SchedulerConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	Overlap       string `json:"overlap,omitempty"`
	FiringTimeout string `json:"firing_timeout,omitempty"`
}

// TaskEngineConfig controls firing execution.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "2m"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the task store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/chronosend.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; prefer CHRONOSEND_STORAGE_DSN
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxOpenConn int    `json:"max_open_conn,omitempty"`
}

// CacheConfig enables the Redis receipt cache. Empty Addr disables it.
type CacheConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	TTL      string `json:"ttl,omitempty"` // default "168h"
}

type MediaConfig struct {
	Dir        string   `json:"dir"` // default "./uploads"
	MaxSizeMB  int      `json:"max_size_mb,omitempty"`
	AllowTypes []string `json:"allow_types,omitempty"` // MIME prefixes, e.g. "image/"
}

// TransportConfig configures the messaging gateway client.
type TransportConfig struct {
	BaseURL         string `json:"base_url"`
	Token           string `json:"token,omitempty"`            // prefer CHRONOSEND_TRANSPORT_TOKEN
	RecipientSuffix string `json:"recipient_suffix,omitempty"` // default "c.us"
	RequestTimeout  string `json:"request_timeout,omitempty"`
	MaxAttempts     int    `json:"max_attempts,omitempty"`
	RetryDelay      string `json:"retry_delay,omitempty"`
	MaxRetryDelay   string `json:"max_retry_delay,omitempty"`
	StatusInterval  string `json:"status_interval,omitempty"`
}

// NotifierConfig controls the async notification pipeline and its sinks.
type NotifierConfig struct {
	Enabled        bool   `json:"enabled"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
	DefaultAddress string `json:"default_address,omitempty"`

	Email    *EmailSinkConfig    `json:"email,omitempty"`
	Telegram *TelegramSinkConfig `json:"telegram,omitempty"`
}

// EmailSinkConfig sends notifications through AWS SES. Credentials come from the
// default AWS chain.
type EmailSinkConfig struct {
	Region string `json:"region"`
	From   string `json:"from"`
}

type TelegramSinkConfig struct {
	Token string `json:"token,omitempty"` // prefer CHRONOSEND_TELEGRAM_TOKEN
}

type HousekeepingConfig struct {
	PruneSchedule string `json:"prune_schedule,omitempty"` // cron, default "0 3 * * *"
	Disabled      bool   `json:"disabled,omitempty"`
}

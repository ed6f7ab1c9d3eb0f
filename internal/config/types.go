package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor"`
	Agent     AgentConfig     `json:"agent"`

	// Notifier may be omitted; it then defaults to enabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig   `json:"storage"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warn+ log lines to a chat.
type LoggingTelegram struct {
	Enabled bool `json:"enabled"`
	// Chat is "<chat_id>" or "<chat_id>:<thread_id>"; empty uses telegram.default_chat.
	Chat       string `json:"chat,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig configures the outbound transport. An empty token selects
// the log-only sender.
type TelegramConfig struct {
	Token       string `json:"token"`
	DefaultChat string `json:"default_chat"`
	Timeout     string `json:"timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// TickInterval caps the dispatch loop's sleep (default "1s").
	TickInterval string `json:"tick_interval,omitempty"`
	// CatchUp runs a missed trigger once at startup (default true).
	CatchUp        *bool  `json:"catch_up,omitempty"`
	HistoryPerTask int    `json:"history_per_task,omitempty"`
	HistoryTotal   int    `json:"history_total,omitempty"`
	FlushRetry     string `json:"flush_retry,omitempty"`
}

// ExecutorConfig holds per-type default timeouts. A task's
// metadata.timeoutSeconds overrides them.
type ExecutorConfig struct {
	Shell           string `json:"shell,omitempty"`
	WorkDir         string `json:"work_dir,omitempty"`
	OutputLimit     int    `json:"output_limit,omitempty"`
	CommandTimeout  string `json:"command_timeout,omitempty"`
	ScriptTimeout   string `json:"script_timeout,omitempty"`
	AgentTimeout    string `json:"agent_timeout,omitempty"`
	ReminderTimeout string `json:"reminder_timeout,omitempty"`
	WebhookTimeout  string `json:"webhook_timeout,omitempty"`
}

// AgentConfig points at the HTTP endpoint that accepts delegated agent
// tasks. Without a URL agent tasks fail with "agent delegate not configured".
type AgentConfig struct {
	URL     string `json:"url,omitempty"`
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// NotifierConfig controls reminder delivery and the async alert pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig selects the task document backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/tasks.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

const DefaultStoragePath = "./data/tasks.json"

// DefaultNotifier is used when the notifier section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}

// Default returns a config suitable for local use without a file.
func Default() *Config {
	n := DefaultNotifier()
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{Enabled: true},
		Notifier:  &n,
		Storage:   StorageConfig{Driver: "file", Path: DefaultStoragePath},
	}
}

// CatchUpEnabled reports scheduler.catch_up, defaulting to true.
func (c SchedulerConfig) CatchUpEnabled() bool {
	return c.CatchUp == nil || *c.CatchUp
}

// NotifierOrDefault never returns nil.
func (c *Config) NotifierOrDefault() NotifierConfig {
	if c.Notifier == nil {
		return DefaultNotifier()
	}
	return *c.Notifier
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	kit "cronkeeper/internal/transport"
	logx "cronkeeper/pkg/logx"
)

// Validate checks values the decoder cannot: durations, levels, zones,
// drivers and chat ids. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	chat := func(path, raw string) {
		if strings.TrimSpace(raw) == "" {
			return
		}
		if _, err := kit.ParseChatTarget(raw); err != nil {
			add(fmt.Errorf("%s: %w", path, err))
		}
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if lv := strings.TrimSpace(cfg.Logging.Telegram.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", lv))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}
	chat("logging.telegram.chat", cfg.Logging.Telegram.Chat)

	chat("telegram.default_chat", cfg.Telegram.DefaultChat)
	dur("telegram.timeout", cfg.Telegram.Timeout)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.tick_interval", cfg.Scheduler.TickInterval)
	dur("scheduler.flush_retry", cfg.Scheduler.FlushRetry)
	if cfg.Scheduler.HistoryPerTask < 0 || cfg.Scheduler.HistoryTotal < 0 {
		add(errors.New("scheduler: history limits must be >= 0"))
	}

	dur("executor.command_timeout", cfg.Executor.CommandTimeout)
	dur("executor.script_timeout", cfg.Executor.ScriptTimeout)
	dur("executor.agent_timeout", cfg.Executor.AgentTimeout)
	dur("executor.reminder_timeout", cfg.Executor.ReminderTimeout)
	dur("executor.webhook_timeout", cfg.Executor.WebhookTimeout)
	if cfg.Executor.OutputLimit < 0 {
		add(errors.New("executor.output_limit: must be >= 0"))
	}

	if raw := strings.TrimSpace(cfg.Agent.URL); raw != "" {
		if u, err := url.Parse(raw); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			add(errors.New("agent.url: must be an absolute http(s) URL"))
		}
	}
	dur("agent.timeout", cfg.Agent.Timeout)

	if n := cfg.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.send_timeout", n.SendTimeout)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "memory", "mem":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	return errors.Join(errs...)
}

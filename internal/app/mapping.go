package app

import (
	"fmt"
	"strings"
	"time"

	"cronkeeper/internal/config"
	"cronkeeper/internal/notifier"
	"cronkeeper/internal/storage"
	"cronkeeper/internal/task/executor"
	"cronkeeper/internal/task/scheduler"
	"cronkeeper/internal/task/store"
	kit "cronkeeper/internal/transport"
	logx "cronkeeper/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file", "json":
		if path == "" {
			path = config.DefaultStoragePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapStoreOptions(cfg *config.Config) (store.Options, error) {
	retry, err := config.ParseDurationField("scheduler.flush_retry", cfg.Scheduler.FlushRetry)
	if err != nil {
		return store.Options{}, err
	}
	return store.Options{
		HistoryPerTask: cfg.Scheduler.HistoryPerTask,
		HistoryTotal:   cfg.Scheduler.HistoryTotal,
		FlushRetry:     retry,
		CatchUp:        cfg.Scheduler.CatchUpEnabled(),
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationField("scheduler.tick_interval", cfg.Scheduler.TickInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:          cfg.Scheduler.Enabled,
		Timezone:         cfg.Scheduler.Timezone,
		TickInterval:     tick,
		DefaultAlertChat: strings.TrimSpace(cfg.Telegram.DefaultChat),
	}, nil
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	ec := cfg.Executor
	out := executor.Config{
		Shell:       strings.TrimSpace(ec.Shell),
		WorkDir:     strings.TrimSpace(ec.WorkDir),
		OutputLimit: ec.OutputLimit,
	}
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"executor.command_timeout", ec.CommandTimeout, &out.CommandTimeout},
		{"executor.script_timeout", ec.ScriptTimeout, &out.ScriptTimeout},
		{"executor.agent_timeout", ec.AgentTimeout, &out.AgentTimeout},
		{"executor.reminder_timeout", ec.ReminderTimeout, &out.ReminderTimeout},
		{"executor.webhook_timeout", ec.WebhookTimeout, &out.WebhookTimeout},
	}
	for _, f := range fields {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return executor.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

func mapAgentTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("agent.timeout", cfg.Agent.Timeout, 10*time.Minute)
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.NotifierOrDefault()
	out := notifier.Config{
		Enabled:         n.Enabled,
		DefaultChat:     strings.TrimSpace(cfg.Telegram.DefaultChat),
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	if n.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// mapLogConfig builds the logging config. The alert sink is enabled only
// when a target chat resolves.
func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	out := logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Alert: logx.AlertConfig{
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
	chat := strings.TrimSpace(lc.Telegram.Chat)
	if chat == "" {
		chat = strings.TrimSpace(cfg.Telegram.DefaultChat)
	}
	if lc.Telegram.Enabled && chat != "" {
		if to, err := kit.ParseChatTarget(chat); err == nil {
			out.Alert.Enabled = true
			out.Alert.Target = to
		}
	}
	return out
}

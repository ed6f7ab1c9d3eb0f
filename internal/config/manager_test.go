package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true},
  "telegram": {"token": "secret", "default_chat": "-1001:2"},
  "scheduler": {"enabled": true, "timezone": "UTC", "tick_interval": "500ms", "catch_up": false},
  "executor": {"command_timeout": "2m"},
  "storage": {"driver": "sqlite", "path": "./data/tasks.db"}
}`

const sampleYAML = `
logging:
  level: info
scheduler:
  enabled: true
  timezone: Asia/Jakarta
notifier:
  enabled: true
  workers: 1
  queue_size: 8
  rate_per_sec: 1
  retry_max: 0
  retry_base: 1s
  retry_max_delay: 2s
  dedup_window: 30s
  dedup_max_entries: 10
storage:
  driver: file
  path: ./tasks.json
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, t.TempDir(), "config.json", sampleJSON))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "-1001:2", cfg.Telegram.DefaultChat)
	assert.False(t, cfg.Scheduler.CatchUpEnabled())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Nil(t, cfg.Notifier)
	assert.Equal(t, DefaultNotifier(), cfg.NotifierOrDefault())
	require.NoError(t, Validate(cfg))
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, t.TempDir(), "config.yaml", sampleYAML))

	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", cfg.Scheduler.Timezone)
	assert.True(t, cfg.Scheduler.CatchUpEnabled())
	require.NotNil(t, cfg.Notifier)
	assert.Equal(t, 8, cfg.Notifier.QueueSize)
	require.NoError(t, Validate(cfg))
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := NewConfigManager(writeFile(t, dir, "a.json", `{"scheduler": {"workers": 2}}`)).Parse()
	assert.ErrorContains(t, err, "unknown field")

	_, err = NewConfigManager(writeFile(t, dir, "b.json", `{} {}`)).Parse()
	assert.ErrorContains(t, err, "trailing data")

	_, err = NewConfigManager(writeFile(t, dir, "c.yaml", "scheduler: [")).Parse()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(Default()))

	cfg := Default()
	cfg.Logging.Level = "loud"
	cfg.Scheduler.Timezone = "Mars/Olympus"
	cfg.Executor.CommandTimeout = "soon"
	cfg.Telegram.DefaultChat = "general"
	cfg.Storage.Driver = "postgres"
	cfg.Agent.URL = "localhost:9000"

	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{"logging.level", "scheduler.timezone", "executor.command_timeout", "telegram.default_chat", "storage.driver", "agent.url"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationField("x", " 250ms ")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := Default()
	newCfg := Default()
	newCfg.Telegram.Token = "new-token"
	newCfg.Scheduler.Timezone = "UTC"
	newCfg.Storage.Path = "./elsewhere.json"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"scheduler", "storage", "telegram"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"storage", "telegram"}, RestartRequired(changed))

	changed, _ = SummarizeConfigChange(Default(), Default())
	assert.Empty(t, changed)

	// An omitted notifier section equals the defaults.
	noN := Default()
	noN.Notifier = nil
	changed, _ = SummarizeConfigChange(Default(), noN)
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", sampleJSON)

	m := NewConfigManager(path)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	writeFile(t, dir, "config.json", `{"logging": {"level": "loud"}}`)
	select {
	case <-sub:
		t.Fatal("invalid config was published")
	case <-time.After(600 * time.Millisecond):
	}

	writeFile(t, dir, "config.json", `{"logging": {"level": "warn"}, "scheduler": {"enabled": false}}`)
	select {
	case cfg := <-sub:
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Scheduler.Enabled)
		assert.Same(t, cfg, m.Get())
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	d := &debouncer{delay: 20 * time.Millisecond, fn: func() { n.Add(1) }}
	for i := 0; i < 5; i++ {
		d.trigger()
	}
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)

	d.stop()
	d.trigger()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}

func TestDecodeYAMLNestedKeys(t *testing.T) {
	t.Parallel()

	cfg, err := decode("x.yml", []byte("storage:\n  driver: sqlite\n  path: a.db\nscheduler:\n  catch_up: false\n"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.False(t, cfg.Scheduler.CatchUpEnabled())
	assert.NotZero(t, fingerprint(cfg))
	assert.Zero(t, fingerprint(nil))
}

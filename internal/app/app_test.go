package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronkeeper/internal/config"
	"cronkeeper/internal/task"
	"cronkeeper/internal/task/scheduler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `{
  "logging": {"level": "warn"},
  "telegram": {"default_chat": "1001"},
  "scheduler": {"enabled": true, "timezone": "UTC", "tick_interval": "50ms"},
  "storage": {"driver": "file", "path": "`+filepath.ToSlash(filepath.Join(dir, "tasks.json"))+`"}
}`)

	a, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	require.True(t, a.Scheduler().IsReady())

	tk, err := a.Scheduler().ScheduleTask(ctx, scheduler.Spec{
		Name:           "stand-up",
		Type:           task.TypeReminder,
		CronExpression: "0 9 * * 1-5",
		Metadata:       task.ReminderMetadata{Message: "stand-up in 5"},
		Enabled:        true,
	})
	require.NoError(t, err)

	res := a.Scheduler().RunTaskNow(ctx, tk.ID)
	assert.True(t, res.Success, res.Error)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))

	// The task survives a restart.
	cfg, err := config.NewConfigManager(path).Load()
	require.NoError(t, err)
	st, err := OpenStore(cfg, a.Logger())
	require.NoError(t, err)
	defer st.Close(context.Background())
	got, ok := st.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.RunCount)
	assert.Len(t, st.TaskHistory(tk.ID, 0), 1)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, `{"scheduler": {"timezone": "Nowhere/Land"}}`))
	assert.ErrorContains(t, err, "scheduler.timezone")

	_, err = New(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestMapping(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Driver: "sqlite"}
	_, err := mapStorageConfig(cfg)
	assert.ErrorContains(t, err, "storage.path is required")

	cfg.Storage = config.StorageConfig{Driver: "SQLite", Path: "x.db"}
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	cfg.Storage = config.StorageConfig{}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultStoragePath, sc.Path)

	cfg.Executor.CommandTimeout = "90s"
	ec, err := mapExecutorConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, ec.CommandTimeout)
	assert.Zero(t, ec.WebhookTimeout)

	cfg.Telegram.DefaultChat = "-100:4"
	nc, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "-100:4", nc.DefaultChat)
	assert.Equal(t, time.Minute, nc.DedupWindow)

	cfg.Logging.Telegram.Enabled = true
	lc := mapLogConfig(cfg)
	assert.True(t, lc.Alert.Enabled)
	assert.Equal(t, int64(-100), lc.Alert.Target.ChatID)
	assert.Equal(t, 4, lc.Alert.Target.ThreadID)

	off := false
	cfg.Scheduler.CatchUp = &off
	opts, err := mapStoreOptions(cfg)
	require.NoError(t, err)
	assert.False(t, opts.CatchUp)
}

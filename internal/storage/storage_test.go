package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "cronkeeper/pkg/logx"
)

func openAt(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBackendsRoundTrip(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite", "memory"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openAt(t, driver, filepath.Join(t.TempDir(), "tasks.json"))

			_, err := st.Load(ctx)
			require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

			require.NoError(t, st.Save(ctx, []byte(`{"v":1}`)))
			require.NoError(t, st.Save(ctx, []byte(`{"v":2}`)))

			got, err := st.Load(ctx)
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(got))

			require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "schedule", TaskID: "a", OK: true}))
		})
	}
}

func TestFileSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	st := openAt(t, "file", path)

	for i := 0; i < 5; i++ {
		require.NoError(t, st.Save(context.Background(), []byte(`{"tasks":[]}`)))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover %s", e.Name())
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileOpenRemovesStaleTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stale := filepath.Join(dir, ".tasks.json.123.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("{partial"), 0o600))

	openAt(t, "file", filepath.Join(dir, "tasks.json"))

	_, err := os.Stat(stale)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileAuditIsJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := openAt(t, "file", filepath.Join(dir, "tasks.json"))
	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "pause", TaskID: "x", OK: true}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "cancel", TaskID: "x", Error: "boom"}))
	require.NoError(t, st.Close())

	f, err := os.Open(filepath.Join(dir, "tasks.audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var actions []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		assert.False(t, e.At.IsZero())
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"pause", "cancel"}, actions)
}

func TestClosedFileStoreRejectsSave(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "t.json")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.Save(context.Background(), []byte("{}")), ErrClosed)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestMemoryFailSaves(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	boom := errors.New("disk full")
	m.FailSaves(boom)
	assert.ErrorIs(t, m.Save(context.Background(), []byte("x")), boom)
	m.FailSaves(nil)
	require.NoError(t, m.Save(context.Background(), []byte("x")))
	assert.Equal(t, 1, m.Saves())
}

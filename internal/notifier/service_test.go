package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronkeeper/internal/eventbus"
	kit "cronkeeper/internal/transport"
	logx "cronkeeper/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	to    []kit.ChatTarget
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("flood wait")
	}
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		DefaultChat:   "42",
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func TestDeliverUsesDefaultChatAndRetries(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{fails: 1}
	s := New(testConfig(), snd, logx.Nop(), nil)

	ok, err := s.Deliver(context.Background(), "", "stand up")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Equal(t, 1, snd.count())
	assert.Equal(t, kit.ChatTarget{ChatID: 42}, snd.to[0])
	assert.Equal(t, "stand up", snd.sent[0])

	ok, err = s.Deliver(context.Background(), "-100:3", "thread")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 3}, snd.to[1])

	require.Len(t, s.Snapshot(), 2)
}

func TestDeliverErrors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DefaultChat = ""
	s := New(cfg, &fakeSender{}, logx.Nop(), nil)
	ok, err := s.Deliver(context.Background(), "", "x")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNoChat)

	_, err = s.Deliver(context.Background(), "abc", "x")
	assert.Error(t, err)

	s = New(testConfig(), &fakeSender{fails: 10}, logx.Nop(), nil)
	ok, err = s.Deliver(context.Background(), "", "x")
	assert.False(t, ok)
	assert.EqualError(t, err, "flood wait")

	cfg = testConfig()
	cfg.Enabled = false
	s = New(cfg, &fakeSender{}, logx.Nop(), nil)
	_, err = s.Deliver(context.Background(), "1", "x")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestAlertQueueAndDedup(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), bus)
	assert.ErrorIs(t, s.Alert(context.Background(), "", "x"), ErrStopped)

	s.Start(context.Background())
	require.NotNil(t, s.Supervisor())

	require.NoError(t, s.Alert(context.Background(), "", "backup failed"))
	require.NoError(t, s.Alert(context.Background(), "", "backup failed"))
	require.NoError(t, s.Alert(context.Background(), "7", "other"))

	require.Eventually(t, func() bool { return snd.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.ErrorIs(t, s.Alert(context.Background(), "", "late"), ErrStopped)

	snd.mu.Lock()
	assert.Contains(t, snd.sent, "⚠️ backup failed")
	snd.mu.Unlock()

	counts := map[string]int{}
	for len(events) > 0 {
		counts[(<-events).Type]++
	}
	assert.Equal(t, 1, counts["notifier.deduped"])
	assert.Equal(t, 2, counts["notifier.queued"])
	assert.Equal(t, 2, counts["notifier.sent"])
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.LessOrEqual(t, retryDelay(cfg, 1), 130*time.Millisecond)
}

func TestDedupCap(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), &fakeSender{}, logx.Nop(), nil)
	for i, k := range []string{"a", "b", "c"} {
		assert.True(t, s.dedupAllow(k, time.Duration(i+1)*time.Minute, 2))
	}
	assert.Len(t, s.dedup, 2)
	assert.NotContains(t, s.dedup, "a")
	assert.False(t, s.dedupAllow("c", time.Minute, 2))
}

package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "cronkeeper/internal/transport"
	logx "cronkeeper/pkg/logx"
)

type fakeBot struct {
	sent   []string
	opts   []*tele.SendOptions
	failAt int
}

func (b *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if b.failAt > 0 && len(b.sent)+1 == b.failAt {
		return nil, errors.New("boom")
	}
	b.sent = append(b.sent, what.(string))
	if len(opts) > 0 {
		b.opts = append(b.opts, opts[0].(*tele.SendOptions))
	}
	return &tele.Message{ID: 100 + len(b.sent)}, nil
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"short"}, splitTelegramText("short", 10, ""))

	long := strings.Repeat("a", 25)
	chunks := splitTelegramText(long, 10, "")
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("a", 10), chunks[0])
	assert.Equal(t, strings.Repeat("a", 5), chunks[2])

	lines := "line-one\nline-two\nline-three"
	chunks = splitTelegramText(lines, 12, "")
	assert.Equal(t, []string{"line-one", "line-two", "line-three"}, chunks)
}

func TestSplitTelegramTextAvoidsHTMLTags(t *testing.T) {
	t.Parallel()

	chunks := splitTelegramText("abcdefg<b>bold</b>", 9, "HTML")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "abcdefg", chunks[0])
	assert.Equal(t, "abcdefg<b>bold</b>", strings.Join(chunks, ""))
}

func TestSendTextChunksAndThreads(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	a := &Adapter{log: logx.Nop(), bot: bot}

	text := strings.Repeat("x", telegramTextLimit+10)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42, ThreadID: 7}, text, nil)
	require.NoError(t, err)
	assert.Equal(t, kit.MessageRef{ChatID: 42, ThreadID: 7, MessageID: 101}, ref)
	require.Len(t, bot.sent, 2)
	assert.Equal(t, 7, bot.opts[0].ThreadID)
}

func TestSendTextErrors(t *testing.T) {
	t.Parallel()

	a := &Adapter{log: logx.Nop(), bot: &fakeBot{failAt: 1}}
	_, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, "hi", nil)
	assert.Error(t, err)

	_, err = a.SendText(context.Background(), kit.ChatTarget{}, "hi", nil)
	assert.Error(t, err)
}

// Package console implements a transport.Sender that writes messages to the
// log. It is used when no bot token is configured.
package console

import (
	"context"
	"sync/atomic"

	kit "cronkeeper/internal/transport"
	logx "cronkeeper/pkg/logx"
)

type Sender struct {
	log  logx.Logger
	seq  atomic.Int64
	sent atomic.Uint64
}

func New(log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{log: log}
}

func (s *Sender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	s.log.Info("message", logx.String("chat", to.String()), logx.String("text", text))
	s.sent.Add(1)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: int(s.seq.Add(1))}, nil
}

// Sent reports how many messages were written.
func (s *Sender) Sent() uint64 { return s.sent.Load() }

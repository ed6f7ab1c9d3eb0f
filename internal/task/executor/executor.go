// Package executor performs the type-specific action of a task.
//
// Every call normalizes to a Result: strategy errors, timeouts and panics
// never escape Execute.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"cronkeeper/internal/task"
	logx "cronkeeper/pkg/logx"
)

const (
	ErrTimeout   = "timeout"
	ErrCancelled = "cancelled"
)

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failed(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

type Config struct {
	CommandTimeout  time.Duration
	ScriptTimeout   time.Duration
	AgentTimeout    time.Duration
	ReminderTimeout time.Duration
	WebhookTimeout  time.Duration
	// OutputLimit caps captured output and response bodies, in bytes.
	OutputLimit int
	Shell       string
	// WorkDir is used for commands whose metadata names none.
	WorkDir string
}

func DefaultConfig() Config {
	return Config{
		CommandTimeout:  5 * time.Minute,
		ScriptTimeout:   5 * time.Minute,
		AgentTimeout:    10 * time.Minute,
		ReminderTimeout: 30 * time.Second,
		WebhookTimeout:  30 * time.Second,
		OutputLimit:     64 << 10,
		Shell:           "/bin/sh",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = d.ScriptTimeout
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = d.AgentTimeout
	}
	if c.ReminderTimeout <= 0 {
		c.ReminderTimeout = d.ReminderTimeout
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = d.WebhookTimeout
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = d.OutputLimit
	}
	if strings.TrimSpace(c.Shell) == "" {
		c.Shell = d.Shell
	}
	return c
}

// Timeout returns the default timeout for a task type.
func (c Config) Timeout(t task.Type) time.Duration {
	switch t {
	case task.TypeCommand:
		return c.CommandTimeout
	case task.TypeScript:
		return c.ScriptTimeout
	case task.TypeAgent:
		return c.AgentTimeout
	case task.TypeReminder:
		return c.ReminderTimeout
	case task.TypeWebhook:
		return c.WebhookTimeout
	}
	return c.CommandTimeout
}

// Messenger delivers reminder text and reports whether it was accepted.
type Messenger interface {
	Deliver(ctx context.Context, chatID, message string) (bool, error)
}

type Executor struct {
	log logx.Logger

	mu       sync.RWMutex
	cfg      Config
	runner   CommandRunner
	webhooks WebhookClient
	agent    AgentDelegate
	msg      Messenger
}

type Option func(*Executor)

func WithLogger(log logx.Logger) Option { return func(e *Executor) { e.log = log } }
func WithRunner(r CommandRunner) Option { return func(e *Executor) { e.runner = r } }
func WithWebhookClient(c WebhookClient) Option { return func(e *Executor) { e.webhooks = c } }
func WithAgentDelegate(d AgentDelegate) Option { return func(e *Executor) { e.agent = d } }
func WithMessenger(m Messenger) Option { return func(e *Executor) { e.msg = m } }

func New(cfg Config, opts ...Option) *Executor {
	e := &Executor{cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.runner == nil {
		e.runner = &ShellRunner{Shell: e.cfg.Shell, OutputLimit: e.cfg.OutputLimit}
	}
	if e.webhooks == nil {
		e.webhooks = NewHTTPWebhookClient(nil, e.cfg.OutputLimit)
	}
	if e.agent == nil {
		e.agent = unconfiguredAgent{}
	}
	return e
}

// Config returns the active configuration.
func (e *Executor) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig swaps timeouts and limits. In-flight runs keep their old values.
func (e *Executor) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	if sr, ok := e.runner.(*ShellRunner); ok {
		e.runner = &ShellRunner{Shell: cfg.Shell, OutputLimit: cfg.OutputLimit, Env: sr.Env}
	}
	e.mu.Unlock()
}

// Execute runs t once under its timeout. On timeout the strategy's context is
// cancelled and Execute returns without waiting for it.
func (e *Executor) Execute(ctx context.Context, t task.Task) Result {
	e.mu.RLock()
	cfg := e.cfg
	s := strategy{cfg: cfg, runner: e.runner, webhooks: e.webhooks, agent: e.agent, msg: e.msg}
	e.mu.RUnlock()

	timeout := cfg.Timeout(t.Type)
	if t.Metadata != nil {
		if secs := t.Metadata.Options().TimeoutSeconds; secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("task.panic",
					logx.String("task", t.Name),
					logx.String("id", t.ID),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
				done <- failed("panic: %v", r)
			}
		}()
		done <- s.run(runCtx, t)
	}()

	select {
	case r := <-done:
		if !r.Success && runCtx.Err() != nil {
			return interrupted(ctx, runCtx)
		}
		return r
	case <-runCtx.Done():
		return interrupted(ctx, runCtx)
	}
}

func interrupted(parent, run context.Context) Result {
	if parent.Err() != nil {
		return Result{Error: ErrCancelled}
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		return Result{Error: ErrTimeout}
	}
	return Result{Error: ErrCancelled}
}

type strategy struct {
	cfg      Config
	runner   CommandRunner
	webhooks WebhookClient
	agent    AgentDelegate
	msg      Messenger
}

func (s strategy) run(ctx context.Context, t task.Task) Result {
	switch md := t.Metadata.(type) {
	case task.ScriptMetadata:
		return s.command(ctx, CommandRequest{Line: md.CommandLine()})
	case task.CommandMetadata:
		return s.command(ctx, CommandRequest{Line: md.Command, WorkDir: md.WorkDir})
	case task.AgentMetadata:
		return s.delegate(ctx, t, md)
	case task.ReminderMetadata:
		return s.remind(ctx, md)
	case task.WebhookMetadata:
		return s.webhook(ctx, md)
	case nil:
		return failed("task has no metadata")
	default:
		return failed("unsupported task type %q", t.Type)
	}
}

func (s strategy) command(ctx context.Context, req CommandRequest) Result {
	if req.WorkDir == "" {
		req.WorkDir = s.cfg.WorkDir
	}
	out, err := s.runner.Run(ctx, req)
	msg := truncate(strings.TrimSpace(out.Output), s.cfg.OutputLimit)
	if err != nil {
		return Result{Message: msg, Error: err.Error()}
	}
	return Result{Success: true, Message: msg}
}

func (s strategy) delegate(ctx context.Context, t task.Task, md task.AgentMetadata) Result {
	out, err := s.agent.Delegate(ctx, AgentRequest{
		AgentName:   md.AgentName,
		Description: md.Description,
		TaskID:      t.ID,
		TaskName:    t.Name,
	})
	if err != nil {
		return Result{Message: truncate(out, s.cfg.OutputLimit), Error: err.Error()}
	}
	return Result{Success: true, Message: truncate(out, s.cfg.OutputLimit)}
}

func (s strategy) remind(ctx context.Context, md task.ReminderMetadata) Result {
	if s.msg == nil {
		return failed("messenger not configured")
	}
	ok, err := s.msg.Deliver(ctx, md.ChatID, md.Message)
	if err != nil {
		return failed("deliver reminder: %v", err)
	}
	if !ok {
		return failed("reminder not delivered")
	}
	return Result{Success: true, Message: "reminder delivered"}
}

func (s strategy) webhook(ctx context.Context, md task.WebhookMetadata) Result {
	resp, err := s.webhooks.Send(ctx, WebhookRequest{
		Method:  md.HTTPMethod(),
		URL:     md.URL,
		Headers: md.Headers,
		Body:    md.Body,
	})
	if err != nil {
		return failed("webhook: %v", err)
	}
	msg := fmt.Sprintf("HTTP %d", resp.Status)
	if body := strings.TrimSpace(resp.Body); body != "" {
		msg += ": " + truncate(body, s.cfg.OutputLimit)
	}
	if resp.BodyErr != "" {
		msg += " (body incomplete: " + resp.BodyErr + ")"
	}
	if resp.Status >= 400 {
		return Result{Message: msg, Error: fmt.Sprintf("webhook returned status %d", resp.Status)}
	}
	return Result{Success: true, Message: msg}
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "") + "…(truncated)"
}

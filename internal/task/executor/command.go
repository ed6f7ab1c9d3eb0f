package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"
)

type CommandRequest struct {
	Line    string
	WorkDir string
}

type CommandOutput struct {
	// Output is combined stdout and stderr, capped at the runner's limit.
	Output   string
	ExitCode int
}

type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (CommandOutput, error)
}

// ShellRunner runs lines through "<shell> -c".
type ShellRunner struct {
	Shell       string
	OutputLimit int
	// Env, when set, replaces the inherited environment.
	Env []string
}

func (r *ShellRunner) Run(ctx context.Context, req CommandRequest) (CommandOutput, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	if req.Line == "" {
		return CommandOutput{}, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, shell, "-c", req.Line)
	cmd.Dir = req.WorkDir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	buf := &cappedBuffer{limit: r.OutputLimit}
	cmd.Stdout = buf
	cmd.Stderr = buf
	// Children that inherit the pipes must not hold Wait after a kill.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	out := CommandOutput{Output: buf.String()}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		out.ExitCode = ee.ExitCode()
	}
	return out, err
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			b.truncated = true
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
			b.truncated = true
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n…(truncated)"
	}
	return b.buf.String()
}

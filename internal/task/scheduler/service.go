// Package scheduler owns the dispatch loop: it keeps a time-ordered index of
// enabled tasks, gates due runs on their dependencies, executes them with a
// per-task in-flight guard and records the outcome in the store.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"cronkeeper/internal/eventbus"
	"cronkeeper/internal/runtime/supervisor"
	"cronkeeper/internal/task/deps"
	"cronkeeper/internal/task/store"
	logx "cronkeeper/pkg/logx"
)

func New(cfg Config, st *store.Store, exec Executor, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		store:   st,
		exec:    exec,
		index:   newIndex(),
		depOnly: map[string]struct{}{},
		parked:  map[string]struct{}{},
		running: newRunSet(),
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.resolver = deps.NewResolver(st)
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the configuration. A timezone change recomputes every pending
// trigger in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	started := s.started
	s.mu.Unlock()

	if strings.TrimSpace(cfg.Timezone) != oldTZ {
		s.store.Engine().SetLocation(loadLocation(cfg.Timezone, s.log))
		if started {
			s.recomputeAll()
		}
	}
	s.poke()
}

// Start builds the index from the store and launches the dispatch loop and
// the store flusher under a supervisor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if !s.store.Loaded() {
		return errors.New("scheduler: store not loaded")
	}
	cur := s.cfg
	loc := loadLocation(cur.Timezone, s.log)
	s.store.Engine().SetLocation(loc)

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "scheduler.supervisor"))))
	s.rebuildLocked()
	s.sup.GoRestart("store.flusher", s.store.Run)
	if cur.Enabled {
		s.sup.GoRestart("scheduler.loop", s.loop, supervisor.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	} else {
		s.log.Warn("dispatch loop disabled; tasks will only run on demand")
	}
	s.started = true

	s.log.Info("service started",
		logx.String("tz", loc.String()),
		logx.Int("tasks", s.store.Len()),
		logx.Int("indexed", s.index.len()),
		logx.Int("dependency_only", len(s.depOnly)),
	)
	return nil
}

// Stop halts the loop and waits for in-flight executions until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.started = false
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	done := make(chan struct{})
	go func() { s.runs.Wait(); close(done) }()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn("stop timed out waiting for executions", logx.Int("running", len(s.running.list())))
	}
	if werr := sup.Wait(ctx); werr != nil && err == nil {
		err = werr
	}
	if ferr := s.store.Flush(context.WithoutCancel(ctx)); ferr != nil && err == nil {
		err = ferr
	}

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return err
}

// IsReady reports whether the store is loaded and the service started.
func (s *Service) IsReady() bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return started && s.store.Loaded()
}

func (s *Service) GetTasksFilePath() string { return s.store.Location() }

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:        s.cfg.Enabled,
		Started:        s.started,
		Timezone:       s.store.Engine().Location().String(),
		TickInterval:   s.tickLocked(),
		Indexed:        s.index.len(),
		DependencyOnly: len(s.depOnly),
		Parked:         len(s.parked),
	}
	if e, ok := s.index.peek(); ok {
		at := e.at
		snap.NextWake = &at
	}
	if s.sup != nil {
		snap.Supervisor = s.sup.Counters()
	}
	s.mu.Unlock()
	snap.Running = s.running.list()
	return snap
}

func (s *Service) tickLocked() time.Duration {
	if s.cfg.TickInterval > 0 {
		return s.cfg.TickInterval
	}
	return defaultTick
}

// poke wakes the loop without blocking.
func (s *Service) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

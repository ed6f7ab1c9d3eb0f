package scheduler

import (
	"context"
	"fmt"
	"time"

	"cronkeeper/internal/task"
	"cronkeeper/internal/task/deps"
	"cronkeeper/internal/task/executor"
	logx "cronkeeper/pkg/logx"
)

const flushTimeout = 5 * time.Second

func (s *Service) loop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-s.wake:
		}
		s.tick(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.untilNext())
	}
}

// untilNext is the sleep until the earliest trigger, capped at the tick.
func (s *Service) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := s.tickLocked()
	if e, ok := s.index.peek(); ok {
		if d := e.at.Sub(s.now()); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// tick evaluates every due, parked and dependency-only task once.
func (s *Service) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := s.index.popDue(now)
	seen := make(map[string]struct{}, len(due)+len(s.parked)+len(s.depOnly))
	for _, id := range due {
		seen[id] = struct{}{}
	}
	for id := range s.parked {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			due = append(due, id)
		}
	}
	for id := range s.depOnly {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		if ctx.Err() != nil {
			return
		}
		s.consider(ctx, id, now)
	}
}

func (s *Service) consider(ctx context.Context, id string, now time.Time) {
	t, ok := s.eligible(id, now)
	if !ok {
		return
	}

	// Coalesce: completion recomputes the trigger from max(now, lastRun).
	if s.running.has(id) {
		s.mu.Lock()
		delete(s.parked, id)
		s.mu.Unlock()
		return
	}

	if !s.resolver.IsReady(t) {
		s.park(t)
		return
	}

	if !s.running.tryAcquire(id, now) {
		return
	}
	// A manual run may have finished between the read above and the
	// acquire. Decide again on the state it left behind.
	t, ok = s.eligible(id, now)
	if !ok {
		s.running.release(id)
		return
	}
	ready, cursor := s.resolver.Check(t)
	if ready != deps.Ready {
		s.running.release(id)
		s.park(t)
		return
	}
	s.mu.Lock()
	delete(s.parked, id)
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.execute(ctx, t, task.TriggerSchedule, now, cursor)
	}()
}

// eligible reports whether id is enabled and due at now, dropping or
// re-indexing it otherwise.
func (s *Service) eligible(id string, now time.Time) (task.Task, bool) {
	t, ok := s.store.Get(id)
	if !ok || !t.Enabled {
		s.mu.Lock()
		s.forgetLocked(id)
		s.mu.Unlock()
		return task.Task{}, false
	}
	if t.DependencyOnly() {
		return t, true
	}
	if t.NextRun == nil {
		s.mu.Lock()
		s.forgetLocked(id)
		s.mu.Unlock()
		return task.Task{}, false
	}
	if t.NextRun.After(now) {
		s.mu.Lock()
		s.placeLocked(t)
		s.mu.Unlock()
		return task.Task{}, false
	}
	return t, true
}

// park keeps a due cron task waiting on its prerequisites.
func (s *Service) park(t task.Task) {
	if t.DependencyOnly() {
		return
	}
	s.mu.Lock()
	if _, already := s.parked[t.ID]; !already {
		s.log.Debug("dependencies not met; waiting", logx.String("task", t.Name), logx.String("id", t.ID))
	}
	s.parked[t.ID] = struct{}{}
	s.mu.Unlock()
}

// execute runs t and records the outcome. The caller holds the guard for t.ID;
// execute releases it.
func (s *Service) execute(ctx context.Context, t task.Task, trigger task.Trigger, start time.Time, cursor uint64) executor.Result {
	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("id", t.ID), logx.String("trigger", string(trigger)))
	s.publish("task.started", TaskEvent{ID: t.ID, Name: t.Name, Trigger: trigger, Started: start})

	res := s.exec.Execute(ctx, t)
	s.complete(ctx, t, trigger, start, cursor, res)
	return res
}

// complete records res. cursor is the upstream Seq the run consumed.
func (s *Service) complete(ctx context.Context, t task.Task, trigger task.Trigger, start time.Time, cursor uint64, res executor.Result) {
	finished := s.now()
	took := finished.Sub(start)
	if took < 0 {
		took = 0
	}

	s.store.AppendExecution(task.ExecutionRecord{
		TaskID:     t.ID,
		ExecutedAt: start,
		Success:    res.Success,
		Result:     res.Message,
		Error:      res.Error,
		DurationMS: took.Milliseconds(),
		Trigger:    trigger,
	})
	updated, ok := s.store.Mutate(t.ID, func(cur *task.Task) {
		if cur.LastRun == nil || start.After(*cur.LastRun) {
			cur.LastRun = task.TimePtr(start)
		}
		cur.DepCursor = max(cur.DepCursor, cursor)
		cur.RunCount++
		cur.NextRun = s.store.ComputeNext(*cur, finished)
	})

	// Persist before releasing the guard; a failed save is retried by the flusher.
	s.flush(ctx)
	s.running.release(t.ID)

	if ok {
		s.mu.Lock()
		s.placeLocked(updated)
		s.mu.Unlock()
	}
	s.poke()

	ev := TaskEvent{ID: t.ID, Name: t.Name, Trigger: trigger, Started: start, Duration: took, Error: res.Error}
	if res.Success {
		s.log.Info("task.finished", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("took", took))
		s.publish("task.finished", ev)
		return
	}
	s.log.Warn("task.failed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("took", took), logx.String("err", res.Error))
	s.publish("task.failed", ev)
	s.notifyFailure(ctx, t, res)
}

func (s *Service) notifyFailure(ctx context.Context, t task.Task, res executor.Result) {
	if s.alert == nil || t.Metadata == nil {
		return
	}
	opt := t.Metadata.Options()
	if !opt.NotifyOnError {
		return
	}
	chat := opt.AlertChatID
	if chat == "" {
		s.mu.Lock()
		chat = s.cfg.DefaultAlertChat
		s.mu.Unlock()
	}
	msg := fmt.Sprintf("Task %q (%s) failed: %s", t.Name, t.Type, res.Error)
	if res.Message != "" {
		msg += "\n" + res.Message
	}
	if err := s.alert.Alert(context.WithoutCancel(ctx), chat, msg); err != nil {
		s.log.Warn("failure alert not queued", logx.String("task", t.Name), logx.Err(err))
	}
}

// placeLocked puts t where the loop will look for it.
func (s *Service) placeLocked(t task.Task) {
	s.forgetLocked(t.ID)
	if !t.Enabled {
		return
	}
	if t.DependencyOnly() {
		s.depOnly[t.ID] = struct{}{}
		return
	}
	if t.NextRun != nil {
		s.index.upsert(t.ID, *t.NextRun)
	}
}

func (s *Service) forgetLocked(id string) {
	s.index.remove(id)
	delete(s.depOnly, id)
	delete(s.parked, id)
}

func (s *Service) rebuildLocked() {
	s.index = newIndex()
	s.depOnly = map[string]struct{}{}
	s.parked = map[string]struct{}{}
	for _, t := range s.store.List() {
		s.placeLocked(t)
	}
}

// recomputeAll refreshes every enabled cron trigger from now.
func (s *Service) recomputeAll() {
	now := s.now()
	for _, t := range s.store.List() {
		if !t.Enabled || t.DependencyOnly() {
			continue
		}
		s.store.Mutate(t.ID, func(cur *task.Task) { cur.NextRun = s.store.ComputeNext(*cur, now) })
	}
	s.mu.Lock()
	s.rebuildLocked()
	s.mu.Unlock()
	s.flush(context.Background())
}

func (s *Service) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	_ = s.store.Flush(fctx)
}

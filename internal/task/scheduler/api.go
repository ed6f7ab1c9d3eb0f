package scheduler

import (
	"context"
	"strings"

	"cronkeeper/internal/storage"
	"cronkeeper/internal/task"
	"cronkeeper/internal/task/cron"
	"cronkeeper/internal/task/executor"
	"cronkeeper/internal/task/stats"
	logx "cronkeeper/pkg/logx"
)

const (
	ErrTaskNotFound       = "task not found"
	ErrTaskAlreadyRunning = "task already running"
)

// ScheduleTask validates and persists a new task. Validation failures wrap
// task.ErrValidation.
func (s *Service) ScheduleTask(ctx context.Context, spec Spec) (task.Task, error) {
	now := s.now()
	t := task.Task{
		ID:             task.NewID(),
		Name:           strings.TrimSpace(spec.Name),
		Type:           spec.Type,
		CronExpression: strings.TrimSpace(spec.CronExpression),
		Metadata:       spec.Metadata,
		Enabled:        spec.Enabled,
		CreatedAt:      now,
		Dependencies:   spec.Dependencies,
	}
	if t.Dependencies != nil {
		d := t.Dependencies.Normalized()
		t.Dependencies = &d
	}
	t.NextRun = s.store.ComputeNext(t, now)

	if err := s.store.Insert(t); err != nil {
		s.audit(ctx, "schedule", t.ID, err)
		return task.Task{}, err
	}
	s.changed(ctx, t)
	s.audit(ctx, "schedule", t.ID, nil)

	args := []logx.Field{logx.String("task", t.Name), logx.String("id", t.ID), logx.String("type", string(t.Type))}
	if t.CronExpression != "" {
		args = append(args, logx.String("cron", t.CronExpression))
		if next, err := s.store.Engine().Preview(t.CronExpression, now, 3); err == nil && len(next) > 0 {
			args = append(args, logx.Any("next", next))
		}
	}
	s.log.Debug("task scheduled", args...)
	return t.Clone(), nil
}

func (s *Service) GetTask(id string) (task.Task, bool) { return s.store.Get(id) }

func (s *Service) GetAllTasks() []task.Task { return s.store.List() }

// UpdateTask applies p. Changing the schedule or the enabled flag recomputes
// nextRun from now.
func (s *Service) UpdateTask(ctx context.Context, id string, p Patch) (task.Task, bool, error) {
	now := s.now()
	updated, found, err := s.store.Update(id, func(t *task.Task) error {
		reschedule := false
		if p.Name != nil {
			t.Name = strings.TrimSpace(*p.Name)
		}
		if p.Type != nil {
			t.Type = *p.Type
		}
		if p.Metadata != nil {
			t.Metadata = p.Metadata
		}
		if p.CronExpression != nil {
			t.CronExpression = strings.TrimSpace(*p.CronExpression)
			reschedule = true
		}
		if p.Enabled != nil && *p.Enabled != t.Enabled {
			t.Enabled = *p.Enabled
			reschedule = true
		}
		if p.ClearDependencies {
			t.Dependencies = nil
			reschedule = true
		} else if p.Dependencies != nil {
			d := p.Dependencies.Normalized()
			t.Dependencies = &d
			reschedule = true
		}
		if reschedule {
			t.NextRun = s.store.ComputeNext(*t, now)
		}
		return nil
	})
	if !found {
		return task.Task{}, false, nil
	}
	if err != nil {
		s.audit(ctx, "update", id, err)
		return task.Task{}, true, err
	}
	s.changed(ctx, updated)
	s.audit(ctx, "update", id, nil)
	return updated, true, nil
}

// CancelTask deletes the task. A run already in flight completes and its
// record is kept.
func (s *Service) CancelTask(ctx context.Context, id string) bool {
	t, ok := s.store.Get(id)
	if !ok || !s.store.Delete(id) {
		return false
	}
	s.mu.Lock()
	s.forgetLocked(id)
	s.mu.Unlock()
	s.flush(ctx)
	s.audit(ctx, "cancel", id, nil)
	s.publish("task.cancelled", TaskEvent{ID: id, Name: t.Name})
	s.log.Info("task cancelled", logx.String("task", t.Name), logx.String("id", id))
	return true
}

func (s *Service) PauseTask(ctx context.Context, id string) bool {
	t, ok := s.store.Mutate(id, func(t *task.Task) {
		t.Enabled = false
		t.NextRun = nil
	})
	if !ok {
		return false
	}
	s.changed(ctx, t)
	s.audit(ctx, "pause", id, nil)
	return true
}

func (s *Service) ResumeTask(ctx context.Context, id string) bool {
	now := s.now()
	t, ok := s.store.Mutate(id, func(t *task.Task) {
		t.Enabled = true
		t.NextRun = s.store.ComputeNext(*t, now)
	})
	if !ok {
		return false
	}
	s.changed(ctx, t)
	s.audit(ctx, "resume", id, nil)
	return true
}

// RunTaskNow executes the task synchronously, ignoring its schedule and
// dependencies. It shares the in-flight guard with scheduled runs.
func (s *Service) RunTaskNow(ctx context.Context, id string) executor.Result {
	if _, ok := s.store.Get(id); !ok {
		return executor.Result{Error: ErrTaskNotFound}
	}
	now := s.now()
	if !s.running.tryAcquire(id, now) {
		return executor.Result{Error: ErrTaskAlreadyRunning}
	}
	// Read again under the guard; a scheduled run may just have finished.
	t, ok := s.store.Get(id)
	if !ok {
		s.running.release(id)
		return executor.Result{Error: ErrTaskNotFound}
	}
	_, cursor := s.resolver.Check(t)
	s.runs.Add(1)
	defer s.runs.Done()
	s.audit(ctx, "run", id, nil)
	return s.execute(ctx, t, task.TriggerManual, now, cursor)
}

func (s *Service) GetStats() stats.Stats {
	return stats.Compute(s.store.List(), s.store.History(0), s.running.list())
}

// GetExecutionHistory returns up to limit records across tasks, newest first.
func (s *Service) GetExecutionHistory(limit int) []task.ExecutionRecord {
	return s.store.History(limit)
}

func (s *Service) GetTaskHistory(id string, limit int) []task.ExecutionRecord {
	return s.store.TaskHistory(id, limit)
}

func (s *Service) ValidateCronExpression(expr string) cron.Validation {
	return s.store.Engine().Validate(expr)
}

func (s *Service) ExportTasks() ([]byte, error) { return s.store.Export() }

// ImportTasks loads a snapshot produced by ExportTasks. Success reports that
// the payload was readable; rejected entries are listed in Errors.
func (s *Service) ImportTasks(ctx context.Context, data []byte, merge bool) ImportResult {
	res, err := s.store.Import(data, merge)
	if err != nil {
		s.audit(ctx, "import", "", err)
		return ImportResult{Errors: []string{err.Error()}}
	}
	s.mu.Lock()
	s.rebuildLocked()
	s.mu.Unlock()
	s.poke()
	s.flush(ctx)
	s.audit(ctx, "import", "", nil)
	s.log.Info("tasks imported", logx.Int("imported", res.Imported), logx.Int("rejected", len(res.Errors)), logx.Bool("merge", merge))
	return ImportResult{Success: true, Imported: res.Imported, Errors: res.Errors}
}

// changed re-indexes t, wakes the loop and persists.
func (s *Service) changed(ctx context.Context, t task.Task) {
	s.mu.Lock()
	s.placeLocked(t)
	s.mu.Unlock()
	s.poke()
	s.flush(ctx)
}

func (s *Service) audit(ctx context.Context, action, id string, err error) {
	e := storage.AuditEntry{At: s.now(), Actor: "api", Action: action, TaskID: id, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	s.store.Audit(ctx, e)
}

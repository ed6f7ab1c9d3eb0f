// Package deps gates task runs on the outcomes of their prerequisites and
// keeps the dependency graph acyclic.
package deps

import "cronkeeper/internal/task"

// History exposes the latest outcome per task.
type History interface {
	LatestExecution(taskID string) (task.ExecutionRecord, bool)
}

type Decision int

const (
	// Ready means the task may run now.
	Ready Decision = iota
	// Waiting means prerequisites are unmet; the cycle is skipped silently.
	Waiting
)

func (d Decision) String() string {
	if d == Ready {
		return "ready"
	}
	return "waiting"
}

type Resolver struct {
	history History
}

func NewResolver(h History) *Resolver { return &Resolver{history: h} }

func (r *Resolver) IsReady(t task.Task) bool { return r.Evaluate(t) == Ready }

// Evaluate applies the task's dependency policy to the latest record of each
// referenced task, regardless of how old that record is.
func (r *Resolver) Evaluate(t task.Task) Decision {
	d, _ := r.Check(t)
	return d
}

// Check is Evaluate plus the cursor a run started now consumes: the highest
// Seq among the referenced latest records.
//
// A dependency-only task also needs an upstream record with a Seq above its
// DepCursor, so each upstream outcome triggers at most one run. Seq follows
// completion order, so an upstream run that finishes while the dependent is
// running still counts as new.
func (r *Resolver) Check(t task.Task) (Decision, uint64) {
	if t.Dependencies == nil {
		return Ready, 0
	}
	d := t.Dependencies.Normalized()
	if len(d.TaskIDs) == 0 {
		return Ready, 0
	}

	var (
		ran, succeeded, fresh int
		cursor                uint64
	)
	for _, id := range d.TaskIDs {
		rec, ok := r.history.LatestExecution(id)
		if !ok {
			continue
		}
		ran++
		if rec.Success {
			succeeded++
		}
		if rec.Seq > t.DepCursor {
			fresh++
		}
		cursor = max(cursor, rec.Seq)
	}

	if t.DependencyOnly() && fresh == 0 {
		return Waiting, cursor
	}

	need := len(d.TaskIDs)
	if d.Mode == task.ModeAny {
		need = 1
	}
	count := succeeded
	if d.OnFailure == task.OnFailureRun {
		count = ran
	}
	if count >= need {
		return Ready, cursor
	}
	return Waiting, cursor
}

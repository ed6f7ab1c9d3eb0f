// Package stats aggregates read-only counters over tasks and their history.
package stats

import "cronkeeper/internal/task"

type Status string

const (
	StatusDisabled   Status = "disabled"
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusDependency Status = "dependency"
	// StatusIdle is an enabled cron task with no further trigger.
	StatusIdle Status = "idle"
)

type Stats struct {
	TotalTasks           int               `json:"totalTasks"`
	EnabledTasks         int               `json:"enabledTasks"`
	DisabledTasks        int               `json:"disabledTasks"`
	ByType               map[task.Type]int `json:"byType"`
	ByStatus             map[Status]int    `json:"byStatus"`
	TotalExecutions      int               `json:"totalExecutions"`
	SuccessfulExecutions int               `json:"successfulExecutions"`
	FailedExecutions     int               `json:"failedExecutions"`
}

// StatusOf classifies one task. running holds the in-flight ids.
func StatusOf(t task.Task, running map[string]bool) Status {
	switch {
	case running[t.ID]:
		return StatusRunning
	case !t.Enabled:
		return StatusDisabled
	case t.DependencyOnly():
		return StatusDependency
	case t.NextRun == nil:
		return StatusIdle
	default:
		return StatusPending
	}
}

func Compute(tasks []task.Task, history []task.ExecutionRecord, running []string) Stats {
	st := Stats{
		TotalTasks: len(tasks),
		ByType:     make(map[task.Type]int, len(task.Types())),
		ByStatus:   map[Status]int{},
	}
	for _, typ := range task.Types() {
		st.ByType[typ] = 0
	}
	inflight := make(map[string]bool, len(running))
	for _, id := range running {
		inflight[id] = true
	}

	for _, t := range tasks {
		if t.Enabled {
			st.EnabledTasks++
		} else {
			st.DisabledTasks++
		}
		st.ByType[t.Type]++
		st.ByStatus[StatusOf(t, inflight)]++
	}

	st.TotalExecutions = len(history)
	for _, r := range history {
		if r.Success {
			st.SuccessfulExecutions++
		} else {
			st.FailedExecutions++
		}
	}
	return st
}

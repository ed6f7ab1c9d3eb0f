package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cronkeeper/internal/task"
)

func TestCompute(t *testing.T) {
	t.Parallel()

	next := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tasks := []task.Task{
		{ID: "a", Type: task.TypeCommand, CronExpression: "0 9 * * *", Enabled: true, NextRun: &next},
		{ID: "b", Type: task.TypeCommand, CronExpression: "0 9 * * *", Enabled: true, NextRun: &next},
		{ID: "c", Type: task.TypeWebhook, CronExpression: "0 9 * * *", Enabled: false},
		{ID: "d", Type: task.TypeReminder, Enabled: true, Dependencies: &task.Dependencies{TaskIDs: []string{"a"}}},
		{ID: "e", Type: task.TypeAgent, CronExpression: "0 0 30 2 *", Enabled: true},
	}
	history := []task.ExecutionRecord{
		{TaskID: "a", Success: true},
		{TaskID: "a", Success: false},
		{TaskID: "gone", Success: true},
	}

	st := Compute(tasks, history, []string{"b"})

	assert.Equal(t, 5, st.TotalTasks)
	assert.Equal(t, 4, st.EnabledTasks)
	assert.Equal(t, 1, st.DisabledTasks)
	assert.Equal(t, 2, st.ByType[task.TypeCommand])
	assert.Equal(t, 0, st.ByType[task.TypeScript], "every type is reported")
	assert.Equal(t, map[Status]int{
		StatusPending:    1,
		StatusRunning:    1,
		StatusDisabled:   1,
		StatusDependency: 1,
		StatusIdle:       1,
	}, st.ByStatus)
	assert.Equal(t, 3, st.TotalExecutions)
	assert.Equal(t, 2, st.SuccessfulExecutions)
	assert.Equal(t, 1, st.FailedExecutions)
}

func TestComputeEmpty(t *testing.T) {
	t.Parallel()

	st := Compute(nil, nil, nil)
	assert.Zero(t, st.TotalTasks)
	assert.Len(t, st.ByType, len(task.Types()))
}

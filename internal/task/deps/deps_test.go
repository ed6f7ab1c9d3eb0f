package deps

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronkeeper/internal/task"
)

type fakeHistory map[string]task.ExecutionRecord

func (f fakeHistory) LatestExecution(id string) (task.ExecutionRecord, bool) {
	r, ok := f[id]
	return r, ok
}

var t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func rec(id string, ok bool, at time.Time) task.ExecutionRecord {
	return task.ExecutionRecord{TaskID: id, Success: ok, ExecutedAt: at, Seq: 1}
}

func withDeps(mode task.Mode, policy task.FailurePolicy, ids ...string) task.Task {
	return task.Task{
		ID:             "b",
		CronExpression: "* * * * *",
		Dependencies:   &task.Dependencies{TaskIDs: ids, Mode: mode, OnFailure: policy},
	}
}

func TestEvaluatePolicies(t *testing.T) {
	t.Parallel()

	h := fakeHistory{
		"ok":   rec("ok", true, t0),
		"fail": rec("fail", false, t0),
	}
	r := NewResolver(h)

	tests := []struct {
		name string
		task task.Task
		want Decision
	}{
		{"no dependencies", task.Task{ID: "x"}, Ready},
		{"all skip satisfied", withDeps(task.ModeAll, task.OnFailureSkip, "ok"), Ready},
		{"all skip with failure", withDeps(task.ModeAll, task.OnFailureSkip, "ok", "fail"), Waiting},
		{"all skip never ran", withDeps(task.ModeAll, task.OnFailureSkip, "ok", "ghost"), Waiting},
		{"any skip one success", withDeps(task.ModeAny, task.OnFailureSkip, "fail", "ok"), Ready},
		{"any skip no success", withDeps(task.ModeAny, task.OnFailureSkip, "fail", "ghost"), Waiting},
		{"all run after failure", withDeps(task.ModeAll, task.OnFailureRun, "ok", "fail"), Ready},
		{"all run needs every run", withDeps(task.ModeAll, task.OnFailureRun, "fail", "ghost"), Waiting},
		{"any run one ran", withDeps(task.ModeAny, task.OnFailureRun, "fail", "ghost"), Ready},
		{"defaults are all and skip", withDeps("", "", "fail"), Waiting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Evaluate(tt.task))
		})
	}
}

func TestDependencyOnlyNeedsFreshUpstream(t *testing.T) {
	t.Parallel()

	h := fakeHistory{"a": rec("a", true, t0)}
	r := NewResolver(h)

	dep := task.Task{ID: "b", Dependencies: &task.Dependencies{TaskIDs: []string{"a"}}}
	d, cursor := r.Check(dep)
	assert.Equal(t, Ready, d)
	assert.Equal(t, uint64(1), cursor)

	dep.LastRun = task.TimePtr(t0.Add(time.Minute))
	dep.DepCursor = cursor
	assert.False(t, r.IsReady(dep), "same upstream record must not trigger twice")

	// Started before the dependent's last run but completed after it.
	later := rec("a", true, t0.Add(30*time.Second))
	later.Seq = 2
	h["a"] = later
	assert.True(t, r.IsReady(dep))
}

func TestFindCycle(t *testing.T) {
	t.Parallel()

	assert.Nil(t, FindCycle(Graph{"a": {"b"}, "b": {"c"}, "c": nil}))
	assert.Equal(t, []string{"a", "b", "a"}, FindCycle(Graph{"a": {"b"}, "b": {"a"}}))
	assert.Equal(t, []string{"a", "b", "c", "a"}, FindCycle(Graph{"a": {"b"}, "b": {"c"}, "c": {"a"}}))
	// Edges to unknown ids are ignored here; CheckReferences reports them.
	assert.Nil(t, FindCycle(Graph{"a": {"ghost"}}))
}

func TestCheckAcyclic(t *testing.T) {
	t.Parallel()

	err := CheckAcyclic(Graph{"x": {"y"}, "y": {"x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrCycle))
	assert.True(t, errors.Is(err, task.ErrValidation))
	assert.Contains(t, err.Error(), "x -> y -> x")

	require.NoError(t, CheckAcyclic(Graph{"x": {"y"}, "y": nil}))
}

func TestCheckReferences(t *testing.T) {
	t.Parallel()

	g := GraphOf([]task.Task{
		{ID: "a"},
		{ID: "b", Dependencies: &task.Dependencies{TaskIDs: []string{"a", "zzz"}}},
	})
	require.NoError(t, CheckReferences(g, "a"))
	err := CheckReferences(g, "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zzz")
}

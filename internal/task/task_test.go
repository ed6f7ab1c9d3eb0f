package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	deps := &Dependencies{TaskIDs: []string{"a"}}
	tests := []struct {
		name  string
		task  Task
		field string
	}{
		{name: "ok command", task: Task{Name: "n", Type: TypeCommand, CronExpression: "* * * * *", Metadata: CommandMetadata{Command: "true"}}},
		{name: "ok dependency only", task: Task{ID: "b", Name: "n", Type: TypeReminder, Metadata: ReminderMetadata{Message: "hi"}, Dependencies: deps}},
		{name: "missing name", task: Task{Type: TypeCommand, CronExpression: "* * * * *", Metadata: CommandMetadata{Command: "true"}}, field: "name"},
		{name: "unknown type", task: Task{Name: "n", Type: "mail", CronExpression: "* * * * *", Metadata: CommandMetadata{Command: "true"}}, field: "type"},
		{name: "kind mismatch", task: Task{Name: "n", Type: TypeWebhook, CronExpression: "* * * * *", Metadata: CommandMetadata{Command: "true"}}, field: "metadata"},
		{name: "no trigger", task: Task{Name: "n", Type: TypeCommand, Metadata: CommandMetadata{Command: "true"}}, field: "cronExpression"},
		{name: "self dependency", task: Task{ID: "a", Name: "n", Type: TypeCommand, Metadata: CommandMetadata{Command: "true"}, Dependencies: deps}, field: "dependencies.taskIds"},
		{name: "bad mode", task: Task{Name: "n", Type: TypeCommand, Metadata: CommandMetadata{Command: "true"}, Dependencies: &Dependencies{TaskIDs: []string{"x"}, Mode: "most"}}, field: "dependencies.mode"},
		{name: "webhook url", task: Task{Name: "n", Type: TypeWebhook, CronExpression: "* * * * *", Metadata: WebhookMetadata{URL: "ftp://x"}}, field: "metadata.url"},
		{name: "agent fields", task: Task{Name: "n", Type: TypeAgent, CronExpression: "* * * * *", Metadata: AgentMetadata{AgentName: "ops"}}, field: "metadata.description"},
		{name: "script target", task: Task{Name: "n", Type: TypeScript, CronExpression: "* * * * *", Metadata: ScriptMetadata{}}, field: "metadata.target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestUnmarshalSelectsVariant(t *testing.T) {
	t.Parallel()

	raw := `{"id":"1","name":"hook","type":"webhook","cronExpression":"*/5 * * * *",
		"metadata":{"url":"https://example.com/x","headers":{"X-K":"v"},"notifyOnError":true},
		"enabled":true,"createdAt":"2024-01-01T00:00:00Z","lastRun":null,"nextRun":null,"runCount":2}`

	var tk Task
	require.NoError(t, json.Unmarshal([]byte(raw), &tk))
	md, ok := tk.Metadata.(WebhookMetadata)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/x", md.URL)
	assert.Equal(t, "POST", md.HTTPMethod())
	assert.True(t, md.Options().NotifyOnError)
	assert.Equal(t, 2, tk.RunCount)

	out, err := json.Marshal(tk)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"url":"https://example.com/x"`)
}

func TestUnmarshalRejectsBadMetadata(t *testing.T) {
	t.Parallel()

	var tk Task
	err := json.Unmarshal([]byte(`{"id":"1","name":"x","type":"command","metadata":{}}`), &tk)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	err = json.Unmarshal([]byte(`{"id":"1","name":"x","type":"fax","metadata":{}}`), &tk)
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := Task{NextRun: TimePtr(now), Dependencies: &Dependencies{TaskIDs: []string{"a"}}}
	cp := orig.Clone()
	*cp.NextRun = now.Add(time.Hour)
	cp.Dependencies.TaskIDs[0] = "b"

	assert.Equal(t, now, *orig.NextRun)
	assert.Equal(t, "a", orig.Dependencies.TaskIDs[0])
}

func TestScriptCommandLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "./backup.sh --full", ScriptMetadata{Target: "./backup.sh", Args: []string{"--full"}}.CommandLine())
	assert.Equal(t, "make all", ScriptMetadata{Target: "ignored", Command: "make all"}.CommandLine())
}

package task

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeScript   Type = "script"
	TypeAgent    Type = "agent"
	TypeReminder Type = "reminder"
	TypeCommand  Type = "command"
	TypeWebhook  Type = "webhook"
)

// Types lists every supported task type in a stable order.
func Types() []Type {
	return []Type{TypeScript, TypeAgent, TypeReminder, TypeCommand, TypeWebhook}
}

func (t Type) Valid() bool {
	switch t {
	case TypeScript, TypeAgent, TypeReminder, TypeCommand, TypeWebhook:
		return true
	}
	return false
}

type Mode string

const (
	ModeAll Mode = "all"
	ModeAny Mode = "any"
)

type FailurePolicy string

const (
	// OnFailureSkip gates the run on prerequisite success.
	OnFailureSkip FailurePolicy = "skip"
	// OnFailureRun only orders the run after prerequisites have run.
	OnFailureRun FailurePolicy = "run"
)

type Dependencies struct {
	TaskIDs   []string      `json:"taskIds"`
	Mode      Mode          `json:"mode"`
	OnFailure FailurePolicy `json:"onFailure"`
}

// Normalized fills defaults (mode all, onFailure skip) and trims ids.
func (d Dependencies) Normalized() Dependencies {
	out := Dependencies{Mode: d.Mode, OnFailure: d.OnFailure}
	if out.Mode == "" {
		out.Mode = ModeAll
	}
	if out.OnFailure == "" {
		out.OnFailure = OnFailureSkip
	}
	for _, id := range d.TaskIDs {
		if id = strings.TrimSpace(id); id != "" {
			out.TaskIDs = append(out.TaskIDs, id)
		}
	}
	return out
}

func (d Dependencies) validate(self string) error {
	d = d.Normalized()
	if len(d.TaskIDs) == 0 {
		return invalid("dependencies.taskIds", "must not be empty")
	}
	if d.Mode != ModeAll && d.Mode != ModeAny {
		return invalid("dependencies.mode", "must be %q or %q", ModeAll, ModeAny)
	}
	if d.OnFailure != OnFailureSkip && d.OnFailure != OnFailureRun {
		return invalid("dependencies.onFailure", "must be %q or %q", OnFailureSkip, OnFailureRun)
	}
	seen := make(map[string]struct{}, len(d.TaskIDs))
	for _, id := range d.TaskIDs {
		if id == self {
			return invalid("dependencies.taskIds", "task cannot depend on itself")
		}
		if _, ok := seen[id]; ok {
			return invalid("dependencies.taskIds", "duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Task is a schedulable unit of work.
type Task struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Type           Type          `json:"type"`
	CronExpression string        `json:"cronExpression,omitempty"`
	Metadata       Metadata      `json:"metadata"`
	Enabled        bool          `json:"enabled"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastRun        *time.Time    `json:"lastRun"`
	NextRun        *time.Time    `json:"nextRun"`
	RunCount       int           `json:"runCount"`
	Dependencies   *Dependencies `json:"dependencies,omitempty"`
	// DepCursor is the highest upstream record Seq seen by the last run.
	DepCursor uint64 `json:"depCursor,omitempty"`
}

func NewID() string { return uuid.NewString() }

// DependencyOnly reports whether the task is triggered only by its prerequisites.
func (t Task) DependencyOnly() bool {
	return strings.TrimSpace(t.CronExpression) == "" && t.Dependencies != nil
}

// DependsOn returns the prerequisite ids (nil when none).
func (t Task) DependsOn() []string {
	if t.Dependencies == nil {
		return nil
	}
	return t.Dependencies.TaskIDs
}

// Validate checks the structural rules of a definition. Cron syntax and graph
// checks need the engine and the whole task set, so they live with the store.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return invalid("name", "is required")
	}
	if !t.Type.Valid() {
		return invalid("type", "unknown task type %q", t.Type)
	}
	if t.Metadata == nil {
		return invalid("metadata", "is required")
	}
	if t.Metadata.Kind() != t.Type {
		return invalid("metadata", "%s metadata given for a %s task", t.Metadata.Kind(), t.Type)
	}
	if err := t.Metadata.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.CronExpression) == "" && t.Dependencies == nil {
		return invalid("cronExpression", "is required unless dependencies are set")
	}
	if t.Dependencies != nil {
		if err := t.Dependencies.validate(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy that shares no mutable state with t. Metadata
// variants are values and are never mutated in place.
func (t Task) Clone() Task {
	out := t
	if t.LastRun != nil {
		v := *t.LastRun
		out.LastRun = &v
	}
	if t.NextRun != nil {
		v := *t.NextRun
		out.NextRun = &v
	}
	if t.Dependencies != nil {
		d := *t.Dependencies
		d.TaskIDs = append([]string(nil), t.Dependencies.TaskIDs...)
		out.Dependencies = &d
	}
	return out
}

// UnmarshalJSON decodes metadata into the variant selected by type.
func (t *Task) UnmarshalJSON(b []byte) error {
	type plain Task
	var raw struct {
		plain
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	md, err := DecodeMetadata(raw.Type, raw.Metadata)
	if err != nil {
		return err
	}
	*t = Task(raw.plain)
	t.Metadata = md
	return nil
}

// Trigger tells why an execution happened.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// ExecutionRecord is an immutable outcome of one attempt.
type ExecutionRecord struct {
	TaskID     string    `json:"taskId"`
	ExecutedAt time.Time `json:"executedAt"`
	Success    bool      `json:"success"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	Trigger    Trigger   `json:"trigger,omitempty"`
	// Seq orders records by completion. The store assigns it on append.
	Seq uint64 `json:"seq,omitempty"`
}

func TimePtr(t time.Time) *time.Time { return &t }

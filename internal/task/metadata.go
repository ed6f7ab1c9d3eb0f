package task

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// Metadata is the type-specific payload of a Task. Exactly one concrete
// variant exists per Type.
type Metadata interface {
	Kind() Type
	Validate() error
	Options() Common
}

// Common carries the optional fields shared by every variant.
type Common struct {
	NotifyOnError bool   `json:"notifyOnError,omitempty"`
	AlertChatID   string `json:"alertChatId,omitempty"`
	// TimeoutSeconds overrides the executor's per-type default.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

func (c Common) Options() Common { return c }

func (c Common) validate() error {
	if c.TimeoutSeconds < 0 {
		return invalid("metadata.timeoutSeconds", "must be >= 0")
	}
	return nil
}

type ScriptMetadata struct {
	Common
	Target  string   `json:"target,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

func (ScriptMetadata) Kind() Type { return TypeScript }

func (m ScriptMetadata) Validate() error {
	if strings.TrimSpace(m.Target) == "" && strings.TrimSpace(m.Command) == "" {
		return invalid("metadata.target", "script requires target or command")
	}
	return m.Common.validate()
}

// CommandLine returns the shell line to run: command wins over target.
func (m ScriptMetadata) CommandLine() string {
	line := strings.TrimSpace(m.Command)
	if line == "" {
		line = strings.TrimSpace(m.Target)
	}
	if len(m.Args) > 0 {
		line += " " + strings.Join(m.Args, " ")
	}
	return line
}

type AgentMetadata struct {
	Common
	AgentName   string `json:"agentName"`
	Description string `json:"description"`
}

func (AgentMetadata) Kind() Type { return TypeAgent }

func (m AgentMetadata) Validate() error {
	if strings.TrimSpace(m.AgentName) == "" {
		return invalid("metadata.agentName", "is required")
	}
	if strings.TrimSpace(m.Description) == "" {
		return invalid("metadata.description", "is required")
	}
	return m.Common.validate()
}

type ReminderMetadata struct {
	Common
	Message   string `json:"message"`
	AgentName string `json:"agentName,omitempty"`
	// ChatID is the delivery target; empty means the configured default chat.
	ChatID string `json:"chatId,omitempty"`
}

func (ReminderMetadata) Kind() Type { return TypeReminder }

func (m ReminderMetadata) Validate() error {
	if strings.TrimSpace(m.Message) == "" {
		return invalid("metadata.message", "is required")
	}
	return m.Common.validate()
}

type CommandMetadata struct {
	Common
	Command string `json:"command"`
	WorkDir string `json:"workDir,omitempty"`
}

func (CommandMetadata) Kind() Type { return TypeCommand }

func (m CommandMetadata) Validate() error {
	if strings.TrimSpace(m.Command) == "" {
		return invalid("metadata.command", "is required")
	}
	return m.Common.validate()
}

type WebhookMetadata struct {
	Common
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (WebhookMetadata) Kind() Type { return TypeWebhook }

func (m WebhookMetadata) Validate() error {
	raw := strings.TrimSpace(m.URL)
	if raw == "" {
		return invalid("metadata.url", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("metadata.url", "must be an absolute http(s) URL")
	}
	switch m.HTTPMethod() {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
	default:
		return invalid("metadata.method", "unsupported method %q", m.Method)
	}
	return m.Common.validate()
}

// HTTPMethod returns the upper-cased method, POST when unset.
func (m WebhookMetadata) HTTPMethod() string {
	method := strings.ToUpper(strings.TrimSpace(m.Method))
	if method == "" {
		return "POST"
	}
	return method
}

// DecodeMetadata decodes raw JSON into the variant selected by t and
// validates it. Unknown keys are ignored.
func DecodeMetadata(t Type, raw json.RawMessage) (Metadata, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, invalid("metadata", "is required")
	}

	var (
		md  Metadata
		err error
	)
	switch t {
	case TypeScript:
		var v ScriptMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	case TypeAgent:
		var v AgentMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	case TypeReminder:
		var v ReminderMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	case TypeCommand:
		var v CommandMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	case TypeWebhook:
		var v WebhookMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	default:
		return nil, invalid("type", "unknown task type %q", t)
	}
	if err != nil {
		return nil, invalid("metadata", "decode: %v", err)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return md, nil
}

package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Load when nothing has been saved yet.
	ErrNotFound = errors.New("storage: document not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists one opaque document and an audit trail.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the document. A failed Save leaves the previous document intact.
	Save(ctx context.Context, doc []byte) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	// Location is a human-readable description of where data lives.
	Location() string
	Close() error
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor,omitempty"`
	Action   string    `json:"action"`
	TaskID   string    `json:"taskId,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"err,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

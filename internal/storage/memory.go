package storage

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Saves can be made to fail with FailSaves.
type Memory struct {
	mu      sync.Mutex
	doc     []byte
	audit   []AuditEntry
	saves   int
	failErr error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Location() string { return "memory" }

func (m *Memory) Load(ctx context.Context) ([]byte, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.doc...), nil
}

func (m *Memory) Save(ctx context.Context, doc []byte) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.doc = append([]byte(nil), doc...)
	m.saves++
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) Close() error { return nil }

// FailSaves makes subsequent saves return err; nil restores normal behavior.
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

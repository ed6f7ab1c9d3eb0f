// Package storage provides the byte-level persistence backends behind the
// task store.
//
// Every backend keeps exactly one document (the serialized task set and
// execution history) plus an append-only operator audit trail:
//   - file:   <path> written atomically, audit in <prefix>.audit.jsonl
//   - sqlite: documents and audit tables in one database file
//   - memory: process-local, for tests and dry runs
package storage

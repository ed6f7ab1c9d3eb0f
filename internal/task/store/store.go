// Package store is the durable repository of tasks and execution records.
//
// The in-memory state is authoritative. Mutations mark the store dirty; Flush
// serializes the whole state into one document and hands it to a
// storage.Store backend, and Run retries failed flushes in the background.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cronkeeper/internal/storage"
	"cronkeeper/internal/task"
	"cronkeeper/internal/task/cron"
	"cronkeeper/internal/task/deps"
	logx "cronkeeper/pkg/logx"
)

const (
	documentVersion = 1

	DefaultHistoryPerTask = 100
	DefaultHistoryTotal   = 1000
	DefaultFlushRetry     = 5 * time.Second
)

var ErrDuplicateID = errors.New("task id already exists")

type Options struct {
	HistoryPerTask int
	HistoryTotal   int
	FlushRetry     time.Duration
	// CatchUp runs a task once at startup when its trigger was missed.
	CatchUp bool
	Now     func() time.Time
}

func (o *Options) normalize() {
	if o.HistoryPerTask <= 0 {
		o.HistoryPerTask = DefaultHistoryPerTask
	}
	if o.HistoryTotal <= 0 {
		o.HistoryTotal = DefaultHistoryTotal
	}
	if o.FlushRetry <= 0 {
		o.FlushRetry = DefaultFlushRetry
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Store struct {
	backend storage.Store
	engine  *cron.Engine
	log     logx.Logger
	opts    Options

	mu      sync.RWMutex
	tasks   map[string]task.Task
	history []task.ExecutionRecord // completion order, oldest first
	perTask map[string]int
	seq     uint64 // last assigned ExecutionRecord.Seq
	loaded  bool
	rev     uint64
	saved   uint64

	flushMu sync.Mutex
}

// ImportResult reports one import. Errors name the rejected entries.
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors,omitempty"`
}

type document struct {
	Version    int                    `json:"version"`
	SavedAt    time.Time              `json:"savedAt"`
	Tasks      []task.Task            `json:"tasks"`
	Executions []task.ExecutionRecord `json:"executions,omitempty"`
}

type rawDocument struct {
	Version    int                    `json:"version"`
	Tasks      []json.RawMessage      `json:"tasks"`
	Executions []task.ExecutionRecord `json:"executions"`
}

func New(backend storage.Store, engine *cron.Engine, log logx.Logger, opts Options) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if engine == nil {
		engine = cron.New(time.Local)
	}
	opts.normalize()
	return &Store{
		backend: backend,
		engine:  engine,
		log:     log,
		opts:    opts,
		tasks:   map[string]task.Task{},
		perTask: map[string]int{},
	}
}

func (s *Store) Engine() *cron.Engine { return s.engine }

func (s *Store) Location() string { return s.backend.Location() }

// Loaded reports whether Load completed.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Load replaces the in-memory state with the persisted document. Invalid
// entries are skipped with a warning. Trigger times are recomputed from now.
func (s *Store) Load(ctx context.Context) error {
	b, err := s.backend.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		s.mu.Lock()
		s.loaded = true
		s.mu.Unlock()
		s.log.Info("no saved tasks", logx.String("location", s.backend.Location()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	var doc rawDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode tasks document: %w", err)
	}

	now := s.opts.Now()
	cands, errs := s.decode(doc.Tasks, now)
	kept, _, rejected := resolve(cands, nil)
	errs = append(errs, rejected...)
	for _, e := range errs {
		s.log.Warn("skipping stored task", logx.String("reason", e))
	}

	tasks := make(map[string]task.Task, len(kept))
	catchUps := 0
	for id, t := range kept {
		stored := t.NextRun
		t.NextRun = s.ComputeNext(t, now)
		if s.opts.CatchUp && t.NextRun != nil && stored != nil && stored.Before(now) {
			t.NextRun = task.TimePtr(now)
			catchUps++
		}
		tasks[id] = t
	}

	s.mu.Lock()
	s.tasks = tasks
	s.history = s.history[:0]
	s.perTask = map[string]int{}
	s.seq = 0
	for _, r := range doc.Executions {
		if r.TaskID == "" {
			continue
		}
		s.appendLocked(r)
	}
	s.seedCursorsLocked()
	s.loaded = true
	s.mu.Unlock()

	s.log.Info("tasks loaded",
		logx.Int("tasks", len(tasks)),
		logx.Int("skipped", len(errs)),
		logx.Int("catch_up", catchUps),
		logx.Int("executions", len(doc.Executions)),
	)
	return nil
}

// Flush saves the current state if it changed since the last successful save.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	if s.rev == s.saved {
		s.mu.RUnlock()
		return nil
	}
	rev := s.rev
	doc := s.documentLocked()
	s.mu.RUnlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tasks document: %w", err)
	}
	if err := s.backend.Save(ctx, b); err != nil {
		s.log.Warn("save tasks failed; will retry", logx.Err(err), logx.String("location", s.backend.Location()))
		return fmt.Errorf("save tasks: %w", err)
	}

	s.mu.Lock()
	if rev > s.saved {
		s.saved = rev
	}
	s.mu.Unlock()
	return nil
}

// Dirty reports whether unsaved changes exist.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev != s.saved
}

// Run retries pending flushes until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	t := time.NewTicker(s.opts.FlushRetry)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if s.Dirty() {
				_ = s.Flush(ctx)
			}
		}
	}
}

// Close flushes and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	ferr := s.Flush(ctx)
	cerr := s.backend.Close()
	return errors.Join(ferr, cerr)
}

// Audit appends an operator audit entry. Failures are logged only.
func (s *Store) Audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = s.opts.Now()
	}
	if err := s.backend.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err), logx.String("action", e.Action))
	}
}

// ComputeNext returns the next trigger strictly after max(from, lastRun), or
// nil for disabled, dependency-only and never-again tasks.
func (s *Store) ComputeNext(t task.Task, from time.Time) *time.Time {
	if !t.Enabled || strings.TrimSpace(t.CronExpression) == "" {
		return nil
	}
	after := from
	if t.LastRun != nil && t.LastRun.After(after) {
		after = *t.LastRun
	}
	next, err := s.engine.Next(t.CronExpression, after)
	if err != nil || next.IsZero() {
		return nil
	}
	return &next
}

// CheckDefinition validates t on its own: structure, metadata and cron syntax.
func (s *Store) CheckDefinition(t task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if expr := strings.TrimSpace(t.CronExpression); expr != "" {
		if v := s.engine.Validate(expr); !v.Valid {
			return task.Invalid("cronExpression", "%s", v.Error)
		}
	}
	return nil
}

func (s *Store) Get(id string) (task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return t.Clone(), true
}

// List returns copies ordered by creation time, then id.
func (s *Store) List() []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

func (s *Store) listLocked() []task.Task {
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Insert adds a new task after full validation, including the graph checks.
func (s *Store) Insert(t task.Task) error {
	if err := s.CheckDefinition(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
	}
	g := s.graphLocked()
	g[t.ID] = append([]string(nil), t.DependsOn()...)
	if err := deps.CheckReferences(g, t.ID); err != nil {
		return err
	}
	if err := deps.CheckAcyclic(g); err != nil {
		return err
	}
	s.tasks[t.ID] = t.Clone()
	s.touchLocked()
	return nil
}

// Update applies fn to a copy of the task and commits it if the result is
// valid. References that already existed are not re-checked, so a cancelled
// prerequisite does not block edits to its dependents.
func (s *Store) Update(id string, fn func(*task.Task) error) (task.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false, nil
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur.Clone(), true, err
	}
	next.ID = id
	if err := s.CheckDefinition(next); err != nil {
		return cur.Clone(), true, err
	}

	g := s.graphLocked()
	g[id] = addedRefs(next.DependsOn(), cur.DependsOn())
	if err := deps.CheckReferences(g, id); err != nil {
		return cur.Clone(), true, err
	}
	g[id] = append([]string(nil), next.DependsOn()...)
	if err := deps.CheckAcyclic(g); err != nil {
		return cur.Clone(), true, err
	}

	s.tasks[id] = next
	s.touchLocked()
	return next.Clone(), true, nil
}

// Mutate changes runtime state (run bookkeeping, enabled, nextRun) without
// re-validating the definition.
func (s *Store) Mutate(id string, fn func(*task.Task)) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	next := cur.Clone()
	fn(&next)
	next.ID = id
	s.tasks[id] = next
	s.touchLocked()
	return next.Clone(), true
}

// Delete removes the task. Its execution records stay until evicted.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	s.touchLocked()
	return true
}

func (s *Store) AppendExecution(r task.ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(r)
	s.touchLocked()
}

func (s *Store) appendLocked(r task.ExecutionRecord) {
	// Stored records keep their Seq; new ones continue the sequence.
	if r.Seq <= s.seq {
		r.Seq = s.seq + 1
	}
	s.seq = r.Seq
	s.history = append(s.history, r)
	s.perTask[r.TaskID]++

	if s.perTask[r.TaskID] > s.opts.HistoryPerTask {
		for i, old := range s.history {
			if old.TaskID == r.TaskID {
				s.history = append(s.history[:i], s.history[i+1:]...)
				s.perTask[r.TaskID]--
				break
			}
		}
	}
	for len(s.history) > s.opts.HistoryTotal {
		old := s.history[0]
		s.history = s.history[1:]
		if s.perTask[old.TaskID]--; s.perTask[old.TaskID] <= 0 {
			delete(s.perTask, old.TaskID)
		}
	}
}

func (s *Store) LatestExecution(taskID string) (task.ExecutionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].TaskID == taskID {
			return s.history[i], true
		}
	}
	return task.ExecutionRecord{}, false
}

// History returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) History(limit int) []task.ExecutionRecord {
	return s.collect(limit, func(task.ExecutionRecord) bool { return true })
}

// TaskHistory is History restricted to one task.
func (s *Store) TaskHistory(taskID string, limit int) []task.ExecutionRecord {
	return s.collect(limit, func(r task.ExecutionRecord) bool { return r.TaskID == taskID })
}

func (s *Store) collect(limit int, keep func(task.ExecutionRecord) bool) []task.ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.ExecutionRecord, 0, min(len(s.history), max(limit, 0)))
	for i := len(s.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if keep(s.history[i]) {
			out = append(out, s.history[i])
		}
	}
	return out
}

func (s *Store) ExecutionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Export returns a JSON snapshot of all tasks.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	doc := document{Version: documentVersion, SavedAt: s.opts.Now().UTC(), Tasks: s.listLocked()}
	s.mu.RUnlock()
	return json.MarshalIndent(doc, "", "  ")
}

// Import validates each entry on its own and commits the survivors in one
// step. merge upserts by id; otherwise the task set is replaced. Execution
// history is never touched.
func (s *Store) Import(data []byte, merge bool) (ImportResult, error) {
	raws, err := decodeTaskList(data)
	if err != nil {
		return ImportResult{}, err
	}
	now := s.opts.Now()
	cands, errs := s.decode(raws, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	var base map[string]task.Task
	if merge {
		base = s.tasks
	}
	kept, accepted, rejected := resolve(cands, base)
	errs = append(errs, rejected...)

	for _, id := range accepted {
		t := kept[id]
		t.NextRun = s.ComputeNext(t, now)
		// Cursors from another store's sequence would block the task forever.
		t.DepCursor = min(t.DepCursor, s.seq)
		kept[id] = t
	}
	s.tasks = kept
	s.touchLocked()
	return ImportResult{Imported: len(accepted), Errors: errs}, nil
}

func (s *Store) touchLocked() { s.rev++ }

// seedCursorsLocked derives DepCursor for documents written before records
// carried a Seq: records that started before the task's last run count as
// consumed.
func (s *Store) seedCursorsLocked() {
	for id, t := range s.tasks {
		if t.DepCursor != 0 || t.LastRun == nil || len(t.DependsOn()) == 0 {
			continue
		}
		refs := make(map[string]bool, len(t.DependsOn()))
		for _, ref := range t.DependsOn() {
			refs[ref] = true
		}
		for _, r := range s.history {
			if refs[r.TaskID] && !r.ExecutedAt.After(*t.LastRun) {
				t.DepCursor = max(t.DepCursor, r.Seq)
			}
		}
		s.tasks[id] = t
	}
}

func (s *Store) graphLocked() deps.Graph {
	g := make(deps.Graph, len(s.tasks)+1)
	for id, t := range s.tasks {
		g[id] = append([]string(nil), t.DependsOn()...)
	}
	return g
}

func (s *Store) documentLocked() document {
	return document{
		Version:    documentVersion,
		SavedAt:    s.opts.Now().UTC(),
		Tasks:      s.listLocked(),
		Executions: append([]task.ExecutionRecord(nil), s.history...),
	}
}

type candidate struct {
	label string
	t     task.Task
}

// decode parses and validates entries independently. Ids are assigned when
// missing; duplicates within the batch are rejected.
func (s *Store) decode(raws []json.RawMessage, now time.Time) ([]candidate, []string) {
	var (
		out  []candidate
		errs []string
		seen = map[string]bool{}
	)
	for i, raw := range raws {
		label := fmt.Sprintf("tasks[%d]", i)
		var t task.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		if t.Name != "" {
			label += fmt.Sprintf(" %q", t.Name)
		}
		if strings.TrimSpace(t.ID) == "" {
			t.ID = task.NewID()
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %s", label, t.ID))
			continue
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.RunCount < 0 {
			t.RunCount = 0
		}
		if err := s.CheckDefinition(t); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		seen[t.ID] = true
		out = append(out, candidate{label: label, t: t})
	}
	return out, errs
}

// resolve overlays candidates on base and drops candidates until every
// reference resolves and the graph is acyclic. A dropped candidate restores
// the base task with the same id. accepted lists surviving candidate ids in
// input order.
func resolve(cands []candidate, base map[string]task.Task) (set map[string]task.Task, accepted []string, errs []string) {
	set = make(map[string]task.Task, len(base)+len(cands))
	for id, t := range base {
		set[id] = t
	}
	live := make(map[string]candidate, len(cands))
	for _, c := range cands {
		set[c.t.ID] = c.t
		live[c.t.ID] = c
	}

	drop := func(c candidate, reason string) {
		delete(live, c.t.ID)
		if prev, ok := base[c.t.ID]; ok {
			set[c.t.ID] = prev
		} else {
			delete(set, c.t.ID)
		}
		errs = append(errs, c.label+": "+reason)
	}

	for changed := true; changed; {
		changed = false
		for _, c := range cands {
			if _, ok := live[c.t.ID]; !ok {
				continue
			}
			for _, ref := range c.t.DependsOn() {
				if _, ok := set[ref]; !ok {
					drop(c, fmt.Sprintf("dependencies.taskIds: unknown task %q", ref))
					changed = true
					break
				}
			}
		}
		if changed {
			continue
		}

		g := make(deps.Graph, len(set))
		for id, t := range set {
			g[id] = t.DependsOn()
		}
		path := deps.FindCycle(g)
		if path == nil {
			break
		}
		victim, found := candidate{}, false
		for i := len(path) - 2; i >= 0; i-- {
			if c, ok := live[path[i]]; ok {
				victim, found = c, true
				break
			}
		}
		if !found {
			// Only base tasks in the cycle; cannot happen for a store that
			// was acyclic before the import.
			break
		}
		drop(victim, "dependencies: cycle: "+strings.Join(path, " -> "))
		changed = true
	}
	for _, c := range cands {
		if _, ok := live[c.t.ID]; ok {
			accepted = append(accepted, c.t.ID)
		}
	}
	return set, accepted, errs
}

func decodeTaskList(data []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("import: empty payload")
	}
	if strings.HasPrefix(trimmed, "[") {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("import: %w", err)
		}
		return raws, nil
	}
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	if doc.Tasks == nil {
		return nil, errors.New("import: missing tasks")
	}
	return doc.Tasks, nil
}

func addedRefs(next, prev []string) []string {
	old := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		old[id] = struct{}{}
	}
	var out []string
	for _, id := range next {
		if _, ok := old[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

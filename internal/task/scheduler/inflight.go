package scheduler

import (
	"sort"
	"sync"
	"time"
)

// runSet is the per-task in-flight guard shared by scheduled and manual runs.
type runSet struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func newRunSet() *runSet { return &runSet{ids: map[string]time.Time{}} }

func (r *runSet) tryAcquire(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.ids[id]; busy {
		return false
	}
	r.ids[id] = at
	return true
}

func (r *runSet) release(id string) {
	r.mu.Lock()
	delete(r.ids, id)
	r.mu.Unlock()
}

func (r *runSet) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

func (r *runSet) list() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

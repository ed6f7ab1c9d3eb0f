package scheduler

import (
	"container/heap"
	"time"
)

type entry struct {
	at  time.Time
	id  string
	gen uint64
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].id < h[j].id
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// index is a min-heap of (nextRun, id). Updates push a new entry and bump the
// id's generation; stale entries are discarded lazily when they surface.
type index struct {
	h    entryHeap
	gens map[string]uint64
	seq  uint64
}

func newIndex() *index { return &index{gens: map[string]uint64{}} }

func (x *index) upsert(id string, at time.Time) {
	x.seq++
	x.gens[id] = x.seq
	heap.Push(&x.h, entry{at: at, id: id, gen: x.seq})
	// Compact when garbage dominates.
	if len(x.h) > 64 && len(x.h) > 4*len(x.gens) {
		x.compact()
	}
}

func (x *index) remove(id string) { delete(x.gens, id) }

func (x *index) len() int { return len(x.gens) }

func (x *index) live(e entry) bool { return x.gens[e.id] == e.gen }

func (x *index) dropStale() {
	for len(x.h) > 0 && !x.live(x.h[0]) {
		heap.Pop(&x.h)
	}
}

// peek returns the earliest live trigger.
func (x *index) peek() (entry, bool) {
	x.dropStale()
	if len(x.h) == 0 {
		return entry{}, false
	}
	return x.h[0], true
}

// popDue removes and returns ids whose trigger is at or before now.
func (x *index) popDue(now time.Time) []string {
	var out []string
	for {
		e, ok := x.peek()
		if !ok || e.at.After(now) {
			return out
		}
		heap.Pop(&x.h)
		delete(x.gens, e.id)
		out = append(out, e.id)
	}
}

func (x *index) compact() {
	live := x.h[:0]
	for _, e := range x.h {
		if x.live(e) {
			live = append(live, e)
		}
	}
	x.h = live
	heap.Init(&x.h)
}

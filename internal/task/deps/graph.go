package deps

import (
	"sort"
	"strings"

	"cronkeeper/internal/task"
)

// Graph maps a task id to the ids it depends on.
type Graph map[string][]string

// GraphOf builds the dependency graph of tasks.
func GraphOf(tasks []task.Task) Graph {
	g := make(Graph, len(tasks))
	for _, t := range tasks {
		g[t.ID] = append([]string(nil), t.DependsOn()...)
	}
	return g
}

// FindCycle returns one cycle as a closed path (first id repeated at the
// end), or nil. Traversal order is sorted so the witness is stable.
func FindCycle(g Graph) []string {
	const (
		white = iota
		gray
		black
	)
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	color := make(map[string]int, len(g))
	parent := make(map[string]string, len(g))
	var cycle []string

	var visit func(u string) bool
	visit = func(u string) bool {
		color[u] = gray
		next := append([]string(nil), g[u]...)
		sort.Strings(next)
		for _, v := range next {
			if _, known := g[v]; !known {
				continue
			}
			switch color[v] {
			case white:
				parent[v] = u
				if visit(v) {
					return true
				}
			case gray:
				// Back-edge u -> v: walk parents from u back to v.
				path := []string{v}
				for cur := u; cur != v; cur = parent[cur] {
					path = append(path, cur)
				}
				path = append(path, v)
				// path is v, u, ..., v in reverse edge order.
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				cycle = path
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// CheckAcyclic returns a validation error wrapping task.ErrCycle when g has
// a cycle.
func CheckAcyclic(g Graph) error {
	path := FindCycle(g)
	if path == nil {
		return nil
	}
	return &task.ValidationError{
		Field: "dependencies",
		Msg:   "cycle: " + strings.Join(path, " -> "),
		Err:   task.ErrCycle,
	}
}

// CheckReferences reports the first dependency id that is not a node of g.
func CheckReferences(g Graph, id string) error {
	for _, ref := range g[id] {
		if _, ok := g[ref]; !ok {
			return task.Invalid("dependencies.taskIds", "unknown task %q", ref)
		}
	}
	return nil
}

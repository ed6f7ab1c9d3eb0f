// Package cron parses 5-field cron expressions and computes trigger times.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// Validation is the result of checking an expression.
type Validation struct {
	Valid       bool   `json:"valid"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Engine evaluates expressions in a fixed location. It is safe for
// concurrent use.
type Engine struct {
	parser robfig.Parser

	mu  sync.RWMutex
	loc *time.Location
}

func New(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		// Minute granularity only: no seconds field, no descriptors.
		parser: robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow),
		loc:    loc,
	}
}

func (e *Engine) Location() *time.Location {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loc
}

// SetLocation switches the evaluation timezone. Existing nextRun values are
// not touched; callers recompute them.
func (e *Engine) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	e.mu.Lock()
	e.loc = loc
	e.mu.Unlock()
}

// Parse validates expr and returns a schedule bound to the engine location.
func (e *Engine) Parse(expr string) (robfig.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields (minute hour day-of-month month day-of-week), got %d", len(fields))
	}
	fields[4] = normalizeDow(fields[4])

	sched, err := e.parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, err
	}
	if spec, ok := sched.(*robfig.SpecSchedule); ok {
		spec.Location = e.Location()
	}
	return sched, nil
}

func (e *Engine) Validate(expr string) Validation {
	if _, err := e.Parse(expr); err != nil {
		return Validation{Valid: false, Error: err.Error()}
	}
	return Validation{Valid: true, Description: Describe(expr)}
}

// Next returns the first trigger strictly after t, or the zero time when the
// expression can never fire again (e.g. "0 0 30 2 *").
func (e *Engine) Next(expr string, after time.Time) (time.Time, error) {
	sched, err := e.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// Preview returns up to n upcoming triggers after t.
func (e *Engine) Preview(expr string, after time.Time, n int) ([]time.Time, error) {
	sched, err := e.Parse(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	cur := after
	for i := 0; i < n; i++ {
		next := sched.Next(cur)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

// normalizeDow rewrites day-of-week 7 (Sunday) to 0. Numeric parts that
// reach 7 are expanded to explicit lists so steps keep their meaning.
func normalizeDow(field string) string {
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, normalizeDowPart(p))
	}
	return strings.Join(out, ",")
}

func normalizeDowPart(p string) string {
	base, stepRaw, hasStep := strings.Cut(p, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepRaw)
		if err != nil || n <= 0 {
			return p
		}
		step = n
	}

	loRaw, hiRaw, isRange := strings.Cut(base, "-")
	lo, err := strconv.Atoi(loRaw)
	if err != nil {
		return p
	}
	hi := lo
	if isRange {
		if hi, err = strconv.Atoi(hiRaw); err != nil {
			return p
		}
	} else if hasStep {
		// "N/step" means N through the end of the range.
		hi = 7
	}
	if hi != 7 && lo != 7 {
		return p
	}
	if lo < 0 || lo > hi || hi > 7 {
		return p
	}

	seen := map[int]bool{}
	vals := make([]string, 0, 8)
	for v := lo; v <= hi; v += step {
		d := v % 7
		if seen[d] {
			continue
		}
		seen[d] = true
		vals = append(vals, strconv.Itoa(d))
	}
	return strings.Join(vals, ",")
}

package cron

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func TestValidate(t *testing.T) {
	t.Parallel()
	e := New(time.UTC)

	tests := []struct {
		expr  string
		valid bool
	}{
		{"*/5 * * * *", true},
		{"0 9 * * *", true},
		{"0 9 * * 7", true},
		{"0 9 * * 5-7", true},
		{"0 0 1 1 *", true},
		{"70 * * * *", false},
		{"* 24 * * *", false},
		{"* * 0 * *", false},
		{"* * 32 * *", false},
		{"* * * 13 *", false},
		{"* * * * 8", false},
		{"* * * *", false},
		{"0 * * * * *", false},
		{"@daily", false},
		{"", false},
	}
	for _, tt := range tests {
		got := e.Validate(tt.expr)
		assert.Equal(t, tt.valid, got.Valid, "expr %q: %+v", tt.expr, got)
		if tt.valid {
			assert.NotEmpty(t, got.Description, tt.expr)
		} else {
			assert.NotEmpty(t, got.Error, tt.expr)
		}
	}
}

func TestNextExamples(t *testing.T) {
	t.Parallel()
	e := New(time.UTC)

	tests := []struct {
		expr  string
		after string
		want  string
	}{
		{"0 9 * * *", "2024-01-01T08:00:00Z", "2024-01-01T09:00:00Z"},
		{"0 9 * * *", "2024-01-01T09:00:00Z", "2024-01-02T09:00:00Z"},
		{"*/5 * * * *", "2024-01-01T08:02:30Z", "2024-01-01T08:05:00Z"},
		// 2024-01-07 is a Sunday; 7 and 0 are the same day.
		{"0 12 * * 7", "2024-01-01T00:00:00Z", "2024-01-07T12:00:00Z"},
		{"0 12 * * 0", "2024-01-01T00:00:00Z", "2024-01-07T12:00:00Z"},
		// dom and dow both restricted: either matches (13th or Friday).
		{"0 0 13 * 5", "2024-01-01T00:00:00Z", "2024-01-05T00:00:00Z"},
		{"0 0 13 * 5", "2024-01-12T00:00:00Z", "2024-01-13T00:00:00Z"},
		{"0 0 29 2 *", "2024-03-01T00:00:00Z", "2028-02-29T00:00:00Z"},
	}
	for _, tt := range tests {
		got, err := e.Next(tt.expr, mustTime(t, tt.after))
		require.NoError(t, err, tt.expr)
		assert.Equal(t, mustTime(t, tt.want), got.UTC(), "%s after %s", tt.expr, tt.after)
	}
}

func TestNextImpossibleIsZero(t *testing.T) {
	t.Parallel()
	e := New(time.UTC)

	got, err := e.Next("0 0 30 2 *", mustTime(t, "2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestNextHonorsLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	e := New(loc)

	got, err := e.Next("0 9 * * *", mustTime(t, "2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-01-01T02:00:00Z"), got.UTC())
}

func TestNextIsStrictlyLaterAndMinimal(t *testing.T) {
	t.Parallel()
	e := New(time.UTC)

	exprs := []string{
		"*/5 * * * *",
		"0 9 * * *",
		"30 8 * * 1-5",
		"0 0 13 * 5",
		"15 14 1 * *",
		"0 22 * * 5-7",
		"5-10/2 3,4 * 6 *",
		"0 0 29 2 *",
	}
	starts := []string{"2024-01-01T08:00:00Z", "2024-02-28T23:59:30Z", "2024-06-30T03:07:00Z", "2025-12-31T23:59:59Z"}

	for _, expr := range exprs {
		m := newMatcher(t, expr)
		for _, s := range starts {
			start := mustTime(t, s)
			next, err := e.Next(expr, start)
			require.NoError(t, err)
			require.False(t, next.IsZero(), expr)
			next = next.UTC()

			require.True(t, next.After(start), "%s: %s not after %s", expr, next, start)
			require.True(t, m.match(next), "%s: %s does not match", expr, next)
			for c := start.Truncate(time.Minute).Add(time.Minute); c.Before(next); c = c.Add(time.Minute) {
				if c.After(start) && m.match(c) {
					t.Fatalf("%s after %s: %s matches before %s", expr, start, c, next)
				}
			}
		}
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	e := New(time.UTC)

	got, err := e.Preview("0 * * * *", mustTime(t, "2024-01-01T08:30:00Z"), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, mustTime(t, "2024-01-01T10:00:00Z"), got[1].UTC())
}

func TestNormalizeDow(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0", normalizeDow("7"))
	assert.Equal(t, "5,6,0", normalizeDow("5-7"))
	assert.Equal(t, "1,3,5,0", normalizeDow("1-7/2"))
	assert.Equal(t, "1-5", normalizeDow("1-5"))
	assert.Equal(t, "*/2", normalizeDow("*/2"))
	assert.Equal(t, "MON", normalizeDow("MON"))
	assert.Equal(t, "1,0", normalizeDow("1,7"))
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"* * * * *":    "Every minute",
		"*/5 * * * *":  "Every 5 minutes",
		"0 * * * *":    "Every hour",
		"15 * * * *":   "Every hour at minute 15",
		"0 */2 * * *":  "Every 2 hours",
		"0 9 * * *":    "Every day at 09:00",
		"30 8 * * 1-5": "Every weekday at 08:30",
		"0 10 * * 1":   "Every Monday at 10:00",
		"0 10 * * 1,3": "Every Monday and Wednesday at 10:00",
		"0 0 1 * *":    "On day 1 of every month at 00:00",
		"0 0 25 12 *":  "Every year on December 25 at 00:00",
	}
	for expr, want := range tests {
		assert.Equal(t, want, Describe(expr), expr)
	}
	assert.True(t, strings.HasPrefix(Describe("1-5 * * * *"), "Custom schedule"))
}

// matcher is an independent brute-force evaluator used to check Next.
type matcher struct {
	min, hour, dom, month, dow map[int]bool
	domStar, dowStar           bool
}

func newMatcher(t *testing.T, expr string) matcher {
	t.Helper()
	f := strings.Fields(expr)
	require.Len(t, f, 5)
	m := matcher{
		min:     expand(t, f[0], 0, 59),
		hour:    expand(t, f[1], 0, 23),
		dom:     expand(t, f[2], 1, 31),
		month:   expand(t, f[3], 1, 12),
		dow:     expand(t, f[4], 0, 7),
		domStar: f[2] == "*",
		dowStar: f[4] == "*",
	}
	if m.dow[7] {
		m.dow[0] = true
	}
	return m
}

func (m matcher) match(t time.Time) bool {
	if !m.min[t.Minute()] || !m.hour[t.Hour()] || !m.month[int(t.Month())] {
		return false
	}
	domOK := m.dom[t.Day()]
	dowOK := m.dow[int(t.Weekday())]
	if m.domStar || m.dowStar {
		return domOK && dowOK
	}
	return domOK || dowOK
}

func expand(t *testing.T, field string, lo, hi int) map[int]bool {
	t.Helper()
	out := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		base, stepRaw, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepRaw)
			require.NoError(t, err)
			step = n
		}
		a, b := lo, hi
		if base != "*" {
			x, y, isRange := strings.Cut(base, "-")
			var err error
			a, err = strconv.Atoi(x)
			require.NoError(t, err)
			b = a
			if isRange {
				b, err = strconv.Atoi(y)
				require.NoError(t, err)
			}
		}
		for v := a; v <= b; v += step {
			out[v] = true
		}
	}
	return out
}

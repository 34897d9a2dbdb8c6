// Package cron implements the scheduler's 5-field cron dialect:
// minute hour day-of-month month day-of-week, with lists, ranges, and steps.
//
// Weekdays are numbered 0=Monday through 6=Sunday; an input of 7 folds to 0.
// Day-of-month and day-of-week combine as a union only when both fields are
// restricted; a wildcard on one side defers entirely to the other.
package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxLookaheadMinutes bounds the next-instant search to one leap year.
const MaxLookaheadMinutes = 60 * 24 * 366

// ErrUnreachable is returned when no matching instant exists within the
// lookahead window (e.g. "0 0 30 2 *").
var ErrUnreachable = errors.New("cron: no matching instant within lookahead window")

type fieldSpec struct {
	name string
	min  int
	max  int
	span int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59, 60},
	{"hour", 0, 23, 24},
	{"day", 1, 31, 31},
	{"month", 1, 12, 12},
	{"weekday", 0, 6, 7},
}

const (
	fieldMinute = iota
	fieldHour
	fieldDay
	fieldMonth
	fieldWeekday
)

// Expression is a parsed cron expression.
type Expression struct {
	fields   [5]map[int]bool
	wildcard [5]bool
}

// Parse parses a 5-field cron expression.
func Parse(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron: expression must contain 5 fields, got %d", len(parts))
	}
	e := &Expression{}
	for i, part := range parts {
		values, wildcard, err := expandField(part, fieldSpecs[i])
		if err != nil {
			return nil, err
		}
		e.fields[i] = values
		e.wildcard[i] = wildcard
	}
	return e, nil
}

func expandField(token string, spec fieldSpec) (map[int]bool, bool, error) {
	values := make(map[int]bool)
	wildcard := false
	for _, rawItem := range strings.Split(token, ",") {
		item := strings.TrimSpace(rawItem)
		if item == "" {
			item = "*"
		}
		original := item
		step := 1
		if base, stepStr, ok := strings.Cut(item, "/"); ok {
			if base == "" {
				base = "*"
			}
			n, err := strconv.Atoi(stepStr)
			if err != nil {
				return nil, false, fmt.Errorf("cron: invalid step for %s: %q", spec.name, stepStr)
			}
			if n <= 0 {
				return nil, false, fmt.Errorf("cron: step for %s must be positive", spec.name)
			}
			item = base
			step = n
		}
		expanded, err := expandRange(item, spec)
		if err != nil {
			return nil, false, err
		}
		start := expanded[0]
		for _, v := range expanded {
			if (v-start)%step == 0 {
				values[v] = true
			}
		}
		wildcard = wildcard || original == "*"
	}
	if len(values) == 0 {
		return nil, false, fmt.Errorf("cron: no values computed for %s", spec.name)
	}
	if spec.name == "weekday" {
		normalized := make(map[int]bool, len(values))
		for v := range values {
			if v == 7 {
				v = 0
			}
			normalized[v] = true
		}
		values = normalized
	}
	for v := range values {
		if v < spec.min || v > spec.max {
			return nil, false, fmt.Errorf("cron: %s value %d out of range %d-%d", spec.name, v, spec.min, spec.max)
		}
	}
	return values, wildcard || len(values) == spec.span, nil
}

func expandRange(item string, spec fieldSpec) ([]int, error) {
	max := spec.max
	if spec.name == "weekday" {
		// 7 is accepted and folded to 0 after expansion.
		max = 7
	}
	if item == "*" {
		out := make([]int, 0, max-spec.min+1)
		for v := spec.min; v <= max; v++ {
			out = append(out, v)
		}
		return out, nil
	}
	if n, err := strconv.Atoi(item); err == nil {
		if n < spec.min || n > max {
			return nil, fmt.Errorf("cron: %s value %d out of range %d-%d", spec.name, n, spec.min, spec.max)
		}
		return []int{n}, nil
	}
	if startStr, endStr, ok := strings.Cut(item, "-"); ok {
		start, err1 := strconv.Atoi(startStr)
		end, err2 := strconv.Atoi(endStr)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("cron: unsupported %s token: %q", spec.name, item)
		}
		if start > end {
			return nil, fmt.Errorf("cron: %s range start %d greater than end %d", spec.name, start, end)
		}
		if start < spec.min || end > max {
			return nil, fmt.Errorf("cron: %s range %q out of bounds %d-%d", spec.name, item, spec.min, spec.max)
		}
		out := make([]int, 0, end-start+1)
		for v := start; v <= end; v++ {
			out = append(out, v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cron: unsupported %s token: %q", spec.name, item)
}

// NextAfter returns the first instant strictly after moment (truncated to the
// minute) that matches the expression. The search advances minute by minute
// and fails with ErrUnreachable after MaxLookaheadMinutes candidates.
func (e *Expression) NextAfter(moment time.Time) (time.Time, error) {
	candidate := moment.Truncate(time.Minute)
	for i := 0; i < MaxLookaheadMinutes; i++ {
		candidate = candidate.Add(time.Minute)
		if e.Matches(candidate) {
			return candidate, nil
		}
	}
	return time.Time{}, ErrUnreachable
}

// Matches reports whether the given instant satisfies the expression.
// Seconds and sub-second precision are ignored.
func (e *Expression) Matches(t time.Time) bool {
	if !e.fields[fieldMinute][t.Minute()] ||
		!e.fields[fieldHour][t.Hour()] ||
		!e.fields[fieldMonth][int(t.Month())] {
		return false
	}
	domMatch := e.fields[fieldDay][t.Day()]
	dowMatch := e.fields[fieldWeekday][mondayWeekday(t)]
	switch {
	case e.wildcard[fieldDay] && e.wildcard[fieldWeekday]:
		return true
	case e.wildcard[fieldDay]:
		return dowMatch
	case e.wildcard[fieldWeekday]:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

// mondayWeekday maps time.Weekday (Sunday=0) onto the 0=Monday numbering.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

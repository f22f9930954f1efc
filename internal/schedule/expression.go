// Package schedule fires queue jobs from cron-like rules.
//
// Expressions have five fields, minute hour day-of-month month day-of-week,
// each of which is "*", an exact integer or a "*/n" step. A step matches
// values divisible by n. Day-of-week runs 0-6 with 0 as Sunday.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidExpression is returned for malformed schedule expressions.
var ErrInvalidExpression = errors.New("schedule: invalid expression")

type fieldKind int

const (
	fieldAny fieldKind = iota
	fieldExact
	fieldStep
)

type field struct {
	kind  fieldKind
	value int // exact value or step size
}

func (f field) matches(v int) bool {
	switch f.kind {
	case fieldExact:
		return v == f.value
	case fieldStep:
		return v%f.value == 0
	default:
		return true
	}
}

var fieldBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Expression is a parsed five-field schedule.
type Expression struct {
	raw    string
	fields [5]field
}

// ParseExpression parses "minute hour day month day-of-week".
func ParseExpression(s string) (Expression, error) {
	parts := strings.Fields(s)
	if len(parts) != 5 {
		return Expression{}, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidExpression, s, len(parts))
	}
	e := Expression{raw: strings.Join(parts, " ")}
	for i, p := range parts {
		f, err := parseField(p, i)
		if err != nil {
			return Expression{}, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, s, err)
		}
		e.fields[i] = f
	}
	return e, nil
}

func parseField(p string, i int) (field, error) {
	b := fieldBounds[i]
	if p == "*" {
		return field{kind: fieldAny}, nil
	}
	if step, ok := strings.CutPrefix(p, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n < 1 || n > b.max {
			return field{}, fmt.Errorf("%s step %q must be 1-%d", b.name, step, b.max)
		}
		return field{kind: fieldStep, value: n}, nil
	}
	n, err := strconv.Atoi(p)
	if err != nil || n < b.min || n > b.max {
		return field{}, fmt.Errorf("%s %q must be *, */n or %d-%d", b.name, p, b.min, b.max)
	}
	return field{kind: fieldExact, value: n}, nil
}

// Matches reports whether all five fields match t, to the minute.
func (e Expression) Matches(t time.Time) bool {
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, f := range e.fields {
		if !f.matches(values[i]) {
			return false
		}
	}
	return true
}

// Next returns the first matching minute strictly after t, searching up to a
// year ahead. It returns false if the expression never matches in that window.
func (e Expression) Next(t time.Time) (time.Time, bool) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := candidate.AddDate(1, 0, 1)
	for candidate.Before(limit) {
		if e.Matches(candidate) {
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, false
}

// String returns the normalized expression.
func (e Expression) String() string {
	return e.raw
}

// IsZero reports whether the expression was never parsed.
func (e Expression) IsZero() bool {
	return e.raw == ""
}

// Package utils holds the helpers shared by the HTTP modules: error to
// response mapping, request validation and a few generic slice and string
// functions.
package utils

import (
	"fmt"
	"strings"
	"time"
)

/* some Functional Programming in Go */

type mapFunc[E any, R any] func(E) R

// Map applies f to every element of s.
func Map[S ~[]E, E any, R any](s S, f mapFunc[E, R]) []R {
	result := make([]R, len(s))
	for i, e := range s {
		result[i] = f(e)
	}

	return result
}

type keepFunc[E any] func(E) bool

// Filter keeps the elements of s for which f holds.
func Filter[S ~[]E, E any](s S, f keepFunc[E]) S {
	result := S{}
	for _, v := range s {
		if f(v) {
			result = append(result, v)
		}
	}

	return result
}

/* generic helpers */

// ToSnakeCase will format a given string to snake case
func ToSnakeCase(input string) string {
	output := make([]rune, 0, len(input)+4)
	runes := []rune(input)
	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			// keep acronyms such as "ID" together
			if prev < 'A' || prev > 'Z' {
				output = append(output, '_')
			}
		}
		output = append(output, r)
	}

	return strings.ToLower(string(output))
}

// DateLayout is the calendar date format accepted for due dates.
const DateLayout = "2006-01-02"

// ParseDate accepts a calendar date or an RFC3339 timestamp. A calendar
// date resolves to midnight UTC, or to the last nanosecond of the day when
// endOfDay is set.
func ParseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}

	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC3339", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

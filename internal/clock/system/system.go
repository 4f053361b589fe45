// Package system provides the wall clock used for run and task timing.
package system

import "time"

// Clock implements harvest.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time with its monotonic reading intact, so
// durations between two calls survive wall clock steps. Callers that persist
// or publish a timestamp convert it with UTC().
func (Clock) Now() time.Time {
	return time.Now()
}

// Package scheduler implements the lead lifecycle engine for the brokerdesk
// platform: a set of batch rule jobs that reclaim, age, and release lead
// records based on time windows and scoped fetch configuration, plus the
// cron driver that runs them.
//
// Each job execution opens its own unit of work, processes candidates
// sequentially, tolerates per-record failures (log, record, continue), and
// commits once at the end. Audit stories are written through an independent
// connection so they are not atomic with the job's own commit.
package scheduler

import "time"

// Clock produces the current instant. All lifecycle decisions are made
// against an injected Clock so tests can pin "now" to a fixed value.
type Clock interface {
	// Now returns the current instant in UTC.
	Now() time.Time
}

// systemClock is the production Clock backed by the OS clock.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns the production Clock.
func SystemClock() Clock {
	return systemClock{}
}

// ToUTC normalizes a possibly-absent stored timestamp to UTC.
//
// All timestamps in the store are written by this system in UTC; columns
// declared without a zone therefore decode as UTC wall-clock values, never
// local time. ToUTC makes that policy explicit at every comparison site:
// nil stays nil, everything else is converted to UTC.
func ToUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

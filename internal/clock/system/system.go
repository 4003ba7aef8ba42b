// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements portal.Clock. Timestamps are UTC; calendar dates are
// computed in the configured portal time zone.
type Clock struct {
	loc *time.Location
}

// New creates a Clock whose calendar dates are in UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn creates a Clock whose calendar dates are in loc.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in UTC.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the current calendar date (YYYY-MM-DD) in the clock's zone.
func (c *Clock) Today() string {
	return time.Now().In(c.loc).Format(time.DateOnly)
}

// Location returns the zone used for calendar dates.
func (c *Clock) Location() *time.Location {
	return c.loc
}

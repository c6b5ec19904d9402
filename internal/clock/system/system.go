// Package system provides the wall-clock implementation of pipeline.Clock.
package system

import "time"

// Clock reads the system wall clock in UTC.
type Clock struct{}

// New returns a system clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}

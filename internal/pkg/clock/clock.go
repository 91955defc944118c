// Package clock abstracts time so delay-progressive sequences and
// alert cooldowns can be tested in virtual time.
package clock

import "time"

// Clock is the time capability injected into components that schedule
// or measure durations.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) *time.Ticker
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (systemClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// System returns the real wall clock.
func System() Clock { return systemClock{} }

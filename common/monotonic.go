/*
	Copyright (c) 2015-2016 Christopher Young
	Distributable under the terms of The "BSD New"" License
	that can be found in the LICENSE file, herein included
	as part of this header.

	monotonic.go: Monotonic sample clock used to stamp IMU readings.
*/

package common

import (
	"time"

	humanize "github.com/dustin/go-humanize"
)

// Clock supplies sample timestamps. Successive calls must never go backwards.
type Clock interface {
	Now() time.Time
}

// Monotonic is a Clock backed by the runtime's monotonic reading, so wall
// clock steps (NTP, RTC-less boards setting the time late) never show up as
// negative or huge sample intervals.
type Monotonic struct {
	start time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Now returns the current time. The result carries a monotonic reading, so
// differences between two results are immune to wall clock changes.
func (m *Monotonic) Now() time.Time {
	return time.Now()
}

// Since returns the monotonic time elapsed since t.
func (m *Monotonic) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Uptime returns the time since the clock was created.
func (m *Monotonic) Uptime() time.Duration {
	return time.Since(m.start)
}

// HumanizeTime formats t relative to now, e.g. "3 minutes ago".
func (m *Monotonic) HumanizeTime(t time.Time) string {
	return humanize.RelTime(t, time.Now(), "ago", "from now")
}

// HumanizeUptime formats the clock's start relative to now.
func (m *Monotonic) HumanizeUptime() string {
	return m.HumanizeTime(m.start)
}

// ManualClock is a Clock advanced by hand. It is used for replay and tests.
type ManualClock struct {
	T time.Time
}

func (c *ManualClock) Now() time.Time {
	return c.T
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}

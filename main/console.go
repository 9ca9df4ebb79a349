package main

import (
	"fmt"
	"io"
	"sync"
)

// consoleSink keeps a single status row on a terminal, rewritten in place
// after every update.
type consoleSink struct {
	mu      sync.Mutex
	w       io.Writer
	started bool
}

func newConsoleSink(w io.Writer) *consoleSink {
	return &consoleSink{w: w}
}

func (c *consoleSink) header() {
	fmt.Fprint(c.w, "   Accel XYZ(m/s^2)  |")
	fmt.Fprint(c.w, "   Gyro XYZ (rad/s)  |")
	fmt.Fprint(c.w, "      R/P/Y (deg)    |")
	fmt.Fprint(c.w, " Ts (ms) |")
	fmt.Fprint(c.w, "\n")
}

func (c *consoleSink) Publish(s attitudeSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.header()
		c.started = true
	}
	e := s.Euler.Degrees()
	fmt.Fprintf(c.w, "\r%6.2f %6.2f %6.2f |%6.1f %6.1f %6.1f |%6.2f %6.2f %6.2f | %5.1fms  |",
		s.Accel.X, s.Accel.Y, s.Accel.Z,
		s.Gyro.X, s.Gyro.Y, s.Gyro.Z,
		e.Roll, e.Pitch, e.Yaw,
		s.Deltat*1000)
}

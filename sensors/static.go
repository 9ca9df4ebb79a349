package sensors

import (
	"github.com/b3nn0/imuattitude/ahrs"
	"github.com/b3nn0/imuattitude/common"
)

// Static simulates a sensor held at a fixed attitude and turning at a fixed
// rate. The accelerometer always reports the gravity of the initial
// attitude, so it is only realistic for zero or slow rates.
type Static struct {
	accel  ahrs.Vector
	gyro   ahrs.Vector
	clock  common.Clock
	closed bool
}

// NewStatic returns a simulated sensor at attitude (in the filter's Euler
// convention) with angular rate gyro in rad/s.
func NewStatic(attitude ahrs.Euler, gyro ahrs.Vector, clock common.Clock) *Static {
	g := ahrs.Gravity(ahrs.FromEuler(attitude))
	return &Static{
		accel: ahrs.Vector{X: g.X * StandardGravity, Y: g.Y * StandardGravity, Z: g.Z * StandardGravity},
		gyro:  gyro,
		clock: clock,
	}
}

func (s *Static) Read() (Sample, error) {
	if s.closed {
		return Sample{}, ErrClosed
	}
	return Sample{T: s.clock.Now(), Accel: s.accel, Gyro: s.gyro}, nil
}

func (s *Static) Close() error {
	s.closed = true
	return nil
}

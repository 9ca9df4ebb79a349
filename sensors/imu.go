// Package sensors provides the IMU sample sources that feed the attitude filter.
package sensors

import (
	"errors"
	"time"

	"github.com/b3nn0/imuattitude/ahrs"
)

// StandardGravity is one g in m/s^2.
const StandardGravity = 9.80665

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("sensors: reader closed")

// Sample is one accelerometer and gyroscope reading, stamped when it was taken.
type Sample struct {
	T     time.Time
	Accel ahrs.Vector // m/s^2
	Gyro  ahrs.Vector // rad/s
}

// IMUReader provides an interface to the sources of inertial samples: a
// real InvenSense MPU6050, a recorded trace or a simulated sensor.
// Magnetometer data is never read.
type IMUReader interface {
	// Read returns the next sample. Live sensors block on the bus; replayed
	// traces return io.EOF when exhausted.
	Read() (Sample, error)
	// Close stops reading the sensor.
	Close() error
}

package ahrs

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Euler holds Tait-Bryan angles in radians.
type Euler struct {
	Roll, Pitch, Yaw float64
}

// Degrees returns e converted to degrees.
func (e Euler) Degrees() Euler {
	return Euler{Roll: e.Roll / Deg, Pitch: e.Pitch / Deg, Yaw: e.Yaw / Deg}
}

// ToEuler converts a unit quaternion to Euler angles, using the expressions
// from Madgwick's report: the angles describe the orientation of the earth
// frame relative to the sensor frame, so the signs are the opposite of the
// sensor's own ZYX angles.
//
// Roll and yaw are ill-defined when pitch is close to ±90 degrees (gimbal
// lock). Use the quaternion directly when that matters.
func ToEuler(q quat.Number) Euler {
	q1, q2, q3, q4 := q.Real, q.Imag, q.Jmag, q.Kmag
	return Euler{
		Roll:  math.Atan2(2*(q3*q4-q1*q2), 2*(q1*q1+q4*q4)-1),
		Pitch: -math.Asin(clamp(2*(q2*q4+q1*q3), -1, 1)),
		Yaw:   math.Atan2(2*(q2*q3-q1*q4), 2*(q1*q1+q2*q2)-1),
	}
}

// FromEuler is the inverse of ToEuler.
func FromEuler(e Euler) quat.Number {
	cr, sr := math.Cos(e.Roll/2), math.Sin(e.Roll/2)
	cp, sp := math.Cos(e.Pitch/2), math.Sin(e.Pitch/2)
	cy, sy := math.Cos(e.Yaw/2), math.Sin(e.Yaw/2)

	// ZYX quaternion of the sensor, conjugated.
	return quat.Conj(quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	})
}

// Gravity returns the unit gravity direction that an accelerometer at rest
// would measure when the filter holds q.
func Gravity(q quat.Number) Vector {
	q1, q2, q3, q4 := q.Real, q.Imag, q.Jmag, q.Kmag
	return Vector{
		X: 2 * (q2*q4 - q1*q3),
		Y: 2 * (q1*q2 + q3*q4),
		Z: q1*q1 - q2*q2 - q3*q3 + q4*q4,
	}
}

func clamp(x, lo, hi float64) float64 {
	switch {
	case x > hi:
		return hi
	case x < lo:
		return lo
	}
	return x
}

// Package ahrs implements the IMU-only gradient-descent orientation filter
// described by S. Madgwick, "An efficient orientation filter for inertial and
// inertial/magnetic sensor arrays" (2010).
//
// The filter fuses one gyroscope sample and one accelerometer sample per call.
// No magnetometer is used, so yaw has no absolute reference and drifts with
// the gyro integration error.
//
// A Filter is not safe for concurrent use. Callers running updates from more
// than one goroutine must serialize access themselves.
package ahrs

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

const (
	// Deg converts degrees to radians.
	Deg = math.Pi / 180

	// DefaultGyroMeasError is the expected gyro measurement error, 5 deg/s in rad/s.
	DefaultGyroMeasError = math.Pi * (5.0 / 180.0)

	// Below these squared norms a vector is treated as zero.
	AccNormToleranceSquared      = 1e-12 * 1e-12
	GradientNormToleranceSquared = 1e-12 * 1e-12
	QuatNormToleranceSquared     = 1e-12 * 1e-12
)

// Vector is a 3-axis sensor reading in the sensor frame.
type Vector struct {
	X, Y, Z float64
}

func (v Vector) finite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// Config holds the filter's tunable parameters.
type Config struct {
	// GyroMeasError is the expected gyroscope measurement error in rad/s.
	// Larger values trust the accelerometer correction more.
	GyroMeasError float64
}

// DefaultConfig returns the configuration used by the reference design.
func DefaultConfig() Config {
	return Config{GyroMeasError: DefaultGyroMeasError}
}

// Filter holds the estimated orientation quaternion of the sensor and the
// feedback gain derived from its Config. The zero value is uninitialized and
// rejects updates until Initialize is called.
type Filter struct {
	q     quat.Number
	beta  float64
	ready bool
}

// NewFilter returns a filter at the identity orientation.
func NewFilter(cfg Config) (*Filter, error) {
	if !isFinite(cfg.GyroMeasError) || cfg.GyroMeasError < 0 {
		return nil, ErrInvalidConfig
	}
	f := &Filter{beta: math.Sqrt(3.0/4.0) * cfg.GyroMeasError}
	f.Initialize()
	return f, nil
}

// Initialize resets the orientation to the identity quaternion.
func (f *Filter) Initialize() {
	f.q = quat.Number{Real: 1}
	f.ready = true
}

// Ready reports whether Initialize has been called.
func (f *Filter) Ready() bool {
	return f.ready
}

// Beta returns the feedback gain.
func (f *Filter) Beta() float64 {
	return f.beta
}

// Quaternion returns the current orientation estimate.
func (f *Filter) Quaternion() quat.Number {
	return f.q
}

// Euler returns the current orientation as Euler angles.
func (f *Filter) Euler() Euler {
	return ToEuler(f.q)
}

// Update advances the orientation estimate by deltat seconds using gyro
// (rad/s) and accel (any unit). On error the estimate is left unchanged.
func (f *Filter) Update(gyro, accel Vector, deltat float64) error {
	if !f.ready {
		return ErrUninitialized
	}
	if !gyro.finite() || !accel.finite() || !isFinite(deltat) {
		return ErrNonFiniteInput
	}
	if deltat <= 0 {
		return ErrNonPositiveDeltat
	}

	// Normalise the accelerometer measurement
	norm := accel.X*accel.X + accel.Y*accel.Y + accel.Z*accel.Z
	if norm < AccNormToleranceSquared {
		return ErrZeroAccel
	}
	norm = math.Sqrt(norm)
	aX, aY, aZ := accel.X/norm, accel.Y/norm, accel.Z/norm

	q1, q2, q3, q4 := f.q.Real, f.q.Imag, f.q.Jmag, f.q.Kmag
	twoQ1 := 2 * q1
	twoQ2 := 2 * q2
	twoQ3 := 2 * q3

	// Objective function and Jacobian
	f1 := twoQ2*q4 - twoQ1*q3 - aX
	f2 := twoQ1*q2 + twoQ3*q4 - aY
	f3 := 1 - twoQ2*q2 - twoQ3*q3 - aZ
	j11or24 := twoQ3 // J_11 negated in matrix multiplication
	j12or23 := 2 * q4
	j13or22 := twoQ1 // J_12 negated in matrix multiplication
	j14or21 := twoQ2
	j32 := 2 * j14or21 // negated in matrix multiplication
	j33 := 2 * j11or24 // negated in matrix multiplication

	// Gradient
	grad := quat.Number{
		Real: j14or21*f2 - j11or24*f1,
		Imag: j12or23*f1 + j13or22*f2 - j32*f3,
		Jmag: j12or23*f2 - j33*f3 - j13or22*f1,
		Kmag: j14or21*f1 + j11or24*f2,
	}
	if n := sqNorm(grad); n < GradientNormToleranceSquared {
		// Already aligned with gravity, the accelerometer has nothing to add.
		grad = quat.Number{}
	} else {
		grad = quat.Scale(1/math.Sqrt(n), grad)
	}

	// Rate of change of quaternion from the gyroscope, q' = 1/2 q ⊗ ω
	qDot := quat.Scale(0.5, quat.Mul(f.q, quat.Number{Imag: gyro.X, Jmag: gyro.Y, Kmag: gyro.Z}))
	qDot = quat.Sub(qDot, quat.Scale(f.beta, grad))

	next := quat.Add(f.q, quat.Scale(deltat, qDot))
	n := sqNorm(next)
	if !isFinite(n) || n < QuatNormToleranceSquared {
		return ErrNumericFailure
	}
	f.q = quat.Scale(1/math.Sqrt(n), next)
	return nil
}

func sqNorm(q quat.Number) float64 {
	return q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

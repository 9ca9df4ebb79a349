package ahrs

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the parent of every error caused by a bad sample. The
// caller may skip the sample and try again with the next one.
var ErrInvalidInput = errors.New("ahrs: invalid input")

var (
	ErrZeroAccel         = fmt.Errorf("%w: zero-norm accelerometer vector", ErrInvalidInput)
	ErrNonPositiveDeltat = fmt.Errorf("%w: non-positive deltat", ErrInvalidInput)
	ErrNonFiniteInput    = fmt.Errorf("%w: non-finite sample value", ErrInvalidInput)
)

var (
	// ErrNumericFailure means the integrated quaternion collapsed to zero or
	// overflowed. The previous estimate is kept.
	ErrNumericFailure = errors.New("ahrs: degenerate quaternion after integration")

	ErrUninitialized = errors.New("ahrs: filter not initialized")
	ErrInvalidConfig = errors.New("ahrs: gyro measurement error must be finite and non-negative")
)

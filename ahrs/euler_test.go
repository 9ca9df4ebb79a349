package ahrs

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/num/quat"
)

func TestToEulerIdentity(t *testing.T) {
	assert.Equal(t, Euler{}, ToEuler(quat.Number{Real: 1}))
}

func TestEulerRoundTrip(t *testing.T) {
	tests := []Euler{
		{Roll: 10 * Deg},
		{Pitch: -20 * Deg},
		{Yaw: 135 * Deg},
		{Roll: -170 * Deg, Pitch: 45 * Deg, Yaw: -30 * Deg},
		{Roll: 5 * Deg, Pitch: 85 * Deg, Yaw: 60 * Deg},
	}
	for _, want := range tests {
		q := FromEuler(want)
		assert.InDelta(t, 1, quat.Abs(q), 1e-12)

		got := ToEuler(q)
		assert.InDelta(t, want.Roll, got.Roll, 1e-9)
		assert.InDelta(t, want.Pitch, got.Pitch, 1e-9)
		assert.InDelta(t, want.Yaw, got.Yaw, 1e-9)
	}
}

func TestPitchClamp(t *testing.T) {
	// 2(q2q4 + q1q3) overshoots 1 for this slightly non-unit quaternion.
	q := quat.Number{Real: 0.7072, Jmag: 0.7072}
	e := ToEuler(q)
	assert.False(t, math.IsNaN(e.Pitch))
	assert.Equal(t, -math.Pi/2, e.Pitch)

	e = ToEuler(quat.Number{Real: 0.7072, Jmag: -0.7072})
	assert.Equal(t, math.Pi/2, e.Pitch)

	r := rand.New(rand.NewSource(3))
	for i := 0; i < 10000; i++ {
		q := quat.Number{
			Real: r.NormFloat64(),
			Imag: r.NormFloat64(),
			Jmag: r.NormFloat64(),
			Kmag: r.NormFloat64(),
		}
		e := ToEuler(q)
		if math.IsNaN(e.Pitch) {
			t.Fatalf("pitch is NaN for %v", q)
		}
	}
}

func TestGimbalLock(t *testing.T) {
	// At +/-90 degrees pitch only roll minus yaw (or their sum) is observable,
	// but every angle must stay finite.
	e := ToEuler(FromEuler(Euler{Roll: 30 * Deg, Pitch: 90 * Deg, Yaw: 10 * Deg}))
	assert.True(t, scalar.EqualWithinAbs(e.Pitch, 90*Deg, 1e-6))
	assert.False(t, math.IsNaN(e.Roll))
	assert.False(t, math.IsNaN(e.Yaw))
}

func TestGravity(t *testing.T) {
	v := Gravity(quat.Number{Real: 1})
	assert.Equal(t, Vector{Z: 1}, v)

	v = Gravity(FromEuler(Euler{Roll: 45 * Deg}))
	assert.InDelta(t, 0, v.X, 1e-12)
	assert.InDelta(t, -math.Sqrt2/2, v.Y, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, v.Z, 1e-12)

	v = Gravity(FromEuler(Euler{Pitch: 30 * Deg}))
	assert.InDelta(t, 0.5, v.X, 1e-12)
	assert.InDelta(t, 0, v.Y, 1e-12)
	assert.InDelta(t, math.Sqrt(3)/2, v.Z, 1e-12)
}

func TestDegrees(t *testing.T) {
	e := Euler{Roll: math.Pi, Pitch: math.Pi / 2, Yaw: -math.Pi / 4}.Degrees()
	assert.InDelta(t, 180, e.Roll, 1e-12)
	assert.InDelta(t, 90, e.Pitch, 1e-12)
	assert.InDelta(t, -45, e.Yaw, 1e-12)
}

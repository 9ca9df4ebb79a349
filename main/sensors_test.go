package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/b3nn0/imuattitude/ahrs"
	"github.com/b3nn0/imuattitude/common"
	"github.com/b3nn0/imuattitude/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeIMU struct {
	samples []sensors.Sample
	errs    []error
	reads   int
	closed  bool
}

func (f *fakeIMU) Read() (sensors.Sample, error) {
	i := f.reads
	f.reads++
	if i < len(f.errs) && f.errs[i] != nil {
		return sensors.Sample{}, f.errs[i]
	}
	if i >= len(f.samples) {
		return sensors.Sample{}, io.EOF
	}
	return f.samples[i], nil
}

func (f *fakeIMU) Close() error {
	f.closed = true
	return nil
}

type collectSink struct {
	snaps []attitudeSnapshot
}

func (c *collectSink) Publish(s attitudeSnapshot) { c.snaps = append(c.snaps, s) }

type collectRecorder struct {
	samples []sensors.Sample
}

func (c *collectRecorder) Record(s sensors.Sample) { c.samples = append(c.samples, s) }

func level(t time.Time) sensors.Sample {
	return sensors.Sample{T: t, Accel: ahrs.Vector{Z: sensors.StandardGravity}}
}

func tilted(t time.Time, e ahrs.Euler) sensors.Sample {
	g := ahrs.Gravity(ahrs.FromEuler(e))
	return sensors.Sample{T: t, Accel: ahrs.Vector{
		X: g.X * sensors.StandardGravity,
		Y: g.Y * sensors.StandardGravity,
		Z: g.Z * sensors.StandardGravity,
	}}
}

func newTestLoop(t *testing.T, imu sensors.IMUReader, cfg ahrs.Config, period time.Duration) *attitudeLoop {
	t.Helper()
	l, err := newAttitudeLoop(imu, cfg, period)
	require.NoError(t, err)
	return l
}

func TestLoopMeasuresDeltat(t *testing.T) {
	imu := &fakeIMU{samples: []sensors.Sample{
		level(t0),
		level(t0.Add(20 * time.Millisecond)),
		level(t0.Add(25 * time.Millisecond)),
	}}
	sink := &collectSink{}
	l := newTestLoop(t, imu, ahrs.DefaultConfig(), 10*time.Millisecond)
	l.sinks = []attitudeSink{sink}

	for range imu.samples {
		require.NoError(t, l.step())
	}
	require.Len(t, sink.snaps, 3)
	// The first sample has no predecessor and uses the nominal period.
	assert.InDelta(t, 0.010, sink.snaps[0].Deltat, 1e-12)
	assert.InDelta(t, 0.020, sink.snaps[1].Deltat, 1e-12)
	assert.InDelta(t, 0.005, sink.snaps[2].Deltat, 1e-12)
	assert.Equal(t, uint64(3), sink.snaps[2].Updates)
	assert.Equal(t, sink.snaps[2], l.Snapshot())
}

func TestLoopSkipsInvalidSample(t *testing.T) {
	bad := level(t0.Add(10 * time.Millisecond))
	bad.Accel = ahrs.Vector{}
	imu := &fakeIMU{samples: []sensors.Sample{
		level(t0),
		bad,
		level(t0.Add(20 * time.Millisecond)),
	}}
	rec := &collectRecorder{}
	l := newTestLoop(t, imu, ahrs.DefaultConfig(), 10*time.Millisecond)
	l.recorder = rec

	require.NoError(t, l.step())
	before := l.filter.Quaternion()

	err := l.step()
	assert.ErrorIs(t, err, ahrs.ErrZeroAccel)
	assert.Equal(t, before, l.filter.Quaternion())

	require.NoError(t, l.step())
	snap := l.Snapshot()
	assert.InDelta(t, 0.020, snap.Deltat, 1e-12)
	assert.Equal(t, uint64(2), snap.Updates)
	assert.Equal(t, uint64(1), snap.Rejected)
	// Rejected samples are still traced.
	assert.Len(t, rec.samples, 3)
}

func TestLoopNonPositiveDeltat(t *testing.T) {
	imu := &fakeIMU{samples: []sensors.Sample{level(t0), level(t0)}}
	l := newTestLoop(t, imu, ahrs.DefaultConfig(), 10*time.Millisecond)

	require.NoError(t, l.step())
	assert.ErrorIs(t, l.step(), ahrs.ErrNonPositiveDeltat)
	assert.Equal(t, uint64(1), l.Snapshot().Updates)
}

func TestLoopCage(t *testing.T) {
	imu := &fakeIMU{}
	for i := 0; i < 100; i++ {
		imu.samples = append(imu.samples, tilted(t0.Add(time.Duration(i)*10*time.Millisecond), ahrs.Euler{Roll: 30 * ahrs.Deg}))
	}
	l := newTestLoop(t, imu, ahrs.Config{GyroMeasError: 20 * ahrs.Deg}, 10*time.Millisecond)
	for range imu.samples {
		require.NoError(t, l.step())
	}
	require.NotEqual(t, quat.Number{Real: 1}, l.filter.Quaternion())

	// Queued cage requests collapse into one.
	l.Cage()
	l.Cage()
	assert.Len(t, l.cage, 1)

	<-l.cage
	l.reset()
	assert.Equal(t, quat.Number{Real: 1}, l.filter.Quaternion())
	assert.True(t, l.last.IsZero())
}

func TestLoopNumericFailureResets(t *testing.T) {
	imu := &fakeIMU{samples: []sensors.Sample{
		{T: t0, Accel: ahrs.Vector{Y: sensors.StandardGravity}},
	}}
	l := newTestLoop(t, imu, ahrs.Config{GyroMeasError: 1e308}, time.Second)

	err := l.step()
	assert.ErrorIs(t, err, ahrs.ErrNumericFailure)
	assert.Equal(t, quat.Number{Real: 1}, l.filter.Quaternion())
	assert.True(t, l.last.IsZero())
	assert.Equal(t, uint64(1), l.rejected)
}

func TestLoopRunEndsWithTrace(t *testing.T) {
	imu := &fakeIMU{samples: []sensors.Sample{
		level(t0),
		level(t0.Add(10 * time.Millisecond)),
		level(t0.Add(20 * time.Millisecond)),
	}}
	l := newTestLoop(t, imu, ahrs.DefaultConfig(), time.Millisecond)

	require.NoError(t, l.run(context.Background()))
	assert.Equal(t, uint64(3), l.Snapshot().Updates)
}

func TestLoopRunGivesUpOnReadErrors(t *testing.T) {
	errBus := errors.New("i2c: no ack")
	imu := &fakeIMU{}
	for i := 0; i < 20; i++ {
		imu.errs = append(imu.errs, errBus)
	}
	l := newTestLoop(t, imu, ahrs.DefaultConfig(), time.Millisecond)

	err := l.run(context.Background())
	assert.ErrorIs(t, err, errBus)
	assert.True(t, imu.closed)
	assert.Equal(t, int(numRetries)+1, imu.reads)
}

func TestLoopRunRecoversFromReadErrors(t *testing.T) {
	errBus := errors.New("i2c: no ack")
	imu := &fakeIMU{
		samples: []sensors.Sample{{}, {}, level(t0)},
		errs:    []error{errBus, errBus},
	}
	l := newTestLoop(t, imu, ahrs.DefaultConfig(), time.Millisecond)

	require.NoError(t, l.run(context.Background()))
	assert.False(t, imu.closed)
	assert.Equal(t, uint64(1), l.Snapshot().Updates)
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	clock := common.NewMonotonic()
	imu := sensors.NewStatic(ahrs.Euler{Pitch: 10 * ahrs.Deg}, ahrs.Vector{}, clock)
	l := newTestLoop(t, imu, ahrs.DefaultConfig(), time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := l.run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotZero(t, l.Snapshot().Updates)
}

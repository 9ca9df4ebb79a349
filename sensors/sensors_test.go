package sensors

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/b3nn0/imuattitude/ahrs"
	"github.com/b3nn0/imuattitude/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	regs   map[byte]byte
	writes [][2]byte
	err    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: map[byte]byte{WHO_AM_I: 0x68}}
}

func (b *fakeBus) ReadByteFromReg(addr, reg byte) (byte, error) {
	if b.err != nil {
		return 0, b.err
	}
	return b.regs[reg], nil
}

func (b *fakeBus) ReadFromReg(addr, reg byte, value []byte) error {
	if b.err != nil {
		return b.err
	}
	for i := range value {
		value[i] = b.regs[reg+byte(i)]
	}
	return nil
}

func (b *fakeBus) WriteByteToReg(addr, reg, value byte) error {
	if b.err != nil {
		return b.err
	}
	b.writes = append(b.writes, [2]byte{reg, value})
	b.regs[reg] = value
	return nil
}

func (b *fakeBus) setWord(reg byte, v int16) {
	b.regs[reg] = byte(uint16(v) >> 8)
	b.regs[reg+1] = byte(uint16(v))
}

func TestMPU6050Read(t *testing.T) {
	bus := newFakeBus()
	clock := &common.ManualClock{T: time.Unix(1000, 0)}
	m, err := NewMPU6050(bus, clock, DefaultMPU6050Config())
	require.NoError(t, err)

	assert.Equal(t, [2]byte{PWR_MGMT_1, 0x01}, bus.writes[0])
	assert.Equal(t, byte(0x08), bus.regs[ACCEL_CONFIG]) // +/-4 g
	assert.Equal(t, byte(0x00), bus.regs[GYRO_CONFIG])  // +/-250 deg/s

	bus.setWord(ACCEL_XOUT_H, 0)
	bus.setWord(ACCEL_XOUT_H+2, -4096)
	bus.setWord(ACCEL_XOUT_H+4, 8192)
	bus.setWord(ACCEL_XOUT_H+8, 131)
	bus.setWord(ACCEL_XOUT_H+10, -262)
	bus.setWord(ACCEL_XOUT_H+12, 0)

	s, err := m.Read()
	require.NoError(t, err)
	assert.Equal(t, clock.T, s.T)
	assert.InDelta(t, 0, s.Accel.X, 1e-9)
	assert.InDelta(t, -StandardGravity/2, s.Accel.Y, 1e-9)
	assert.InDelta(t, StandardGravity, s.Accel.Z, 1e-9)
	assert.InDelta(t, ahrs.Deg, s.Gyro.X, 1e-9)
	assert.InDelta(t, -2*ahrs.Deg, s.Gyro.Y, 1e-9)
	assert.InDelta(t, 0, s.Gyro.Z, 1e-9)

	require.NoError(t, m.Close())
	assert.Equal(t, byte(0x40), bus.regs[PWR_MGMT_1])
	_, err = m.Read()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMPU6050Errors(t *testing.T) {
	bus := newFakeBus()
	bus.regs[WHO_AM_I] = 0x71
	_, err := NewMPU6050(bus, common.NewMonotonic(), DefaultMPU6050Config())
	assert.ErrorContains(t, err, "WHO_AM_I")

	cfg := DefaultMPU6050Config()
	cfg.GyroRange = 300
	_, err = NewMPU6050(newFakeBus(), common.NewMonotonic(), cfg)
	assert.Error(t, err)

	bus = newFakeBus()
	m, err := NewMPU6050(bus, common.NewMonotonic(), DefaultMPU6050Config())
	require.NoError(t, err)
	busErr := errors.New("i2c timeout")
	bus.err = busErr
	_, err = m.Read()
	assert.ErrorIs(t, err, busErr)
}

func writeTrace(t *testing.T, samples []Sample) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	w := csv.NewWriter(gz)
	for _, s := range samples {
		require.NoError(t, w.Write(FormatTraceRecord(s)))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestReplay(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	samples := []Sample{
		{T: start, Accel: ahrs.Vector{Z: 9.81}, Gyro: ahrs.Vector{X: 0.01}},
		{T: start.Add(9730 * time.Microsecond), Accel: ahrs.Vector{X: 0.1, Z: 9.8}, Gyro: ahrs.Vector{Y: -0.25}},
		{T: start.Add(20 * time.Millisecond), Accel: ahrs.Vector{Y: 1.0 / 3}, Gyro: ahrs.Vector{Z: 1e-7}},
	}
	path := filepath.Join(t.TempDir(), "trace.csv.gz")
	require.NoError(t, os.WriteFile(path, writeTrace(t, samples), 0644))

	r, err := OpenReplay(path)
	require.NoError(t, err)
	defer r.Close()

	for _, want := range samples {
		got, err := r.Read()
		require.NoError(t, err)
		assert.True(t, want.T.Equal(got.T))
		assert.Equal(t, want.Accel, got.Accel)
		assert.Equal(t, want.Gyro, got.Gyro)
	}
	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, r.Close())
	_, err = r.Read()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReplayBadRecord(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("2024-05-01T12:00:00Z,1,2,3,4,5,6\nnot-a-time,1,2,3,4,5,6\n2024-05-01T12:00:00Z,1,2\n"))
	require.NoError(t, gz.Close())

	r, err := NewReplay(&buf)
	require.NoError(t, err)
	_, err = r.Read()
	require.NoError(t, err)
	_, err = r.Read()
	assert.ErrorContains(t, err, "trace line 2")
	_, err = r.Read()
	assert.ErrorContains(t, err, "3 fields")
}

func TestReplayNotGzip(t *testing.T) {
	_, err := NewReplay(bytes.NewReader([]byte("plain text")))
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	clock := &common.ManualClock{T: time.Unix(5, 0)}
	s := NewStatic(ahrs.Euler{Roll: 30 * ahrs.Deg}, ahrs.Vector{Z: 0.1}, clock)

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, clock.T, got.T)
	assert.InDelta(t, 0, got.Accel.X, 1e-12)
	assert.InDelta(t, -StandardGravity/2, got.Accel.Y, 1e-9)
	assert.Equal(t, ahrs.Vector{Z: 0.1}, got.Gyro)

	require.NoError(t, s.Close())
	_, err = s.Read()
	assert.ErrorIs(t, err, ErrClosed)
}

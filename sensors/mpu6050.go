package sensors

import (
	"fmt"
	"log"

	"github.com/b3nn0/imuattitude/ahrs"
	"github.com/b3nn0/imuattitude/common"
)

// https://www.invensense.com/wp-content/uploads/2015/02/MPU-6000-Register-Map1.pdf
const (
	MPU6050Address    = 0x68
	MPU6050AltAddress = 0x69

	SMPLRT_DIV   = 0x19
	CONFIG       = 0x1A
	GYRO_CONFIG  = 0x1B
	ACCEL_CONFIG = 0x1C
	ACCEL_XOUT_H = 0x3B
	PWR_MGMT_1   = 0x6B
	WHO_AM_I     = 0x75

	whoAmIValue = 0x68
	clockPLLX   = 0x01 // PLL with X axis gyroscope reference
)

// Bus is the part of embd.I2CBus the drivers use.
type Bus interface {
	ReadByteFromReg(addr, reg byte) (byte, error)
	ReadFromReg(addr, reg byte, value []byte) error
	WriteByteToReg(addr, reg, value byte) error
}

// MPU6050Config selects the full scale ranges and the on-chip low pass filter.
type MPU6050Config struct {
	Address    byte
	GyroRange  int // deg/s: 250, 500, 1000 or 2000
	AccelRange int // g: 2, 4, 8 or 16
	DLPF       byte
}

func DefaultMPU6050Config() MPU6050Config {
	return MPU6050Config{
		Address:    MPU6050Address,
		GyroRange:  250,
		AccelRange: 4,
		DLPF:       3, // ~44 Hz gyro and accel bandwidth
	}
}

// MPU6050 represents an InvenSense MPU6050 attached to the I2C bus and
// satisfies the IMUReader interface.
type MPU6050 struct {
	bus        Bus
	clock      common.Clock
	addr       byte
	gyroScale  float64 // LSB per deg/s
	accelScale float64 // LSB per g
	closed     bool
}

// fullScale is a range select value and its sensitivity.
type fullScale struct {
	sel   byte
	scale float64
}

var (
	gyroRanges  = map[int]fullScale{250: {0, 131}, 500: {1, 65.5}, 1000: {2, 32.8}, 2000: {3, 16.4}}
	accelRanges = map[int]fullScale{2: {0, 16384}, 4: {1, 8192}, 8: {2, 4096}, 16: {3, 2048}}
)

// NewMPU6050 wakes the sensor, configures its ranges and returns a reader.
func NewMPU6050(bus Bus, clock common.Clock, cfg MPU6050Config) (*MPU6050, error) {
	gr, ok := gyroRanges[cfg.GyroRange]
	if !ok {
		return nil, fmt.Errorf("mpu6050: unsupported gyro range %d", cfg.GyroRange)
	}
	ar, ok := accelRanges[cfg.AccelRange]
	if !ok {
		return nil, fmt.Errorf("mpu6050: unsupported accel range %d", cfg.AccelRange)
	}

	id, err := bus.ReadByteFromReg(cfg.Address, WHO_AM_I)
	if err != nil {
		return nil, fmt.Errorf("mpu6050: reading WHO_AM_I: %w", err)
	}
	if id&0x7E != whoAmIValue {
		return nil, fmt.Errorf("mpu6050: unexpected WHO_AM_I 0x%02X", id)
	}

	for _, w := range []struct{ reg, val byte }{
		{PWR_MGMT_1, clockPLLX}, // wake up
		{SMPLRT_DIV, 0},
		{CONFIG, cfg.DLPF & 0x07},
		{GYRO_CONFIG, gr.sel << 3},
		{ACCEL_CONFIG, ar.sel << 3},
	} {
		if err := bus.WriteByteToReg(cfg.Address, w.reg, w.val); err != nil {
			return nil, fmt.Errorf("mpu6050: WriteByteToReg(0x%02X, 0x%02X, 0x%02X): %w", cfg.Address, w.reg, w.val, err)
		}
	}
	log.Printf("AHRS Info: MPU6050 at 0x%02X, gyro %d deg/s, accel %d g\n", cfg.Address, cfg.GyroRange, cfg.AccelRange)

	return &MPU6050{
		bus:        bus,
		clock:      clock,
		addr:       cfg.Address,
		gyroScale:  gr.scale,
		accelScale: ar.scale,
	}, nil
}

// Read burst-reads accel, temperature and gyro registers so all axes come
// from the same sample, and converts them to m/s^2 and rad/s.
func (m *MPU6050) Read() (Sample, error) {
	if m.closed {
		return Sample{}, ErrClosed
	}
	buf := make([]byte, 14)
	if err := m.bus.ReadFromReg(m.addr, ACCEL_XOUT_H, buf); err != nil {
		return Sample{}, fmt.Errorf("mpu6050: reading sample: %w", err)
	}
	t := m.clock.Now()

	word := func(i int) float64 {
		return float64(int16(uint16(buf[i])<<8 | uint16(buf[i+1])))
	}
	return Sample{
		T: t,
		Accel: ahrs.Vector{
			X: word(0) / m.accelScale * StandardGravity,
			Y: word(2) / m.accelScale * StandardGravity,
			Z: word(4) / m.accelScale * StandardGravity,
		},
		// buf[6:8] is the die temperature.
		Gyro: ahrs.Vector{
			X: word(8) / m.gyroScale * ahrs.Deg,
			Y: word(10) / m.gyroScale * ahrs.Deg,
			Z: word(12) / m.gyroScale * ahrs.Deg,
		},
	}, nil
}

// Close puts the sensor to sleep. The bus itself belongs to the caller.
func (m *MPU6050) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.bus.WriteByteToReg(m.addr, PWR_MGMT_1, 0x40)
}

package sensors

import (
	"errors"
	"log"

	"github.com/b3nn0/goflying/icm20948"
	"github.com/b3nn0/imuattitude/ahrs"
	"github.com/kidoman/embd"
)

const (
	icmGyroRange  = 250 // deg/s
	icmAccelRange = 4   // g
	icmUpdateFreq = 100 // Hz, one averaged sample per filter update
	icmLPF        = 25  // Hz
)

var errNoICMData = errors.New("icm20948: no samples averaged")

// ICM20948 represents an InvenSense ICM-20948 attached to the I2C bus and
// satisfies the IMUReader interface. Its magnetometer is left disabled.
type ICM20948 struct {
	mpu    *icm20948.ICM20948
	closed bool
}

// NewICM20948 returns an instance of the ICM-20948 IMUReader, connected to an
// ICM-20948 attached on the I2C bus with either valid address.
func NewICM20948(i2cbus *embd.I2CBus) (*ICM20948, error) {
	log.Println("AHRS Info: Making new ICM20948")
	mpu, err := icm20948.NewICM20948(i2cbus, icmGyroRange, icmAccelRange, icmUpdateFreq, false, false)
	if err != nil {
		return nil, err
	}

	// Set Gyro (Accel) LPFs to 25 Hz to filter out prop/glareshield vibrations above 1200 (1260) RPM
	mpu.SetGyroLPF(icmLPF)
	mpu.SetAccelLPF(icmLPF)

	return &ICM20948{mpu: mpu}, nil
}

// Read returns the average of the readings taken since the last call.
func (m *ICM20948) Read() (Sample, error) {
	if m.closed {
		return Sample{}, ErrClosed
	}
	data := new(icm20948.MPUData)
	for i := 0; data.N == 0 && i < 5; i++ {
		data = <-m.mpu.CAvg
	}
	return icmSample(data)
}

// icmSample converts the driver's g and deg/s averages.
func icmSample(data *icm20948.MPUData) (Sample, error) {
	if data.GAError != nil {
		return Sample{}, data.GAError
	}
	if data.N == 0 {
		return Sample{}, errNoICMData
	}
	return Sample{
		T:     data.T,
		Accel: ahrs.Vector{X: data.A1 * StandardGravity, Y: data.A2 * StandardGravity, Z: data.A3 * StandardGravity},
		Gyro:  ahrs.Vector{X: data.G1 * ahrs.Deg, Y: data.G2 * ahrs.Deg, Z: data.G3 * ahrs.Deg},
	}, nil
}

// Close stops reading the MPU.
func (m *ICM20948) Close() error {
	if !m.closed {
		m.closed = true
		m.mpu.CloseMPU()
	}
	return nil
}

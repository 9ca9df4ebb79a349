package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/b3nn0/imuattitude/ahrs"
	"github.com/b3nn0/imuattitude/sensors"
	"gonum.org/v1/gonum/num/quat"
)

const numRetries uint8 = 5

// attitudeSnapshot is what the sinks see after every update.
type attitudeSnapshot struct {
	T        time.Time
	Accel    ahrs.Vector // m/s^2
	Gyro     ahrs.Vector // rad/s
	Q        quat.Number
	Euler    ahrs.Euler // rad
	Deltat   float64    // s
	Updates  uint64
	Rejected uint64
}

type attitudeSink interface {
	Publish(s attitudeSnapshot)
}

type sampleRecorder interface {
	Record(s sensors.Sample)
}

// readError marks a failure of the sensor itself rather than of a sample.
type readError struct {
	err error
}

func (e *readError) Error() string { return "reading IMU: " + e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

// attitudeLoop owns the filter. Only the loop goroutine touches it; other
// goroutines read the published snapshot.
type attitudeLoop struct {
	imu      sensors.IMUReader
	filter   *ahrs.Filter
	period   time.Duration
	sinks    []attitudeSink
	recorder sampleRecorder
	metrics  *attitudeMetrics

	cage     chan bool
	last     time.Time // stamp of the last sample applied to the filter
	updates  uint64
	rejected uint64

	mu       sync.Mutex
	snapshot attitudeSnapshot
}

func newAttitudeLoop(imu sensors.IMUReader, cfg ahrs.Config, period time.Duration) (*attitudeLoop, error) {
	filter, err := ahrs.NewFilter(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("AHRS Info: Madgwick filter, beta %.4f\n", filter.Beta())
	return &attitudeLoop{
		imu:    imu,
		filter: filter,
		period: period,
		cage:   make(chan bool, 1),
	}, nil
}

// Cage asks the loop to reset the filter to level before the next sample.
func (l *attitudeLoop) Cage() {
	select { // Don't block: only need one cage in the queue at a time.
	case l.cage <- true:
	default:
	}
}

// Snapshot returns the most recent published state.
func (l *attitudeLoop) Snapshot() attitudeSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot
}

// run samples the IMU once per period until ctx is done, a replayed trace
// ends, or the sensor fails numRetries times in a row.
func (l *attitudeLoop) run(ctx context.Context) error {
	var failnum uint8
	timer := time.NewTicker(l.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.cage:
			l.reset()
			continue
		case <-timer.C:
		}

		err := l.step()
		var rerr *readError
		switch {
		case err == nil:
			failnum = 0
		case errors.Is(err, io.EOF):
			log.Println("AHRS Info: end of sample trace")
			return nil
		case errors.As(err, &rerr):
			failnum++
			log.Printf("AHRS Gyro/Accel Error: %s\n", err)
			if failnum > numRetries {
				log.Printf("AHRS Gyro/Accel Error: failed to read %d times, closing IMU\n", failnum-1)
				l.imu.Close()
				return fmt.Errorf("IMU failed %d consecutive reads: %w", failnum-1, rerr.err)
			}
		}
	}
}

func (l *attitudeLoop) reset() {
	log.Println("AHRS Info: caging attitude")
	l.filter.Initialize()
	l.last = time.Time{}
	l.metrics.countReset()
}

// step reads one sample and feeds it to the filter. The interval handed to
// the filter is measured between the stamps of this sample and the last one
// applied, right before the update, so it covers the interval the update
// actually integrates over.
func (l *attitudeLoop) step() error {
	s, err := l.imu.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return &readError{err}
	}
	if l.recorder != nil {
		l.recorder.Record(s)
	}

	deltat := l.period.Seconds()
	if !l.last.IsZero() {
		deltat = s.T.Sub(l.last).Seconds()
	}
	if deltat > 10*l.period.Seconds() {
		logDbg("AHRS Info: long sample interval %.3fs\n", deltat)
	}

	err = l.filter.Update(s.Gyro, s.Accel, deltat)
	switch {
	case err == nil:
		l.last = s.T
		l.updates++
		l.metrics.observeUpdate(deltat)
	case errors.Is(err, ahrs.ErrInvalidInput):
		// Skip the sample. The next interval is measured from the last
		// applied one so the gap is still integrated.
		l.rejected++
		l.metrics.countError("invalid_input")
		logDbg("AHRS Info: skipping sample: %s\n", err)
		return err
	default:
		l.rejected++
		l.metrics.countError("numeric_failure")
		log.Printf("AHRS Error: %s, resetting filter\n", err)
		l.filter.Initialize()
		l.last = time.Time{}
		return err
	}

	snap := attitudeSnapshot{
		T:        s.T,
		Accel:    s.Accel,
		Gyro:     s.Gyro,
		Q:        l.filter.Quaternion(),
		Euler:    l.filter.Euler(),
		Deltat:   deltat,
		Updates:  l.updates,
		Rejected: l.rejected,
	}
	l.mu.Lock()
	l.snapshot = snap
	l.mu.Unlock()

	for _, sink := range l.sinks {
		sink.Publish(snap)
	}
	return nil
}

package main

import (
	"context"
	"time"

	"github.com/b3nn0/imuattitude/common"
	"github.com/prometheus/client_golang/prometheus"
)

// attitudeMetrics exports the filter output and health. A nil
// *attitudeMetrics is valid and records nothing.
type attitudeMetrics struct {
	roll, pitch, yaw prometheus.Gauge
	quaternion       *prometheus.GaugeVec
	updates          prometheus.Counter
	updateErrors     *prometheus.CounterVec
	resets           prometheus.Counter
	sampleInterval   prometheus.Histogram
	uptime           prometheus.Counter
	cpuTemp          prometheus.Gauge
}

func newAttitudeMetrics(reg prometheus.Registerer) *attitudeMetrics {
	m := &attitudeMetrics{
		roll: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attitude_roll_degrees",
			Help: "Current roll estimate.",
		}),
		pitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attitude_pitch_degrees",
			Help: "Current pitch estimate.",
		}),
		yaw: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attitude_yaw_degrees",
			Help: "Current yaw estimate. Drifts, there is no magnetometer.",
		}),
		quaternion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "attitude_quaternion",
			Help: "Current orientation quaternion.",
		}, []string{"component"}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attitude_updates_total",
			Help: "Samples applied to the filter.",
		}),
		updateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attitude_update_errors_total",
			Help: "Samples rejected by the filter.",
		}, []string{"kind"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attitude_resets_total",
			Help: "Filter resets requested by cage.",
		}),
		sampleInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attitude_sample_interval_seconds",
			Help:    "Measured interval between applied samples.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		uptime: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attitude_uptime_seconds_total",
			Help: "Total uptime.",
		}),
		cpuTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "board_cpu_temp_celsius",
			Help: "Current CPU temp.",
		}),
	}
	reg.MustRegister(m.roll, m.pitch, m.yaw, m.quaternion, m.updates, m.updateErrors,
		m.resets, m.sampleInterval, m.uptime, m.cpuTemp)
	return m
}

func (m *attitudeMetrics) Publish(s attitudeSnapshot) {
	if m == nil {
		return
	}
	e := s.Euler.Degrees()
	m.roll.Set(e.Roll)
	m.pitch.Set(e.Pitch)
	m.yaw.Set(e.Yaw)
	m.quaternion.WithLabelValues("w").Set(s.Q.Real)
	m.quaternion.WithLabelValues("x").Set(s.Q.Imag)
	m.quaternion.WithLabelValues("y").Set(s.Q.Jmag)
	m.quaternion.WithLabelValues("z").Set(s.Q.Kmag)
}

func (m *attitudeMetrics) observeUpdate(deltat float64) {
	if m == nil {
		return
	}
	m.updates.Inc()
	m.sampleInterval.Observe(deltat)
}

func (m *attitudeMetrics) countError(kind string) {
	if m == nil {
		return
	}
	m.updateErrors.WithLabelValues(kind).Inc()
}

func (m *attitudeMetrics) countReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

// updateStats ticks the uptime counter and follows the board temperature.
func (m *attitudeMetrics) updateStats(ctx context.Context) {
	go common.CpuTempMonitor(ctx, common.CpuTempPath, 5*time.Second, func(cpuTemp float32) {
		m.cpuTemp.Set(float64(cpuTemp))
	})
	updateTicker := time.NewTicker(1 * time.Second)
	defer updateTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updateTicker.C:
			m.uptime.Inc()
		}
	}
}

var _ attitudeSink = (*attitudeMetrics)(nil)

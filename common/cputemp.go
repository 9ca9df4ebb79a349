package common

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	InvalidCpuTemp = float32(-99.0)

	// CpuTempPath is the Raspberry Pi / BeagleBone thermal zone.
	CpuTempPath = "/sys/class/thermal/thermal_zone0/temp"
)

type CpuTempUpdateFunc func(cpuTemp float32)

// ReadCpuTemp reads a sysfs thermal zone file. Values above 1000 are
// millidegrees.
func ReadCpuTemp(path string) float32 {
	temp, err := os.ReadFile(path)
	if err != nil {
		return InvalidCpuTemp
	}
	tInt, err := strconv.Atoi(strings.TrimSpace(string(temp)))
	if err != nil {
		return InvalidCpuTemp
	}
	if tInt > 1000 {
		return float32(tInt) / float32(1000.0)
	}
	return float32(tInt)
}

/* CpuTempMonitor reads the board temperature every interval and calls
updater with every valid value. It runs in its own goroutine because the
thermal zone read can hang for quite some time on some boards. IMU gyro
drift is temperature dependent, so the value is exported next to the
attitude metrics. */
func CpuTempMonitor(ctx context.Context, path string, interval time.Duration, updater CpuTempUpdateFunc) {
	timer := time.NewTicker(interval)
	defer timer.Stop()
	for {
		if t := ReadCpuTemp(path); IsCPUTempValid(t) {
			updater(t)
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Check if CPU temperature is valid. Assume <= 0 is invalid.
func IsCPUTempValid(cpuTemp float32) bool {
	return cpuTemp > 0
}

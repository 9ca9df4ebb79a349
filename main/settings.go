/*
	Copyright (c) 2015-2016 Christopher Young
	Distributable under the terms of The "BSD New"" License
	that can be found in the LICENSE file, herein included
	as part of this header.

	settings.go: JSON settings file, defaults and validation.
*/

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/b3nn0/imuattitude/ahrs"
	"golang.org/x/exp/slices"
)

const configLocation = "/etc/imuattitude.conf"

const (
	SOURCE_MPU6050  = "mpu6050"
	SOURCE_ICM20948 = "icm20948"
	SOURCE_REPLAY   = "replay"
	SOURCE_STATIC   = "static"
)

var validSources = []string{SOURCE_MPU6050, SOURCE_ICM20948, SOURCE_REPLAY, SOURCE_STATIC}

type settings struct {
	GyroMeasErrorDeg float64 // expected gyro noise, deg/s; sets the filter gain
	SamplePeriodMs   int

	Source       string
	I2CBus       byte
	IMUAddress   byte
	GyroRange    int // deg/s
	AccelRange   int // g
	ReplayFile   string
	StaticRoll   float64 // deg
	StaticPitch  float64 // deg
	StaticYawDps float64 // deg/s

	ConsoleOutput bool
	MetricsAddr   string
	DataLog       bool
	DataLogFile   string
	TraceLog      bool
	LogDir        string
	DEBUG         bool
}

func defaultSettings() settings {
	return settings{
		GyroMeasErrorDeg: 5,
		SamplePeriodMs:   10,
		Source:           SOURCE_MPU6050,
		I2CBus:           2, // Robotics Cape and BeagleBone Blue
		IMUAddress:       0x68,
		GyroRange:        250,
		AccelRange:       4,
		ConsoleOutput:    true,
		MetricsAddr:      ":9978",
		DataLogFile:      "/var/log/imuattitude/attitude.db",
		LogDir:           "/var/log/imuattitude",
	}
}

// readSettings overlays the JSON file at path on the defaults. A missing or
// broken file leaves the defaults in place.
func readSettings(path string) settings {
	s := defaultSettings()
	buf, err := os.ReadFile(path)
	if err != nil {
		log.Printf("can't read settings %s: %s\n", path, err.Error())
		return s
	}
	newSettings := s
	if err := json.Unmarshal(buf, &newSettings); err != nil {
		log.Printf("can't read settings %s: %s\n", path, err.Error())
		return s
	}
	if err := newSettings.validate(); err != nil {
		log.Printf("ignoring settings %s: %s\n", path, err.Error())
		return s
	}
	log.Printf("read in settings.\n")
	return newSettings
}

func saveSettings(path string, s settings) error {
	jsonSettings, err := json.MarshalIndent(&s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, jsonSettings, 0644); err != nil {
		return fmt.Errorf("can't save settings %s: %w", path, err)
	}
	log.Printf("wrote settings.\n")
	return nil
}

func (s settings) validate() error {
	if !slices.Contains(validSources, s.Source) {
		return fmt.Errorf("unknown source %q, want one of %v", s.Source, validSources)
	}
	if s.SamplePeriodMs <= 0 {
		return fmt.Errorf("sample period must be positive, got %d ms", s.SamplePeriodMs)
	}
	if s.Source == SOURCE_REPLAY && s.ReplayFile == "" {
		return fmt.Errorf("replay source needs ReplayFile")
	}
	_, err := ahrs.NewFilter(s.filterConfig())
	return err
}

func (s settings) filterConfig() ahrs.Config {
	return ahrs.Config{GyroMeasError: s.GyroMeasErrorDeg * ahrs.Deg}
}

func (s settings) samplePeriod() time.Duration {
	return time.Duration(s.SamplePeriodMs) * time.Millisecond
}

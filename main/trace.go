// Copyright (c) 2023 Adrian Batzill
// Distributable under the terms of The "BSD New" License
// that can be found in the LICENSE file, herein included
// as part of this header.
// trace.go: record raw IMU samples for future replay

package main

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/b3nn0/imuattitude/sensors"
	"github.com/ricochet2200/go-disk-usage/du"
)

const traceMinFreeBytes = 50 * 1024 * 1024

// TraceLogger writes every sample the loop reads to a gzip-compressed CSV
// file that the replay source can read back.
type TraceLogger struct {
	dir        string
	fileHandle *os.File
	gzWriter   *gzip.Writer
	csvWriter  *csv.Writer
	fileName   string
	records    uint64
	traceMutex sync.Mutex
}

func NewTraceLogger(dir string) *TraceLogger {
	return &TraceLogger{dir: dir}
}

// Record appends s to the open trace. It is a no-op while the logger is stopped.
func (tracer *TraceLogger) Record(s sensors.Sample) {
	tracer.traceMutex.Lock()
	defer tracer.traceMutex.Unlock()
	if tracer.fileHandle == nil {
		return
	}
	if err := tracer.csvWriter.Write(sensors.FormatTraceRecord(s)); err != nil {
		logDbg("AHRS Error: trace write: %s\n", err.Error())
		return
	}
	tracer.records++
}

func (tracer *TraceLogger) Flush() {
	tracer.traceMutex.Lock()
	defer tracer.traceMutex.Unlock()
	if tracer.fileHandle != nil {
		tracer.csvWriter.Flush()
		tracer.gzWriter.Flush()
		tracer.fileHandle.Sync()
	}
}

// Start opens a new trace file named after the current time.
func (tracer *TraceLogger) Start(now time.Time) error {
	tracer.traceMutex.Lock()
	defer tracer.traceMutex.Unlock()
	if tracer.fileHandle != nil {
		return nil
	}
	if err := os.MkdirAll(tracer.dir, os.ModePerm); err != nil {
		return err
	}
	fname := filepath.Join(tracer.dir, now.UTC().Format(time.RFC3339)+"_trace.csv.gz")

	fileHandle, err := os.OpenFile(fname, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to open trace log file: %w", err)
	}
	tracer.gzWriter = gzip.NewWriter(fileHandle)
	tracer.csvWriter = csv.NewWriter(tracer.gzWriter)
	tracer.fileHandle = fileHandle
	tracer.fileName = fname
	tracer.records = 0
	log.Printf("AHRS Info: tracing samples to %s\n", fname)
	return nil
}

func (tracer *TraceLogger) Stop() {
	tracer.traceMutex.Lock()
	defer tracer.traceMutex.Unlock()
	if tracer.fileHandle == nil {
		return
	}
	tracer.csvWriter.Flush()
	tracer.gzWriter.Close()
	tracer.fileHandle.Close()
	log.Printf("AHRS Info: trace %s closed after %d samples\n", tracer.fileName, tracer.records)
	tracer.fileHandle = nil
	tracer.csvWriter = nil
	tracer.gzWriter = nil
}

func (tracer *TraceLogger) IsActive() bool {
	tracer.traceMutex.Lock()
	defer tracer.traceMutex.Unlock()
	return tracer.fileHandle != nil
}

// FileName returns the path of the current or last trace.
func (tracer *TraceLogger) FileName() string {
	tracer.traceMutex.Lock()
	defer tracer.traceMutex.Unlock()
	return tracer.fileName
}

// traceLoggerWatchdog follows the enabled setting, flushes once a second and
// gives up tracing for this run when the disk fills up.
func traceLoggerWatchdog(ctx context.Context, tracer *TraceLogger, enabled func() bool) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer tracer.Stop()
	for {
		if tracer.IsActive() {
			usage := du.NewDiskUsage(tracer.dir)
			if usage.Free() < traceMinFreeBytes {
				// less than 50mb free? deactivate
				log.Printf("Space running out - disable trace logging for this run")
				return
			}
		}

		if tracer.IsActive() && !enabled() {
			tracer.Stop()
		} else if !tracer.IsActive() && enabled() {
			if err := tracer.Start(time.Now()); err != nil {
				log.Printf("AHRS Error: %s\n", err.Error())
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tracer.Flush()
	}
}

/*
	Copyright (c) 2023 Adrian Batzill
	Distributable under the terms of The "BSD New" License
	that can be found in the LICENSE file, herein included
	as part of this header.

	logging.go: Initialize go logging, watch log file size and rotate, delete old logs

*/

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/ricochet2200/go-disk-usage/du"
)

const (
	debugLogFile   = "imuattitude.log"
	maxLogFileSize = 10 * 1024 * 1024 // rotate above this
	minFreeBytes   = 50 * 1024 * 1024 // delete old logs until this much is free
	maxLogFiles    = 9
)

var debugEnabled atomic.Bool

func setDebug(on bool) {
	debugEnabled.Store(on)
}

func logDbg(msg string, args ...any) {
	if debugEnabled.Load() {
		log.Printf(msg, args...)
	}
}

// logFile owns the rotated debug log in one directory.
type logFile struct {
	dir    string
	stdout io.Writer

	mu     sync.Mutex
	handle *os.File
}

func newLogFile(dir string, stdout io.Writer) *logFile {
	return &logFile{dir: dir, stdout: stdout}
}

func (lf *logFile) path() string {
	return filepath.Join(lf.dir, debugLogFile)
}

// rotatedLogs returns the rotated log files, oldest last.
func (lf *logFile) rotatedLogs() []string {
	entries, err := os.ReadDir(lf.dir)
	logs := make([]string, 0)
	if err != nil {
		return logs
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), debugLogFile+".") {
			logs = append(logs, filepath.Join(lf.dir, e.Name()))
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		return logSuffix(logs[i]) < logSuffix(logs[j])
	})
	return logs
}

func logSuffix(path string) int {
	parts := strings.Split(path, ".")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return -1
	}
	return n
}

// open (re)opens the current log file and points the standard logger at it
// and at stdout.
func (lf *logFile) open() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.openLocked()
}

func (lf *logFile) openLocked() error {
	if err := os.MkdirAll(lf.dir, 0755); err != nil {
		return err
	}
	fp, err := os.OpenFile(lf.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", lf.path(), err)
	}
	old := lf.handle
	lf.handle = fp
	log.SetOutput(io.MultiWriter(fp, lf.stdout))
	if old != nil {
		old.Close()
	}
	return nil
}

func (lf *logFile) rotate() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	logs := lf.rotatedLogs()
	// rename suffix, remove if > maxLogFiles
	for i := len(logs) - 1; i >= 0; i-- {
		logNum := logSuffix(logs[i])
		if logNum < 0 {
			continue
		}
		if logNum >= maxLogFiles {
			os.Remove(logs[i])
		} else {
			os.Rename(logs[i], filepath.Join(lf.dir, debugLogFile+"."+strconv.Itoa(logNum+1)))
		}
	}

	// Now rename current log file and re-open
	os.Rename(lf.path(), lf.path()+".1")
	return lf.openLocked()
}

func (lf *logFile) deleteOldest() int64 {
	logs := lf.rotatedLogs()
	if len(logs) == 0 {
		return 0
	}
	oldest := logs[len(logs)-1]
	stat, err := os.Stat(oldest)
	if err != nil {
		return 0
	}
	if err := os.Remove(oldest); err != nil {
		return 0
	}
	return stat.Size()
}

// check rotates an oversized log and frees disk space by dropping old logs.
func (lf *logFile) check() {
	if st, err := os.Stat(lf.path()); err == nil && st.Size() > maxLogFileSize {
		if err := lf.rotate(); err != nil {
			log.Printf("log rotation failed: %s\n", err.Error())
		}
	}

	usage := du.NewDiskUsage(lf.dir)
	freeBytes := int64(usage.Free())
	for freeBytes < minFreeBytes {
		deleted := lf.deleteOldest()
		if deleted == 0 {
			break
		}
		log.Printf("low disk space, deleted %s of old logs\n", humanize.Bytes(uint64(deleted)))
		freeBytes += deleted
	}
}

func (lf *logFile) watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lf.check()
		}
	}
}

func (lf *logFile) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if lf.handle == nil {
		return nil
	}
	log.SetOutput(lf.stdout)
	err := lf.handle.Close()
	lf.handle = nil
	return err
}

// initLogging opens the log in dir and starts the rotation watcher. Failing to
// open the file leaves logging on stdout only.
func initLogging(ctx context.Context, dir string) *logFile {
	lf := newLogFile(dir, os.Stdout)
	if err := lf.open(); err != nil {
		log.Printf("AHRS Error: %s, logging to stdout only\n", err.Error())
		return lf
	}
	go lf.watch(ctx, 30*time.Second)
	return lf
}

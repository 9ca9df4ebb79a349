/*
	Copyright (c) 2015-2016 Christopher Young
	Distributable under the terms of The "BSD New"" License
	that can be found in the LICENSE file, herein included
	as part of this header.

	imuattitude.go: Service entry point. Wires the IMU, the attitude loop and
	 its outputs together and handles signals.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/b3nn0/imuattitude/ahrs"
	"github.com/b3nn0/imuattitude/common"
	"github.com/b3nn0/imuattitude/sensors"
	humanize "github.com/dustin/go-humanize"
	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/takama/daemon"
)

const (
	// name of the service
	name        = "imuattitude"
	description = "attitude estimation from an MPU6050 accelerometer and gyroscope"
)

// Set at build time with -ldflags.
var imuattitudeBuild string
var imuattitudeVersion string

var stdlog, errlog *log.Logger

// i2cIMU closes the bus together with the sensor.
type i2cIMU struct {
	*sensors.MPU6050
	bus embd.I2CBus
}

func (i *i2cIMU) Close() error {
	err := i.MPU6050.Close()
	if i.bus != nil {
		i.bus.Close()
		i.bus = nil
	}
	return err
}

func openIMU(s settings, clock common.Clock) (sensors.IMUReader, error) {
	switch s.Source {
	case SOURCE_REPLAY:
		r, err := sensors.OpenReplay(s.ReplayFile)
		if err != nil {
			return nil, err
		}
		return r, nil
	case SOURCE_STATIC:
		attitude := ahrs.Euler{Roll: s.StaticRoll * ahrs.Deg, Pitch: s.StaticPitch * ahrs.Deg}
		return sensors.NewStatic(attitude, ahrs.Vector{Z: s.StaticYawDps * ahrs.Deg}, clock), nil
	}

	if !common.IsRunningAsRoot() {
		log.Printf("AHRS Info: not running as root, /dev/i2c-%d may not be accessible\n", s.I2CBus)
	}
	bus := embd.NewI2CBus(s.I2CBus)
	if s.Source == SOURCE_ICM20948 {
		imu, err := sensors.NewICM20948(&bus)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("ICM20948 on i2c-%d: %w", s.I2CBus, err)
		}
		return imu, nil
	}

	cfg := sensors.DefaultMPU6050Config()
	cfg.Address = s.IMUAddress
	cfg.GyroRange = s.GyroRange
	cfg.AccelRange = s.AccelRange
	imu, err := sensors.NewMPU6050(bus, clock, cfg)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("MPU6050 on i2c-%d: %w", s.I2CBus, err)
	}
	return &i2cIMU{MPU6050: imu, bus: bus}, nil
}

// runAttitude runs the service until a signal or the sample source stops it.
func runAttitude(configPath string, s settings) (string, error) {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setDebug(s.DEBUG)
	lf := initLogging(ctx, s.LogDir)
	defer lf.Close()
	log.Printf("imuattitude %s (%s) starting.\n", imuattitudeVersion, imuattitudeBuild)

	clock := common.NewMonotonic()
	imu, err := openIMU(s, clock)
	if err != nil {
		return "IMU not available", err
	}
	defer imu.Close()

	loop, err := newAttitudeLoop(imu, s.filterConfig(), s.samplePeriod())
	if err != nil {
		return "bad filter settings", err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	loop.metrics = newAttitudeMetrics(reg)
	loop.sinks = append(loop.sinks, loop.metrics)
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.metrics.updateStats(ctx)
	}()

	if s.ConsoleOutput {
		loop.sinks = append(loop.sinks, newConsoleSink(os.Stdout))
	}

	if s.DataLog {
		dl, err := openDataLog(s.DataLogFile)
		if err != nil {
			log.Printf("AHRS Error: datalog disabled: %s\n", err.Error())
		} else {
			defer dl.Close()
			loop.sinks = append(loop.sinks, dl)
		}
	}

	// Replays are never traced again.
	var traceEnabled atomic.Bool
	traceEnabled.Store(s.TraceLog)
	if s.Source != SOURCE_REPLAY {
		tracer := NewTraceLogger(filepath.Join(s.LogDir, "traces"))
		loop.recorder = tracer
		wg.Add(1)
		go func() {
			defer wg.Done()
			traceLoggerWatchdog(ctx, tracer, traceEnabled.Load)
		}()
	}

	if s.MetricsAddr != "" {
		srv := &statusServer{loop: loop, clock: clock, gatherer: reg}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.serve(ctx, s.MetricsAddr); err != nil {
				log.Printf("AHRS Error: status server: %s\n", err.Error())
			}
		}()
	}

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.run(ctx)
	}()

	defer func() {
		snap := loop.Snapshot()
		log.Printf("AHRS Info: stopped after %s, %s updates, %s rejected samples\n",
			clock.Uptime().Round(1e9), humanize.Comma(int64(snap.Updates)), humanize.Comma(int64(snap.Rejected)))
	}()

	// Set up channel on which to send signal notifications.
	// We must use a buffered channel or risk missing the signal
	// if we're not ready to receive when the signal is sent.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(interrupt)

	stop := func() {
		cancel()
		<-loopDone
	}

	// interrupt by system signal
	for {
		select {
		case err := <-loopDone:
			if err != nil {
				return "IMU failed", err
			}
			return "Sample trace finished", nil
		case killSignal := <-interrupt:
			log.Println("Got signal:", killSignal)
			switch killSignal {
			case syscall.SIGUSR1:
				loop.Cage()
			case syscall.SIGHUP:
				ns := readSettings(configPath)
				setDebug(ns.DEBUG)
				traceEnabled.Store(ns.TraceLog)
				log.Println("AHRS Info: reloaded settings. Filter and sensor changes need a restart.")
			case syscall.SIGINT:
				stop()
				return "Daemon was interrupted by system signal", nil
			default:
				stop()
				return "Daemon was killed", nil
			}
		}
	}
}

// Service has embedded daemon
type Service struct {
	daemon.Daemon
}

// Manage by daemon commands or run the daemon
func (service *Service) Manage() (string, error) {
	configFile := flag.String("config", configLocation, "settings file")
	replay := flag.String("replay", "", "replay a recorded trace instead of reading the IMU")
	static := flag.Bool("static", false, "simulate a level, stationary IMU")
	console := flag.Bool("console", true, "print the attitude on stdout")
	addr := flag.String("addr", "", "status and metrics listen address, overrides the settings file")
	flag.Parse()

	usage := "Usage: " + name + " [flags] install | remove | start | stop | status"
	// if received any kind of command, do it
	if flag.NArg() > 0 {
		if !common.IsRunningAsRoot() {
			log.Println("AHRS Info: not running as root, service management will probably fail")
		}
		switch flag.Arg(0) {
		case "install":
			return service.Install("-config", *configFile)
		case "remove":
			return service.Remove()
		case "start":
			return service.Start()
		case "stop":
			return service.Stop()
		case "status":
			return service.Status()
		default:
			return usage, nil
		}
	}

	s := readSettings(*configFile)
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "replay":
			s.Source = SOURCE_REPLAY
			s.ReplayFile = *replay
		case "static":
			if *static {
				s.Source = SOURCE_STATIC
			}
		case "console":
			s.ConsoleOutput = *console
		case "addr":
			s.MetricsAddr = *addr
		}
	})
	if err := s.validate(); err != nil {
		return usage, err
	}
	return runAttitude(*configFile, s)
}

func init() {
	stdlog = log.New(os.Stdout, "", 0)
	errlog = log.New(os.Stderr, "", 0)
}

func main() {
	srv, err := daemon.New(name, description, daemon.SystemDaemon)
	if err != nil {
		errlog.Println("Error: ", err)
		os.Exit(1)
	}
	service := &Service{srv}
	status, err := service.Manage()
	if err != nil {
		errlog.Println(status, "\nError: ", err)
		os.Exit(1)
	}
	stdlog.Println(status)
}

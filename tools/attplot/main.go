// attplot runs the attitude filter over a recorded sample trace and plots
// roll, pitch and yaw against time.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/b3nn0/imuattitude/ahrs"
	"github.com/b3nn0/imuattitude/sensors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

type attitudeSeries struct {
	Roll, Pitch, Yaw plotter.XYs // deg against seconds since the first sample
	Rejected         int
}

// replayAttitude feeds every sample of r through a fresh filter.
func replayAttitude(r sensors.IMUReader, cfg ahrs.Config, period time.Duration) (*attitudeSeries, error) {
	f, err := ahrs.NewFilter(cfg)
	if err != nil {
		return nil, err
	}
	series := &attitudeSeries{}
	var first, last time.Time
	for {
		s, err := r.Read()
		if errors.Is(err, io.EOF) {
			return series, nil
		}
		if err != nil {
			return series, err
		}
		if first.IsZero() {
			first = s.T
		}
		deltat := period.Seconds()
		if !last.IsZero() {
			deltat = s.T.Sub(last).Seconds()
		}
		if err := f.Update(s.Gyro, s.Accel, deltat); err != nil {
			series.Rejected++
			if !errors.Is(err, ahrs.ErrInvalidInput) {
				f.Initialize()
				last = time.Time{}
			}
			continue
		}
		last = s.T

		x := s.T.Sub(first).Seconds()
		e := f.Euler().Degrees()
		series.Roll = append(series.Roll, plotter.XY{X: x, Y: e.Roll})
		series.Pitch = append(series.Pitch, plotter.XY{X: x, Y: e.Pitch})
		series.Yaw = append(series.Yaw, plotter.XY{X: x, Y: e.Yaw})
	}
}

func yRange(xys plotter.XYs) (min, max float64) {
	if len(xys) == 0 {
		return 0, 0
	}
	ys := make([]float64, len(xys))
	for i, xy := range xys {
		ys[i] = xy.Y
	}
	return floats.Min(ys), floats.Max(ys)
}

func (s *attitudeSeries) plot(title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Angle (deg)"
	p.Add(plotter.NewGrid())
	if err := plotutil.AddLines(p, "Roll", s.Roll, "Pitch", s.Pitch, "Yaw", s.Yaw); err != nil {
		return nil, err
	}
	return p, nil
}

func main() {
	trace := flag.String("trace", "", "gzip CSV sample trace")
	out := flag.String("out", "attitude.png", "output image, format from the extension")
	gyroErr := flag.Float64("gyroerr", 5, "expected gyro measurement error, deg/s")
	periodMs := flag.Int("period", 10, "nominal sample period, ms")
	flag.Parse()
	if *trace == "" {
		flag.Usage()
		os.Exit(2)
	}

	r, err := sensors.OpenReplay(*trace)
	if err != nil {
		log.Fatalf("AHRS Error: %s\n", err.Error())
	}
	defer r.Close()

	cfg := ahrs.Config{GyroMeasError: *gyroErr * ahrs.Deg}
	series, err := replayAttitude(r, cfg, time.Duration(*periodMs)*time.Millisecond)
	if err != nil {
		log.Fatalf("AHRS Error: %s\n", err.Error())
	}
	for _, l := range []struct {
		name string
		xys  plotter.XYs
	}{{"roll", series.Roll}, {"pitch", series.Pitch}, {"yaw", series.Yaw}} {
		lo, hi := yRange(l.xys)
		fmt.Printf("%-5s %8.2f .. %8.2f deg\n", l.name, lo, hi)
	}
	fmt.Printf("%d samples, %d rejected\n", len(series.Roll), series.Rejected)

	p, err := series.plot(*trace)
	if err != nil {
		log.Fatalf("AHRS Error: %s\n", err.Error())
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, *out); err != nil {
		log.Fatalf("AHRS Error: %s\n", err.Error())
	}
}

package sensors

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/b3nn0/imuattitude/ahrs"
)

// TraceFields is the number of columns in a trace record:
// timestamp, accel X-Y-Z, gyro X-Y-Z.
const TraceFields = 7

// FormatTraceRecord encodes s as one trace CSV record.
func FormatTraceRecord(s Sample) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		s.T.UTC().Format(time.RFC3339Nano),
		f(s.Accel.X), f(s.Accel.Y), f(s.Accel.Z),
		f(s.Gyro.X), f(s.Gyro.Y), f(s.Gyro.Z),
	}
}

// ParseTraceRecord decodes a record written by FormatTraceRecord.
func ParseTraceRecord(fields []string) (Sample, error) {
	var s Sample
	if len(fields) != TraceFields {
		return s, fmt.Errorf("trace record has %d fields, want %d", len(fields), TraceFields)
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[0])
	if err != nil {
		return s, fmt.Errorf("trace timestamp %q: %w", fields[0], err)
	}
	var v [6]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
			return s, fmt.Errorf("trace column %d: %w", i+1, err)
		}
	}
	s.T = ts
	s.Accel = ahrs.Vector{X: v[0], Y: v[1], Z: v[2]}
	s.Gyro = ahrs.Vector{X: v[3], Y: v[4], Z: v[5]}
	return s, nil
}

// Replay reads samples back from a gzip-compressed trace. Samples keep their
// recorded timestamps, so replaying a trace reproduces the original sample
// intervals exactly.
type Replay struct {
	closer    io.Closer
	gzReader  *gzip.Reader
	csvReader *csv.Reader
	line      int
}

// OpenReplay opens the trace file at path.
func OpenReplay(path string) (*Replay, error) {
	fhandle, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReplay(fhandle)
	if err != nil {
		fhandle.Close()
		return nil, fmt.Errorf("trace %s: %w", path, err)
	}
	r.closer = fhandle
	return r, nil
}

// NewReplay reads a gzip-compressed trace from r.
func NewReplay(r io.Reader) (*Replay, error) {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	csvReader := csv.NewReader(gzReader)
	csvReader.FieldsPerRecord = -1
	return &Replay{gzReader: gzReader, csvReader: csvReader}, nil
}

// Read returns the next recorded sample, or io.EOF at the end of the trace.
func (r *Replay) Read() (Sample, error) {
	if r.csvReader == nil {
		return Sample{}, ErrClosed
	}
	fields, err := r.csvReader.Read()
	if err != nil {
		return Sample{}, err
	}
	r.line++
	s, err := ParseTraceRecord(fields)
	if err != nil {
		return Sample{}, fmt.Errorf("trace line %d: %w", r.line, err)
	}
	return s, nil
}

func (r *Replay) Close() error {
	if r.csvReader == nil {
		return nil
	}
	r.csvReader = nil
	err := r.gzReader.Close()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

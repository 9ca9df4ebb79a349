/*
	Copyright (c) 2015-2016 Christopher Young
	Distributable under the terms of The "BSD New"" License
	that can be found in the LICENSE file, herein included
	as part of this header.

	datalog.go: Log attitude data as it is computed. Bucket data into timestamp time slots.

*/

package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	LOG_TIMESTAMP_RESOLUTION = 50 * time.Millisecond
	dataLogQueueLen          = 10240
)

// dataLogTimestamp is one time slot. Rows in the other tables point at the
// slot their sample fell into.
type dataLogTimestamp struct {
	id          int64
	Sample_time string // RFC3339Nano of the first sample in the slot
	Wall_time   string
	start       time.Time
}

type SQLiteMarshal struct {
	FieldType string
	Marshal   func(v reflect.Value) string
}

func boolMarshal(v reflect.Value) string {
	if v.Bool() {
		return "1"
	}
	return "0"
}

func structCanBeMarshalled(v reflect.Value) bool {
	m := v.MethodByName("String")
	return m.IsValid() && !m.IsNil()
}

func intMarshal(v reflect.Value) string {
	return strconv.FormatInt(v.Int(), 10)
}

func uintMarshal(v reflect.Value) string {
	return strconv.FormatUint(v.Uint(), 10)
}

func floatMarshal(v reflect.Value) string {
	return strconv.FormatFloat(v.Float(), 'f', 10, 64)
}

func stringMarshal(v reflect.Value) string {
	return v.String()
}

func notsupportedMarshal(v reflect.Value) string {
	return ""
}

func structMarshal(v reflect.Value) string {
	if structCanBeMarshalled(v) {
		ret := v.MethodByName("String").Call(nil)
		if len(ret) > 0 {
			return ret[0].String()
		}
	}
	return ""
}

var sqliteMarshalFunctions = map[string]SQLiteMarshal{
	"bool":         {FieldType: "INTEGER", Marshal: boolMarshal},
	"int":          {FieldType: "INTEGER", Marshal: intMarshal},
	"uint":         {FieldType: "INTEGER", Marshal: uintMarshal},
	"float":        {FieldType: "REAL", Marshal: floatMarshal},
	"string":       {FieldType: "TEXT", Marshal: stringMarshal},
	"struct":       {FieldType: "STRING", Marshal: structMarshal},
	"notsupported": {FieldType: "notsupported", Marshal: notsupportedMarshal},
}

var sqlTypeMap = map[reflect.Kind]string{
	reflect.Bool:          "bool",
	reflect.Int:           "int",
	reflect.Int8:          "int",
	reflect.Int16:         "int",
	reflect.Int32:         "int",
	reflect.Int64:         "int",
	reflect.Uint:          "uint",
	reflect.Uint8:         "uint",
	reflect.Uint16:        "uint",
	reflect.Uint32:        "uint",
	reflect.Uint64:        "uint",
	reflect.Uintptr:       "notsupported",
	reflect.Float32:       "float",
	reflect.Float64:       "float",
	reflect.Complex64:     "notsupported",
	reflect.Complex128:    "notsupported",
	reflect.Array:         "notsupported",
	reflect.Chan:          "notsupported",
	reflect.Func:          "notsupported",
	reflect.Interface:     "notsupported",
	reflect.Map:           "notsupported",
	reflect.Ptr:           "notsupported",
	reflect.Slice:         "notsupported",
	reflect.String:        "string",
	reflect.Struct:        "struct",
	reflect.UnsafePointer: "notsupported",
}

// logColumns lists the exported, storable fields of a row struct.
func logColumns(val reflect.Value) []int {
	cols := make([]int, 0, val.NumField())
	for i := 0; i < val.NumField(); i++ {
		f := val.Type().Field(i)
		sqlTypeAlias := sqlTypeMap[f.Type.Kind()]
		if !f.IsExported() || sqlTypeAlias == "notsupported" {
			continue
		}
		// Check that if the field is a struct that it can be marshalled.
		if sqlTypeAlias == "struct" && !structCanBeMarshalled(val.Field(i)) {
			continue
		}
		cols = append(cols, i)
	}
	return cols
}

func makeTable(i interface{}, tbl string, db *sql.DB) error {
	val := reflect.ValueOf(i)

	fields := make([]string, 0)
	for _, c := range logColumns(val) {
		sqlType := sqliteMarshalFunctions[sqlTypeMap[val.Field(c).Kind()]].FieldType
		fields = append(fields, val.Type().Field(c).Name+" "+sqlType)
	}

	// Add the timestamp_id field to link up with the timestamp table.
	if tbl != "timestamp" {
		fields = append(fields, "timestamp_id INTEGER")
	}

	tblCreate := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT, %s)", tbl, strings.Join(fields, ", "))
	logDbg("%s\n", tblCreate)
	if _, err := db.Exec(tblCreate); err != nil {
		return fmt.Errorf("create table %s: %w", tbl, err)
	}
	return nil
}

func insertData(i interface{}, tbl string, db *sql.DB, timestampID int64) (int64, error) {
	val := reflect.ValueOf(i)

	keys := make([]string, 0)
	values := make([]interface{}, 0)
	for _, c := range logColumns(val) {
		sqlTypeAlias := sqlTypeMap[val.Field(c).Kind()]
		keys = append(keys, val.Type().Field(c).Name)
		values = append(values, sqliteMarshalFunctions[sqlTypeAlias].Marshal(val.Field(c)))
	}

	// Add the timestamp_id field to link up with the timestamp table.
	if tbl != "timestamp" {
		keys = append(keys, "timestamp_id")
		values = append(values, strconv.FormatInt(timestampID, 10))
	}

	tblInsert := fmt.Sprintf("INSERT INTO %s (%s) VALUES(%s)", tbl, strings.Join(keys, ","),
		strings.Join(strings.Split(strings.Repeat("?", len(keys)), ""), ","))

	res, err := db.Exec(tblInsert, values...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", tbl, err)
	}
	return res.LastInsertId()
}

// AttitudeData is one row of the attitude table. Angles are in degrees.
type AttitudeData struct {
	Sample_time string
	Roll        float64
	Pitch       float64
	Yaw         float64
	Q1          float64
	Q2          float64
	Q3          float64
	Q4          float64
	AccelX      float64
	AccelY      float64
	AccelZ      float64
	GyroX       float64
	GyroY       float64
	GyroZ       float64
	Deltat      float64
	Updates     uint64
	Rejected    uint64
}

func attitudeData(s attitudeSnapshot) AttitudeData {
	e := s.Euler.Degrees()
	return AttitudeData{
		Sample_time: s.T.UTC().Format(time.RFC3339Nano),
		Roll:        e.Roll,
		Pitch:       e.Pitch,
		Yaw:         e.Yaw,
		Q1:          s.Q.Real,
		Q2:          s.Q.Imag,
		Q3:          s.Q.Jmag,
		Q4:          s.Q.Kmag,
		AccelX:      s.Accel.X,
		AccelY:      s.Accel.Y,
		AccelZ:      s.Accel.Z,
		GyroX:       s.Gyro.X,
		GyroY:       s.Gyro.Y,
		GyroZ:       s.Gyro.Z,
		Deltat:      s.Deltat,
		Updates:     s.Updates,
		Rejected:    s.Rejected,
	}
}

type dataLogRow struct {
	t    time.Time
	tbl  string
	data interface{}
}

// dataLog writes published snapshots to a sqlite database from its own
// goroutine so the sampling loop never waits on the disk.
type dataLog struct {
	db        *sql.DB
	rows      chan dataLogRow
	done      chan struct{}
	timestamp dataLogTimestamp // Current timestamp bucket.
	dropped   atomic.Uint64
	written   atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func openDataLog(path string) (*dataLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sql.Open(): %w", err)
	}
	if err := makeTable(dataLogTimestamp{}, "timestamp", db); err != nil {
		db.Close()
		return nil, err
	}
	if err := makeTable(AttitudeData{}, "attitude", db); err != nil {
		db.Close()
		return nil, err
	}
	l := &dataLog{
		db:   db,
		rows: make(chan dataLogRow, dataLogQueueLen),
		done: make(chan struct{}),
	}
	go l.dataLogWriter()
	log.Printf("AHRS Info: logging attitude to %s\n", path)
	return l, nil
}

func (l *dataLog) Publish(s attitudeSnapshot) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.rows <- dataLogRow{t: s.T, tbl: "attitude", data: attitudeData(s)}:
	default:
		l.dropped.Add(1)
	}
}

// checkTimestamp reports whether t still falls in the current timestamp
// bucket. If not, it starts a new one.
func (l *dataLog) checkTimestamp(t time.Time) bool {
	if l.timestamp.id != 0 && t.Sub(l.timestamp.start) < LOG_TIMESTAMP_RESOLUTION {
		return true
	}
	l.timestamp = dataLogTimestamp{
		Sample_time: t.UTC().Format(time.RFC3339Nano),
		Wall_time:   time.Now().UTC().Format(time.RFC3339Nano),
		start:       t,
	}
	return false
}

func (l *dataLog) dataLogWriter() {
	defer close(l.done)
	for r := range l.rows {
		// Check if our time bucket has expired or has never been entered.
		if !l.checkTimestamp(r.t) {
			id, err := insertData(l.timestamp, "timestamp", l.db, 0)
			if err != nil {
				log.Printf("AHRS Error: datalog: %s\n", err.Error())
				continue
			}
			l.timestamp.id = id
		}
		if _, err := insertData(r.data, r.tbl, l.db, l.timestamp.id); err != nil {
			log.Printf("AHRS Error: datalog: %s\n", err.Error())
			continue
		}
		l.written.Add(1)
	}
}

// Close drains the queue and closes the database.
func (l *dataLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.rows)
	l.mu.Unlock()

	<-l.done
	log.Printf("AHRS Info: datalog closed, %d rows written, %d dropped\n", l.written.Load(), l.dropped.Load())
	return l.db.Close()
}

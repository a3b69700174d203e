package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/rtr-telemetry/internal/infrastructure/database"
	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// SampleLog is the durable, append-only record of accepted samples. Every
// field of a sample becomes one record.
type SampleLog interface {
	Append(ctx context.Context, s telemetry.Sample) error
	Close() error
}

// csvHeader matches the log format used by earlier tooling.
var csvHeader = []string{"timestamp", "rtr_id", "variable", "value"}

// CSVLog appends records to a CSV file and flushes after every sample.
type CSVLog struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenCSVLog opens path for appending, creating it and its directory when
// missing. The header is written to new or empty files. With truncate the
// file starts over.
func OpenCSVLog(path string, truncate bool) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening sample log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat sample log: %w", err)
	}

	l := &CSVLog{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
		l.w.Flush()
		if err := l.w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}
	return l, nil
}

// Append writes one row per field.
func (l *CSVLog) Append(_ context.Context, s telemetry.Sample) error {
	ts := s.Timestamp.UTC().Format(time.RFC3339Nano)
	id := s.DeviceID.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("%w: log closed", ErrDurableWrite)
	}
	for _, v := range s.Values {
		if err := l.w.Write([]string{ts, id, v.Name, v.String()}); err != nil {
			return fmt.Errorf("%w: %w", ErrDurableWrite, err)
		}
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrDurableWrite, err)
	}
	return nil
}

// Close flushes and closes the file.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	l.w.Flush()
	err := errors.Join(l.w.Error(), l.f.Close())
	l.f = nil
	return err
}

// SQLiteLog appends records to the samples table.
type SQLiteLog struct {
	db *database.DB
}

// NewSQLiteLog returns a log over db. The samples migration must have run.
func NewSQLiteLog(db *database.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

// sqliteTime has fixed-width fractions so observed_at sorts as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

const insertSample = `INSERT INTO samples (observed_at, device_id, field, kind, value) VALUES (?, ?, ?, ?, ?)`

// Append inserts one row per field in a single transaction.
func (l *SQLiteLog) Append(ctx context.Context, s telemetry.Sample) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrDurableWrite, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertSample)
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", ErrDurableWrite, err)
	}
	defer stmt.Close()

	ts := s.Timestamp.UTC().Format(sqliteTime)
	for _, v := range s.Values {
		if _, err := stmt.ExecContext(ctx, ts, int64(s.DeviceID), v.Name, string(v.Kind), v.String()); err != nil {
			return fmt.Errorf("%w: insert: %w", ErrDurableWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrDurableWrite, err)
	}
	return nil
}

// Close is a no-op; the database is owned by the caller.
func (l *SQLiteLog) Close() error { return nil }

// Record is one stored field value, as read back from the SQLite log.
type Record struct {
	ObservedAt time.Time
	DeviceID   telemetry.DeviceID
	Field      string
	Kind       telemetry.Kind
	Value      string
}

// Recent returns up to limit of the newest records for device, newest first.
func (l *SQLiteLog) Recent(ctx context.Context, device telemetry.DeviceID, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT observed_at, device_id, field, kind, value FROM samples
		 WHERE device_id = ? ORDER BY observed_at DESC, id DESC LIMIT ?`,
		int64(device), limit)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r    Record
			ts   string
			id   int64
			kind string
		)
		if err := rows.Scan(&ts, &id, &r.Field, &kind, &r.Value); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		r.ObservedAt, err = time.Parse(sqliteTime, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing observed_at %q: %w", ts, err)
		}
		r.DeviceID = telemetry.DeviceID(id)
		r.Kind = telemetry.Kind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Mirror receives a copy of every accepted sample. influxdb.Client
// satisfies it. Implementations must not block.
type Mirror interface {
	WriteSample(deviceID string, fields map[string]any, observedAt time.Time)
}

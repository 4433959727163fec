package csvlog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

// DefaultFlushEvery is how many records are buffered between flushes.
const DefaultFlushEvery = 50

// Header is the first row of every measurement log.
var Header = []string{
	"iteration", "cycle_time_ns", "delta_ns", "jitter_ns", "miss",
	"workload_ratio", "cpu_load_percent", "mode",
}

// Recorder appends one CSV row per cycle. Rows are buffered and flushed every
// flushEvery records; any write or flush error is returned to the caller.
type Recorder struct {
	path       string
	f          *os.File
	buf        *bufio.Writer
	w          *csv.Writer
	flushEvery int
	pending    int
	row        []string
	closed     bool
}

// Open truncates or creates path (and its parent directories) and writes the header.
func Open(path string, flushEvery int) (*Recorder, error) {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("csvlog: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csvlog: open: %w", err)
	}
	buf := bufio.NewWriterSize(f, 64*1024)
	r := &Recorder{
		path:       path,
		f:          f,
		buf:        buf,
		w:          csv.NewWriter(buf),
		flushEvery: flushEvery,
		row:        make([]string, len(Header)),
	}
	if err := r.w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("csvlog: header: %w", err)
	}
	if err := r.flush(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) Record(rec domain.CycleRecord) error {
	if r.closed {
		return errors.New("csvlog: recorder closed")
	}
	FormatRow(r.row, rec)
	if err := r.w.Write(r.row); err != nil {
		return fmt.Errorf("csvlog: write: %w", err)
	}
	r.pending++
	if r.pending >= r.flushEvery {
		return r.flush()
	}
	return nil
}

// FormatRow fills dst (len(Header)) with the columns of rec.
func FormatRow(dst []string, rec domain.CycleRecord) {
	miss := "0"
	if rec.Miss {
		miss = "1"
	}
	dst[0] = strconv.FormatUint(rec.Seq, 10)
	dst[1] = strconv.FormatInt(rec.CycleTimeNs, 10)
	dst[2] = strconv.FormatInt(rec.DeltaNs, 10)
	dst[3] = strconv.FormatUint(rec.JitterNs, 10)
	dst[4] = miss
	dst[5] = strconv.FormatFloat(rec.WorkloadRatio, 'f', -1, 64)
	dst[6] = strconv.FormatFloat(rec.CPULoad, 'f', -1, 64)
	dst[7] = rec.Mode.String()
}

// ParseRow is the inverse of FormatRow.
func ParseRow(row []string) (domain.CycleRecord, error) {
	var rec domain.CycleRecord
	if len(row) != len(Header) {
		return rec, fmt.Errorf("csvlog: expected %d columns, got %d", len(Header), len(row))
	}
	var err error
	if rec.Seq, err = strconv.ParseUint(row[0], 10, 64); err != nil {
		return rec, fmt.Errorf("csvlog: iteration: %w", err)
	}
	if rec.CycleTimeNs, err = strconv.ParseInt(row[1], 10, 64); err != nil {
		return rec, fmt.Errorf("csvlog: cycle_time_ns: %w", err)
	}
	if rec.DeltaNs, err = strconv.ParseInt(row[2], 10, 64); err != nil {
		return rec, fmt.Errorf("csvlog: delta_ns: %w", err)
	}
	if rec.JitterNs, err = strconv.ParseUint(row[3], 10, 64); err != nil {
		return rec, fmt.Errorf("csvlog: jitter_ns: %w", err)
	}
	switch row[4] {
	case "0", "False":
	case "1", "True":
		rec.Miss = true
	default:
		return rec, fmt.Errorf("csvlog: miss: unexpected %q", row[4])
	}
	if rec.WorkloadRatio, err = strconv.ParseFloat(row[5], 64); err != nil {
		return rec, fmt.Errorf("csvlog: workload_ratio: %w", err)
	}
	if rec.CPULoad, err = strconv.ParseFloat(row[6], 64); err != nil {
		return rec, fmt.Errorf("csvlog: cpu_load_percent: %w", err)
	}
	if rec.Mode, err = domain.ParseMode(row[7]); err != nil {
		return rec, fmt.Errorf("csvlog: mode: %w", err)
	}
	return rec, nil
}

func (r *Recorder) flush() error {
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("csvlog: flush: %w", err)
	}
	if err := r.buf.Flush(); err != nil {
		return fmt.Errorf("csvlog: flush: %w", err)
	}
	r.pending = 0
	return nil
}

// Close flushes buffered rows, syncs and closes the file. It is idempotent.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	flushErr := r.flush()
	syncErr := r.f.Sync()
	closeErr := r.f.Close()
	return errors.Join(flushErr, syncErr, closeErr)
}

func (r *Recorder) Path() string { return r.path }

var _ ports.Recorder = (*Recorder)(nil)

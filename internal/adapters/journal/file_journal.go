package journal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

const (
	frameHeaderLen    = 12
	maxFrameLen       = 1 << 20
	DefaultFlushEvery = 50
)

var ErrClosed = errors.New("journal: closed")

// Stats describes what the journal currently holds on disk plus buffered.
type Stats struct {
	Records   uint64
	LastSeq   uint64
	SizeBytes int64
}

// FileJournal stores cycle records as [8-byte seq][4-byte len][JSON] frames.
type FileJournal struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	writer     *bufio.Writer
	flushEvery int
	pending    int
	records    uint64
	lastSeq    uint64
	sizeBytes  int64
	closed     bool
}

// Create starts an empty journal at path, replacing any previous one.
func Create(path string, flushEvery int) (*FileJournal, error) {
	return open(path, flushEvery, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
}

// OpenAppend reopens an existing journal, truncating a torn final frame,
// and appends after the last complete record.
func OpenAppend(path string, flushEvery int) (*FileJournal, error) {
	return open(path, flushEvery, os.O_CREATE|os.O_RDWR)
}

func open(path string, flushEvery, flag int) (*FileJournal, error) {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	j := &FileJournal{
		path:       path,
		file:       f,
		writer:     bufio.NewWriterSize(f, 64*1024),
		flushEvery: flushEvery,
	}
	if err := j.scanExisting(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: seek: %w", err)
	}
	return j, nil
}

func (j *FileJournal) scanExisting() error {
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var offset int64
	err := scan(bufio.NewReader(j.file), func(seq uint64, _ []byte, frameLen int64) error {
		offset += frameLen
		j.records++
		j.lastSeq = seq
		return nil
	})
	if err != nil && !errors.Is(err, errTornTail) {
		return err
	}
	if err := j.file.Truncate(offset); err != nil {
		return fmt.Errorf("journal: truncate torn tail: %w", err)
	}
	j.sizeBytes = offset
	return nil
}

// Record appends rec. The frame is buffered and flushed every flushEvery records.
func (j *FileJournal) Record(rec domain.CycleRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}

	var hdr [frameHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], rec.Seq)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := j.writer.Write(hdr[:]); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	if _, err := j.writer.Write(b); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}

	j.records++
	j.lastSeq = rec.Seq
	j.sizeBytes += int64(len(b) + len(hdr))
	j.pending++
	if j.pending >= j.flushEvery {
		return j.flushLocked()
	}
	return nil
}

// Iterate flushes pending frames and replays every record with seq >= from.
func (j *FileJournal) Iterate(from uint64, fn func(rec domain.CycleRecord) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if err := j.flushLocked(); err != nil {
		return err
	}

	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	return scan(bufio.NewReader(f), func(seq uint64, body []byte, _ int64) error {
		if seq < from {
			return nil
		}
		var rec domain.CycleRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("journal: corrupt record %d: %w", seq, err)
		}
		return fn(rec)
	})
}

func (j *FileJournal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Stats{Records: j.records, LastSeq: j.lastSeq, SizeBytes: j.sizeBytes}
}

func (j *FileJournal) Path() string { return j.path }

// Close flushes, syncs and closes the file. It is idempotent.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	flushErr := j.flushLocked()
	syncErr := j.file.Sync()
	closeErr := j.file.Close()
	return errors.Join(flushErr, syncErr, closeErr)
}

func (j *FileJournal) flushLocked() error {
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	j.pending = 0
	return nil
}

// ReadFile replays a journal without opening it for writing. A torn final
// frame is ignored.
func ReadFile(path string, fn func(rec domain.CycleRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()

	err = scan(bufio.NewReader(f), func(seq uint64, body []byte, _ int64) error {
		var rec domain.CycleRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("journal: corrupt record %d: %w", seq, err)
		}
		return fn(rec)
	})
	if errors.Is(err, errTornTail) {
		return nil
	}
	return err
}

var errTornTail = errors.New("journal: torn final frame")

// scan walks complete frames. It returns errTornTail when the stream ends
// inside a frame.
func scan(r io.Reader, fn func(seq uint64, body []byte, frameLen int64) error) error {
	var body []byte
	for {
		var hdr [frameHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return errTornTail
			}
			return fmt.Errorf("journal: read header: %w", err)
		}
		seq := binary.BigEndian.Uint64(hdr[0:8])
		length := binary.BigEndian.Uint32(hdr[8:12])
		if length > maxFrameLen {
			return fmt.Errorf("journal: frame %d claims %d bytes", seq, length)
		}

		if cap(body) < int(length) {
			body = make([]byte, length)
		}
		body = body[:length]
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return errTornTail
			}
			return fmt.Errorf("journal: read body: %w", err)
		}
		if err := fn(seq, body, int64(frameHeaderLen)+int64(length)); err != nil {
			return err
		}
	}
}

var _ ports.Recorder = (*FileJournal)(nil)

// Package embedstore implements the durable, append-only embedding log.
//
// The on-disk layout is a fixed header followed by fixed-width little-endian
// float32 rows:
//
//	offset 0   magic "HRVLOG1\x00"
//	offset 8   format version (uint32)
//	offset 12  vector dimension (uint32)
//	offset 16  committed row count (uint64)
//	offset 24  reserved (uint64, zero)
//	offset 32  row 0, row 1, ...
//
// The committed row count is the single source of truth for how many rows
// exist. Append writes and flushes the row bytes first and only then advances
// the count, so a crash between the two steps leaves at worst a torn tail past
// the committed boundary, which Open truncates away. Rows are never
// overwritten or reordered.
//
// The store follows a single-writer/multiple-reader discipline: readers only
// address rows below the committed boundary, so they can never observe a
// half-written row.
package embedstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hybridrag/hybridrag/internal/mmap"
)

const (
	headerSize = 32
	version    = 1
)

var magic = [8]byte{'H', 'R', 'V', 'L', 'O', 'G', '1', 0}

var (
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("embedstore: store is closed")
	// ErrCorruptHeader indicates an unreadable or foreign store file.
	ErrCorruptHeader = errors.New("embedstore: corrupt header")
)

// ErrDimensionMismatch indicates a vector/store dimensionality disagreement.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedstore: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("embedstore: invalid dimension: %d", e.Dimension)
}

// Store is an append-only log of fixed-dimension float32 vectors, addressable
// by row index. Safe for one writer concurrent with many readers.
type Store struct {
	path      string
	dimension int
	rowSize   int64

	writeMu   sync.Mutex // serializes Append and header updates
	f         *os.File
	committed atomic.Int64
	closed    atomic.Bool

	// Read-only view of the file as it existed at Open time. Rows appended
	// afterwards are served by pread until the store is reopened.
	mapping *mmap.Mapping
}

// Open opens or creates the embedding log at path.
//
// When the file exists, its recorded dimension must match the requested one
// or Open fails with ErrDimensionMismatch. A torn tail beyond the committed
// boundary (crash during append) is truncated; a committed count pointing
// past the end of the file (crash during a restore or external truncation)
// is clamped back to the last complete row.
func Open(path string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: dimension}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("embedstore: opening %s: %w", path, err)
	}

	s := &Store{
		path:      path,
		dimension: dimension,
		rowSize:   int64(dimension) * 4,
		f:         f,
	}

	if err := s.recover(); err != nil {
		f.Close()
		return nil, err
	}

	// Mapping failure is not fatal; reads fall back to pread.
	if m, err := mmap.Open(path); err == nil {
		s.mapping = m
	}

	return s, nil
}

// recover validates the header and restores the committed boundary invariant.
func (s *Store) recover() error {
	fi, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("embedstore: stat: %w", err)
	}
	size := fi.Size()

	if size == 0 {
		return s.writeHeader(0, true)
	}
	if size < headerSize {
		return fmt.Errorf("%w: file shorter than header (%d bytes)", ErrCorruptHeader, size)
	}

	var hdr [headerSize]byte
	if _, err := s.f.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("embedstore: reading header: %w", err)
	}
	if [8]byte(hdr[:8]) != magic {
		return fmt.Errorf("%w: bad magic", ErrCorruptHeader)
	}
	if v := binary.LittleEndian.Uint32(hdr[8:12]); v != version {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, v)
	}
	if dim := int(binary.LittleEndian.Uint32(hdr[12:16])); dim != s.dimension {
		return &ErrDimensionMismatch{Expected: dim, Actual: s.dimension}
	}

	committed := int64(binary.LittleEndian.Uint64(hdr[16:24]))
	if committed < 0 {
		return fmt.Errorf("%w: negative committed count", ErrCorruptHeader)
	}

	// Clamp a committed count that outruns the file (bytes lost after the
	// header was advanced). The missing rows are re-ingested idempotently.
	maxRows := (size - headerSize) / s.rowSize
	if committed > maxRows {
		committed = maxRows
		if err := s.writeHeader(committed, false); err != nil {
			return err
		}
	}

	// Truncate a torn tail past the committed boundary.
	if end := headerSize + committed*s.rowSize; size > end {
		if err := s.f.Truncate(end); err != nil {
			return fmt.Errorf("embedstore: truncating torn tail: %w", err)
		}
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("embedstore: sync after truncate: %w", err)
		}
	}

	s.committed.Store(committed)
	return nil
}

func (s *Store) writeHeader(committed int64, full bool) error {
	if full {
		var hdr [headerSize]byte
		copy(hdr[:8], magic[:])
		binary.LittleEndian.PutUint32(hdr[8:12], version)
		binary.LittleEndian.PutUint32(hdr[12:16], uint32(s.dimension))
		binary.LittleEndian.PutUint64(hdr[16:24], uint64(committed))
		if _, err := s.f.WriteAt(hdr[:], 0); err != nil {
			return fmt.Errorf("embedstore: writing header: %w", err)
		}
	} else {
		var cnt [8]byte
		binary.LittleEndian.PutUint64(cnt[:], uint64(committed))
		if _, err := s.f.WriteAt(cnt[:], 16); err != nil {
			return fmt.Errorf("embedstore: writing committed count: %w", err)
		}
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("embedstore: sync header: %w", err)
	}
	return nil
}

// Append writes a vector as the next row and returns its row index.
//
// The row bytes are durably flushed before the committed count advances, so a
// crash mid-append never produces a countable partial row.
func (s *Store) Append(vector []float32) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if len(vector) != s.dimension {
		return 0, &ErrDimensionMismatch{Expected: s.dimension, Actual: len(vector)}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row := s.committed.Load()
	buf := make([]byte, s.rowSize)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	off := headerSize + row*s.rowSize
	if _, err := s.f.WriteAt(buf, off); err != nil {
		return 0, fmt.Errorf("embedstore: writing row %d: %w", row, err)
	}
	if err := s.f.Sync(); err != nil {
		return 0, fmt.Errorf("embedstore: sync row %d: %w", row, err)
	}
	if err := s.writeHeader(row+1, false); err != nil {
		return 0, err
	}

	s.committed.Store(row + 1)
	return row, nil
}

// ReadBlock returns up to count contiguous rows starting at startRow.
//
// The result is clipped to the committed boundary; a start at or past it
// yields an empty slice. All returned vectors share one backing array and
// must be treated as read-only.
func (s *Store) ReadBlock(startRow, count int64) ([][]float32, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if startRow < 0 || count < 0 {
		return nil, fmt.Errorf("embedstore: invalid block range [%d, %d)", startRow, startRow+count)
	}

	committed := s.committed.Load()
	if startRow >= committed {
		return nil, nil
	}
	if startRow+count > committed {
		count = committed - startRow
	}
	if count == 0 {
		return nil, nil
	}

	raw, err := s.readRows(startRow, count)
	if err != nil {
		return nil, err
	}

	flat := make([]float32, int(count)*s.dimension)
	for i := range flat {
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	vectors := make([][]float32, count)
	for i := int64(0); i < count; i++ {
		vectors[i] = flat[i*int64(s.dimension) : (i+1)*int64(s.dimension)]
	}
	return vectors, nil
}

// readRows fetches the raw bytes for rows [startRow, startRow+count) from the
// mapping when it covers the range, or by pread otherwise.
func (s *Store) readRows(startRow, count int64) ([]byte, error) {
	off := headerSize + startRow*s.rowSize
	n := count * s.rowSize

	if s.mapping != nil {
		if b, err := s.mapping.Range(int(off), int(n)); err == nil {
			return b, nil
		}
	}

	buf := make([]byte, n)
	if _, err := s.f.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, fmt.Errorf("embedstore: reading rows [%d, %d): %w", startRow, startRow+count, err)
	}
	return buf, nil
}

// RowCount returns the number of committed rows.
func (s *Store) RowCount() int64 {
	return s.committed.Load()
}

// Dimension returns the fixed vector dimensionality of the store.
func (s *Store) Dimension() int { return s.dimension }

// Path returns the log file path.
func (s *Store) Path() string { return s.path }

// Close releases the file handle and mapping. It is idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var firstErr error
	if s.mapping != nil {
		firstErr = s.mapping.Close()
	}
	if err := s.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

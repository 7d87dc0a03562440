// Package mmap provides read-only memory-mapped file access.
//
// The embedding log is scanned block-wise during similarity search; mapping
// the file lets the scanner read committed rows without copying them through
// kernel buffers. Mapping and reads are safe for concurrent use; callers must
// ensure no goroutine touches Bytes() after Close() returns.
package mmap

import (
	"errors"
	"os"
	"sync/atomic"
)

var (
	// ErrInvalidSize is returned when the file size is invalid.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrOutOfBounds is returned when a requested range lies outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)

// Mapping represents a read-only memory-mapped file.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	closed atomic.Bool
}

// Open maps the file at path into memory as read-only.
// A zero-length file yields an empty but valid mapping.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size < 0 {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return &Mapping{}, nil
	}

	data, err := mapFile(f, int(size))
	if err != nil {
		return nil, err
	}

	return &Mapping{data: data, size: int(size)}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.data == nil {
		return nil
	}
	return unmapFile(m.data)
}

// Bytes returns the underlying byte slice, or nil after Close.
// The slice is valid only until Close() is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int { return m.size }

// Range returns the byte range [off, off+n), or ErrOutOfBounds if the range
// does not lie fully inside the mapping.
func (m *Mapping) Range(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > m.size {
		return nil, ErrOutOfBounds
	}
	b := m.Bytes()
	if b == nil {
		return nil, ErrOutOfBounds
	}
	return b[off : off+n : off+n], nil
}

package embedstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Snapshot writes a zstd-compressed copy of the committed prefix of the log
// to dst. The snapshot captures the header with the committed count at call
// time; rows appended while the snapshot streams are not included.
//
// The write goes through a temp file plus rename, so a crash mid-snapshot
// never leaves a half-written snapshot at dst.
func (s *Store) Snapshot(dst string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	committed := s.committed.Load()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("embedstore: creating snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("embedstore: zstd writer: %w", err)
	}

	var hdr [headerSize]byte
	copy(hdr[:8], magic[:])
	binary.LittleEndian.PutUint32(hdr[8:12], version)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(s.dimension))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(committed))
	if _, err := enc.Write(hdr[:]); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("embedstore: writing snapshot header: %w", err)
	}

	if _, err := io.Copy(enc, io.NewSectionReader(s.f, headerSize, committed*s.rowSize)); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("embedstore: copying rows: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("embedstore: finishing zstd stream: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("embedstore: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("embedstore: closing snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("embedstore: publishing snapshot: %w", err)
	}
	return nil
}

// RestoreSnapshot decompresses the snapshot at src into a store file at dst.
// It validates the snapshot header and refuses to overwrite an existing file.
// The restored file is written atomically via temp file plus rename.
func RestoreSnapshot(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("embedstore: restore target %s already exists", dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("embedstore: opening snapshot: %w", err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("embedstore: zstd reader: %w", err)
	}
	defer dec.Close()

	var hdr [headerSize]byte
	if _, err := io.ReadFull(dec, hdr[:]); err != nil {
		return fmt.Errorf("%w: snapshot header unreadable: %v", ErrCorruptHeader, err)
	}
	if [8]byte(hdr[:8]) != magic {
		return fmt.Errorf("%w: snapshot has bad magic", ErrCorruptHeader)
	}
	if v := binary.LittleEndian.Uint32(hdr[8:12]); v != version {
		return fmt.Errorf("%w: snapshot has unsupported version %d", ErrCorruptHeader, v)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return fmt.Errorf("embedstore: creating restore temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(hdr[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("embedstore: writing restored header: %w", err)
	}
	if _, err := io.Copy(tmp, dec); err != nil {
		tmp.Close()
		return fmt.Errorf("embedstore: writing restored rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("embedstore: sync restored store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("embedstore: closing restored store: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("embedstore: publishing restored store: %w", err)
	}
	return nil
}

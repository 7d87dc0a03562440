// Package chunk defines the unit of indexed text and its content-addressed identity.
//
// A chunk's ID is derived deterministically from (source path, content, position),
// so re-indexing unchanged content always reproduces the same IDs. The IDs double
// as dedup keys during crash recovery, which is why derivation uses a cryptographic
// hash rather than a fast non-cryptographic one.
package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// ID is a stable, content-addressed chunk identifier (hex-encoded SHA-256).
type ID string

// RowNone marks a chunk that has no embedding row yet.
const RowNone int64 = -1

// Chunk is a unit of indexed text with a stable identity.
//
// Chunks are never mutated in place: a changed source yields a new content hash
// and therefore a new ID alongside the old one.
type Chunk struct {
	ID           ID
	SourcePath   string
	ContentHash  string
	Text         string
	Position     int
	EmbeddingRow int64 // row in the embedding store, RowNone if not embedded
	CreatedAt    time.Time
}

// Embedded reports whether the chunk references an embedding row.
func (c Chunk) Embedded() bool {
	return c.EmbeddingRow != RowNone
}

// DeriveID computes the content-addressed ID for a chunk.
//
// The triple is hashed with explicit length prefixes so no combination of
// source path, content and position can collide with another by boundary
// ambiguity. Pure function, no I/O.
func DeriveID(sourcePath string, content []byte, position int) ID {
	h := sha256.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(sourcePath)))
	h.Write(buf[:])
	h.Write([]byte(sourcePath))

	binary.LittleEndian.PutUint64(buf[:], uint64(len(content)))
	h.Write(buf[:])
	h.Write(content)

	binary.LittleEndian.PutUint64(buf[:], uint64(position))
	h.Write(buf[:])

	return ID(hex.EncodeToString(h.Sum(nil)))
}

// ContentHash computes the digest of a chunk's raw text.
//
// It is exposed separately from DeriveID so callers can detect source-level
// content drift without recomputing full chunk IDs.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// RankedResult is one entry from a single retrieval channel (vector or keyword).
//
// Score is channel-local and not comparable across channels; rank fusion
// operates on Rank, which is 1-based.
type RankedResult struct {
	ID    ID
	Score float32
	Rank  int
}

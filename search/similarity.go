// Package search implements exact top-k cosine similarity over the embedding log.
//
// The scanner is deliberately brute force: it reads the store in fixed-size
// blocks, scores every committed row against the query and keeps a bounded
// top-k heap. Exact results at O(N·d) time and O(blockSize·d + k) memory,
// sized for stores up to roughly one million vectors. Approximate index
// structures are a future variant behind the same interface, not part of
// this scanner.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/hybridrag/hybridrag/distance"
	"github.com/hybridrag/hybridrag/embedstore"
	"github.com/hybridrag/hybridrag/internal/queue"
)

// DefaultBlockSize is the number of rows scanned per block. It is a resource
// control knob, not a correctness parameter: any block size yields the same
// results.
const DefaultBlockSize = 4096

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("search: k must be positive")

// Result is a scored embedding row.
type Result struct {
	Row   int64
	Score float32 // cosine similarity, higher is better
}

// Similarity scans an embedding store block-wise for the rows most similar to
// a query vector. Safe for concurrent use; it only reads committed rows.
type Similarity struct {
	store     *embedstore.Store
	blockSize int64
}

// Options configures the scanner.
type Options struct {
	// BlockSize is the number of rows read per block.
	BlockSize int
}

// NewSimilarity creates a scanner over the given store.
func NewSimilarity(store *embedstore.Store, optFns ...func(o *Options)) *Similarity {
	opts := Options{BlockSize: DefaultBlockSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return &Similarity{
		store:     store,
		blockSize: int64(opts.BlockSize),
	}
}

// TopK returns the k committed rows most similar to query under cosine
// similarity, best first. Rows with zero norm are skipped (similarity
// undefined) rather than producing NaN. A k larger than the store returns
// all scorable rows, ranked.
//
// Cancellation is checked between blocks, so a timed-out query aborts
// mid-scan instead of running to completion.
func (s *Similarity) TopK(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) != s.store.Dimension() {
		return nil, &embedstore.ErrDimensionMismatch{Expected: s.store.Dimension(), Actual: len(query)}
	}

	q, ok := distance.NormalizeL2Copy(query)
	if !ok {
		return nil, fmt.Errorf("search: query vector has zero norm")
	}

	rows := s.store.RowCount()
	top := queue.NewTopK(k)

	for start := int64(0); start < rows; start += s.blockSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		block, err := s.store.ReadBlock(start, s.blockSize)
		if err != nil {
			return nil, err
		}

		for i, vec := range block {
			norm := distance.Norm(vec)
			if norm == 0 {
				continue
			}
			top.Offer(queue.Item{
				Row:   start + int64(i),
				Score: distance.Dot(q, vec) / norm,
			})
		}
	}

	items := top.Drain()
	results := make([]Result, len(items))
	for i, it := range items {
		results[i] = Result{Row: it.Row, Score: it.Score}
	}
	return results, nil
}

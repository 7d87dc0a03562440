package hybridrag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hybridrag/hybridrag/chunk"
	"github.com/hybridrag/hybridrag/embedstore"
	"github.com/hybridrag/hybridrag/fusion"
	"github.com/hybridrag/hybridrag/metastore"
	"github.com/hybridrag/hybridrag/search"
)

const (
	embeddingsFile = "embeddings.bin"
	metadataFile   = "metadata.db"

	// minFetchK floors the per-channel candidate depth so fusion has
	// something to work with even for tiny top-k values.
	minFetchK = 50
)

// Engine ties the append-only embedding log, the SQLite metadata store,
// and the two search channels into one retrieval surface.
//
// Engine is safe for concurrent use. Writes are serialized internally;
// reads run lock-free against committed state.
type Engine struct {
	dir     string
	vectors *embedstore.Store
	meta    *metastore.Store
	sim     *search.Similarity
	opts    *options
	writeMu sync.Mutex
	closed  atomic.Bool
}

// Open opens (or creates) an engine rooted at dir. The embedding log and
// metadata database live inside dir; dimension fixes the embedding width
// for the lifetime of the store.
//
// Open reconciles the two stores: embedding rows beyond the committed
// count are ignored, and metadata rows referencing them are logged and
// repaired on the next ingestion of their source.
func Open(ctx context.Context, dir string, dimension int, optFns ...Option) (*Engine, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(opts)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	vectors, err := embedstore.Open(filepath.Join(dir, embeddingsFile), dimension)
	if err != nil {
		return nil, fmt.Errorf("open embedding store: %w", err)
	}

	meta, err := metastore.Open(filepath.Join(dir, metadataFile))
	if err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	report, err := meta.Reconcile(ctx, vectors.RowCount())
	if err != nil {
		_ = vectors.Close()
		_ = meta.Close()
		return nil, fmt.Errorf("reconcile stores: %w", err)
	}

	opts.logger.LogRecovery(ctx, report.CommittedRows, report.Dangling)

	return &Engine{
		dir:     dir,
		vectors: vectors,
		meta:    meta,
		sim: search.NewSimilarity(vectors, func(o *search.Options) {
			o.BlockSize = opts.blockSize
		}),
		opts: opts,
	}, nil
}

// Ingestible is one pre-chunked, pre-embedded unit of content handed to
// Ingest. Position is the chunk's ordinal within its source.
type Ingestible struct {
	SourcePath string
	Text       string
	Position   int
	Embedding  []float32
}

// ChunkError records a single chunk that failed during ingestion.
type ChunkError struct {
	ID         chunk.ID
	SourcePath string
	Position   int
	Err        error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %s (%s#%d): %v", e.ID, e.SourcePath, e.Position, e.Err)
}

func (e ChunkError) Unwrap() error { return e.Err }

// IngestResult summarizes one ingestion batch.
type IngestResult struct {
	Indexed    int // new chunks written to both stores
	Reembedded int // existing chunks whose lost embeddings were rewritten
	Skipped    int // chunks already present and intact
	Failed     []ChunkError
}

// Ingest writes a batch of chunks. It is idempotent: chunks whose derived
// ID already exists with a live embedding are skipped, and chunks whose
// metadata survived a crash but whose embedding did not are re-embedded
// in place. Per-chunk failures are collected in the result; only a
// dimension mismatch aborts the batch, since it means the caller is
// embedding with the wrong model.
func (e *Engine) Ingest(ctx context.Context, items []Ingestible) (IngestResult, error) {
	if e.closed.Load() {
		return IngestResult{}, ErrClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var res IngestResult

	// Row references are validated against the committed count as of
	// batch start: rows appended by this batch belong to other chunks,
	// so a stale reference must never alias into them. Chunks written by
	// this batch are tracked separately so a duplicate within the batch
	// is a plain skip, not a spurious re-embed.
	committed := e.vectors.RowCount()
	written := make(map[chunk.ID]struct{}, len(items))

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		id := chunk.DeriveID(it.SourcePath, []byte(it.Text), it.Position)

		if _, dup := written[id]; dup {
			res.Skipped++
			continue
		}

		row, ok, err := e.meta.HasChunk(ctx, id)
		if err != nil {
			res.Failed = append(res.Failed, ChunkError{ID: id, SourcePath: it.SourcePath, Position: it.Position, Err: err})
			continue
		}

		switch {
		case ok && row != chunk.RowNone && row < committed:
			res.Skipped++
			written[id] = struct{}{}

		case ok:
			if len(it.Embedding) == 0 {
				res.Failed = append(res.Failed, ChunkError{ID: id, SourcePath: it.SourcePath, Position: it.Position, Err: errMissingEmbedding})
				continue
			}
			// Metadata survived a crash but its embedding row was never
			// committed. Append a fresh row and repoint the record.
			newRow, err := e.vectors.Append(it.Embedding)
			if err != nil {
				if isFatalIngestErr(err) {
					return res, err
				}
				res.Failed = append(res.Failed, ChunkError{ID: id, SourcePath: it.SourcePath, Position: it.Position, Err: err})
				continue
			}
			if err := e.meta.UpdateEmbeddingRow(ctx, id, newRow); err != nil {
				res.Failed = append(res.Failed, ChunkError{ID: id, SourcePath: it.SourcePath, Position: it.Position, Err: err})
				continue
			}
			res.Reembedded++
			written[id] = struct{}{}

		default:
			if len(it.Embedding) == 0 {
				res.Failed = append(res.Failed, ChunkError{ID: id, SourcePath: it.SourcePath, Position: it.Position, Err: errMissingEmbedding})
				continue
			}
			// Vector first, metadata second: a crash between the two
			// leaves an orphan row (harmless) rather than a metadata
			// record pointing at nothing.
			newRow, err := e.vectors.Append(it.Embedding)
			if err != nil {
				if isFatalIngestErr(err) {
					return res, err
				}
				res.Failed = append(res.Failed, ChunkError{ID: id, SourcePath: it.SourcePath, Position: it.Position, Err: err})
				continue
			}
			c := chunk.Chunk{
				ID:           id,
				SourcePath:   it.SourcePath,
				ContentHash:  chunk.ContentHash([]byte(it.Text)),
				Text:         it.Text,
				Position:     it.Position,
				EmbeddingRow: newRow,
				CreatedAt:    time.Now().UTC(),
			}
			if err := e.meta.InsertChunk(ctx, c); err != nil {
				res.Failed = append(res.Failed, ChunkError{ID: id, SourcePath: it.SourcePath, Position: it.Position, Err: err})
				continue
			}
			res.Indexed++
			written[id] = struct{}{}
		}
	}

	e.opts.logger.LogIngest(ctx, res.Indexed, res.Reembedded, res.Skipped, len(res.Failed))

	return res, nil
}

func isFatalIngestErr(err error) bool {
	var dim *embedstore.ErrDimensionMismatch

	return errors.As(err, &dim) || errors.Is(err, embedstore.ErrClosed)
}

// Query is one hybrid retrieval request. Text drives the keyword channel,
// Embedding drives the similarity channel; either may be empty, but not
// both.
type Query struct {
	Text      string
	Embedding []float32
	TopK      int
}

// ScoredChunk is one fused result with its full metadata record.
type ScoredChunk struct {
	Chunk chunk.Chunk
	Score float32 // fused RRF score
	Rank  int     // 0-based position in the fused ranking
}

// QueryResult is the hydrated outcome of a hybrid query. Gated is set
// when the retrieval gate is enabled and fewer than MinResults chunks
// were found.
type QueryResult struct {
	Chunks []ScoredChunk
	Gated  bool
}

// Query runs the similarity and keyword channels in parallel, fuses their
// rankings with RRF, and hydrates the winners from the metadata store.
func (e *Engine) Query(ctx context.Context, q Query) (QueryResult, error) {
	if e.closed.Load() {
		return QueryResult{}, ErrClosed
	}
	if q.TopK <= 0 {
		return QueryResult{}, ErrInvalidK
	}
	if q.Text == "" && len(q.Embedding) == 0 {
		return QueryResult{}, &ErrEmptyQuery{}
	}

	fetchK := q.TopK * 2
	if fetchK < minFetchK {
		fetchK = minFetchK
	}

	var vectorList, keywordList fusion.List

	g, gctx := errgroup.WithContext(ctx)

	if len(q.Embedding) > 0 {
		g.Go(func() error {
			hits, err := e.sim.TopK(gctx, q.Embedding, fetchK)
			if err != nil {
				return fmt.Errorf("similarity search: %w", err)
			}
			if len(hits) == 0 {
				return nil
			}
			rows := make([]int64, len(hits))
			for i, h := range hits {
				rows[i] = h.Row
			}
			byRow, err := e.meta.ChunkIDsByRows(gctx, rows)
			if err != nil {
				return fmt.Errorf("resolve rows: %w", err)
			}
			for _, h := range hits {
				// Orphan rows (vector committed, metadata lost) have no
				// chunk and are silently dropped from the ranking.
				if id, ok := byRow[h.Row]; ok {
					vectorList = append(vectorList, id)
				}
			}
			return nil
		})
	}

	if q.Text != "" {
		g.Go(func() error {
			hits, err := e.meta.SearchKeyword(gctx, q.Text, fetchK)
			if err != nil {
				return fmt.Errorf("keyword search: %w", err)
			}
			for _, h := range hits {
				keywordList = append(keywordList, h.ID)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.opts.logger.LogQuery(ctx, q.TopK, 0, false, err)

		return QueryResult{}, err
	}

	fused := fusion.Fuse([]fusion.List{vectorList, keywordList}, e.opts.rrfK, q.TopK)
	if len(fused) == 0 {
		gated := e.opts.minResults > 0
		e.opts.logger.LogQuery(ctx, q.TopK, 0, gated, nil)

		return QueryResult{Gated: gated}, nil
	}

	ids := make([]chunk.ID, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	chunks, err := e.meta.GetChunks(ctx, ids)
	if err != nil {
		return QueryResult{}, translateError(err)
	}

	byID := make(map[chunk.ID]chunk.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := QueryResult{Chunks: make([]ScoredChunk, 0, len(fused))}
	for _, f := range fused {
		c, ok := byID[f.ID]
		if !ok {
			continue
		}
		out.Chunks = append(out.Chunks, ScoredChunk{
			Chunk: c,
			Score: f.Score,
			Rank:  len(out.Chunks),
		})
	}

	if e.opts.minResults > 0 && len(out.Chunks) < e.opts.minResults {
		out.Gated = true
	}

	e.opts.logger.LogQuery(ctx, q.TopK, len(out.Chunks), out.Gated, nil)

	return out, nil
}

// QueryText embeds text with the configured embedder and runs a full
// hybrid query with it.
func (e *Engine) QueryText(ctx context.Context, text string, topK int) (QueryResult, error) {
	if e.opts.embedder == nil {
		return QueryResult{}, ErrNoEmbedder
	}

	vec, err := e.opts.embedder.Embed(ctx, text)
	if err != nil {
		return QueryResult{}, fmt.Errorf("embed query: %w", err)
	}

	return e.Query(ctx, Query{Text: text, Embedding: vec, TopK: topK})
}

// IngestText embeds each item with the configured embedder before
// ingesting it. Items already present are skipped without spending an
// embedding call.
func (e *Engine) IngestText(ctx context.Context, items []Ingestible) (IngestResult, error) {
	if e.opts.embedder == nil {
		return IngestResult{}, ErrNoEmbedder
	}

	var failed []ChunkError

	pass := make([]Ingestible, 0, len(items))
	for _, it := range items {
		if len(it.Embedding) > 0 {
			pass = append(pass, it)
			continue
		}

		id := chunk.DeriveID(it.SourcePath, []byte(it.Text), it.Position)
		row, ok, err := e.meta.HasChunk(ctx, id)
		if err == nil && ok && row != chunk.RowNone && row < e.vectors.RowCount() {
			// Already indexed: hand it through unembedded so Ingest
			// counts the skip without spending an embedding call.
			pass = append(pass, it)
			continue
		}

		vec, err := e.opts.embedder.Embed(ctx, it.Text)
		if err != nil {
			failed = append(failed, ChunkError{ID: id, SourcePath: it.SourcePath, Position: it.Position, Err: err})
			continue
		}
		it.Embedding = vec
		pass = append(pass, it)
	}

	res, err := e.Ingest(ctx, pass)
	res.Failed = append(failed, res.Failed...)

	return res, err
}

// Chunk returns the metadata record for a single chunk ID.
func (e *Engine) Chunk(ctx context.Context, id chunk.ID) (chunk.Chunk, error) {
	c, err := e.meta.GetChunk(ctx, id)
	if err != nil {
		return chunk.Chunk{}, translateError(err)
	}

	return c, nil
}

// SourceChanged reports whether the stored chunks for sourcePath differ
// from the given chunk contents, so callers can skip re-embedding
// unchanged files entirely.
func (e *Engine) SourceChanged(ctx context.Context, sourcePath string, contents [][]byte) (bool, error) {
	stored, err := e.meta.ContentHashes(ctx, sourcePath)
	if err != nil {
		return false, err
	}
	if len(stored) == 0 {
		return len(contents) > 0, nil
	}

	fresh := make(map[string]struct{}, len(contents))
	for _, c := range contents {
		fresh[chunk.ContentHash(c)] = struct{}{}
	}
	if len(fresh) != len(stored) {
		return true, nil
	}
	for h := range fresh {
		if _, ok := stored[h]; !ok {
			return true, nil
		}
	}

	return false, nil
}

// GC removes metadata for sources the exists predicate reports as gone.
// Embedding rows of removed chunks stay in the log as unreachable
// orphans; the log is append-only and never rewritten in place.
func (e *Engine) GC(ctx context.Context, exists func(sourcePath string) bool) (int64, int, error) {
	if e.closed.Load() {
		return 0, 0, ErrClosed
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	sources, err := e.meta.Sources(ctx)
	if err != nil {
		return 0, 0, err
	}

	var (
		removedChunks  int64
		removedSources int
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return removedChunks, removedSources, err
		}
		if exists(src) {
			continue
		}
		n, err := e.meta.DeleteSource(ctx, src)
		if err != nil {
			return removedChunks, removedSources, err
		}
		removedChunks += n
		removedSources++
	}

	e.opts.logger.LogGC(ctx, removedSources, removedChunks)

	return removedChunks, removedSources, nil
}

// Status describes the engine's persisted state.
type Status struct {
	Dir           string
	Dimension     int
	CommittedRows int64
	Chunks        int64
	Sources       int64
	Embedded      int64
	OrphanRows    int64
	Dangling      int64
}

// Status reports store sizes and the outcome of a fresh reconciliation
// between the embedding log and the metadata database.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	if e.closed.Load() {
		return Status{}, ErrClosed
	}

	stats, err := e.meta.Stats(ctx)
	if err != nil {
		return Status{}, err
	}

	report, err := e.meta.Reconcile(ctx, e.vectors.RowCount())
	if err != nil {
		return Status{}, err
	}

	return Status{
		Dir:           e.dir,
		Dimension:     e.vectors.Dimension(),
		CommittedRows: e.vectors.RowCount(),
		Chunks:        stats.Chunks,
		Sources:       stats.Sources,
		Embedded:      stats.Embedded,
		OrphanRows:    report.OrphanRows,
		Dangling:      report.Dangling,
	}, nil
}

// Snapshot writes a compressed, point-in-time copy of the embedding log
// to dst. The metadata database is already durable on its own (SQLite
// WAL); pair this with a file copy of metadata.db for a full backup.
func (e *Engine) Snapshot(dst string) error {
	if e.closed.Load() {
		return ErrClosed
	}

	return e.vectors.Snapshot(dst)
}

// Close releases both stores. Operations after Close return ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := e.vectors.Close()
	if merr := e.meta.Close(); err == nil {
		err = merr
	}

	return err
}

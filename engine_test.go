package hybridrag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrag/hybridrag/chunk"
	"github.com/hybridrag/hybridrag/embedstore"
)

const testDim = 4

func openEngine(t *testing.T, dir string, optFns ...Option) *Engine {
	t.Helper()

	eng, err := Open(context.Background(), dir, testDim, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	return eng
}

func testCorpus() []Ingestible {
	return []Ingestible{
		{SourcePath: "docs/a.md", Text: "the quick brown fox jumps over logs", Position: 0, Embedding: []float32{1, 0, 0, 0}},
		{SourcePath: "docs/b.md", Text: "lazy dogs sleep all day long", Position: 0, Embedding: []float32{0, 1, 0, 0}},
		{SourcePath: "docs/b.md", Text: "dogs chase the cat at night", Position: 1, Embedding: []float32{0.6, 0.8, 0, 0}},
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("NewChunksIndexed", func(t *testing.T) {
		eng := openEngine(t, t.TempDir())

		res, err := eng.Ingest(ctx, testCorpus())
		require.NoError(t, err)
		assert.Equal(t, 3, res.Indexed)
		assert.Equal(t, 0, res.Skipped)
		assert.Empty(t, res.Failed)

		status, err := eng.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), status.Chunks)
		assert.Equal(t, int64(3), status.CommittedRows)
		assert.Equal(t, int64(3), status.Embedded)
		assert.Zero(t, status.Dangling)
	})

	t.Run("Idempotent", func(t *testing.T) {
		eng := openEngine(t, t.TempDir())

		_, err := eng.Ingest(ctx, testCorpus())
		require.NoError(t, err)

		res, err := eng.Ingest(ctx, testCorpus())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Indexed)
		assert.Equal(t, 3, res.Skipped)

		// No new embedding rows were appended.
		status, err := eng.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), status.CommittedRows)
	})

	t.Run("ChangedContentIsNewChunk", func(t *testing.T) {
		eng := openEngine(t, t.TempDir())

		_, err := eng.Ingest(ctx, testCorpus())
		require.NoError(t, err)

		edited := testCorpus()
		edited[0].Text = "the quick brown fox jumps over rocks"

		res, err := eng.Ingest(ctx, edited)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Indexed)
		assert.Equal(t, 2, res.Skipped)
	})

	t.Run("DuplicateWithinBatchSkipped", func(t *testing.T) {
		eng := openEngine(t, t.TempDir())

		corpus := testCorpus()
		res, err := eng.Ingest(ctx, append(corpus, corpus[0]))
		require.NoError(t, err)
		assert.Equal(t, 3, res.Indexed)
		assert.Equal(t, 1, res.Skipped)
		assert.Equal(t, 0, res.Reembedded)

		// The duplicate must not append an orphan row.
		status, err := eng.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), status.CommittedRows)
		assert.Equal(t, int64(0), status.OrphanRows)
	})

	t.Run("DimensionMismatchAborts", func(t *testing.T) {
		eng := openEngine(t, t.TempDir())

		_, err := eng.Ingest(ctx, []Ingestible{
			{SourcePath: "x", Text: "bad", Embedding: []float32{1, 2}},
		})
		require.Error(t, err)
	})
}

func TestCrashRepair(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	eng := openEngine(t, dir)
	_, err := eng.Ingest(ctx, testCorpus())
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	// Simulate a crash that lost the embedding log's committed state:
	// zero the committed-rows counter so recovery truncates every row,
	// leaving all metadata records dangling.
	path := filepath.Join(dir, embeddingsFile)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	var zero [8]byte
	binary.LittleEndian.PutUint64(zero[:], 0)
	_, err = f.WriteAt(zero[:], 16)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	eng2 := openEngine(t, dir)

	status, err := eng2.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.CommittedRows)
	assert.Equal(t, int64(3), status.Dangling)
	assert.Equal(t, int64(3), status.Chunks, "metadata survives the lost log")

	// Re-running the same ingestion repairs every dangling record.
	res, err := eng2.Ingest(ctx, testCorpus())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Reembedded)
	assert.Equal(t, 0, res.Indexed)
	assert.Equal(t, 0, res.Skipped)

	status, err = eng2.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Dangling)
	assert.Equal(t, int64(3), status.CommittedRows)

	// And search works again end to end.
	hits, err := eng2.Query(ctx, Query{Embedding: []float32{1, 0, 0, 0}, TopK: 1})
	require.NoError(t, err)
	require.Len(t, hits.Chunks, 1)
	assert.Equal(t, "the quick brown fox jumps over logs", hits.Chunks[0].Chunk.Text)
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	newCorpusEngine := func(t *testing.T, optFns ...Option) *Engine {
		eng := openEngine(t, t.TempDir(), optFns...)
		_, err := eng.Ingest(ctx, testCorpus())
		require.NoError(t, err)

		return eng
	}

	t.Run("Hybrid", func(t *testing.T) {
		eng := newCorpusEngine(t)

		// "quick fox" matches only the first chunk lexically, and its
		// embedding is closest too, so it must win the fused ranking.
		res, err := eng.Query(ctx, Query{
			Text:      "quick fox",
			Embedding: []float32{1, 0, 0, 0},
			TopK:      3,
		})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 3)
		assert.Equal(t, "the quick brown fox jumps over logs", res.Chunks[0].Chunk.Text)
		assert.Equal(t, 0, res.Chunks[0].Rank)
		assert.Greater(t, res.Chunks[0].Score, res.Chunks[1].Score)
		assert.False(t, res.Gated)
	})

	t.Run("VectorOnly", func(t *testing.T) {
		eng := newCorpusEngine(t)

		res, err := eng.Query(ctx, Query{Embedding: []float32{0, 1, 0, 0}, TopK: 2})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 2)
		assert.Equal(t, "lazy dogs sleep all day long", res.Chunks[0].Chunk.Text)
	})

	t.Run("KeywordOnly", func(t *testing.T) {
		eng := newCorpusEngine(t)

		res, err := eng.Query(ctx, Query{Text: "dogs", TopK: 5})
		require.NoError(t, err)
		require.Len(t, res.Chunks, 2)
		for _, sc := range res.Chunks {
			assert.Contains(t, sc.Chunk.Text, "dogs")
		}
	})

	t.Run("TopKLimits", func(t *testing.T) {
		eng := newCorpusEngine(t)

		res, err := eng.Query(ctx, Query{Embedding: []float32{1, 0, 0, 0}, TopK: 1})
		require.NoError(t, err)
		assert.Len(t, res.Chunks, 1)
	})

	t.Run("InvalidK", func(t *testing.T) {
		eng := newCorpusEngine(t)

		_, err := eng.Query(ctx, Query{Text: "fox", TopK: 0})
		assert.ErrorIs(t, err, ErrInvalidK)
	})

	t.Run("EmptyQuery", func(t *testing.T) {
		eng := newCorpusEngine(t)

		_, err := eng.Query(ctx, Query{TopK: 3})
		var empty *ErrEmptyQuery
		assert.ErrorAs(t, err, &empty)
	})

	t.Run("NoMatchesIsNotAnError", func(t *testing.T) {
		eng := newCorpusEngine(t)

		res, err := eng.Query(ctx, Query{Text: "zebra quantum", TopK: 3})
		require.NoError(t, err)
		assert.Empty(t, res.Chunks)
	})

	t.Run("Gate", func(t *testing.T) {
		eng := newCorpusEngine(t, WithMinResults(3))

		res, err := eng.Query(ctx, Query{Text: "dogs", TopK: 5})
		require.NoError(t, err)
		assert.Len(t, res.Chunks, 2)
		assert.True(t, res.Gated)

		res, err = eng.Query(ctx, Query{Text: "zebra", TopK: 5})
		require.NoError(t, err)
		assert.Empty(t, res.Chunks)
		assert.True(t, res.Gated)
	})
}

// TestEndToEnd indexes one source with three chunks, then queries with an
// embedding nearest the first chunk and text matching only the second.
// The fused top-2 must contain both, with the first ranked on top.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	eng := openEngine(t, t.TempDir())

	_, err := eng.Ingest(ctx, []Ingestible{
		{SourcePath: "doc1", Text: "gradient descent converges on convex loss", Position: 0, Embedding: []float32{1, 0, 0, 0}},
		{SourcePath: "doc1", Text: "sqlite persists rows durably on disk", Position: 1, Embedding: []float32{0, 1, 0, 0}},
		{SourcePath: "doc1", Text: "sailing boats need steady coastal wind", Position: 2, Embedding: []float32{0, 0, 1, 0}},
	})
	require.NoError(t, err)

	res, err := eng.Query(ctx, Query{
		Text:      "sqlite durably",
		Embedding: []float32{0.95, 0.05, 0, 0}, // nearest position 0
		TopK:      2,
	})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)

	texts := []string{res.Chunks[0].Chunk.Text, res.Chunks[1].Chunk.Text}
	assert.Contains(t, texts, "gradient descent converges on convex loss")
	assert.Contains(t, texts, "sqlite persists rows durably on disk")
	// Position 2 is near the query in neither channel and must not
	// outrank the vector-nearest chunk.
	assert.NotContains(t, texts[0], "sailing")
}

// stubEmbedder derives a deterministic unit vector from the text hash.
type stubEmbedder struct {
	vecs map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vecs[text]; ok {
		return v, nil
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, testDim)
	for i := range vec {
		vec[i] = float32(sum[i])/255 + 0.01
	}

	return vec, nil
}

func (s *stubEmbedder) Dimension() int { return testDim }

func TestTextEntryPoints(t *testing.T) {
	ctx := context.Background()

	stub := &stubEmbedder{vecs: map[string][]float32{
		"quick fox": {1, 0, 0, 0},
	}}

	t.Run("RequiresEmbedder", func(t *testing.T) {
		eng := openEngine(t, t.TempDir())

		_, err := eng.QueryText(ctx, "fox", 3)
		assert.ErrorIs(t, err, ErrNoEmbedder)

		_, err = eng.IngestText(ctx, testCorpus())
		assert.ErrorIs(t, err, ErrNoEmbedder)
	})

	t.Run("IngestAndQueryByText", func(t *testing.T) {
		eng := openEngine(t, t.TempDir(), WithEmbedder(stub))

		items := testCorpus()
		for i := range items {
			items[i].Embedding = nil
		}
		res, err := eng.IngestText(ctx, items)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Indexed)

		hits, err := eng.QueryText(ctx, "quick fox", 1)
		require.NoError(t, err)
		require.Len(t, hits.Chunks, 1)
		assert.Equal(t, "the quick brown fox jumps over logs", hits.Chunks[0].Chunk.Text)
	})

	t.Run("SkipsEmbeddingForPresentChunks", func(t *testing.T) {
		eng := openEngine(t, t.TempDir(), WithEmbedder(stub))

		items := testCorpus()
		for i := range items {
			items[i].Embedding = nil
		}
		_, err := eng.IngestText(ctx, items)
		require.NoError(t, err)

		again := testCorpus()
		for i := range again {
			again[i].Embedding = nil
		}
		res, err := eng.IngestText(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Skipped)
	})
}

func TestSourceChanged(t *testing.T) {
	ctx := context.Background()
	eng := openEngine(t, t.TempDir())

	_, err := eng.Ingest(ctx, testCorpus())
	require.NoError(t, err)

	same := [][]byte{
		[]byte("lazy dogs sleep all day long"),
		[]byte("dogs chase the cat at night"),
	}
	changed, err := eng.SourceChanged(ctx, "docs/b.md", same)
	require.NoError(t, err)
	assert.False(t, changed)

	edited := [][]byte{
		[]byte("lazy dogs sleep all day long"),
		[]byte("cats chase the dog at night"),
	}
	changed, err = eng.SourceChanged(ctx, "docs/b.md", edited)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = eng.SourceChanged(ctx, "docs/unknown.md", same)
	require.NoError(t, err)
	assert.True(t, changed, "unknown source with content counts as changed")
}

func TestGC(t *testing.T) {
	ctx := context.Background()
	eng := openEngine(t, t.TempDir())

	_, err := eng.Ingest(ctx, testCorpus())
	require.NoError(t, err)

	removedChunks, removedSources, err := eng.GC(ctx, func(src string) bool {
		return src == "docs/a.md"
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removedChunks)
	assert.Equal(t, 1, removedSources)

	status, err := eng.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Chunks)
	// The log is append-only: rows of deleted chunks become orphans.
	assert.Equal(t, int64(3), status.CommittedRows)
	assert.Equal(t, int64(2), status.OrphanRows)

	// Deleted chunks are gone from keyword search too (FTS triggers).
	res, err := eng.Query(ctx, Query{Text: "dogs", TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)

	res, err = eng.Query(ctx, Query{Text: "fox", TopK: 5})
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 1)
}

func TestChunkLookup(t *testing.T) {
	ctx := context.Background()
	eng := openEngine(t, t.TempDir())

	corpus := testCorpus()
	_, err := eng.Ingest(ctx, corpus)
	require.NoError(t, err)

	id := chunk.DeriveID(corpus[0].SourcePath, []byte(corpus[0].Text), corpus[0].Position)
	c, err := eng.Chunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, corpus[0].Text, c.Text)
	assert.True(t, c.Embedded())

	// Position survives the metadata round-trip.
	id = chunk.DeriveID(corpus[2].SourcePath, []byte(corpus[2].Text), corpus[2].Position)
	c, err = eng.Chunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "docs/b.md", c.SourcePath)
	assert.Equal(t, 1, c.Position)

	_, err = eng.Chunk(ctx, chunk.ID("deadbeef"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	eng := openEngine(t, dir)

	_, err := eng.Ingest(ctx, testCorpus())
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "embeddings.snap")
	require.NoError(t, eng.Snapshot(dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	eng := openEngine(t, t.TempDir())

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close(), "double close is a no-op")

	_, err := eng.Ingest(ctx, testCorpus())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = eng.Query(ctx, Query{Text: "fox", TopK: 1})
	assert.ErrorIs(t, err, ErrClosed)

	_, _, err = eng.GC(ctx, func(string) bool { return true })
	assert.ErrorIs(t, err, ErrClosed)

	_, err = eng.Status(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), 0)
	require.Error(t, err)

	var invalid *embedstore.ErrInvalidDimension
	assert.ErrorAs(t, err, &invalid)
}

// Package hybridrag is a local, offline-first hybrid retrieval engine.
//
// It combines exact cosine similarity over an append-only embedding log
// with SQLite FTS5 keyword search, and fuses the two rankings with
// Reciprocal Rank Fusion. All state lives in a single directory on local
// disk; no server process is required.
//
// The Engine is the main entry point:
//
//	eng, err := hybridrag.Open(ctx, "data", 1536)
//	if err != nil { ... }
//	defer eng.Close()
//
//	res, err := eng.Ingest(ctx, chunks)
//	hits, err := eng.Query(ctx, hybridrag.Query{Text: "...", Embedding: vec, TopK: 10})
//
// Ingestion is idempotent: chunk identity is derived from content, so
// re-running ingestion over unchanged sources is a no-op, and re-running
// it after a crash repairs any metadata rows whose embeddings were lost.
package hybridrag

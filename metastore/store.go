// Package metastore implements the durable chunk record store on SQLite.
//
// It owns the chunk table and the FTS5 full-text index over chunk text. The
// FTS index is maintained by triggers inside the same transaction as every
// chunk write, so a reader can never observe a chunk record without its
// full-text entry or vice versa.
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hybridrag/hybridrag/chunk"
)

// ErrNotFound is returned when a chunk does not exist.
var ErrNotFound = errors.New("metastore: chunk not found")

// migrations are applied in order; schema_migrations records progress.
var migrations = []string{
	`
	CREATE TABLE chunks (
		chunk_id      TEXT PRIMARY KEY,
		source_path   TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		text          TEXT NOT NULL,
		position      INTEGER NOT NULL,
		embedding_row INTEGER,
		created_at    TIMESTAMP NOT NULL
	);

	CREATE INDEX idx_chunks_source ON chunks(source_path);

	CREATE VIRTUAL TABLE chunks_fts USING fts5(
		text,
		content='chunks',
		content_rowid='rowid'
	);

	CREATE TRIGGER chunks_fts_insert AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
	END;

	CREATE TRIGGER chunks_fts_delete AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
	END;

	CREATE TRIGGER chunks_fts_update AFTER UPDATE OF text ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
		INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
	END;
	`,
}

// Store is the SQLite-backed chunk metadata store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the metadata database at path and applies pending
// migrations. WAL journal mode keeps readers unblocked by the single writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("metastore: opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("metastore: creating schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("metastore: reading schema version: %w", err)
	}

	for i, migration := range migrations {
		version := i + 1
		if version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("metastore: beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("metastore: applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("metastore: recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("metastore: committing migration %d: %w", version, err)
		}
	}
	return nil
}

// InsertChunk stores a new chunk record. The FTS entry is created by trigger
// inside the same implicit transaction. Inserting an existing chunk_id is an
// error; callers are expected to check HasChunk first.
func (s *Store) InsertChunk(ctx context.Context, c chunk.Chunk) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var row any
	if c.EmbeddingRow != chunk.RowNone {
		row = c.EmbeddingRow
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (chunk_id, source_path, content_hash, text, position, embedding_row, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(c.ID), c.SourcePath, c.ContentHash, c.Text, c.Position, row, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("metastore: inserting chunk %s: %w", c.ID, err)
	}
	return nil
}

// UpdateEmbeddingRow repoints a chunk at a new embedding row. Used when
// re-running ingestion resolves a record whose referenced row was lost to a
// crash.
func (s *Store) UpdateEmbeddingRow(ctx context.Context, id chunk.ID, row int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chunks SET embedding_row = ? WHERE chunk_id = ?", row, string(id))
	if err != nil {
		return fmt.Errorf("metastore: updating embedding row for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("metastore: updating embedding row for %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasChunk reports whether a chunk exists and, if so, its embedding row
// (chunk.RowNone when the record has no row reference).
func (s *Store) HasChunk(ctx context.Context, id chunk.ID) (int64, bool, error) {
	var row sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding_row FROM chunks WHERE chunk_id = ?", string(id)).Scan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return chunk.RowNone, false, nil
	}
	if err != nil {
		return chunk.RowNone, false, fmt.Errorf("metastore: checking chunk %s: %w", id, err)
	}
	if !row.Valid {
		return chunk.RowNone, true, nil
	}
	return row.Int64, true, nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id chunk.ID) (chunk.Chunk, error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, source_path, content_hash, text, position, embedding_row, created_at
		FROM chunks WHERE chunk_id = ?
	`, string(id))
	c, err := scanChunk(r.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return chunk.Chunk{}, ErrNotFound
	}
	return c, err
}

// GetChunks retrieves the given chunks, preserving the order of ids.
// Unknown IDs are silently skipped.
func (s *Store) GetChunks(ctx context.Context, ids []chunk.ID) ([]chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, source_path, content_hash, text, position, embedding_row, created_at
		FROM chunks WHERE chunk_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("metastore: querying chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[chunk.ID]chunk.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating chunks: %w", err)
	}

	out := make([]chunk.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ChunkIDsByRows maps embedding rows back to chunk IDs.
func (s *Store) ChunkIDsByRows(ctx context.Context, embeddingRows []int64) (map[int64]chunk.ID, error) {
	if len(embeddingRows) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(embeddingRows))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(embeddingRows))
	for i, r := range embeddingRows {
		args[i] = r
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT embedding_row, chunk_id FROM chunks WHERE embedding_row IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("metastore: mapping rows to chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]chunk.ID, len(embeddingRows))
	for rows.Next() {
		var row int64
		var id string
		if err := rows.Scan(&row, &id); err != nil {
			return nil, fmt.Errorf("metastore: scanning row mapping: %w", err)
		}
		out[row] = chunk.ID(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating row mappings: %w", err)
	}
	return out, nil
}

// Sources returns all distinct source paths with indexed chunks.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT source_path FROM chunks ORDER BY source_path")
	if err != nil {
		return nil, fmt.Errorf("metastore: querying sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("metastore: scanning source: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating sources: %w", err)
	}
	return out, nil
}

// ContentHashes returns the set of chunk content hashes recorded for a source.
// Comparing it against freshly computed hashes detects source drift without
// re-deriving chunk IDs.
func (s *Store) ContentHashes(ctx context.Context, sourcePath string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT content_hash FROM chunks WHERE source_path = ?", sourcePath)
	if err != nil {
		return nil, fmt.Errorf("metastore: querying content hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("metastore: scanning content hash: %w", err)
		}
		out[h] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating content hashes: %w", err)
	}
	return out, nil
}

// DeleteSource removes all chunks for a source and returns how many were
// deleted. FTS entries go with them via trigger. Embedding rows are not
// reclaimed; the log is append-only and orphan rows are benign.
func (s *Store) DeleteSource(ctx context.Context, sourcePath string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE source_path = ?", sourcePath)
	if err != nil {
		return 0, fmt.Errorf("metastore: deleting source %s: %w", sourcePath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("metastore: deleting source %s: %w", sourcePath, err)
	}
	return n, nil
}

// Stats summarizes the indexed corpus.
type Stats struct {
	Chunks   int64 // total chunk records
	Sources  int64 // distinct source paths
	Embedded int64 // chunks referencing an embedding row
}

// Stats returns corpus-level counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT source_path),
			COUNT(embedding_row)
		FROM chunks
	`).Scan(&st.Chunks, &st.Sources, &st.Embedded)
	if err != nil {
		return Stats{}, fmt.Errorf("metastore: reading stats: %w", err)
	}
	return st, nil
}

func scanChunk(scan func(dest ...any) error) (chunk.Chunk, error) {
	var c chunk.Chunk
	var id string
	var row sql.NullInt64
	if err := scan(&id, &c.SourcePath, &c.ContentHash, &c.Text, &c.Position, &row, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chunk.Chunk{}, err
		}
		return chunk.Chunk{}, fmt.Errorf("metastore: scanning chunk: %w", err)
	}
	c.ID = chunk.ID(id)
	c.EmbeddingRow = chunk.RowNone
	if row.Valid {
		c.EmbeddingRow = row.Int64
	}
	return c, nil
}

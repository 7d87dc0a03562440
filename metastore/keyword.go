package metastore

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hybridrag/hybridrag/chunk"
)

// SearchKeyword returns up to k chunks ranked by lexical relevance to the
// query text, using the FTS5 index with bm25 ranking.
//
// Query text is tokenized and each term quoted before matching, so user input
// can never be interpreted as FTS query syntax. Terms are OR-combined: any
// matching term contributes. No matching terms, or no query terms at all,
// yields an empty result rather than an error.
func (s *Store) SearchKeyword(ctx context.Context, query string, k int) ([]chunk.RankedResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("metastore: k must be positive, got %d", k)
	}

	match := buildMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	// bm25() returns lower-is-better; negate so Score follows the
	// higher-is-better convention shared with the vector channel.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, -bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts), c.chunk_id
		LIMIT ?
	`, match, k)
	if err != nil {
		return nil, fmt.Errorf("metastore: keyword search: %w", err)
	}
	defer rows.Close()

	var results []chunk.RankedResult
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("metastore: scanning keyword result: %w", err)
		}
		results = append(results, chunk.RankedResult{
			ID:    chunk.ID(id),
			Score: float32(score),
			Rank:  len(results) + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating keyword results: %w", err)
	}
	return results, nil
}

// buildMatchExpr turns free text into a safe FTS5 MATCH expression:
// terms are lowercased, stripped to letters/digits and double-quoted.
func buildMatchExpr(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+strings.ToLower(f)+`"`)
	}
	return strings.Join(terms, " OR ")
}

package metastore

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ReconcileReport describes how the metadata's row references line up with
// the embedding log's committed row count.
type ReconcileReport struct {
	CommittedRows int64 // rows the embedding log has durably committed
	Referenced    int64 // committed rows referenced by some chunk
	OrphanRows    int64 // committed rows no chunk references (benign; append-only log)
	Dangling      int64 // references at or past the committed boundary
}

// Consistent reports whether every row reference points at a committed row.
// Orphan rows do not count against consistency: a crash between the vector
// append and the metadata insert legitimately leaves one behind, and
// re-running ingestion never reuses it.
func (r ReconcileReport) Consistent() bool {
	return r.Dangling == 0
}

// Reconcile compares the set of embedding rows referenced by chunk records
// against the log's committed row count.
//
// Dangling references (row >= committedRows) are the expected transient state
// immediately after a crash that lost the tail of the log; those chunks are
// treated as not yet embedded and are repaired by re-running ingestion.
func (s *Store) Reconcile(ctx context.Context, committedRows int64) (ReconcileReport, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT embedding_row FROM chunks WHERE embedding_row IS NOT NULL")
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("metastore: querying row references: %w", err)
	}
	defer rows.Close()

	referenced := roaring64.New()
	report := ReconcileReport{CommittedRows: committedRows}

	for rows.Next() {
		var row int64
		if err := rows.Scan(&row); err != nil {
			return ReconcileReport{}, fmt.Errorf("metastore: scanning row reference: %w", err)
		}
		if row < 0 || row >= committedRows {
			report.Dangling++
			continue
		}
		referenced.Add(uint64(row))
	}
	if err := rows.Err(); err != nil {
		return ReconcileReport{}, fmt.Errorf("metastore: iterating row references: %w", err)
	}

	report.Referenced = int64(referenced.GetCardinality())
	report.OrphanRows = committedRows - report.Referenced
	return report, nil
}

package replicate

import (
	"context"
	"log"
)

// ── Bulk writer (C2) ───────────────────────────────────────
// Attempts one bulk copy of a batch; on any database error from the
// target, degrades to per-row upserts under the exception shield. The
// bulk path is orders of magnitude faster when every row is clean; the
// fallback confines the damage of one poisoned row to that row.

// BulkWriter turns batches into bulk inserts, falling back to per-row
// upserts on failure.
type BulkWriter struct {
	Schema  SchemaLoader
	Adapter SQLAdapter
	Unsafe  bool

	// DryRun, when set, logs what would have been written instead of
	// issuing the bulk copy or per-row fallback — the importer's scan and
	// transform path still runs in full.
	DryRun bool
}

// Write commits batch to ns's target table. On a nil return outside
// DryRun, every row has either been committed or been logged as skipped
// under the unsafe policy — it never silently drops a row outside that
// path.
func (w *BulkWriter) Write(ctx context.Context, ns string, spec NamespaceSpec, batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	if w.DryRun {
		log.Printf("bulkwriter: dry-run, would write %d rows to %s (table %s)", batch.Len(), ns, spec.Table().Name())
		return nil
	}

	if err := w.Schema.CopyData(ctx, ns, batch.Rows()); err == nil {
		return nil
	} else if !w.Adapter.IsDatabaseError(err) {
		return err
	} else {
		log.Printf("bulkwriter: bulk copy failed for %s, falling back to per-row: %v", ns, err)
	}

	return w.writePerRow(ctx, ns, spec, batch)
}

func (w *BulkWriter) writePerRow(ctx context.Context, ns string, spec NamespaceSpec, batch *Batch) error {
	columns := spec.Columns()
	pk := spec.PrimaryKeyColumn()
	table := spec.Table()

	for _, row := range batch.Rows() {
		rowMap := zipColumns(columns, row)
		err := Shield(ctx, w.Adapter, w.Unsafe, ns, rowMap, func(ctx context.Context) error {
			return w.Adapter.Upsert(ctx, table, pk, rowMap)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// zipColumns reconstructs a column->value mapping by zipping a row
// tuple with the namespace's column list.
func zipColumns(columns []string, row RowTuple) map[string]any {
	m := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			m[col] = row[i]
		}
	}
	return m
}

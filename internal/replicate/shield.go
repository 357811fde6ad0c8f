package replicate

import (
	"context"
	"fmt"
	"log"
)

// ── Exception shield (C3) ─────────────────────────────────
// Wraps a single-row target write. Under PostgreSQL, with a structured
// row error and the unsafe flag set, the offending row is logged and
// swallowed; otherwise the error is logged and re-raised.

// Shield wraps writeRow, applying the unsafe-skip policy on failure.
// ns and row are included in log lines on both the swallow and the
// re-raise paths for database errors; any other error is returned as-is
// without a log line.
func Shield(ctx context.Context, adapter SQLAdapter, unsafe bool, ns string, row map[string]any, writeRow func(ctx context.Context) error) error {
	err := writeRow(ctx)
	if err == nil {
		return nil
	}
	if !adapter.IsDatabaseError(err) {
		return err
	}

	if adapter.SupportsStructuredRowErrors() && unsafe {
		if detail, ok := adapter.StructuredRowError(err); ok {
			log.Printf("shield: dropping row for %s: %s row=%v", ns, detail, row)
			return nil
		}
	}

	log.Printf("shield: write failed for %s row=%v: %v", ns, row, err)
	return fmt.Errorf("write %s: %w", ns, err)
}

package replicate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Importer (C4) ──────────────────────────────────────────
// For each configured namespace, truncate, scan the source collection,
// transform, and feed the bulk writer.

// ImportOptions controls the importer's table-drop and tail-skip behavior.
type ImportOptions struct {
	NoDropTables bool
	SkipTail     bool
}

// Importer materializes the current contents of every configured
// namespace into its target table.
type Importer struct {
	Schema  SchemaLoader
	Source  SourceDriver
	Tailer  Tailer
	Writer  *BulkWriter
	Stop    *StopFlag
	Options ImportOptions
}

// Run executes the full import: create schema, capture start_ts, scan
// every configured namespace in schema-spec order, then persist start_ts
// as the tailer's resume point.
//
// The resume timestamp is captured before the scan begins, never after —
// so the tail that follows is guaranteed to cover every mutation the scan
// could have missed.
func (im *Importer) Run(ctx context.Context) error {
	runID := uuid.New().String()
	log.Printf("import[%s]: starting", runID)

	if err := im.Schema.CreateSchema(ctx, !im.Options.NoDropTables); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var startTS bson.Timestamp
	if !im.Options.SkipTail {
		ts, err := im.Source.LatestOplogTimestamp(ctx)
		if err != nil {
			return fmt.Errorf("discover start_ts: %w", err)
		}
		startTS = ts
		log.Printf("import[%s]: captured start_ts=%v before scan", runID, startTS)
	}

	memo := NewTruncationMemo()
	for _, dbName := range im.Schema.Databases() {
		collections, ok := im.Schema.FindDB(dbName)
		if !ok {
			continue
		}
		for _, coll := range collections {
			if im.Stop.Stopped() {
				log.Printf("import[%s]: stop flag set, exiting", runID)
				return nil
			}
			ns := dbName + "." + coll
			if err := im.importNamespace(ctx, runID, ns, memo); err != nil {
				return err
			}
		}
	}

	if im.Stop.Stopped() {
		log.Printf("import[%s]: stop flag set, exiting", runID)
		return nil
	}

	if !im.Options.SkipTail {
		if err := im.Tailer.WriteTimestamp(ctx, startTS); err != nil {
			return fmt.Errorf("persist resume timestamp: %w", err)
		}
		log.Printf("import[%s]: persisted resume timestamp %v", runID, startTS)
	}

	log.Printf("import[%s]: finished", runID)
	return nil
}

func (im *Importer) importNamespace(ctx context.Context, runID, ns string, memo *TruncationMemo) error {
	spec, ok := im.Schema.FindNS(ns)
	if !ok {
		log.Printf("import[%s]: no schema for %s, skipping", runID, ns)
		return nil
	}

	table := spec.Table()
	if !im.Options.NoDropTables && memo.MarkIfNew(table.Name()) {
		if err := table.Truncate(ctx); err != nil {
			return fmt.Errorf("truncate %s: %w", table.Name(), err)
		}
	}

	dbName, coll, found := splitNamespace(ns)
	if !found {
		return fmt.Errorf("malformed namespace %q", ns)
	}

	start := time.Now()
	var sqlTime time.Duration
	rowCount := 0
	batch := NewBatch(MaxBatchSize)

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		writeStart := time.Now()
		if err := im.Writer.Write(ctx, ns, spec, batch); err != nil {
			return err
		}
		sqlTime += time.Since(writeStart)
		rowCount += batch.Len()
		batch.Reset()
		log.Printf("import[%s]: %s rows=%d elapsed=%s sql_time=%s", runID, ns, rowCount, time.Since(start), sqlTime)
		return nil
	}

	err := WithRetries(ctx, "scan "+ns, func(ctx context.Context) error {
		return im.Source.Scan(ctx, dbName, coll, MaxBatchSize, func(doc bson.M) error {
			row, err := spec.Transform(ns, doc)
			if err != nil {
				return fmt.Errorf("transform %s: %w", ns, err)
			}
			batch.Push(row)
			if batch.Len() >= MaxBatchSize {
				if err := flush(); err != nil {
					return err
				}
				if im.Stop.Stopped() {
					return errStopped
				}
			}
			return nil
		})
	})
	if err == errStopped {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan %s: %w", ns, err)
	}

	return flush()
}

// errStopped is a sentinel used to unwind the scan loop when the stop
// flag flips mid-batch; it never escapes importNamespace as a real error.
var errStopped = fmt.Errorf("import stopped")

func splitNamespace(ns string) (db, coll string, ok bool) {
	n, valid := ParseNamespace(ns)
	if !valid {
		return "", "", false
	}
	return n.Database, n.Collection, true
}

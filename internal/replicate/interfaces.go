package replicate

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── External collaborators ────────────────────────────────
// These interfaces are the contracts fixed by spec.md §6. The core never
// imports a concrete schema loader, SQL adapter, tailer, or source driver
// package — it is handed implementations that satisfy these, the same way
// the teacher's etl.Engine is handed an etl.Source and an etl.Destination
// rather than importing internal/dbclient directly.

// NamespaceSpec is the schema loader's per-namespace mapping: target
// table handle, ordered column list, primary key column, and the
// transform from a source document to a row tuple.
type NamespaceSpec interface {
	Table() TableHandle
	Columns() []string
	PrimaryKeyColumn() string
	Transform(ns string, doc bson.M) (RowTuple, error)
}

// SchemaLoader maps namespaces to target table specs and knows how to
// apply DDL and bulk-load rows for a database of namespaces.
type SchemaLoader interface {
	// FindDB returns the configured collection names for a source
	// database, or false if that database is not configured at all.
	FindDB(dbName string) ([]string, bool)

	// FindNS returns the namespace spec for ns, or false if ns is not
	// replicated.
	FindNS(ns string) (NamespaceSpec, bool)

	// Databases returns the configured source databases, in the schema
	// spec's fixed iteration order.
	Databases() []string

	// CreateSchema idempotently applies DDL for every configured
	// namespace, dropping tables first unless dropFirst is false.
	CreateSchema(ctx context.Context, dropFirst bool) error

	// CopyData bulk-loads rows into ns's target table in one round trip.
	// May return a database error, which the bulk writer degrades from.
	CopyData(ctx context.Context, ns string, rows []RowTuple) error
}

// TableHandle is a target SQL table a namespace maps to.
type TableHandle interface {
	Name() string
	Truncate(ctx context.Context) error
}

// SQLAdapter exposes column-wise upsert/delete against the target
// database, plus the capability flags the bulk writer and exception
// shield gate their unsafe-skip behavior on.
type SQLAdapter interface {
	// AdapterScheme identifies the target kind (Postgres, MySQL, ...).
	AdapterScheme() string

	// SupportsStructuredRowErrors reports whether a failed single-row
	// write surfaces a structured, inspectable error object — true for
	// PostgreSQL via lib/pq's *pq.Error, false otherwise. Replaces a
	// type-switch on AdapterScheme with an explicit capability flag.
	SupportsStructuredRowErrors() bool

	// Upsert writes a single row by primary key column, given a
	// column->value map.
	Upsert(ctx context.Context, table TableHandle, pkColumn string, row map[string]any) error

	// UpsertNS performs a namespace-level upsert, doing its own
	// transform via the schema loader's NamespaceSpec.
	UpsertNS(ctx context.Context, ns string, doc bson.M) error

	// TransformOneNS extracts the translated primary-key value for a
	// delete: it runs the namespace's transform against a document that
	// holds only an _id and returns the resulting row-shaped map.
	TransformOneNS(ns string, id any) (map[string]any, error)

	// DeleteNS deletes the row(s) matching selector's translated primary
	// key from ns's target table.
	DeleteNS(ctx context.Context, ns string, selector bson.M) error

	// IsDatabaseError reports whether err originated from the target
	// database (as opposed to, say, a context cancellation), which is
	// what gates the bulk writer's fallback-to-per-row path.
	IsDatabaseError(err error) bool

	// StructuredRowError extracts the structured row-level error detail
	// logged on the unsafe-skip path, or ok=false if err doesn't carry one.
	StructuredRowError(err error) (detail string, ok bool)
}

// Tailer positions and streams the source's oplog, and persists the
// resumption timestamp across restarts.
type Tailer interface {
	// ReadTimestamp returns the persisted resume timestamp, or the zero
	// timestamp if the tailer has never run.
	ReadTimestamp(ctx context.Context) (bson.Timestamp, error)

	// WriteTimestamp persists ts as the resume point.
	WriteTimestamp(ctx context.Context, ts bson.Timestamp) error

	// TailFrom positions the tailer's stream at ts, or at its persisted
	// resume timestamp if ts is the zero timestamp.
	TailFrom(ctx context.Context, ts bson.Timestamp) error

	// Stream pulls up to batchSize oplog entries in order and invokes fn
	// for each. It returns when the chunk is exhausted; the caller polls
	// the stop flag and calls Stream again for the next chunk.
	Stream(ctx context.Context, batchSize int, fn func(OplogEntry) error) error
}

// SourceDriver is the minimal surface the importer and interpreter need
// from the document-store source: enumerate databases, scan a collection
// in batches, look a document up by _id, and discover the oplog's most
// recent timestamp.
type SourceDriver interface {
	DatabaseNames(ctx context.Context) ([]string, error)

	// Scan opens a batched cursor over db.collection and invokes fn for
	// every document until the cursor is exhausted or fn returns an
	// error (which aborts the scan and is returned as-is).
	Scan(ctx context.Context, db, collection string, batchSize int, fn func(bson.M) error) error

	// FindOne looks a document up by _id, returning ok=false if none
	// exists (e.g. it has since been deleted).
	FindOne(ctx context.Context, ns string, id any) (doc bson.M, ok bool, err error)

	// LatestOplogTimestamp discovers the oplog's most recent timestamp,
	// used as start_ts before an import scan begins.
	LatestOplogTimestamp(ctx context.Context) (bson.Timestamp, error)
}

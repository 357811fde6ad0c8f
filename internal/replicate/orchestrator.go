package replicate

import (
	"context"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Orchestrator (C7) ──────────────────────────────────────
// Wires the importer, interpreter, and tail loop into the two operations
// a run can perform: a one-shot import and a continuous tail.

// Options is the full set of run-time flags the orchestrator accepts,
// mirroring the CLI surface in main.go.
type Options struct {
	Reimport     bool
	SkipTail     bool
	NoDropTables bool
	TailFrom     bson.Timestamp
	IgnoreDelete bool
	Unsafe       bool
	DryRun       bool
}

// Orchestrator is the top-level entry point wiring together the
// importer, bulk writer, interpreter, and tail loop against one set of
// concrete collaborators.
type Orchestrator struct {
	Schema  SchemaLoader
	Source  SourceDriver
	Adapter SQLAdapter
	Tailer  Tailer
	Options Options
	Stop    *StopFlag
}

// Import runs a full import if Reimport is set, or if the tailer has
// never persisted a resume timestamp (a cold start). Otherwise it is a
// no-op: a previously-imported target with a persisted resume point is
// already caught up via the tail loop and does not need re-scanning.
//
// Under DryRun the import always runs, but it neither drops nor truncates
// target tables, neither discovers nor persists a resume timestamp, and
// the bulk writer logs each batch instead of writing it.
func (o *Orchestrator) Import(ctx context.Context) error {
	if !o.Options.Reimport && !o.Options.DryRun {
		ts, err := o.Tailer.ReadTimestamp(ctx)
		if err != nil {
			return err
		}
		if ts != ZeroTimestamp {
			log.Printf("orchestrator: resume timestamp already present, skipping import")
			return nil
		}
	}

	importer := &Importer{
		Schema: o.Schema,
		Source: o.Source,
		Tailer: o.Tailer,
		Writer: &BulkWriter{Schema: o.Schema, Adapter: o.Adapter, Unsafe: o.Options.Unsafe, DryRun: o.Options.DryRun},
		Stop:   o.Stop,
		Options: ImportOptions{
			NoDropTables: o.Options.NoDropTables || o.Options.DryRun,
			SkipTail:     o.Options.SkipTail || o.Options.DryRun,
		},
	}
	return importer.Run(ctx)
}

// Tail runs the continuous tail loop until the stop flag is set.
func (o *Orchestrator) Tail(ctx context.Context) error {
	loop := &TailLoop{
		Tailer: o.Tailer,
		Interpreter: &Interpreter{
			Schema:  o.Schema,
			Source:  o.Source,
			Adapter: o.Adapter,
			Options: InterpreterOptions{
				IgnoreDelete: o.Options.IgnoreDelete,
				Unsafe:       o.Options.Unsafe,
			},
		},
		Stop: o.Stop,
	}
	return loop.Run(ctx, o.Options.TailFrom)
}

// Run performs a full replication cycle: import (if needed), then tail
// until stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Import(ctx); err != nil {
		return err
	}
	if o.Stop.Stopped() {
		return nil
	}
	return o.Tail(ctx)
}

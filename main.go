package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/v2/bson"

	"mongosql/internal/mongosource"
	"mongosql/internal/replicate"
	"mongosql/internal/schemaconfig"
	"mongosql/internal/sqladapter"
	"mongosql/internal/tailer"
)

func main() {
	mongoURI := flag.String("mongo-uri", "", "MongoDB connection URI (required)")
	schemaPath := flag.String("schema", "", "path to the schema-mapping TOML file (required)")
	checkpointPath := flag.String("checkpoint", "mongosql.db", "path to the SQLite resume-timestamp checkpoint")
	reimport := flag.Bool("reimport", false, "force a full re-import even if a resume timestamp is already persisted")
	skipTail := flag.Bool("skip-tail", false, "import once and exit without tailing the oplog")
	noDropTables := flag.Bool("no-drop-tables", false, "do not drop target tables before an import")
	ignoreDelete := flag.Bool("ignore-delete", false, "never apply oplog deletes or mutator-update resync-deletes")
	unsafe := flag.Bool("unsafe", false, "on a PostgreSQL target, swallow and log single-row write failures that carry a structured error instead of aborting")
	tailFromFlag := flag.String("tail-from", "", "override the persisted resume timestamp as <seconds>:<ordinal>")
	schedule := flag.String("schedule", "", "attempt an import on this cron expression as well as once at startup, tailing in between; each attempt re-scans only with -reimport or when no resume timestamp is persisted")
	dryRun := flag.Bool("dry-run", false, "run the import's scan and transform path, logging what would be written, without writing rows, dropping or truncating tables, or persisting a resume timestamp (missing target tables are still created)")
	flag.Parse()

	if *mongoURI == "" || *schemaPath == "" {
		log.Fatal("main: -mongo-uri and -schema are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	stop := &replicate.StopFlag{}
	go func() {
		<-sigs
		log.Printf("main: signal received, stopping")
		stop.Set()
		cancel()
	}()

	orc, cleanup, err := build(ctx, *mongoURI, *schemaPath, *checkpointPath, stop, options(*reimport, *skipTail, *noDropTables, *ignoreDelete, *unsafe, *dryRun, *tailFromFlag))
	if err != nil {
		log.Fatalf("main: setup failed: %v", err)
	}
	defer cleanup()

	if *dryRun {
		log.Printf("main: dry-run requested, running import's scan/transform path without writing rows")
		if err := orc.Import(ctx); err != nil {
			log.Fatalf("main: dry-run import failed: %v", err)
		}
		return
	}

	if *schedule != "" {
		runScheduled(ctx, orc, *schedule)
		return
	}

	if err := orc.Run(ctx); err != nil {
		log.Fatalf("main: run failed: %v", err)
	}
}

func options(reimport, skipTail, noDropTables, ignoreDelete, unsafe, dryRun bool, tailFrom string) replicate.Options {
	opts := replicate.Options{
		Reimport:     reimport,
		SkipTail:     skipTail,
		NoDropTables: noDropTables,
		IgnoreDelete: ignoreDelete,
		Unsafe:       unsafe,
		DryRun:       dryRun,
	}
	if ts, ok := parseTailFrom(tailFrom); ok {
		opts.TailFrom = ts
	}
	return opts
}

func parseTailFrom(s string) (bson.Timestamp, bool) {
	if s == "" {
		return bson.Timestamp{}, false
	}
	var seconds, ordinal uint32
	n, err := fmt.Sscanf(s, "%d:%d", &seconds, &ordinal)
	if err != nil || n != 2 {
		log.Printf("main: ignoring malformed -tail-from value %q: %v", s, err)
		return bson.Timestamp{}, false
	}
	return bson.Timestamp{T: seconds, I: ordinal}, true
}

// build wires the concrete mongosource/schemaconfig/sqladapter/tailer
// collaborators into one orchestrator, returning a cleanup func that
// closes every connection it opened.
func build(ctx context.Context, mongoURI, schemaPath, checkpointPath string, stop *replicate.StopFlag, opts replicate.Options) (*replicate.Orchestrator, func(), error) {
	cfg, err := schemaconfig.Load(schemaPath)
	if err != nil {
		return nil, nil, err
	}

	schema, err := schemaconfig.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	stopWatch := make(chan struct{})
	if err := schemaconfig.WatchForChanges(schemaPath, stopWatch); err != nil {
		log.Printf("main: schema file watch disabled: %v", err)
	}

	source, err := mongosource.Dial(ctx, mongoURI)
	if err != nil {
		schema.Close()
		close(stopWatch)
		return nil, nil, err
	}

	tl, err := tailer.Open(source.Client(), checkpointPath)
	if err != nil {
		source.Close(context.Background())
		schema.Close()
		close(stopWatch)
		return nil, nil, err
	}

	adapter := sqladapter.New(schema.DB(), schema.Driver(), schema)

	orc := &replicate.Orchestrator{
		Schema:  schema,
		Source:  source,
		Adapter: adapter,
		Tailer:  tl,
		Options: opts,
		Stop:    stop,
	}

	cleanup := func() {
		close(stopWatch)
		tl.Close(context.Background())
		source.Close(context.Background())
		schema.Close()
	}

	return orc, cleanup, nil
}

// runScheduled runs orc.Import once at startup and again on every tick of
// expr, following the same robfig/cron wiring the service layer uses for
// scheduled jobs. Each call re-scans only when -reimport is set or no
// resume timestamp is persisted. The ticks fire in the background while
// the tail loop runs continuously in the foreground.
func runScheduled(ctx context.Context, orc *replicate.Orchestrator, expr string) {
	if err := orc.Import(ctx); err != nil {
		log.Fatalf("main: initial import failed: %v", err)
	}

	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		log.Printf("main: scheduled import starting")
		importCtx, cancel := context.WithTimeout(ctx, time.Hour)
		defer cancel()
		if err := orc.Import(importCtx); err != nil {
			log.Printf("main: scheduled import failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("main: invalid -schedule expression %q: %v", expr, err)
	}
	c.Start()
	defer c.Stop()

	log.Printf("main: scheduled import configured (%s); tailing continuously", expr)
	if err := orc.Tail(ctx); err != nil {
		log.Printf("main: tail loop exited: %v", err)
	}
}

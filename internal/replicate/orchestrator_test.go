package replicate

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type fakeTailer struct {
	persisted    bson.Timestamp
	tailFromArg  bson.Timestamp
	streamCalls  int
	tailFromErr  error
}

func (f *fakeTailer) ReadTimestamp(ctx context.Context) (bson.Timestamp, error) {
	return f.persisted, nil
}
func (f *fakeTailer) WriteTimestamp(ctx context.Context, ts bson.Timestamp) error {
	f.persisted = ts
	return nil
}
func (f *fakeTailer) TailFrom(ctx context.Context, ts bson.Timestamp) error {
	f.tailFromArg = ts
	return f.tailFromErr
}
func (f *fakeTailer) Stream(ctx context.Context, batchSize int, fn func(OplogEntry) error) error {
	f.streamCalls++
	return nil
}

func TestOrchestratorImportSkippedWhenResumeTimestampPresent(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{}}
	source := &fakeSourceDriver{}
	adapter := &recordingAdapter{}
	tailer := &fakeTailer{persisted: bson.Timestamp{T: 100, I: 1}}
	stop := &StopFlag{}

	o := &Orchestrator{Schema: schema, Source: source, Adapter: adapter, Tailer: tailer, Stop: stop}
	if err := o.Import(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrchestratorImportRunsOnColdStart(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{}}
	source := &fakeSourceDriver{}
	adapter := &recordingAdapter{}
	tailer := &fakeTailer{}
	stop := &StopFlag{}

	o := &Orchestrator{Schema: schema, Source: source, Adapter: adapter, Tailer: tailer, Stop: stop}
	if err := o.Import(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrchestratorTailStopsImmediatelyWhenFlagSet(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{}}
	source := &fakeSourceDriver{}
	adapter := &recordingAdapter{}
	tailer := &fakeTailer{}
	stop := &StopFlag{}
	stop.Set()

	o := &Orchestrator{Schema: schema, Source: source, Adapter: adapter, Tailer: tailer, Stop: stop}
	if err := o.Tail(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tailer.streamCalls != 0 {
		t.Fatalf("expected no stream calls once stop flag is set, got %d", tailer.streamCalls)
	}
}

func TestStopFlagSetIsIdempotentAndVisible(t *testing.T) {
	stop := &StopFlag{}
	if stop.Stopped() {
		t.Fatal("expected fresh StopFlag to report not stopped")
	}
	stop.Set()
	stop.Set()
	if !stop.Stopped() {
		t.Fatal("expected StopFlag to report stopped after Set")
	}
}

func TestTruncationMemoMarksOnlyFirstSighting(t *testing.T) {
	memo := NewTruncationMemo()
	if !memo.MarkIfNew("people") {
		t.Fatal("expected first sighting of a table to be new")
	}
	if memo.MarkIfNew("people") {
		t.Fatal("expected second sighting of the same table to not be new")
	}
	if !memo.MarkIfNew("orders") {
		t.Fatal("expected a different table to be new")
	}
}

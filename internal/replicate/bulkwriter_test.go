package replicate

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type fakeTableHandle struct {
	name      string
	truncated bool
}

func (t *fakeTableHandle) Name() string { return t.name }
func (t *fakeTableHandle) Truncate(ctx context.Context) error {
	t.truncated = true
	return nil
}

type fakeBulkNamespaceSpec struct {
	table   TableHandle
	columns []string
	pk      string
}

func (s fakeBulkNamespaceSpec) Table() TableHandle       { return s.table }
func (s fakeBulkNamespaceSpec) Columns() []string        { return s.columns }
func (s fakeBulkNamespaceSpec) PrimaryKeyColumn() string { return s.pk }
func (s fakeBulkNamespaceSpec) Transform(ns string, doc bson.M) (RowTuple, error) {
	return RowTuple{doc["_id"], doc["name"]}, nil
}

type fakeCopyingSchemaLoader struct {
	fakeSchemaLoader
	copyErr   error
	copyCalls int
	copiedRows []RowTuple
}

func (f *fakeCopyingSchemaLoader) CopyData(ctx context.Context, ns string, rows []RowTuple) error {
	f.copyCalls++
	f.copiedRows = rows
	return f.copyErr
}

type upsertingAdapter struct {
	recordingAdapter
	upsertRows []map[string]any
	upsertErr  error
}

func (a *upsertingAdapter) Upsert(ctx context.Context, table TableHandle, pkColumn string, row map[string]any) error {
	a.upsertRows = append(a.upsertRows, row)
	return a.upsertErr
}

func TestBulkWriterUsesCopyDataWhenItSucceeds(t *testing.T) {
	schema := &fakeCopyingSchemaLoader{}
	adapter := &upsertingAdapter{}
	w := &BulkWriter{Schema: schema, Adapter: adapter}

	batch := NewBatch(2)
	batch.Push(RowTuple{1, "alice"})
	batch.Push(RowTuple{2, "bob"})

	spec := fakeBulkNamespaceSpec{table: &fakeTableHandle{name: "people"}, columns: []string{"_id", "name"}, pk: "_id"}
	if err := w.Write(context.Background(), "db.coll", spec, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema.copyCalls != 1 {
		t.Fatalf("expected CopyData to be called once, got %d", schema.copyCalls)
	}
	if len(adapter.upsertRows) != 0 {
		t.Fatal("expected no per-row fallback when CopyData succeeds")
	}
}

func TestBulkWriterFallsBackToPerRowOnDatabaseError(t *testing.T) {
	schema := &fakeCopyingSchemaLoader{copyErr: errors.New("bulk copy failed")}
	adapter := &upsertingAdapter{}
	adapter.fakeAdapter.databaseErr = true
	w := &BulkWriter{Schema: schema, Adapter: adapter}

	batch := NewBatch(2)
	batch.Push(RowTuple{1, "alice"})
	batch.Push(RowTuple{2, "bob"})

	spec := fakeBulkNamespaceSpec{table: &fakeTableHandle{name: "people"}, columns: []string{"_id", "name"}, pk: "_id"}
	if err := w.Write(context.Background(), "db.coll", spec, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adapter.upsertRows) != 2 {
		t.Fatalf("expected 2 per-row upserts after fallback, got %d", len(adapter.upsertRows))
	}
}

func TestBulkWriterPropagatesNonDatabaseError(t *testing.T) {
	sentinel := errors.New("context canceled")
	schema := &fakeCopyingSchemaLoader{copyErr: sentinel}
	adapter := &upsertingAdapter{}
	adapter.fakeAdapter.databaseErr = false
	w := &BulkWriter{Schema: schema, Adapter: adapter}

	batch := NewBatch(1)
	batch.Push(RowTuple{1, "alice"})

	spec := fakeBulkNamespaceSpec{table: &fakeTableHandle{name: "people"}, columns: []string{"_id", "name"}, pk: "_id"}
	err := w.Write(context.Background(), "db.coll", spec, batch)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error to propagate without fallback, got %v", err)
	}
	if len(adapter.upsertRows) != 0 {
		t.Fatal("expected no fallback attempt for a non-database error")
	}
}

func TestBulkWriterNoOpOnEmptyBatch(t *testing.T) {
	schema := &fakeCopyingSchemaLoader{}
	adapter := &upsertingAdapter{}
	w := &BulkWriter{Schema: schema, Adapter: adapter}

	spec := fakeBulkNamespaceSpec{table: &fakeTableHandle{name: "people"}, columns: []string{"_id", "name"}, pk: "_id"}
	if err := w.Write(context.Background(), "db.coll", spec, NewBatch(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema.copyCalls != 0 {
		t.Fatal("expected no CopyData call for an empty batch")
	}
}

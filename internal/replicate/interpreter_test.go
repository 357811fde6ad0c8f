package replicate

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type fakeNamespaceSpec struct{}

func (fakeNamespaceSpec) Table() TableHandle                                        { return nil }
func (fakeNamespaceSpec) Columns() []string                                         { return nil }
func (fakeNamespaceSpec) PrimaryKeyColumn() string                                  { return "_id" }
func (fakeNamespaceSpec) Transform(ns string, doc bson.M) (RowTuple, error)         { return nil, nil }

type fakeSchemaLoader struct {
	namespaces map[string]bool
}

func (f *fakeSchemaLoader) FindDB(dbName string) ([]string, bool) { return nil, false }
func (f *fakeSchemaLoader) FindNS(ns string) (NamespaceSpec, bool) {
	if f.namespaces[ns] {
		return fakeNamespaceSpec{}, true
	}
	return nil, false
}
func (f *fakeSchemaLoader) Databases() []string                              { return nil }
func (f *fakeSchemaLoader) CreateSchema(ctx context.Context, dropFirst bool) error { return nil }
func (f *fakeSchemaLoader) CopyData(ctx context.Context, ns string, rows []RowTuple) error {
	return nil
}

type fakeSourceDriver struct {
	docs map[string]bson.M
}

func (f *fakeSourceDriver) DatabaseNames(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeSourceDriver) Scan(ctx context.Context, db, collection string, batchSize int, fn func(bson.M) error) error {
	return nil
}
func (f *fakeSourceDriver) FindOne(ctx context.Context, ns string, id any) (bson.M, bool, error) {
	doc, ok := f.docs[ns]
	return doc, ok, nil
}
func (f *fakeSourceDriver) LatestOplogTimestamp(ctx context.Context) (bson.Timestamp, error) {
	return bson.Timestamp{}, nil
}

type recordingAdapter struct {
	fakeAdapter
	upsertedNS  string
	upsertedDoc bson.M
	deletedNS   string
	deletedSel  bson.M
}

func (r *recordingAdapter) UpsertNS(ctx context.Context, ns string, doc bson.M) error {
	r.upsertedNS = ns
	r.upsertedDoc = doc
	return nil
}
func (r *recordingAdapter) DeleteNS(ctx context.Context, ns string, selector bson.M) error {
	r.deletedNS = ns
	r.deletedSel = selector
	return nil
}

func newInterpreter(schema *fakeSchemaLoader, source *fakeSourceDriver, adapter *recordingAdapter) *Interpreter {
	return &Interpreter{Schema: schema, Source: source, Adapter: adapter}
}

func TestInterpreterSkipsUnconfiguredNamespace(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{}}
	adapter := &recordingAdapter{}
	ip := newInterpreter(schema, &fakeSourceDriver{}, adapter)

	err := ip.Apply(context.Background(), OplogEntry{Ns: "db.unknown", Op: "i", O: bson.M{"_id": 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.upsertedNS != "" {
		t.Fatal("expected no upsert for an unconfigured namespace")
	}
}

func TestInterpreterInsertUpserts(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{"db.coll": true}}
	adapter := &recordingAdapter{}
	ip := newInterpreter(schema, &fakeSourceDriver{}, adapter)

	doc := bson.M{"_id": 1, "name": "alice"}
	if err := ip.Apply(context.Background(), OplogEntry{Ns: "db.coll", Op: "i", O: doc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.upsertedNS != "db.coll" {
		t.Fatalf("expected upsert against db.coll, got %q", adapter.upsertedNS)
	}
}

func TestInterpreterReplacementUpdateMergesID(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{"db.coll": true}}
	adapter := &recordingAdapter{}
	ip := newInterpreter(schema, &fakeSourceDriver{}, adapter)

	entry := OplogEntry{
		Ns: "db.coll",
		Op: "u",
		O:  bson.M{"name": "bob"},
		O2: bson.M{"_id": 42},
	}
	if err := ip.Apply(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.upsertedDoc["_id"] != 42 {
		t.Fatalf("expected merged doc to carry o2's _id, got %v", adapter.upsertedDoc)
	}
	if adapter.upsertedDoc["name"] != "bob" {
		t.Fatalf("expected merged doc to carry o's fields, got %v", adapter.upsertedDoc)
	}
}

func TestInterpreterMutatorUpdateResyncsWhenDocPresent(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{"db.coll": true}}
	adapter := &recordingAdapter{}
	source := &fakeSourceDriver{docs: map[string]bson.M{"db.coll": {"_id": 42, "name": "resynced"}}}
	ip := newInterpreter(schema, source, adapter)

	entry := OplogEntry{
		Ns: "db.coll",
		Op: "u",
		O:  bson.M{"$set": bson.M{"name": "resynced"}},
		O2: bson.M{"_id": 42},
	}
	if err := ip.Apply(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.upsertedDoc["name"] != "resynced" {
		t.Fatalf("expected resync to upsert the current document, got %v", adapter.upsertedDoc)
	}
}

func TestInterpreterMutatorUpdateDeletesWhenDocGone(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{"db.coll": true}}
	adapter := &recordingAdapter{}
	source := &fakeSourceDriver{docs: map[string]bson.M{}}
	ip := newInterpreter(schema, source, adapter)

	entry := OplogEntry{
		Ns: "db.coll",
		Op: "u",
		O:  bson.M{"$set": bson.M{"name": "gone"}},
		O2: bson.M{"_id": 42},
	}
	if err := ip.Apply(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.deletedNS != "db.coll" {
		t.Fatalf("expected delete for a mutator update whose document has vanished, got ns=%q", adapter.deletedNS)
	}
}

func TestInterpreterSkipsSystemIndexesInsert(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{"db.system.indexes": true}}
	adapter := &recordingAdapter{}
	ip := newInterpreter(schema, &fakeSourceDriver{}, adapter)

	entry := OplogEntry{Ns: "db.system.indexes", Op: "i", O: bson.M{"_id": 1}}
	if err := ip.Apply(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.upsertedNS != "" {
		t.Fatal("expected system.indexes insert to be skipped")
	}
}

func TestInterpreterIgnoreDeleteSuppressesDelete(t *testing.T) {
	schema := &fakeSchemaLoader{namespaces: map[string]bool{"db.coll": true}}
	adapter := &recordingAdapter{}
	ip := newInterpreter(schema, &fakeSourceDriver{}, adapter)
	ip.Options.IgnoreDelete = true

	entry := OplogEntry{Ns: "db.coll", Op: "d", O: bson.M{"_id": 1}}
	if err := ip.Apply(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.deletedNS != "" {
		t.Fatal("expected delete to be suppressed under IgnoreDelete")
	}
}

package replicate

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type fakeAdapter struct {
	scheme              string
	structuredErrors    bool
	databaseErr         bool
	structuredDetail    string
	hasStructuredDetail bool
}

func (f *fakeAdapter) AdapterScheme() string            { return f.scheme }
func (f *fakeAdapter) SupportsStructuredRowErrors() bool { return f.structuredErrors }
func (f *fakeAdapter) IsDatabaseError(err error) bool    { return f.databaseErr }
func (f *fakeAdapter) StructuredRowError(err error) (string, bool) {
	return f.structuredDetail, f.hasStructuredDetail
}
func (f *fakeAdapter) Upsert(ctx context.Context, table TableHandle, pkColumn string, row map[string]any) error {
	return nil
}
func (f *fakeAdapter) UpsertNS(ctx context.Context, ns string, doc bson.M) error { return nil }
func (f *fakeAdapter) TransformOneNS(ns string, id any) (map[string]any, error) {
	return map[string]any{"_id": id}, nil
}
func (f *fakeAdapter) DeleteNS(ctx context.Context, ns string, selector bson.M) error { return nil }

func TestShieldPassesThroughOnSuccess(t *testing.T) {
	a := &fakeAdapter{}
	called := false
	err := Shield(context.Background(), a, false, "db.coll", nil, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("writeRow was never invoked")
	}
}

func TestShieldReRaisesNonDatabaseErrors(t *testing.T) {
	a := &fakeAdapter{databaseErr: false}
	sentinel := errors.New("context canceled")
	err := Shield(context.Background(), a, true, "db.coll", nil, func(ctx context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel to propagate, got %v", err)
	}
}

func TestShieldSwallowsUnderUnsafeWithStructuredError(t *testing.T) {
	a := &fakeAdapter{
		scheme:              "postgres",
		structuredErrors:    true,
		databaseErr:         true,
		structuredDetail:    "duplicate key value violates unique constraint",
		hasStructuredDetail: true,
	}
	err := Shield(context.Background(), a, true, "db.coll", map[string]any{"_id": 1}, func(ctx context.Context) error {
		return errors.New("pq: duplicate key")
	})
	if err != nil {
		t.Fatalf("expected row to be swallowed under unsafe policy, got %v", err)
	}
}

func TestShieldRaisesWhenNotUnsafe(t *testing.T) {
	a := &fakeAdapter{
		scheme:              "postgres",
		structuredErrors:    true,
		databaseErr:         true,
		structuredDetail:    "duplicate key value violates unique constraint",
		hasStructuredDetail: true,
	}
	err := Shield(context.Background(), a, false, "db.coll", map[string]any{"_id": 1}, func(ctx context.Context) error {
		return errors.New("pq: duplicate key")
	})
	if err == nil {
		t.Fatal("expected error to propagate when unsafe is false")
	}
}

func TestShieldRaisesWhenAdapterLacksStructuredErrors(t *testing.T) {
	a := &fakeAdapter{scheme: "mysql", structuredErrors: false, databaseErr: true}
	err := Shield(context.Background(), a, true, "db.coll", map[string]any{"_id": 1}, func(ctx context.Context) error {
		return errors.New("mysql: constraint violation")
	})
	if err == nil {
		t.Fatal("expected error to propagate when adapter has no structured row errors")
	}
}

package replicate

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Op interpreter (C5) ────────────────────────────────────
// Dispatches one oplog entry against the target. An update whose o has a
// top-level $-prefixed key is a mutator update (resync-or-delete); any
// other update is a full-document replacement (merge-and-upsert); see
// spec.md §4.5.

// InterpreterOptions controls the interpreter's delete-suppression policy.
type InterpreterOptions struct {
	IgnoreDelete bool
	Unsafe       bool
}

// Interpreter applies oplog entries against the configured target tables.
type Interpreter struct {
	Schema  SchemaLoader
	Source  SourceDriver
	Adapter SQLAdapter
	Options InterpreterOptions
}

// Apply dispatches a single oplog entry. Entries with no ns/op, or whose
// ns is not configured in the schema, are skipped without error — an
// oplog stream is shared by every collection on the source, and most
// entries are for namespaces this run never asked to replicate.
func (ip *Interpreter) Apply(ctx context.Context, entry OplogEntry) error {
	if entry.Ns == "" || entry.Op == "" {
		return nil
	}

	ns, valid := ParseNamespace(entry.Ns)
	if !valid {
		return nil
	}
	if ns.IsSystemIndexes() && entry.Op == string(OpInsert) {
		log.Printf("interpreter: system.indexes insert for %s, logging and skipping", entry.Ns)
		return nil
	}

	if _, ok := ip.Schema.FindNS(entry.Ns); !ok {
		return nil
	}

	switch OpCode(entry.Op) {
	case OpInsert:
		return ip.applyInsert(ctx, entry)
	case OpUpdate:
		return ip.applyUpdate(ctx, entry)
	case OpDelete:
		return ip.applyDelete(ctx, entry)
	case OpNoop:
		return nil
	default:
		log.Printf("interpreter: unrecognized op %q for %s, skipping", entry.Op, entry.Ns)
		return nil
	}
}

func (ip *Interpreter) applyInsert(ctx context.Context, entry OplogEntry) error {
	return ip.upsert(ctx, entry.Ns, entry.O)
}

// applyUpdate distinguishes a mutator update from a full-document
// replacement by the keys of o: a mutator update's o carries
// $set/$unset-style operators, so the target row is resynced from the
// source of truth by o2's _id rather than patched in-place; a replacement
// update's o is the full new document and merges cleanly with o2's _id.
// An update with no o2 at all is upserted from o as it stands.
func (ip *Interpreter) applyUpdate(ctx context.Context, entry OplogEntry) error {
	if entry.O2 == nil || len(entry.O2) == 0 {
		// No selector: treat as a full-document replacement keyed by o's
		// own _id.
		return ip.upsert(ctx, entry.Ns, entry.O)
	}

	if isMutatorUpdate(entry.O) {
		return ip.resyncOrDelete(ctx, entry.Ns, entry.O2)
	}

	merged := bson.M{}
	for k, v := range entry.O {
		merged[k] = v
	}
	if id, ok := entry.O2["_id"]; ok {
		merged["_id"] = id
	}
	return ip.upsert(ctx, entry.Ns, merged)
}

// isMutatorUpdate reports whether o is a mutator document (its keys are
// update operators like $set/$unset) rather than a full replacement
// document.
func isMutatorUpdate(o bson.M) bool {
	for k := range o {
		if len(k) > 0 && k[0] == '$' {
			return true
		}
	}
	return false
}

func (ip *Interpreter) applyDelete(ctx context.Context, entry OplogEntry) error {
	if ip.Options.IgnoreDelete {
		return nil
	}
	return Shield(ctx, ip.Adapter, ip.Options.Unsafe, entry.Ns, map[string]any{"selector": entry.O}, func(ctx context.Context) error {
		return ip.Adapter.DeleteNS(ctx, entry.Ns, entry.O)
	})
}

func (ip *Interpreter) upsert(ctx context.Context, ns string, doc bson.M) error {
	return Shield(ctx, ip.Adapter, ip.Options.Unsafe, ns, doc, func(ctx context.Context) error {
		return ip.Adapter.UpsertNS(ctx, ns, doc)
	})
}

// resyncOrDelete re-reads the current document from the source and
// upserts it, or deletes the target row if the document is gone — a
// mutator update's diff alone can't be replayed against a SQL row, so
// the row is resynced from the document's current state instead.
func (ip *Interpreter) resyncOrDelete(ctx context.Context, ns string, selector bson.M) error {
	id, ok := selector["_id"]
	if !ok {
		return fmt.Errorf("mutator update for %s with no _id in selector", ns)
	}

	doc, found, err := ip.Source.FindOne(ctx, ns, id)
	if err != nil {
		return fmt.Errorf("resync lookup %s: %w", ns, err)
	}
	if !found {
		if ip.Options.IgnoreDelete {
			return nil
		}
		row, err := ip.Adapter.TransformOneNS(ns, id)
		if err != nil {
			return fmt.Errorf("resync delete transform %s: %w", ns, err)
		}
		return Shield(ctx, ip.Adapter, ip.Options.Unsafe, ns, row, func(ctx context.Context) error {
			return ip.Adapter.DeleteNS(ctx, ns, bson.M{"_id": id})
		})
	}

	return ip.upsert(ctx, ns, doc)
}

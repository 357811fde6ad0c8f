package tailer

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"mongosql/internal/replicate"
)

// ── Tailer ──────────────────────────────────────────────────
// Positions a tailable, await-data cursor over local.oplog.rs and
// persists the resume point to a local SQLite checkpoint.

// Tailer is the concrete replicate.Tailer over a tailable MongoDB
// cursor and a SQLite checkpoint store.
type Tailer struct {
	client *mongo.Client
	store  *checkpointStore
	cursor *mongo.Cursor
}

// Open opens (or creates) the checkpoint file at checkpointPath and
// returns a Tailer driving client's oplog.
func Open(client *mongo.Client, checkpointPath string) (*Tailer, error) {
	store, err := openCheckpointStore(checkpointPath)
	if err != nil {
		return nil, err
	}
	return &Tailer{client: client, store: store}, nil
}

// Close releases the checkpoint store and any open cursor.
func (t *Tailer) Close(ctx context.Context) error {
	if t.cursor != nil {
		t.cursor.Close(ctx)
	}
	return t.store.close()
}

func (t *Tailer) ReadTimestamp(ctx context.Context) (bson.Timestamp, error) {
	return t.store.read(ctx)
}

func (t *Tailer) WriteTimestamp(ctx context.Context, ts bson.Timestamp) error {
	return t.store.write(ctx, ts)
}

// TailFrom opens a tailable, await-data cursor over local.oplog.rs
// positioned just after ts, or after the persisted resume timestamp if
// ts is the zero timestamp.
func (t *Tailer) TailFrom(ctx context.Context, ts bson.Timestamp) error {
	if ts == replicate.ZeroTimestamp {
		persisted, err := t.store.read(ctx)
		if err != nil {
			return err
		}
		ts = persisted
	}

	if t.cursor != nil {
		t.cursor.Close(ctx)
		t.cursor = nil
	}

	oplog := t.client.Database("local").Collection("oplog.rs")
	filter := bson.M{}
	if ts != replicate.ZeroTimestamp {
		filter = bson.M{"ts": bson.M{"$gt": ts}}
	}

	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetNoCursorTimeout(true)

	cursor, err := oplog.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("open tailable oplog cursor: %w", err)
	}

	t.cursor = cursor
	log.Printf("tailer: positioned at ts=%v", ts)
	return nil
}

// Stream pulls up to batchSize oplog entries from the open cursor and
// invokes fn for each, in order. It returns when the chunk is exhausted
// (the cursor has no more data buffered right now) or an entry's fn call
// fails.
func (t *Tailer) Stream(ctx context.Context, batchSize int, fn func(replicate.OplogEntry) error) error {
	if t.cursor == nil {
		return fmt.Errorf("tailer: Stream called before TailFrom")
	}

	for i := 0; i < batchSize; i++ {
		if !t.cursor.TryNext(ctx) {
			if err := t.cursor.Err(); err != nil {
				return fmt.Errorf("oplog cursor error: %w", err)
			}
			return nil
		}

		var entry replicate.OplogEntry
		if err := t.cursor.Decode(&entry); err != nil {
			return fmt.Errorf("decode oplog entry: %w", err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

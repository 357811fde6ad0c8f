package mongosource

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ── Source driver ───────────────────────────────────────────
// The concrete replicate.SourceDriver over go.mongodb.org/mongo-driver/v2.
// Connection URI handling follows the same placeholder-aware assembly the
// teacher's Mongo connector uses, generalized to take a URI directly
// rather than a stored connection record.

// Driver is a MongoDB client wired to satisfy replicate.SourceDriver.
type Driver struct {
	client *mongo.Client
}

// Dial connects to uri and pings it before returning.
func Dial(ctx context.Context, uri string) (*Driver, error) {
	logURI := maskPassword(uri)
	log.Printf("mongosource: connecting to %s", logURI)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	log.Printf("mongosource: connected")
	return &Driver{client: client}, nil
}

// Client exposes the underlying driver client for the tailer, which
// needs a tailable cursor over local.oplog.rs rather than the scan/find
// surface SourceDriver exposes.
func (d *Driver) Client() *mongo.Client { return d.client }

// Close disconnects the client.
func (d *Driver) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

func (d *Driver) DatabaseNames(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return d.client.ListDatabaseNames(ctx, bson.M{})
}

// Scan opens a batched, non-tailable cursor over db.collection and
// invokes fn for every document until the cursor is exhausted or fn
// returns an error.
func (d *Driver) Scan(ctx context.Context, db, collection string, batchSize int, fn func(bson.M) error) error {
	coll := d.client.Database(db).Collection(collection)

	opts := options.Find().SetBatchSize(int32(batchSize)).SetNoCursorTimeout(true)
	cursor, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return fmt.Errorf("find %s.%s: %w", db, collection, err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decode %s.%s: %w", db, collection, err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}

	return cursor.Err()
}

func (d *Driver) FindOne(ctx context.Context, ns string, id any) (bson.M, bool, error) {
	dbName, collection, ok := splitNamespace(ns)
	if !ok {
		return nil, false, fmt.Errorf("malformed namespace %q", ns)
	}

	coll := d.client.Database(dbName).Collection(collection)
	var doc bson.M
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find one %s: %w", ns, err)
	}
	return doc, true, nil
}

// LatestOplogTimestamp reads local.oplog.rs in reverse natural order to
// discover the most recent entry's ts field, used as start_ts before an
// import scan begins.
func (d *Driver) LatestOplogTimestamp(ctx context.Context) (bson.Timestamp, error) {
	oplog := d.client.Database("local").Collection("oplog.rs")

	opts := options.FindOne().SetSort(bson.D{{Key: "$natural", Value: -1}})
	var entry struct {
		Ts bson.Timestamp `bson:"ts"`
	}
	if err := oplog.FindOne(ctx, bson.M{}, opts).Decode(&entry); err != nil {
		return bson.Timestamp{}, fmt.Errorf("read latest oplog entry: %w", err)
	}
	return entry.Ts, nil
}

func splitNamespace(ns string) (db, collection string, ok bool) {
	idx := strings.Index(ns, ".")
	if idx <= 0 || idx == len(ns)-1 {
		return "", "", false
	}
	return ns[:idx], ns[idx+1:], true
}

// maskPassword hides a URI's password component in log output, the way
// the teacher's Mongo connector masks credentials before logging a
// connection string.
func maskPassword(uri string) string {
	atIdx := strings.Index(uri, "@")
	if atIdx == -1 {
		return uri
	}
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return uri
	}
	creds := uri[schemeEnd+3 : atIdx]
	colonIdx := strings.Index(creds, ":")
	if colonIdx == -1 {
		return uri
	}
	return uri[:schemeEnd+3] + creds[:colonIdx] + ":***" + uri[atIdx:]
}

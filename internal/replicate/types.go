package replicate

import "go.mongodb.org/mongo-driver/v2/bson"

// ── Oplog entry ────────────────────────────────────────────
// Mirrors the subset of MongoDB's local.oplog.rs document shape the
// interpreter cares about. Ts is the field the tailer uses to persist
// and resume from a position in the stream.

// OpCode is the one-character oplog opcode.
type OpCode string

const (
	OpNoop    OpCode = "n"
	OpInsert  OpCode = "i"
	OpUpdate  OpCode = "u"
	OpDelete  OpCode = "d"
)

// OplogEntry is one record from the source's replication log.
type OplogEntry struct {
	Ts bson.Timestamp `bson:"ts"`
	H  int64          `bson:"h"`
	V  int32          `bson:"v"`
	Op string         `bson:"op"`
	Ns string         `bson:"ns"`
	O  bson.M         `bson:"o"`
	O2 bson.M         `bson:"o2,omitempty"`
}

// ZeroTimestamp is the sentinel meaning "the tailer has never run".
var ZeroTimestamp bson.Timestamp

// RowTuple is an ordered sequence of scalar values, one per target column,
// as produced by a schema's transform.
type RowTuple []any

// Batch is an ephemeral, ordered accumulator of row tuples destined for
// the same target table. It carries no identity of its own.
type Batch struct {
	rows []RowTuple
}

// NewBatch returns an empty batch with room for `cap` rows without
// reallocating.
func NewBatch(cap int) *Batch {
	return &Batch{rows: make([]RowTuple, 0, cap)}
}

// Push appends a row tuple to the batch.
func (b *Batch) Push(row RowTuple) { b.rows = append(b.rows, row) }

// Len returns the number of rows currently accumulated.
func (b *Batch) Len() int { return len(b.rows) }

// Rows returns the accumulated row tuples.
func (b *Batch) Rows() []RowTuple { return b.rows }

// Reset clears the batch for reuse, keeping its underlying capacity.
func (b *Batch) Reset() { b.rows = b.rows[:0] }

// MaxBatchSize is the fixed tuning constant bounding a batch's size and
// the source cursor's batch size during import.
const MaxBatchSize = 1000

// TailChunkSize is the number of oplog entries pulled from the tailer
// per iteration of the tail loop.
const TailChunkSize = 1000

package replicate

import (
	"context"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Tail loop (C6) ─────────────────────────────────────────
// Positions the tailer at a resume point and feeds every entry it streams
// to the interpreter until the stop flag is set.

// TailLoop continuously applies oplog entries to the target until stopped.
type TailLoop struct {
	Tailer      Tailer
	Interpreter *Interpreter
	Stop        *StopFlag
}

// Run positions the tailer and loops Tailer.Stream until the stop flag is
// set. tailFrom, if non-zero, overrides the tailer's persisted resume
// timestamp for this run only.
func (tl *TailLoop) Run(ctx context.Context, tailFrom bson.Timestamp) error {
	if err := tl.Tailer.TailFrom(ctx, tailFrom); err != nil {
		return err
	}

	log.Printf("tail: starting")
	for !tl.Stop.Stopped() {
		err := WithRetries(ctx, "tail chunk", func(ctx context.Context) error {
			return tl.Tailer.Stream(ctx, TailChunkSize, func(entry OplogEntry) error {
				if err := tl.Interpreter.Apply(ctx, entry); err != nil {
					return err
				}
				if err := tl.Tailer.WriteTimestamp(ctx, entry.Ts); err != nil {
					return err
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	log.Printf("tail: stop flag set, exiting")
	return nil
}

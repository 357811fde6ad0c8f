package replicate

import (
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ── Error classification ──────────────────────────────────
// Models spec.md §9's "exceptions as control flow" design note: classify
// once at the driver boundary into a result/error value carrying an
// explicit kind, rather than branching on exception classes at every
// call site.

// ErrorKind tags a source-driver failure for the retry harness.
type ErrorKind int

const (
	// KindOther is an error the harness does not recognize; it
	// propagates uncaught.
	KindOther ErrorKind = iota
	// KindTransient is a generic connection or operation failure —
	// retried with backoff.
	KindTransient
	// KindDuplicateKey is a MongoDB duplicate-key error (codes 11000,
	// 11001) — not retriable, re-raised immediately.
	KindDuplicateKey
	// KindCursorInvalidated is a cursor-not-found error — not
	// retriable, fatal to the import run in progress.
	KindCursorInvalidated
)

var cursorNotFoundRE = regexp.MustCompile(`^Query response returned CURSOR_NOT_FOUND`)

const (
	mongoDuplicateKeyCode    = 11000
	mongoDuplicateKeyCodeAlt = 11001
)

// Classify inspects a source-driver error and tags it with its kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}

	if cursorNotFoundRE.MatchString(err.Error()) {
		return KindCursorInvalidated
	}

	if code, ok := mongoErrorCode(err); ok {
		if code == mongoDuplicateKeyCode || code == mongoDuplicateKeyCodeAlt {
			return KindDuplicateKey
		}
	}

	if isTransientMongoError(err) {
		return KindTransient
	}

	return KindOther
}

// mongoErrorCode extracts a server-reported error code from a
// mongo.CommandError or the first error of a mongo.WriteException, if err
// is (or wraps) one of those.
func mongoErrorCode(err error) (int, bool) {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return int(cmdErr.Code), true
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) && len(writeErr.WriteErrors) > 0 {
		return writeErr.WriteErrors[0].Code, true
	}
	return 0, false
}

func isTransientMongoError(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.HasErrorLabel("TransientTransactionError") || cmdErr.HasErrorLabel("RetryableWriteError") {
			return true
		}
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

package replicate

import "sync"

// ── Process-local state (spec.md §9) ──────────────────────
// The stop flag and truncation memo are process-wide state in the
// reference implementation. Here they are fields on an orchestrator
// value explicitly passed down: the stop flag is a cancellation token
// polled at suspension points, not a process global.

// StopFlag is a cooperative cancellation token. Set() is safe to call
// from a signal handler goroutine; Stopped() is polled at every safe
// suspension point inside the importer and tail loop.
type StopFlag struct {
	mu      sync.RWMutex
	stopped bool
}

// Set marks the flag as stopped. Idempotent.
func (f *StopFlag) Set() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

// Stopped reports whether Set has been called.
func (f *StopFlag) Stopped() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stopped
}

// TruncationMemo tracks which target tables have already been truncated
// this run, so a table shared by two namespaces is truncated at most
// once.
type TruncationMemo struct {
	mu        sync.Mutex
	truncated map[string]bool
}

// NewTruncationMemo returns an empty memo.
func NewTruncationMemo() *TruncationMemo {
	return &TruncationMemo{truncated: make(map[string]bool)}
}

// MarkIfNew records table as truncated and reports true if this is the
// first time it has been seen this run; reports false if it was already
// truncated.
func (m *TruncationMemo) MarkIfNew(table string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.truncated[table] {
		return false
	}
	m.truncated[table] = true
	return true
}

package tailer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Checkpoint store ────────────────────────────────────────
// A single-row SQLite table persisting the tailer's resume timestamp
// across restarts, following the same sql.Open + migrate() idiom the
// teacher's local notebook store uses for its own SQLite file.

type checkpointStore struct {
	conn *sql.DB
}

func openCheckpointStore(path string) (*checkpointStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	store := &checkpointStore{conn: conn}
	if err := store.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return store, nil
}

func (s *checkpointStore) migrate() error {
	_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS resume_point (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		ts_seconds INTEGER NOT NULL,
		ts_ordinal INTEGER NOT NULL
	)`)
	return err
}

func (s *checkpointStore) read(ctx context.Context) (bson.Timestamp, error) {
	var seconds, ordinal uint32
	err := s.conn.QueryRowContext(ctx, `SELECT ts_seconds, ts_ordinal FROM resume_point WHERE id = 1`).Scan(&seconds, &ordinal)
	if err == sql.ErrNoRows {
		return bson.Timestamp{}, nil
	}
	if err != nil {
		return bson.Timestamp{}, fmt.Errorf("read resume point: %w", err)
	}
	return bson.Timestamp{T: seconds, I: ordinal}, nil
}

func (s *checkpointStore) write(ctx context.Context, ts bson.Timestamp) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO resume_point (id, ts_seconds, ts_ordinal) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET ts_seconds = excluded.ts_seconds, ts_ordinal = excluded.ts_ordinal
	`, ts.T, ts.I)
	if err != nil {
		return fmt.Errorf("write resume point: %w", err)
	}
	return nil
}

func (s *checkpointStore) close() error {
	return s.conn.Close()
}

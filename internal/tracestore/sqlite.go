// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const createTracesTable = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id       TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL DEFAULT '',
	user_input     TEXT NOT NULL DEFAULT '',
	final_response TEXT NOT NULL DEFAULT '',
	start_time     INTEGER NOT NULL,
	end_time       INTEGER NOT NULL,
	duration_ms    REAL NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT '',
	spans          TEXT NOT NULL DEFAULT '[]',
	metadata       TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(session_id);
CREATE INDEX IF NOT EXISTS idx_traces_start ON traces(start_time);
`

// SQLiteStore persists completed traces to a SQLite database. Spans and
// metadata are stored as JSON columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the trace database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("trace store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trace store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace store: %w", err)
	}
	if _, err = db.Exec(createTracesTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize trace store schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newSQLiteStoreWithDB wires an existing handle, used by tests.
func newSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SaveTrace upserts one completed trace.
func (s *SQLiteStore) SaveTrace(t *Trace) error {
	spans, err := json.Marshal(t.Spans)
	if err != nil {
		return fmt.Errorf("failed to encode spans: %w", err)
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO traces
		 (trace_id, session_id, user_input, final_response, start_time, end_time, duration_ms, status, spans, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TraceID,
		t.SessionID,
		truncate(t.UserInput, 500),
		truncate(t.FinalResponse, 500),
		t.StartTime.UnixMilli(),
		t.EndTime.UnixMilli(),
		t.DurationMs,
		t.Status,
		string(spans),
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to save trace %s: %w", t.TraceID, err)
	}
	return nil
}

// LoadTrace reads one trace by id. Returns (nil, nil) when absent.
func (s *SQLiteStore) LoadTrace(traceID string) (*Trace, error) {
	row := s.db.QueryRow(
		`SELECT trace_id, session_id, user_input, final_response, start_time, end_time, duration_ms, status, spans, metadata
		 FROM traces WHERE trace_id = ?`, traceID)

	var t Trace
	var startMs, endMs int64
	var spans, metadata string
	err := row.Scan(&t.TraceID, &t.SessionID, &t.UserInput, &t.FinalResponse,
		&startMs, &endMs, &t.DurationMs, &t.Status, &spans, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trace %s: %w", traceID, err)
	}

	t.StartTime = time.UnixMilli(startMs)
	t.EndTime = time.UnixMilli(endMs)
	if err = json.Unmarshal([]byte(spans), &t.Spans); err != nil {
		return nil, fmt.Errorf("failed to decode spans for trace %s: %w", traceID, err)
	}
	if err = json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for trace %s: %w", traceID, err)
	}
	return &t, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracestore

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveTrace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStoreWithDB(db)

	tr := &Trace{
		TraceID:       "trace_abc",
		SessionID:     "sess-1",
		UserInput:     "hello",
		FinalResponse: "world",
		StartTime:     time.UnixMilli(1700000000000),
		EndTime:       time.UnixMilli(1700000000500),
		DurationMs:    500,
		Status:        TraceCompleted,
		Spans:         []*Span{{SpanID: "s1", TraceID: "trace_abc", Kind: SpanLLMCall, Status: "ok"}},
	}

	mock.ExpectExec("INSERT OR REPLACE INTO traces").
		WithArgs("trace_abc", "sess-1", "hello", "world",
			int64(1700000000000), int64(1700000000500), 500.0, TraceCompleted,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveTrace(tr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadTrace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStoreWithDB(db)

	cols := []string{"trace_id", "session_id", "user_input", "final_response",
		"start_time", "end_time", "duration_ms", "status", "spans", "metadata"}

	mock.ExpectQuery("SELECT (.+) FROM traces WHERE trace_id").
		WithArgs("trace_abc").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"trace_abc", "sess-1", "hello", "world",
			int64(1700000000000), int64(1700000000500), 500.0, TraceCompleted,
			`[{"span_id":"s1","trace_id":"trace_abc","kind":"llm_call","name":"call","start_time":"2026-01-01T00:00:00Z","status":"ok"}]`,
			`{"client":"test"}`,
		))

	tr, err := store.LoadTrace("trace_abc")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "sess-1", tr.SessionID)
	assert.Equal(t, 500.0, tr.DurationMs)
	require.Len(t, tr.Spans, 1)
	assert.Equal(t, SpanLLMCall, tr.Spans[0].Kind)
	assert.Equal(t, "test", tr.Metadata["client"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadTraceAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStoreWithDB(db)

	mock.ExpectQuery("SELECT (.+) FROM traces WHERE trace_id").
		WithArgs("trace_missing").
		WillReturnRows(sqlmock.NewRows([]string{"trace_id"}))

	tr, err := store.LoadTrace("trace_missing")
	assert.NoError(t, err)
	assert.Nil(t, tr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

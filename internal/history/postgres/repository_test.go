package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/querybridge/querybridge/internal/history"
)

const insertHistorySQL = `
INSERT INTO prompt_history (history_id, trace_id, prompt, operation, collection_name, query_json, result_count, outcome, error_message, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)`

const listHistorySQL = `
SELECT history_id, trace_id, prompt, operation, collection_name, query_json, result_count, outcome, error_message, duration_ms, created_at
FROM prompt_history
ORDER BY created_at DESC
LIMIT $1`

func TestRecordInsertsRow(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	id := uuid.MustParse("3f0c2a52-8d0e-4f7b-9a51-0a8c1f0e2b11")
	createdAt := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(insertHistorySQL)).
		WithArgs(id.String(), "trace-1", "Get all active users", "find", "users", `{"operation":"find","collection":"users"}`, 2, "ok", "", int64(120), createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), history.Record{
		ID:          id,
		TraceID:     "trace-1",
		Prompt:      "Get all active users",
		Operation:   "find",
		Collection:  "users",
		Query:       json.RawMessage(`{"operation":"find","collection":"users"}`),
		ResultCount: 2,
		Outcome:     history.OutcomeOK,
		Duration:    120 * time.Millisecond,
		CreatedAt:   createdAt,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	fixed := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	mock.ExpectExec(regexp.QuoteMeta(insertHistorySQL)).
		WithArgs(sqlmock.AnyArg(), "", "count orders", "", "", nil, 0, "translation_failed", "model timeout", int64(0), fixed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), history.Record{
		Prompt:  "count orders",
		Outcome: history.OutcomeTranslationFailed,
		Error:   "model timeout",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordWrapsDatabaseError(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(insertHistorySQL)).WillReturnError(sql.ErrConnDone)

	err := repo.Record(context.Background(), history.Record{Prompt: "x", Outcome: history.OutcomeOK})
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("Record() error = %v, want ErrConnDone", err)
	}
	assertSQLMock(t, mock)
}

func TestListRecentScansRows(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(listHistorySQL)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{
			"history_id", "trace_id", "prompt", "operation", "collection_name", "query_json",
			"result_count", "outcome", "error_message", "duration_ms", "created_at",
		}).
			AddRow(id.String(), "trace-2", "count shipped orders", "aggregate", "orders", []byte(`{"operation":"aggregate"}`), 1, "degraded", "improve prompt: timeout", int64(340), now).
			AddRow(uuid.New().String(), "", "delete users", "delete", "users", nil, 0, "unsupported_operation", `unsupported operation "delete"`, int64(12), now.Add(-time.Minute)))

	records, err := repo.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d", len(records))
	}
	first := records[0]
	if first.ID != id || first.Outcome != history.OutcomeDegraded || first.Duration != 340*time.Millisecond {
		t.Fatalf("first record = %+v", first)
	}
	if string(first.Query) != `{"operation":"aggregate"}` {
		t.Fatalf("first.Query = %s", string(first.Query))
	}
	if records[1].Query != nil {
		t.Fatalf("second.Query = %s, want nil", string(records[1].Query))
	}
	assertSQLMock(t, mock)
}

func TestListRecentClampsLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(listHistorySQL)).
		WithArgs(history.MaxListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"history_id"}))

	records, err := repo.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("len(records) = %d", len(records))
	}
	assertSQLMock(t, mock)
}

func TestHealthCheckPings(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if err := NewRepository(db).HealthCheck(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/querybridge/querybridge/internal/history"
)

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

// Record inserts one prompt run. A zero ID or CreatedAt is filled in.
func (r *Repository) Record(ctx context.Context, record history.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}

	var queryJSON any
	if len(record.Query) > 0 {
		queryJSON = string(record.Query)
	}

	query := `
INSERT INTO prompt_history (history_id, trace_id, prompt, operation, collection_name, query_json, result_count, outcome, error_message, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query,
		record.ID.String(),
		record.TraceID,
		record.Prompt,
		record.Operation,
		record.Collection,
		queryJSON,
		record.ResultCount,
		string(record.Outcome),
		record.Error,
		record.Duration.Milliseconds(),
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert prompt history: %w", err)
	}
	return nil
}

// ListRecent returns the newest records first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 || limit > history.MaxListLimit {
		limit = history.MaxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT history_id, trace_id, prompt, operation, collection_name, query_json, result_count, outcome, error_message, duration_ms, created_at
FROM prompt_history
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list prompt history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]history.Record, 0)
	for rows.Next() {
		var (
			record     history.Record
			id         string
			queryJSON  []byte
			outcome    string
			durationMs int64
		)
		if err := rows.Scan(
			&id,
			&record.TraceID,
			&record.Prompt,
			&record.Operation,
			&record.Collection,
			&queryJSON,
			&record.ResultCount,
			&outcome,
			&record.Error,
			&durationMs,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan prompt history row: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse history id %q: %w", id, err)
		}
		record.ID = parsed
		if len(queryJSON) > 0 {
			record.Query = queryJSON
		}
		record.Outcome = history.Outcome(outcome)
		record.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt history rows: %w", err)
	}
	return records, nil
}

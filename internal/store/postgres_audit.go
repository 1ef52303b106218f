package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskflowd/taskflowd/internal/model"
)

// PostgresAuditSink durably archives terminal task records so they outlive
// Redis's TTL: the Event Processor archives a record when it commits a
// terminal status. Redis is the fast/ephemeral tier, Postgres is the
// durable tier. It is optional: a nil sink is a no-op, and
// archive failures are logged rather than surfaced, since losing an audit
// row must never block the caller's repository operation.
type PostgresAuditSink struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditSink opens a connection pool and verifies it, closing the
// pool again if the ping fails.
func NewPostgresAuditSink(ctx context.Context, connString string) (*PostgresAuditSink, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres audit sink: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres audit sink: %w", err)
	}
	return &PostgresAuditSink{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresAuditSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Archive persists a terminal task record for long-term audit. Only
// COMPLETED, FAILED and CANCELLED records are meaningful to archive; the
// caller is expected to check Status.Terminal() before calling this.
func (s *PostgresAuditSink) Archive(ctx context.Context, rec *model.Record) {
	if s == nil || s.pool == nil {
		return
	}

	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		log.Printf("audit: failed to marshal parameters for task %s: %v", rec.TaskID, err)
		return
	}
	logs, err := json.Marshal(rec.Logs)
	if err != nil {
		log.Printf("audit: failed to marshal logs for task %s: %v", rec.TaskID, err)
		return
	}

	query := `
		INSERT INTO task_audit (task_id, service, user_id, status, parameters, logs, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			logs = EXCLUDED.logs,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at
	`
	_, err = s.pool.Exec(ctx, query,
		rec.TaskID, rec.Service, rec.UserID, string(rec.Status),
		params, logs, rec.CreatedAt, rec.UpdatedAt, time.Now(),
	)
	if err != nil {
		log.Printf("audit: failed to archive task %s: %v", rec.TaskID, err)
	}
}

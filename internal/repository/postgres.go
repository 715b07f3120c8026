// Package repository provides PostgreSQL persistence for crawl task history.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/rs/zerolog/log"
)

const schema = `
	CREATE TABLE IF NOT EXISTS crawl_history (
		task_id        TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		payload        JSONB,
		priority       INTEGER NOT NULL DEFAULT 1,
		status         TEXT NOT NULL,
		progress       DOUBLE PRECISION NOT NULL DEFAULT 0,
		message        TEXT,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT,
		total_shops    INTEGER NOT NULL DEFAULT 0,
		output_file    TEXT,
		worker_id      TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		scheduled_at   TIMESTAMPTZ,
		started_at     TIMESTAMPTZ,
		completed_at   TIMESTAMPTZ,
		duration_ms    INTEGER
	);
	CREATE TABLE IF NOT EXISTS crawl_execution_log (
		id             SERIAL PRIMARY KEY,
		task_id        TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		status         TEXT NOT NULL,
		started_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at   TIMESTAMPTZ,
		duration_ms    INTEGER,
		error_message  TEXT,
		worker_id      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_crawl_history_created_at ON crawl_history (created_at DESC);
`

type PostgresTaskRepository struct {
	db *sql.DB
}

func NewPostgresTaskRepository(connectionString string) (*PostgresTaskRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresTaskRepository{db: db}, nil
}

// Migrate creates the history tables when they do not exist yet.
func (r *PostgresTaskRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	return nil
}

func (r *PostgresTaskRepository) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	query := `
		SELECT
			task_id, type, payload, priority, status, progress,
			COALESCE(message, ''), retry_count, COALESCE(failure_reason, ''),
			total_shops, COALESCE(output_file, ''), created_at,
			scheduled_at, started_at, completed_at
		FROM crawl_history
		WHERE task_id = $1
	`

	var t task.Task
	var payload []byte
	var scheduledAt, startedAt, completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, taskID).Scan(
		&t.ID,
		&t.Type,
		&payload,
		&t.Priority,
		&t.Status,
		&t.Progress,
		&t.Message,
		&t.RetryCount,
		&t.Error,
		&t.TotalShops,
		&t.OutputFile,
		&t.CreatedAt,
		&scheduledAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	if scheduledAt.Valid {
		t.ScheduledAt = scheduledAt.Time
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}

	return &t, nil
}

func (r *PostgresTaskRepository) SaveTask(ctx context.Context, t *task.Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO crawl_history (
			task_id, type, payload, priority, status,
			retry_count, failure_reason, created_at, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			failure_reason = EXCLUDED.failure_reason,
			scheduled_at = EXCLUDED.scheduled_at
	`

	var scheduledAt any
	if !t.ScheduledAt.IsZero() {
		scheduledAt = t.ScheduledAt
	}

	_, err = r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.Type,
		payload,
		t.Priority,
		t.Status,
		t.RetryCount,
		t.Error,
		t.CreatedAt,
		scheduledAt,
	)

	return err
}

func (r *PostgresTaskRepository) UpdateTaskStatus(ctx context.Context, taskID string, status task.TaskStatus, workerID string) error {
	statusStr := string(status)
	query := `
		UPDATE crawl_history
		SET status = $1,
		    started_at = CASE WHEN $4::text = 'running' THEN NOW() ELSE started_at END,
		    worker_id = $2
		WHERE task_id = $3
	`

	_, err := r.db.ExecContext(ctx, query, statusStr, workerID, taskID, statusStr)
	return err
}

func (r *PostgresTaskRepository) UpdateProgress(ctx context.Context, taskID string, progress float64, message string) error {
	query := `
		UPDATE crawl_history
		SET progress = $1,
		    message = $2
		WHERE task_id = $3
	`

	_, err := r.db.ExecContext(ctx, query, progress, message, taskID)
	return err
}

func (r *PostgresTaskRepository) CompleteTask(ctx context.Context, taskID string, totalShops int, outputFile string, durationMs int) error {
	query := `
		UPDATE crawl_history
		SET status = 'completed',
		    progress = 100,
		    completed_at = NOW(),
		    total_shops = $1,
		    output_file = $2,
		    duration_ms = $3
		WHERE task_id = $4
	`
	_, err := r.db.ExecContext(ctx, query, totalShops, outputFile, durationMs, taskID)

	return err
}

func (r *PostgresTaskRepository) FailTask(ctx context.Context, taskID string, reason string, durationMs int) error {
	query := `
		UPDATE crawl_history
		SET status = 'failed',
		    completed_at = NOW(),
		    failure_reason = $1,
		    duration_ms = $2
		WHERE task_id = $3
	`
	_, err := r.db.ExecContext(ctx, query, reason, durationMs, taskID)

	return err
}

func (r *PostgresTaskRepository) CancelTask(ctx context.Context, taskID string) error {
	query := `
		UPDATE crawl_history
		SET status = 'cancelled',
		    completed_at = NOW()
		WHERE task_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, taskID)

	return err
}

func (r *PostgresTaskRepository) IncrementRetryCount(ctx context.Context, taskID string) error {
	query := `
		UPDATE crawl_history
		SET retry_count = retry_count + 1
		WHERE task_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, taskID)

	return err
}

func (r *PostgresTaskRepository) LogExecution(ctx context.Context, taskID string, attemptNumber int, status string, durationMs int, msgErr string, workerID string) error {
	query := `
		INSERT INTO crawl_execution_log (
			task_id, attempt_number, status, completed_at,
			duration_ms, error_message, worker_id
		) VALUES ($1, $2, $3, NOW(), $4, $5, $6)
	`

	var durationMsVal any
	if durationMs != 0 {
		durationMsVal = durationMs
	}

	var msgErrVal any
	if msgErr != "" {
		msgErrVal = msgErr
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		taskID,
		attemptNumber,
		status,
		durationMsVal,
		msgErrVal,
		workerID,
	)

	return err
}

func (r *PostgresTaskRepository) GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error) {
	query := `
		SELECT
			type, status, COUNT(*) as count,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms,
			COALESCE(MAX(duration_ms), 0) as max_duration_ms,
			COALESCE(MIN(duration_ms), 0) as min_duration_ms,
			COALESCE(AVG(retry_count), 0) as avg_retries,
			COALESCE(SUM(total_shops), 0) as total_shops
		FROM crawl_history
		WHERE created_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY type, status
		ORDER BY type, status
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	var stats []TaskStats
	for rows.Next() {
		var s TaskStats
		if err := rows.Scan(
			&s.Type,
			&s.Status,
			&s.Count,
			&s.AvgDurationMs,
			&s.MaxDurationMs,
			&s.MinDurationMs,
			&s.AvgRetries,
			&s.TotalShops,
		); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *PostgresTaskRepository) GetRecentTasks(ctx context.Context, limit int) ([]RecentTask, error) {
	query := `
		SELECT
			task_id, type, status, created_at, completed_at,
			duration_ms, retry_count, total_shops,
			COALESCE(output_file, ''), COALESCE(failure_reason, '')
		FROM crawl_history
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	var tasks []RecentTask
	for rows.Next() {
		var t RecentTask
		if err := rows.Scan(
			&t.TaskID,
			&t.Type,
			&t.Status,
			&t.CreatedAt,
			&t.CompletedAt,
			&t.DurationMs,
			&t.RetryCount,
			&t.TotalShops,
			&t.OutputFile,
			&t.FailureReason,
		); err != nil {
			return nil, err
		}

		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func (r *PostgresTaskRepository) GetTaskHistory(ctx context.Context, taskID string) ([]map[string]any, error) {
	query := `
		SELECT
			attempt_number, status, started_at, completed_at,
			duration_ms, error_message, worker_id
		FROM crawl_execution_log
		WHERE task_id = $1
		ORDER BY started_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close rows")
		}
	}()

	var history []map[string]any
	for rows.Next() {
		var attemptNum int
		var status, workerID string
		var startedAt, completedAt sql.NullTime
		var durationMs sql.NullInt64
		var msgErr sql.NullString

		if err := rows.Scan(
			&attemptNum,
			&status,
			&startedAt,
			&completedAt,
			&durationMs,
			&msgErr,
			&workerID,
		); err != nil {
			return nil, err
		}

		entry := map[string]any{
			"attempt_number": attemptNum,
			"status":         status,
			"worker_id":      workerID,
		}

		if startedAt.Valid {
			entry["started_at"] = startedAt.Time
		}
		if completedAt.Valid {
			entry["completed_at"] = completedAt.Time
		}
		if durationMs.Valid {
			entry["duration_ms"] = durationMs.Int64
		}
		if msgErr.Valid {
			entry["error_message"] = msgErr.String
		}

		history = append(history, entry)
	}

	return history, rows.Err()
}

func (r *PostgresTaskRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresTaskRepository) Close() error {
	return r.db.Close()
}

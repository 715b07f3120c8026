package repository

import (
	"context"
	"time"

	"github.com/nadmax/crawlctl/internal/task"
)

type TaskRepository interface {
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	SaveTask(ctx context.Context, t *task.Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status task.TaskStatus, workerID string) error
	UpdateProgress(ctx context.Context, taskID string, progress float64, message string) error
	CompleteTask(ctx context.Context, taskID string, totalShops int, outputFile string, durationMs int) error
	FailTask(ctx context.Context, taskID string, reason string, durationMs int) error
	CancelTask(ctx context.Context, taskID string) error
	IncrementRetryCount(ctx context.Context, taskID string) error
	LogExecution(ctx context.Context, taskID string, attemptNumber int, status string, durationMs int, msgErr string, workerID string) error
	GetTaskStats(ctx context.Context, hours int) ([]TaskStats, error)
	GetRecentTasks(ctx context.Context, limit int) ([]RecentTask, error)
	GetTaskHistory(ctx context.Context, taskID string) ([]map[string]any, error)
	Close() error
}

type TaskStats struct {
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int     `json:"max_duration_ms"`
	MinDurationMs int     `json:"min_duration_ms"`
	AvgRetries    float64 `json:"avg_retries"`
	TotalShops    int     `json:"total_shops"`
}

type RecentTask struct {
	TaskID        string     `json:"task_id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    *int       `json:"duration_ms,omitempty"`
	RetryCount    int        `json:"retry_count"`
	TotalShops    int        `json:"total_shops"`
	OutputFile    string     `json:"output_file,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

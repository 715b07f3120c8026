// Package task defines the crawl task domain model shared by the queue, the worker,
// the HTTP API and the status monitor. It contains status and priority definitions,
// the server-side task record, and the Snapshot projection returned by the status endpoint.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	TaskStatus   string
	TaskPriority int
	Task         struct {
		ID          string         `json:"id"`
		Type        string         `json:"type"`
		Payload     map[string]any `json:"payload"`
		Priority    TaskPriority   `json:"priority"`
		Status      TaskStatus     `json:"status"`
		Progress    float64        `json:"progress"`
		Message     string         `json:"message,omitempty"`
		MessageType string         `json:"message_type,omitempty"`
		ExtraInfo   map[string]any `json:"extra_info,omitempty"`
		RetryCount  int            `json:"retry_count"`
		MaxRetries  int            `json:"max_retries"`
		CreatedAt   time.Time      `json:"created_at"`
		ScheduledAt time.Time      `json:"scheduled_at"`
		StartedAt   *time.Time     `json:"started_at,omitempty"`
		CompletedAt *time.Time     `json:"completed_at,omitempty"`
		Error       string         `json:"error,omitempty"`
		TotalShops  int            `json:"total_shops,omitempty"`
		OutputFile  string         `json:"output_file,omitempty"`
	}
)

const (
	StatusPending   TaskStatus = "pending"
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

const (
	PriorityLow TaskPriority = iota
	PriorityMedium
	PriorityHigh
)

var (
	// ErrUnknownStatus is returned when a status string is not one of the six known values.
	ErrUnknownStatus = errors.New("unknown task status")
	// ErrCancelled is returned to running handlers once their task has been cancelled.
	ErrCancelled = errors.New("task cancelled")
)

var statusTexts = map[TaskStatus]string{
	StatusPending:   "waiting to start...",
	StatusQueued:    "queued...",
	StatusRunning:   "crawling...",
	StatusCompleted: "crawl completed",
	StatusFailed:    "crawl failed",
	StatusCancelled: "cancelled",
}

func ParseStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if _, ok := statusTexts[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}

	return st, nil
}

// IsTerminal reports whether no further progress will be reported for the status.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s TaskStatus) IsValid() bool {
	_, ok := statusTexts[s]
	return ok
}

// Text returns the operator-facing label of the status.
func (s TaskStatus) Text() string {
	return StatusText(string(s))
}

// StatusText maps a raw status string to its label, falling back to "unknown status".
func StatusText(status string) string {
	if text, ok := statusTexts[TaskStatus(status)]; ok {
		return text
	}

	return "unknown status"
}

func (s *TaskStatus) UnmarshalText(data []byte) error {
	st, err := ParseStatus(string(data))
	if err != nil {
		return err
	}

	*s = st
	return nil
}

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

func NewTask(taskType string, payload map[string]any, priority TaskPriority) *Task {
	now := time.Now()
	return &Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		Payload:     payload,
		Priority:    priority,
		Status:      StatusPending,
		MaxRetries:  3,
		RetryCount:  0,
		CreatedAt:   now,
		ScheduledAt: now,
	}
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), err
}

func (t *Task) ShouldRetry() bool {
	return t.RetryCount < t.MaxRetries
}

func TaskFromJSON(data string) (*Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, err
	}

	return &task, nil
}

package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	payload := map[string]any{
		"city":       "shanghai",
		"categories": []any{"food"},
	}

	task := NewTask("crawl", payload, PriorityMedium)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "crawl", task.Type)
	assert.Equal(t, payload, task.Payload)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 3, task.MaxRetries)
	assert.Equal(t, 0, task.RetryCount)
	assert.False(t, task.CreatedAt.IsZero())
	assert.False(t, task.ScheduledAt.IsZero())
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)
}

func TestTaskToJSON(t *testing.T) {
	task := NewTask("crawl", map[string]any{"key": "value"}, PriorityMedium)

	jsonStr, err := task.ToJSON()

	assert.NoError(t, err)
	assert.NotEmpty(t, jsonStr)
	assert.Contains(t, jsonStr, "crawl")
	assert.Contains(t, jsonStr, "key")
}

func TestTaskFromJSON(t *testing.T) {
	original := NewTask("crawl", map[string]any{"key": "value"}, PriorityMedium)
	jsonStr, _ := original.ToJSON()

	restored, err := TaskFromJSON(jsonStr)

	assert.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Status, restored.Status)
	assert.Equal(t, original.Priority, restored.Priority)
}

func TestTaskFromJSON_InvalidJSON(t *testing.T) {
	_, err := TaskFromJSON("invalid json")

	assert.Error(t, err)
}

func TestTaskFromJSON_UnknownStatus(t *testing.T) {
	_, err := TaskFromJSON(`{"id":"t-1","status":"exploded"}`)

	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestTaskStatuses(t *testing.T) {
	assert.Equal(t, TaskStatus("pending"), StatusPending)
	assert.Equal(t, TaskStatus("queued"), StatusQueued)
	assert.Equal(t, TaskStatus("running"), StatusRunning)
	assert.Equal(t, TaskStatus("completed"), StatusCompleted)
	assert.Equal(t, TaskStatus("failed"), StatusFailed)
	assert.Equal(t, TaskStatus("cancelled"), StatusCancelled)
}

func TestTaskPriorities(t *testing.T) {
	assert.Equal(t, TaskPriority(0), PriorityLow)
	assert.Equal(t, TaskPriority(1), PriorityMedium)
	assert.Equal(t, TaskPriority(2), PriorityHigh)
}

func TestTaskJSONRoundTrip(t *testing.T) {
	now := time.Now()
	task := &Task{
		ID:          "test-123",
		Type:        "crawl",
		Payload:     map[string]any{"city": "beijing"},
		Priority:    PriorityHigh,
		Status:      StatusRunning,
		Progress:    42.5,
		Message:     "page 3/10",
		ExtraInfo:   map[string]any{"stats": map[string]any{"captcha_count": float64(2)}},
		MaxRetries:  5,
		RetryCount:  2,
		CreatedAt:   now,
		ScheduledAt: now,
		StartedAt:   &now,
		Error:       "test error",
	}

	jsonStr, err := task.ToJSON()
	assert.NoError(t, err)

	restored, err := TaskFromJSON(jsonStr)
	assert.NoError(t, err)

	assert.Equal(t, task.ID, restored.ID)
	assert.Equal(t, task.Type, restored.Type)
	assert.Equal(t, task.Priority, restored.Priority)
	assert.Equal(t, task.Status, restored.Status)
	assert.Equal(t, task.Progress, restored.Progress)
	assert.Equal(t, task.Message, restored.Message)
	assert.Equal(t, task.ExtraInfo, restored.ExtraInfo)
	assert.Equal(t, task.MaxRetries, restored.MaxRetries)
	assert.Equal(t, task.RetryCount, restored.RetryCount)
	assert.Equal(t, task.Error, restored.Error)
}

func TestTask_ShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		expected   bool
	}{
		{name: "no retries yet", retryCount: 0, maxRetries: 3, expected: true},
		{name: "one retry left", retryCount: 2, maxRetries: 3, expected: true},
		{name: "retries exhausted", retryCount: 3, maxRetries: 3, expected: false},
		{name: "retries beyond max", retryCount: 5, maxRetries: 3, expected: false},
		{name: "retries disabled", retryCount: 0, maxRetries: 0, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}

			assert.Equal(t, tt.expected, task.ShouldRetry())
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		expected bool
	}{
		{StatusPending, false},
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsTerminal())
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("queued")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, st)

	_, err = ParseStatus("paused")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	_, err = ParseStatus("")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestTaskStatus_UnmarshalText(t *testing.T) {
	var payload struct {
		Status TaskStatus `json:"status"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"status":"cancelled"}`), &payload))
	assert.Equal(t, StatusCancelled, payload.Status)

	err := json.Unmarshal([]byte(`{"status":"bogus"}`), &payload)
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		status   string
		expected string
	}{
		{"pending", "waiting to start..."},
		{"queued", "queued..."},
		{"running", "crawling..."},
		{"completed", "crawl completed"},
		{"failed", "crawl failed"},
		{"cancelled", "cancelled"},
		{"paused", "unknown status"},
		{"", "unknown status"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusText(tt.status))
			assert.Equal(t, tt.expected, TaskStatus(tt.status).Text())
		})
	}
}

func TestTaskPriority_String(t *testing.T) {
	tests := []struct {
		name     string
		priority TaskPriority
		expected string
	}{
		{
			name:     "low priority",
			priority: PriorityLow,
			expected: "low",
		},
		{
			name:     "medium priority",
			priority: PriorityMedium,
			expected: "medium",
		},
		{
			name:     "high priority",
			priority: PriorityHigh,
			expected: "high",
		},
		{
			name:     "unknown priority value",
			priority: TaskPriority(99),
			expected: "unknown",
		},
		{
			name:     "negative priority value",
			priority: TaskPriority(-1),
			expected: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.priority.String()

			assert.Equal(t, tt.expected, result)
		})
	}
}

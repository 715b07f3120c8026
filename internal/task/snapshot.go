package task

import (
	"fmt"
	"time"
)

// Snapshot is the projection of a task returned by the status endpoint.
type Snapshot struct {
	TaskID       string         `json:"task_id"`
	Type         string         `json:"type,omitempty"`
	Status       TaskStatus     `json:"status"`
	Progress     float64        `json:"progress"`
	Message      string         `json:"message,omitempty"`
	MessageType  string         `json:"message_type,omitempty"`
	ExtraInfo    map[string]any `json:"extra_info,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartTime    *time.Time     `json:"start_time,omitempty"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	TotalShops   int            `json:"total_shops,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	OutputFile   string         `json:"output_file,omitempty"`
	IsRunning    bool           `json:"is_running"`
}

func (t *Task) Snapshot() Snapshot {
	return Snapshot{
		TaskID:       t.ID,
		Type:         t.Type,
		Status:       t.Status,
		Progress:     t.Progress,
		Message:      t.Message,
		MessageType:  t.MessageType,
		ExtraInfo:    t.ExtraInfo,
		CreatedAt:    t.CreatedAt,
		StartTime:    t.StartedAt,
		EndTime:      t.CompletedAt,
		TotalShops:   t.TotalShops,
		ErrorMessage: t.Error,
		OutputFile:   t.OutputFile,
		IsRunning:    t.Status == StatusRunning,
	}
}

// Validate rejects snapshots whose status is missing or unknown.
func (s Snapshot) Validate() error {
	if !s.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, string(s.Status))
	}

	return nil
}

// Normalize clamps progress into [0,100]; a completed task always reports 100.
func (s Snapshot) Normalize() Snapshot {
	switch {
	case s.Status == StatusCompleted:
		s.Progress = 100
	case s.Progress < 0:
		s.Progress = 0
	case s.Progress > 100:
		s.Progress = 100
	}

	return s
}

// Stats returns extra_info.stats as an integer map. Missing or non-numeric values are skipped.
func (s Snapshot) Stats() map[string]int {
	raw, ok := s.ExtraInfo["stats"].(map[string]any)
	if !ok {
		return nil
	}

	stats := make(map[string]int, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			stats[k] = int(n)
		case int:
			stats[k] = n
		case int64:
			stats[k] = int(n)
		}
	}

	return stats
}

// Package dashboard implements the monitoring endpoints for crawl queue statistics and task history.
package dashboard

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/nadmax/crawlctl/internal/httputil"
	"github.com/nadmax/crawlctl/internal/queue"
	"github.com/nadmax/crawlctl/internal/repository"
	"github.com/nadmax/crawlctl/internal/task"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultStatsHours   = 24
)

type Dashboard struct {
	queue *queue.Queue
}

type Stats struct {
	TotalTasks      int            `json:"total_tasks"`
	PendingTasks    int            `json:"pending_tasks"`
	QueuedTasks     int            `json:"queued_tasks"`
	RunningTasks    int            `json:"running_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	FailedTasks     int            `json:"failed_tasks"`
	CancelledTasks  int            `json:"cancelled_tasks"`
	TotalShops      int            `json:"total_shops"`
	TasksByType     map[string]int `json:"tasks_by_type"`
	AverageWaitTime string         `json:"average_wait_time"`
	LastUpdated     time.Time      `json:"last_updated"`
}

type TaskHistory struct {
	TaskID      string          `json:"task_id"`
	Type        string          `json:"type"`
	Status      task.TaskStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Duration    string          `json:"duration"`
	TotalShops  int             `json:"total_shops"`
	Error       string          `json:"error,omitempty"`
}

func NewDashboard(q *queue.Queue) *Dashboard {
	return &Dashboard{queue: q}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	tasks, err := d.queue.GetAllTasks()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, buildStats(tasks, time.Now()))
}

func buildStats(tasks []*task.Task, now time.Time) Stats {
	stats := Stats{
		TotalTasks:  len(tasks),
		TasksByType: make(map[string]int),
		LastUpdated: now,
	}

	var totalWaitTime time.Duration
	waitCount := 0

	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending:
			stats.PendingTasks++
		case task.StatusQueued:
			stats.QueuedTasks++
		case task.StatusRunning:
			stats.RunningTasks++
		case task.StatusCompleted:
			stats.CompletedTasks++
			stats.TotalShops += t.TotalShops
		case task.StatusFailed:
			stats.FailedTasks++
		case task.StatusCancelled:
			stats.CancelledTasks++
		}

		stats.TasksByType[t.Type]++

		if t.StartedAt != nil {
			totalWaitTime += t.StartedAt.Sub(t.CreatedAt)
			waitCount++
		}
	}

	if waitCount > 0 {
		avgWait := totalWaitTime / time.Duration(waitCount)
		stats.AverageWaitTime = avgWait.Round(time.Millisecond).String()
	} else {
		stats.AverageWaitTime = "N/A"
	}

	return stats
}

// GetRecentTasks lists tasks that finished during the last 24 hours, newest first.
func (d *Dashboard) GetRecentTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := d.queue.GetAllTasks()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	history := []TaskHistory{}

	for _, t := range tasks {
		if t.CompletedAt == nil || t.CompletedAt.Before(cutoff) {
			continue
		}

		var duration string
		if t.StartedAt != nil {
			duration = t.CompletedAt.Sub(*t.StartedAt).Round(time.Millisecond).String()
		}

		history = append(history, TaskHistory{
			TaskID:      t.ID,
			Type:        t.Type,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
			CompletedAt: t.CompletedAt,
			Duration:    duration,
			TotalShops:  t.TotalShops,
			Error:       t.Error,
		})
	}

	sort.Slice(history, func(i, j int) bool {
		return history[i].CompletedAt.After(*history[j].CompletedAt)
	})

	httputil.WriteJSON(w, http.StatusOK, history)
}

// GetArchive serves the PostgreSQL crawl history: recent rows and aggregated stats.
func (d *Dashboard) GetArchive(w http.ResponseWriter, r *http.Request) {
	repo := d.queue.GetRepository()
	if repo == nil {
		httputil.WriteJSONError(w, "crawl history is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	hours := queryInt(r, "hours", defaultStatsHours)

	recent, err := repo.GetRecentTasks(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats, err := repo.GetTaskStats(r.Context(), hours)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if recent == nil {
		recent = []repository.RecentTask{}
	}
	if stats == nil {
		stats = []repository.TaskStats{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Success: true,
		Data: map[string]any{
			"recent": recent,
			"stats":  stats,
			"hours":  hours,
		},
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}

	return v
}

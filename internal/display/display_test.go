package display

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nadmax/crawlctl/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name     string
		snap     task.Snapshot
		expected string
	}{
		{
			name:     "message wins",
			snap:     task.Snapshot{Status: task.StatusRunning, Message: "page 2/5"},
			expected: "page 2/5",
		},
		{
			name:     "status label without message",
			snap:     task.Snapshot{Status: task.StatusQueued},
			expected: "queued...",
		},
		{
			name: "stats appended in order",
			snap: task.Snapshot{
				Status:  task.StatusRunning,
				Message: "page 3/5",
				ExtraInfo: map[string]any{"stats": map[string]any{
					"page_refreshes": float64(4),
					"captcha":        float64(1),
					"skipped_pages":  float64(0),
				}},
			},
			expected: "page 3/5 (captcha: 1, page refreshes: 4)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Describe(tt.snap))
		})
	}
}

func TestSummary(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	end := start.Add(95 * time.Second)

	out := Summary(task.Snapshot{
		TaskID:     "task-1",
		Status:     task.StatusCompleted,
		Progress:   100,
		StartTime:  &start,
		EndTime:    &end,
		TotalShops: 37,
		OutputFile: "shops_sh.xlsx",
	})

	assert.Contains(t, out, "Task:      task-1")
	assert.Contains(t, out, "Status:    crawl completed")
	assert.Contains(t, out, "Started:   2026-03-01 10:00:00")
	assert.Contains(t, out, "Duration:  1m35s")
	assert.Contains(t, out, "Shops:     37")
	assert.Contains(t, out, "Output:    shops_sh.xlsx")
	assert.NotContains(t, out, "Error:")
}

func TestSummary_Failed(t *testing.T) {
	out := Summary(task.Snapshot{
		TaskID:       "task-2",
		Status:       task.StatusFailed,
		ErrorMessage: "blocked by captcha",
	})

	assert.Contains(t, out, "Status:    crawl failed")
	assert.Contains(t, out, "Error:     blocked by captcha")
	assert.NotContains(t, out, "Shops:")
	assert.NotContains(t, out, "Started:")
}

func TestProgressView(t *testing.T) {
	var out bytes.Buffer
	v := NewProgressView(&out, "0123456789abcdef")

	require.NoError(t, v.Observe(task.Snapshot{TaskID: "0123456789abcdef", Status: task.StatusRunning, Progress: 40, Message: "page 2/5"}))
	assert.Equal(t, 40, v.percent)
	assert.Equal(t, "page 2/5", v.description)

	require.NoError(t, v.Observe(task.Snapshot{TaskID: "0123456789abcdef", Status: task.StatusRunning, Progress: 250}))
	assert.Equal(t, 100, v.percent)
	assert.Equal(t, "crawling...", v.description)

	require.NoError(t, v.Finish(task.Snapshot{TaskID: "0123456789abcdef", Status: task.StatusCompleted, TotalShops: 37}))
	assert.Contains(t, out.String(), "Shops:     37")
}

func TestProgressView_FinishFailed(t *testing.T) {
	var out bytes.Buffer
	v := NewProgressView(&out, "task-3")

	require.NoError(t, v.Observe(task.Snapshot{TaskID: "task-3", Status: task.StatusRunning, Progress: 60}))
	require.NoError(t, v.Finish(task.Snapshot{TaskID: "task-3", Status: task.StatusCancelled}))

	assert.Contains(t, out.String(), "Status:    cancelled")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "01234567", shortID("0123456789"))
}

func TestLogBook_Observe(t *testing.T) {
	b := NewLogBook(0)
	assert.Equal(t, DefaultLogLimit, b.limit)

	require.NoError(t, b.Observe(task.Snapshot{Message: ""}))
	require.NoError(t, b.Observe(task.Snapshot{Message: "page 1/3"}))
	require.NoError(t, b.Observe(task.Snapshot{Message: "page 1/3"}))
	require.NoError(t, b.Observe(task.Snapshot{Message: "captcha detected", MessageType: "warning"}))
	require.NoError(t, b.Observe(task.Snapshot{Message: "page 1/3"}))

	entries := b.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "warning", entries[1].Level)
	assert.Equal(t, "page 1/3", entries[2].Message)
}

func TestLogBook_Limit(t *testing.T) {
	b := NewLogBook(3)

	for i := range 5 {
		require.NoError(t, b.Observe(task.Snapshot{Message: strings.Repeat("x", i+1)}))
	}

	entries := b.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "xxx", entries[0].Message)
	assert.Equal(t, "xxxxx", entries[2].Message)
}

func TestLogBook_WriteTo(t *testing.T) {
	b := NewLogBook(10)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, b.Observe(task.Snapshot{Message: "crawl started"}))
	require.NoError(t, b.Observe(task.Snapshot{Message: "proxy refused", MessageType: "error"}))

	var out bytes.Buffer
	n, err := b.WriteTo(&out)
	require.NoError(t, err)

	assert.Equal(t, int64(out.Len()), n)
	assert.Equal(t,
		"[2026-03-01 10:00:00] [INFO] crawl started\n[2026-03-01 10:00:00] [ERROR] proxy refused\n",
		out.String())
}

func TestLogBook_Save(t *testing.T) {
	b := NewLogBook(10)
	require.NoError(t, b.Observe(task.Snapshot{Message: "crawl started"}))

	dir := filepath.Join(t.TempDir(), "logs")
	path, err := b.Save(dir, "task-1")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "crawl-log-task-1.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "crawl started")
}

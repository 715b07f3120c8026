package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/crawlctl/internal/queue"
	"github.com/nadmax/crawlctl/internal/repository"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	TaskID  string          `json:"task_id"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func setupTestAPI(t *testing.T) (*API, *queue.Queue, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	q, err := queue.NewQueue(mr.Addr(), nil)
	require.NoError(t, err)

	return NewAPI(q), q, mr
}

func setupTestAPIWithMockRepo(t *testing.T) (*API, *queue.Queue, *repository.MockPostgresRepository, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	mockRepo := repository.NewMockPostgresRepository()
	q, err := queue.NewQueue(mr.Addr(), mockRepo)
	require.NoError(t, err)

	return NewAPI(q), q, mockRepo, mr
}

func validStartRequest() StartRequest {
	return StartRequest{
		City:          "sh",
		CityName:      "Shanghai",
		Categories:    []string{"ch10", "ch30"},
		CategoryNames: []string{"Food", "Leisure"},
		StartPage:     1,
		EndPage:       5,
	}
}

func do(t *testing.T, api *API, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	api.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}

	return w, env
}

func TestStartCrawl(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	w, env := do(t, api, http.MethodPost, "/api/crawler/start", validStartRequest())

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	require.NotEmpty(t, env.TaskID)

	stored, err := q.GetTask(env.TaskID)
	require.NoError(t, err)
	assert.Equal(t, CrawlTaskType, stored.Type)
	assert.Equal(t, task.StatusPending, stored.Status)
	assert.Equal(t, task.PriorityMedium, stored.Priority)
	assert.Equal(t, "sh", stored.Payload["city"])
	assert.EqualValues(t, 5, stored.Payload["end_page"])
}

func TestStartCrawlWithHistory(t *testing.T) {
	api, q, mockRepo, mr := setupTestAPIWithMockRepo(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	w, env := do(t, api, http.MethodPost, "/api/crawler/start", validStartRequest())

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, mockRepo.GetSaveTaskCallCount(), "Task should be saved to repository")
	assert.True(t, mockRepo.WasTaskSaved(env.TaskID), "Task should exist in repository")

	status, exists := mockRepo.GetTaskStatus(env.TaskID)
	assert.True(t, exists)
	assert.Equal(t, task.StatusPending, status)
}

func TestStartCrawl_WithPriority(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	req := validStartRequest()
	priority := task.PriorityHigh
	req.Priority = &priority

	w, env := do(t, api, http.MethodPost, "/api/crawler/start", req)
	require.Equal(t, http.StatusCreated, w.Code)

	stored, err := q.GetTask(env.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.PriorityHigh, stored.Priority)
}

func TestStartCrawl_Validation(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	badPriority := task.TaskPriority(9)

	tests := []struct {
		name   string
		modify func(r *StartRequest)
		errMsg string
	}{
		{"missing city", func(r *StartRequest) { r.City = "" }, "city is required"},
		{"no categories", func(r *StartRequest) { r.Categories = nil }, "at least one category"},
		{"start page zero", func(r *StartRequest) { r.StartPage = 0 }, "start_page"},
		{"end before start", func(r *StartRequest) { r.StartPage = 4; r.EndPage = 2 }, "end_page"},
		{"bad priority", func(r *StartRequest) { r.Priority = &badPriority }, "invalid priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validStartRequest()
			tt.modify(&req)

			w, env := do(t, api, http.MethodPost, "/api/crawler/start", req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, env.Success)
			assert.Contains(t, env.Error, tt.errMsg)
		})
	}
}

func TestStartCrawl_InvalidJSON(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	req := httptest.NewRequest(http.MethodPost, "/api/crawler/start", bytes.NewBufferString("invalid json"))
	w := httptest.NewRecorder()

	api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestStartCrawl_MethodNotAllowed(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/api/crawler/start", nil)
	w := httptest.NewRecorder()

	api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGetStatus(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	tk := task.NewTask(CrawlTaskType, nil, task.PriorityMedium)
	require.NoError(t, q.Enqueue(tk))
	require.NoError(t, q.UpdateProgress(tk.ID, 40, "page 2/5", "info", map[string]any{
		"stats": map[string]any{"captcha": 1},
	}))

	w, env := do(t, api, http.MethodGet, "/api/crawler/status/"+tk.ID, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	var snap task.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, tk.ID, snap.TaskID)
	assert.Equal(t, task.StatusPending, snap.Status)
	assert.Equal(t, float64(40), snap.Progress)
	assert.Equal(t, "page 2/5", snap.Message)
	assert.Equal(t, 1, snap.Stats()["captcha"])
}

func TestGetStatus_CompletedReportsFullProgress(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	tk := task.NewTask(CrawlTaskType, nil, task.PriorityMedium)
	require.NoError(t, q.Enqueue(tk))
	tk.Status = task.StatusCompleted
	tk.TotalShops = 37
	require.NoError(t, q.UpdateTask(tk))

	_, env := do(t, api, http.MethodGet, "/api/crawler/status/"+tk.ID, nil)

	var snap task.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, task.StatusCompleted, snap.Status)
	assert.Equal(t, float64(100), snap.Progress)
	assert.Equal(t, 37, snap.TotalShops)
	assert.False(t, snap.IsRunning)
}

func TestGetStatus_NotFound(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	w, env := do(t, api, http.MethodGet, "/api/crawler/status/nonexistent", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "task not found", env.Error)
}

func TestCancelTask(t *testing.T) {
	api, q, mockRepo, mr := setupTestAPIWithMockRepo(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	tk := task.NewTask(CrawlTaskType, nil, task.PriorityMedium)
	require.NoError(t, q.Enqueue(tk))

	w, env := do(t, api, http.MethodPost, "/api/crawler/cancel/"+tk.ID, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "task cancelled", env.Message)

	stored, err := q.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, stored.Status)
	assert.Equal(t, 1, mockRepo.GetCancelTaskCallCount())
}

func TestCancelTask_AlreadyFinished(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	tk := task.NewTask(CrawlTaskType, nil, task.PriorityMedium)
	require.NoError(t, q.Enqueue(tk))
	tk.Status = task.StatusCompleted
	require.NoError(t, q.UpdateTask(tk))

	w, env := do(t, api, http.MethodPost, "/api/crawler/cancel/"+tk.ID, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "can no longer be cancelled")
}

func TestCancelTask_NotFound(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	w, env := do(t, api, http.MethodPost, "/api/crawler/cancel/nonexistent", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestQueueStatus(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	for range 3 {
		require.NoError(t, q.Enqueue(task.NewTask(CrawlTaskType, nil, task.PriorityMedium)))
	}
	_, err := q.Dequeue()
	require.NoError(t, err)

	w, env := do(t, api, http.MethodGet, "/api/crawler/queue-status", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	var status queue.Status
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, 2, status.Pending)
	assert.Equal(t, 1, status.Queued)
	assert.Equal(t, 0, status.Running)
	assert.Equal(t, 3, status.Total)
	assert.JSONEq(t, `{"pending":2,"queued":1,"running":0,"total":3}`, string(env.Data))
}

func TestTaskHistory(t *testing.T) {
	api, q, mockRepo, mr := setupTestAPIWithMockRepo(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	require.NoError(t, mockRepo.LogExecution(t.Context(), "task-1", 1, "failed", 120, "timeout", "worker-1"))
	require.NoError(t, mockRepo.LogExecution(t.Context(), "task-1", 2, "completed", 90, "", "worker-1"))
	require.NoError(t, mockRepo.LogExecution(t.Context(), "task-2", 1, "completed", 50, "", "worker-2"))

	w, env := do(t, api, http.MethodGet, "/api/crawler/history/task-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var history []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 2)
	assert.Equal(t, "timeout", history[0]["error_message"])
}

func TestTaskHistory_Error(t *testing.T) {
	api, q, mockRepo, mr := setupTestAPIWithMockRepo(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	mockRepo.GetTaskHistoryError = errors.New("db down")

	w, env := do(t, api, http.MethodGet, "/api/crawler/history/task-1", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, env.Success)
}

func TestTaskHistory_NoRepository(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	w, _ := do(t, api, http.MethodGet, "/api/crawler/history/task-1", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRecentHistoryRoute(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/api/crawler/history", nil)
	w := httptest.NewRecorder()

	api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestDashboardStatsRoute(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	require.NoError(t, q.Enqueue(task.NewTask(CrawlTaskType, nil, task.PriorityMedium)))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
	w := httptest.NewRecorder()

	api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending_tasks":1`)
}

func TestMetricsRoute(t *testing.T) {
	api, q, mr := setupTestAPI(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	_, _ = do(t, api, http.MethodGet, "/api/crawler/status/missing", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "crawlctl_http_requests_total")
	assert.Contains(t, w.Body.String(), `endpoint="/api/crawler/status/:id"`)
}

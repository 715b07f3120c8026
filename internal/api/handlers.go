// Package api exposes the crawler HTTP endpoints: start, status, cancel, queue status and history.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nadmax/crawlctl/internal/dashboard"
	"github.com/nadmax/crawlctl/internal/httputil"
	"github.com/nadmax/crawlctl/internal/metrics"
	"github.com/nadmax/crawlctl/internal/middleware"
	"github.com/nadmax/crawlctl/internal/queue"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CrawlTaskType is the task type the worker registers its crawl handler under.
const CrawlTaskType = "crawl"

const maxRequestBody = 1 << 20

type API struct {
	queue   *queue.Queue
	mux     *http.ServeMux
	handler http.Handler
	logger  zerolog.Logger
}

type StartRequest struct {
	City          string             `json:"city"`
	CityName      string             `json:"city_name"`
	Categories    []string           `json:"categories"`
	CategoryNames []string           `json:"category_names"`
	StartPage     int                `json:"start_page"`
	EndPage       int                `json:"end_page"`
	Priority      *task.TaskPriority `json:"priority,omitempty"`
}

func (r StartRequest) Validate() error {
	if r.City == "" {
		return errors.New("city is required")
	}
	if len(r.Categories) == 0 {
		return errors.New("at least one category is required")
	}
	if r.StartPage < 1 {
		return errors.New("start_page must be at least 1")
	}
	if r.EndPage < r.StartPage {
		return errors.New("end_page must not be lower than start_page")
	}
	if r.Priority != nil && (*r.Priority < task.PriorityLow || *r.Priority > task.PriorityHigh) {
		return fmt.Errorf("invalid priority %d", *r.Priority)
	}

	return nil
}

// Payload is the task payload the crawl handler reads back.
func (r StartRequest) Payload() map[string]any {
	return map[string]any{
		"city":           r.City,
		"city_name":      r.CityName,
		"categories":     r.Categories,
		"category_names": r.CategoryNames,
		"start_page":     r.StartPage,
		"end_page":       r.EndPage,
	}
}

func NewAPI(q *queue.Queue) *API {
	return NewAPIWithLogger(q, log.Logger)
}

func NewAPIWithLogger(q *queue.Queue, logger zerolog.Logger) *API {
	api := &API{
		queue:  q,
		mux:    http.NewServeMux(),
		logger: logger,
	}

	api.setupRoutes()
	api.handler = middleware.MetricsMiddleware(middleware.RequestLogger(logger)(api.mux))

	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("POST /api/crawler/start", a.startCrawl)
	a.mux.HandleFunc("GET /api/crawler/status/{taskID}", a.getStatus)
	a.mux.HandleFunc("POST /api/crawler/cancel/{taskID}", a.cancelTask)
	a.mux.HandleFunc("GET /api/crawler/queue-status", a.queueStatus)
	a.mux.HandleFunc("GET /api/crawler/history/{taskID}", a.taskHistory)

	dash := dashboard.NewDashboard(a.queue)
	a.mux.HandleFunc("GET /api/crawler/history", dash.GetRecentTasks)
	a.mux.HandleFunc("GET /api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("GET /api/dashboard/history", dash.GetArchive)

	a.mux.Handle("GET /metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

func (a *API) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		httputil.WriteJSONError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	priority := task.PriorityMedium
	if req.Priority != nil {
		priority = *req.Priority
	}

	t := task.NewTask(CrawlTaskType, req.Payload(), priority)
	if err := a.queue.Enqueue(t); err != nil {
		a.logger.Error().Err(err).Msg("failed to enqueue crawl task")
		httputil.WriteJSONError(w, "failed to start crawl task", http.StatusInternalServerError)
		return
	}

	metrics.RecordTaskEnqueued(t.Type, t.Priority)
	a.logger.Info().
		Str("task_id", t.ID).
		Str("city", req.City).
		Strs("categories", req.Categories).
		Int("start_page", req.StartPage).
		Int("end_page", req.EndPage).
		Msg("crawl task submitted")

	httputil.WriteJSON(w, http.StatusCreated, httputil.Envelope{
		Success: true,
		TaskID:  t.ID,
		Message: "crawl task submitted",
	})
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskID")

	t, err := a.queue.GetTask(taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		httputil.WriteJSONError(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to load task")
		httputil.WriteJSONError(w, "failed to load task", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Success: true,
		Data:    t.Snapshot().Normalize(),
	})
}

func (a *API) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskID")

	t, err := a.queue.Cancel(taskID)
	switch {
	case errors.Is(err, queue.ErrTaskNotFound):
		httputil.WriteJSONError(w, "task not found", http.StatusNotFound)
		return
	case errors.Is(err, queue.ErrNotCancellable):
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		a.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to cancel task")
		httputil.WriteJSONError(w, "failed to cancel task", http.StatusInternalServerError)
		return
	}

	metrics.RecordTaskCancelled(t.Type)
	a.logger.Info().Str("task_id", taskID).Msg("crawl task cancelled")

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Success: true,
		Message: "task cancelled",
	})
}

func (a *API) queueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.queue.QueueStatus()
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to read queue status")
		httputil.WriteJSONError(w, "failed to read queue status", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Success: true,
		Data:    status,
	})
}

func (a *API) taskHistory(w http.ResponseWriter, r *http.Request) {
	repo := a.queue.GetRepository()
	if repo == nil {
		httputil.WriteJSONError(w, "crawl history is not configured", http.StatusServiceUnavailable)
		return
	}

	taskID := r.PathValue("taskID")
	history, err := repo.GetTaskHistory(r.Context(), taskID)
	if err != nil {
		a.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to load task history")
		httputil.WriteJSONError(w, "failed to load task history", http.StatusInternalServerError)
		return
	}

	if history == nil {
		history = []map[string]any{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Envelope{
		Success: true,
		Data:    history,
	})
}

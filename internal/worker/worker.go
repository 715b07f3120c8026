// Package worker provides the background processor that consumes crawl tasks from the queue
// and runs them while reporting progress back to the task store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/crawlctl/internal/metrics"
	"github.com/nadmax/crawlctl/internal/queue"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval = time.Second
	defaultRetryBackoff = 10 * time.Second
)

// Message levels carried in task.MessageType.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Progress is one report from a running handler.
type Progress struct {
	Percent   float64
	Message   string
	Level     string
	ExtraInfo map[string]any
}

type Reporter interface {
	Report(p Progress) error
}

// TaskHandler runs a task. It may set TotalShops and OutputFile on t before returning nil.
type TaskHandler func(ctx context.Context, t *task.Task, r Reporter) error

type Worker struct {
	id           string
	queue        *queue.Queue
	handlers     map[string]TaskHandler
	stop         chan struct{}
	stopOnce     sync.Once
	pollInterval time.Duration
	retryBackoff time.Duration
	logger       zerolog.Logger
}

func NewWorker(id string, q *queue.Queue) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		handlers:     make(map[string]TaskHandler),
		stop:         make(chan struct{}),
		pollInterval: defaultPollInterval,
		retryBackoff: defaultRetryBackoff,
		logger:       log.Logger.With().Str("worker_id", id).Logger(),
	}
}

func (w *Worker) RegisterHandler(taskType string, handler TaskHandler) {
	w.handlers[taskType] = handler
}

func (w *Worker) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

func (w *Worker) SetRetryBackoff(d time.Duration) {
	w.retryBackoff = d
}

func (w *Worker) SetLogger(logger zerolog.Logger) {
	w.logger = logger.With().Str("worker_id", w.id).Logger()
}

// Start polls the queue until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("worker started")
	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return
		case <-w.stop:
			w.logger.Info().Msg("worker stopped")
			return
		default:
		}

		t, err := w.queue.Dequeue()
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to dequeue task")
		}
		if err != nil || t == nil {
			select {
			case <-ctx.Done():
			case <-w.stop:
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.processTask(ctx, t)
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

type queueReporter struct {
	queue  *queue.Queue
	taskID string
	cancel context.CancelFunc
}

func (r *queueReporter) Report(p Progress) error {
	level := p.Level
	if level == "" {
		level = LevelInfo
	}

	err := r.queue.UpdateProgress(r.taskID, p.Percent, p.Message, level, p.ExtraInfo)
	if errors.Is(err, task.ErrCancelled) {
		r.cancel()
	}

	return err
}

func (w *Worker) processTask(ctx context.Context, t *task.Task) {
	logger := w.logger.With().Str("task_id", t.ID).Str("type", t.Type).Logger()
	logger.Info().Int("attempt", t.RetryCount+1).Msg("processing task")

	startedAt := time.Now()
	metrics.RecordTaskWaitTime(t.Type, t.Priority, startedAt.Sub(t.ScheduledAt))

	running, err := w.queue.Update(t.ID, func(stored *task.Task) error {
		if stored.Status == task.StatusCancelled {
			return task.ErrCancelled
		}

		stored.Status = task.StatusRunning
		stored.StartedAt = &startedAt
		stored.Message = "task started"
		stored.MessageType = LevelInfo
		return nil
	})
	if errors.Is(err, task.ErrCancelled) {
		logger.Info().Msg("task cancelled before start")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to update task status to running")
		return
	}

	if err := w.queue.MarkRunning(t.ID, w.id); err != nil {
		logger.Error().Err(err).Msg("failed to record running status")
	}

	handler, exists := w.handlers[running.Type]
	if !exists {
		w.fail(running, fmt.Sprintf("no handler for task type: %s", running.Type), startedAt, logger)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reporter := &queueReporter{queue: w.queue, taskID: running.ID, cancel: cancel}
	err = runHandler(taskCtx, handler, running, reporter)
	duration := time.Since(startedAt)

	if w.logExecution(running, err, duration) != nil {
		logger.Error().Msg("failed to log execution")
	}

	switch {
	case err == nil:
		w.complete(running, startedAt, logger)
	case errors.Is(err, task.ErrCancelled), w.isCancelled(running.ID):
		logger.Info().Dur("duration", duration).Msg("task cancelled while running")
	case running.RetryCount+1 < running.MaxRetries:
		w.retry(running, err, logger)
	default:
		w.fail(running, err.Error(), startedAt, logger)
	}
}

func runHandler(ctx context.Context, handler TaskHandler, t *task.Task, r Reporter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()

	return handler(ctx, t, r)
}

func (w *Worker) isCancelled(taskID string) bool {
	stored, err := w.queue.GetTask(taskID)
	return err == nil && stored.Status == task.StatusCancelled
}

func (w *Worker) complete(t *task.Task, startedAt time.Time, logger zerolog.Logger) {
	duration := time.Since(startedAt)

	_, err := w.queue.Update(t.ID, func(stored *task.Task) error {
		if stored.Status == task.StatusCancelled {
			return task.ErrCancelled
		}

		completedAt := time.Now()
		stored.Status = task.StatusCompleted
		stored.Progress = 100
		stored.CompletedAt = &completedAt
		stored.TotalShops = t.TotalShops
		stored.OutputFile = t.OutputFile
		stored.Message = fmt.Sprintf("task completed, %d shops collected", t.TotalShops)
		stored.MessageType = LevelSuccess
		return nil
	})
	if errors.Is(err, task.ErrCancelled) {
		logger.Info().Msg("task cancelled before completion was recorded")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to update completed task")
		return
	}

	if err := w.queue.CompleteTask(t.ID, t.TotalShops, t.OutputFile, int(duration.Milliseconds())); err != nil {
		logger.Error().Err(err).Msg("failed to record completion")
	}

	metrics.RecordTaskCompleted(t.Type, duration)
	logger.Info().Dur("duration", duration).Int("total_shops", t.TotalShops).Msg("task completed")
}

func (w *Worker) retry(t *task.Task, cause error, logger zerolog.Logger) {
	backoff := time.Duration(t.RetryCount+1) * w.retryBackoff

	requeued, err := w.queue.Requeue(t.ID, time.Now().Add(backoff))
	if errors.Is(err, task.ErrCancelled) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to re-enqueue task")
		return
	}

	metrics.RecordTaskRetried(t.Type)
	logger.Warn().
		Err(cause).
		Int("retry", requeued.RetryCount).
		Int("max_retries", requeued.MaxRetries).
		Dur("backoff", backoff).
		Msg("task failed, will retry")
}

func (w *Worker) fail(t *task.Task, reason string, startedAt time.Time, logger zerolog.Logger) {
	duration := time.Since(startedAt)

	_, err := w.queue.Update(t.ID, func(stored *task.Task) error {
		if stored.Status == task.StatusCancelled {
			return task.ErrCancelled
		}

		completedAt := time.Now()
		stored.Status = task.StatusFailed
		stored.Error = reason
		stored.CompletedAt = &completedAt
		stored.Message = "task failed"
		stored.MessageType = LevelError
		return nil
	})
	if errors.Is(err, task.ErrCancelled) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to update failed task")
		return
	}

	if err := w.queue.FailTask(t.ID, reason, int(duration.Milliseconds())); err != nil {
		logger.Error().Err(err).Msg("failed to record failure")
	}

	metrics.RecordTaskFailed(t.Type, duration)
	logger.Error().Str("reason", reason).Msg("task failed permanently")
}

func (w *Worker) logExecution(t *task.Task, runErr error, duration time.Duration) error {
	status := string(task.StatusCompleted)
	var msgErr string
	if runErr != nil {
		status = string(task.StatusFailed)
		msgErr = runErr.Error()
	}

	return w.queue.LogExecution(t.ID, t.RetryCount+1, status, int(duration.Milliseconds()), msgErr, w.id)
}

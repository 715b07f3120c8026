// Package queue stores crawl tasks in Redis and hands them out to workers by schedule and priority.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/crawlctl/internal/repository"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	tasksKey  = "crawl:tasks"
	queueKey  = "crawl:queue"
	revPrefix = "crawl:rev:"

	maxUpdateAttempts = 50
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrNotCancellable = errors.New("task can no longer be cancelled")

	errSkip = errors.New("skip task")
)

// revKey is bumped on every write of a task so Update can WATCH a single task.
func revKey(taskID string) string {
	return revPrefix + taskID
}

func writeTask(ctx context.Context, pipe redis.Pipeliner, t *task.Task, taskJSON string) {
	pipe.HSet(ctx, tasksKey, t.ID, taskJSON)
	pipe.Incr(ctx, revKey(t.ID))
}

type Queue struct {
	client *redis.Client
	ctx    context.Context
	repo   repository.TaskRepository
}

// Status counts the tasks that have not reached a terminal state.
type Status struct {
	Pending int `json:"pending"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Total   int `json:"total"`
}

func NewQueue(redisAddr string, repo repository.TaskRepository) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{
		client: client,
		ctx:    ctx,
		repo:   repo,
	}, nil
}

func score(t *task.Task) float64 {
	invertedPriority := float64(task.PriorityHigh - t.Priority)
	return float64(t.ScheduledAt.Unix())*1000 + invertedPriority
}

func (q *Queue) Enqueue(t *task.Task) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(q.ctx, func(pipe redis.Pipeliner) error {
		writeTask(q.ctx, pipe, t, taskJSON)
		pipe.ZAdd(q.ctx, queueKey, redis.Z{
			Score:  score(t),
			Member: t.ID,
		})
		return nil
	})
	if err != nil {
		return err
	}

	if q.repo != nil {
		if err := q.repo.SaveTask(q.ctx, t); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to save task history")
		}
	}

	return nil
}

// Dequeue pops the next due task and marks it queued. It returns nil when nothing is due.
// A claimed task whose status could not be updated is put back in the queue.
func (q *Queue) Dequeue() (*task.Task, error) {
	now := time.Now().Unix()
	maxScore := float64(now)*1000 + float64(task.PriorityHigh-task.PriorityLow)

	for {
		results, err := q.client.ZRangeByScoreWithScores(q.ctx, queueKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   fmt.Sprintf("%f", maxScore),
			Count: 1,
		}).Result()
		if err != nil || len(results) == 0 {
			return nil, err
		}

		taskID, ok := results[0].Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected queue member %v", results[0].Member)
		}
		removed, err := q.client.ZRem(q.ctx, queueKey, taskID).Result()
		if err != nil {
			return nil, err
		}
		if removed == 0 {
			// another worker claimed it first
			continue
		}

		t, err := q.Update(taskID, func(t *task.Task) error {
			if t.Status.IsTerminal() {
				return errSkip
			}

			t.Status = task.StatusQueued
			return nil
		})
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			if zerr := q.client.ZAdd(q.ctx, queueKey, redis.Z{Score: results[0].Score, Member: taskID}).Err(); zerr != nil {
				log.Error().Err(zerr).Str("task_id", taskID).Msg("failed to put task back in queue")
			}
			return nil, err
		}

		if q.repo != nil {
			if err := q.repo.UpdateTaskStatus(q.ctx, t.ID, task.StatusQueued, ""); err != nil {
				log.Error().Err(err).Str("task_id", t.ID).Msg("failed to record queued status")
			}
		}

		return t, nil
	}
}

func (q *Queue) saveTask(t *task.Task) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(q.ctx, func(pipe redis.Pipeliner) error {
		writeTask(q.ctx, pipe, t, taskJSON)
		return nil
	})
	return err
}

func (q *Queue) UpdateTask(t *task.Task) error {
	if err := q.saveTask(t); err != nil {
		return err
	}

	if q.repo != nil {
		if err := q.repo.SaveTask(q.ctx, t); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to update task history")
		}
	}

	return nil
}

// Update applies fn to the stored task inside a transaction watching that task only. A
// concurrent write to the same task retries with the fresh record, so fn may run more than
// once. An error from fn aborts the write and is returned unchanged.
func (q *Queue) Update(taskID string, fn func(*task.Task) error) (*task.Task, error) {
	var updated *task.Task

	txf := func(tx *redis.Tx) error {
		t, err := getTask(q.ctx, tx, taskID)
		if err != nil {
			return err
		}

		if err := fn(t); err != nil {
			return err
		}

		taskJSON, err := t.ToJSON()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(q.ctx, func(pipe redis.Pipeliner) error {
			writeTask(q.ctx, pipe, t, taskJSON)
			return nil
		})
		if err != nil {
			return err
		}

		updated = t
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := q.client.Watch(q.ctx, txf, revKey(taskID))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return updated, nil
	}

	return nil, fmt.Errorf("update of task %s kept conflicting: %w", taskID, redis.TxFailedErr)
}

// Requeue schedules another attempt of a task unless it was cancelled while running.
func (q *Queue) Requeue(taskID string, scheduledAt time.Time) (*task.Task, error) {
	t, err := q.Update(taskID, func(t *task.Task) error {
		if t.Status == task.StatusCancelled {
			return task.ErrCancelled
		}

		t.Status = task.StatusPending
		t.RetryCount++
		t.ScheduledAt = scheduledAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := q.client.ZAdd(q.ctx, queueKey, redis.Z{
		Score:  score(t),
		Member: t.ID,
	}).Err(); err != nil {
		return nil, err
	}

	if q.repo != nil {
		if err := q.repo.IncrementRetryCount(q.ctx, taskID); err != nil {
			log.Error().Err(err).Str("task_id", taskID).Msg("failed to record retry")
		}
	}

	return t, nil
}

// UpdateProgress stores the latest progress report of a task. It returns task.ErrCancelled
// when the task was cancelled in the meantime, leaving the stored record untouched.
func (q *Queue) UpdateProgress(taskID string, progress float64, message, messageType string, extraInfo map[string]any) error {
	_, err := q.Update(taskID, func(t *task.Task) error {
		if t.Status == task.StatusCancelled {
			return task.ErrCancelled
		}

		t.Progress = progress
		t.Message = message
		t.MessageType = messageType
		if extraInfo != nil {
			t.ExtraInfo = extraInfo
		}

		return nil
	})
	if err != nil {
		return err
	}

	if q.repo != nil {
		if err := q.repo.UpdateProgress(q.ctx, taskID, progress, message); err != nil {
			log.Error().Err(err).Str("task_id", taskID).Msg("failed to record progress")
		}
	}

	return nil
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func getTask(ctx context.Context, c hashGetter, taskID string) (*task.Task, error) {
	taskJSON, err := c.HGet(ctx, tasksKey, taskID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}

	return task.TaskFromJSON(taskJSON)
}

func (q *Queue) GetTask(taskID string) (*task.Task, error) {
	return getTask(q.ctx, q.client, taskID)
}

func (q *Queue) GetAllTasks() ([]*task.Task, error) {
	taskMap, err := q.client.HGetAll(q.ctx, tasksKey).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(taskMap))
	for _, taskJSON := range taskMap {
		t, err := task.TaskFromJSON(taskJSON)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

// Cancel moves a pending, queued or running task to cancelled. Running handlers observe
// the change on their next progress report.
func (q *Queue) Cancel(taskID string) (*task.Task, error) {
	cancelled, err := q.Update(taskID, func(t *task.Task) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("%w: task is %s", ErrNotCancellable, t.Status)
		}

		now := time.Now()
		t.Status = task.StatusCancelled
		t.Message = "task cancelled"
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := q.client.ZRem(q.ctx, queueKey, taskID).Err(); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("failed to remove cancelled task from queue")
	}

	if q.repo != nil {
		if err := q.repo.CancelTask(q.ctx, taskID); err != nil {
			log.Error().Err(err).Str("task_id", taskID).Msg("failed to record cancellation")
		}
	}

	return cancelled, nil
}

func (q *Queue) QueueStatus() (Status, error) {
	tasks, err := q.GetAllTasks()
	if err != nil {
		return Status{}, err
	}

	var s Status
	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending:
			s.Pending++
		case task.StatusQueued:
			s.Queued++
		case task.StatusRunning:
			s.Running++
		}
	}
	s.Total = s.Pending + s.Queued + s.Running

	return s, nil
}

func (q *Queue) CompleteTask(taskID string, totalShops int, outputFile string, durationMs int) error {
	if q.repo == nil {
		return nil
	}

	return q.repo.CompleteTask(q.ctx, taskID, totalShops, outputFile, durationMs)
}

func (q *Queue) FailTask(taskID string, reason string, durationMs int) error {
	if q.repo == nil {
		return nil
	}

	return q.repo.FailTask(q.ctx, taskID, reason, durationMs)
}

func (q *Queue) IncrementRetryCount(taskID string) error {
	if q.repo == nil {
		return nil
	}

	return q.repo.IncrementRetryCount(q.ctx, taskID)
}

func (q *Queue) LogExecution(taskID string, attemptNumber int, status string, durationMs int, msgErr string, workerID string) error {
	if q.repo == nil {
		return nil
	}

	return q.repo.LogExecution(q.ctx, taskID, attemptNumber, status, durationMs, msgErr, workerID)
}

func (q *Queue) MarkRunning(taskID, workerID string) error {
	if q.repo == nil {
		return nil
	}

	return q.repo.UpdateTaskStatus(q.ctx, taskID, task.StatusRunning, workerID)
}

func (q *Queue) GetRepository() repository.TaskRepository {
	return q.repo
}

func (q *Queue) Close() error {
	return q.client.Close()
}

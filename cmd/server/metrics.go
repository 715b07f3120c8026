package main

import (
	"context"
	"time"

	"github.com/nadmax/crawlctl/internal/metrics"
	"github.com/nadmax/crawlctl/internal/queue"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/rs/zerolog/log"
)

func startMetricsCollector(ctx context.Context, q *queue.Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updateQueueMetrics(q)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateQueueMetrics(q)
		}
	}
}

func updateQueueMetrics(q *queue.Queue) {
	tasks, err := q.GetAllTasks()
	if err != nil {
		log.Error().Err(err).Msg("failed to get tasks for metrics")
		return
	}

	tasksByStatus := make(map[task.TaskStatus]map[string]int)
	unfinished := 0
	for _, t := range tasks {
		if tasksByStatus[t.Status] == nil {
			tasksByStatus[t.Status] = make(map[string]int)
		}
		tasksByStatus[t.Status][t.Type]++

		if !t.Status.IsTerminal() {
			unfinished++
		}
	}

	metrics.UpdateTaskGauges(tasksByStatus)
	metrics.UpdateQueueDepth(unfinished)
}

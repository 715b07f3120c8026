package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nadmax/crawlctl/internal/api"
	"github.com/nadmax/crawlctl/internal/config"
	"github.com/nadmax/crawlctl/internal/logger"
	"github.com/nadmax/crawlctl/internal/queue"
	"github.com/nadmax/crawlctl/internal/repository"
	"github.com/nadmax/crawlctl/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Getenv("CRAWLCTL_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logCfg := cfg.Logging.LoggerConfig()
	if logCfg.File == "crawlctl.log" {
		logCfg.File = "worker.log"
	}
	l, err := logger.Init(logCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo repository.TaskRepository
	if cfg.Postgres.DSN != "" {
		pg, err := repository.NewPostgresTaskRepository(cfg.Postgres.DSN)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to open crawl history")
		}

		defer func() {
			if err := pg.Close(); err != nil {
				l.Error().Err(err).Msg("failed to close Postgres repository")
			}
		}()

		repo = pg
	}

	q, err := queue.NewQueue(cfg.Redis.Addr, repo)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to queue")
	}

	defer func() {
		if err := q.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close worker queue")
		}
	}()

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}

	w := worker.NewWorker(workerID, q)
	w.SetLogger(l)
	w.SetPollInterval(cfg.Worker.PollInterval)
	w.SetRetryBackoff(cfg.Worker.RetryBackoff)
	w.RegisterHandler(api.CrawlTaskType, newCrawlHandler(cfg.Worker.PageDelay))

	w.Start(ctx)

	l.Info().Msg("shutting down worker")
}

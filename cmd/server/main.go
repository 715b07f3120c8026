package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/crawlctl/internal/api"
	"github.com/nadmax/crawlctl/internal/config"
	"github.com/nadmax/crawlctl/internal/logger"
	"github.com/nadmax/crawlctl/internal/queue"
	"github.com/nadmax/crawlctl/internal/repository"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Getenv("CRAWLCTL_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logCfg := cfg.Logging.LoggerConfig()
	if logCfg.File == "crawlctl.log" {
		logCfg.File = "server.log"
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
		if err := pg.Migrate(ctx); err != nil {
			l.Fatal().Err(err).Msg("failed to migrate crawl history")
		}

		defer func() {
			if err := pg.Close(); err != nil {
				l.Error().Err(err).Msg("failed to close Postgres repository")
			}
		}()

		repo = pg
	} else {
		l.Warn().Msg("postgres.dsn not set, crawl history disabled")
	}

	q, err := queue.NewQueue(cfg.Redis.Addr, repo)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to queue")
	}

	defer func() {
		if err := q.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close server queue")
		}
	}()

	interval := cfg.Server.MetricsInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go startMetricsCollector(ctx, q, interval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewAPIWithLogger(q, l),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	l.Info().Int("port", cfg.Server.Port).Str("redis", cfg.Redis.Addr).Msg("server starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Fatal().Err(err).Msg("server failed")
	}

	l.Info().Msg("server stopped")
}

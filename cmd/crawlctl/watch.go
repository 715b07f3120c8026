package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/crawlctl/internal/display"
	"github.com/nadmax/crawlctl/internal/monitor"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const cancelTimeout = 10 * time.Second

var (
	errGaveUp      = errors.New("gave up polling task status")
	errTaskFailed  = errors.New("crawl task failed")
	errInterrupted = errors.New("interrupted")
)

type summarySender interface {
	SendSummary(s task.Snapshot) error
}

type watchOptions struct {
	PollInterval           time.Duration
	MaxConsecutiveFailures int
	LogDir                 string
	CancelOnInterrupt      bool
	Mailer                 summarySender
	Logger                 *zerolog.Logger
}

type watchResult struct {
	snap task.Snapshot
	err  error
}

func newWatchCmd(a *app) *cobra.Command {
	var cancelOnInterrupt bool

	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = watchTask(ctx, cmd.OutOrStdout(), c, args[0], a.watchOptions(cancelOnInterrupt))
			return err
		},
	}

	cmd.Flags().BoolVar(&cancelOnInterrupt, "cancel-on-interrupt", false, "cancel the task on Ctrl+C instead of only detaching")

	return cmd
}

// watchTask follows taskID until it reaches a terminal state, polling gives up, or ctx is done.
// It returns the last snapshot seen. A failed task is reported as errTaskFailed.
func watchTask(ctx context.Context, out io.Writer, c monitor.StatusClient, taskID string, opts watchOptions) (task.Snapshot, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("task_id", taskID).Logger()

	view := display.NewProgressView(out, taskID)
	book := display.NewLogBook(display.DefaultLogLimit)
	done := make(chan watchResult, 1)

	mon := monitor.New(c, monitor.Options{
		PollInterval:           opts.PollInterval,
		Logger:                 &logger,
		MaxConsecutiveFailures: opts.MaxConsecutiveFailures,
		OnFinished: func(s task.Snapshot) {
			done <- watchResult{snap: s}
		},
		OnGiveUp: func(id string, err error) {
			done <- watchResult{err: fmt.Errorf("%w for %s: %w", errGaveUp, id, err)}
		},
	})
	mon.AddObserver(view.Observe)
	mon.AddObserver(book.Observe)

	if err := mon.Start(context.WithoutCancel(ctx), taskID); err != nil {
		return task.Snapshot{}, err
	}

	var res watchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return interrupt(mon, out, taskID, opts.CancelOnInterrupt, logger)
	}

	if res.err != nil {
		last, _ := mon.LastSnapshot()
		fmt.Fprintf(out, "\n%v\n", res.err)
		saveLog(book, out, opts.LogDir, taskID, logger)
		return last, res.err
	}

	s := res.snap
	if err := view.Finish(s); err != nil {
		logger.Warn().Err(err).Msg("failed to render summary")
	}
	saveLog(book, out, opts.LogDir, taskID, logger)

	if opts.Mailer != nil {
		if err := opts.Mailer.SendSummary(s); err != nil {
			logger.Error().Err(err).Msg("failed to send summary e-mail")
		}
	}

	if s.Status == task.StatusFailed {
		return s, fmt.Errorf("%w: %s", errTaskFailed, s.ErrorMessage)
	}

	return s, nil
}

func interrupt(mon *monitor.Monitor, out io.Writer, taskID string, cancelTask bool, logger zerolog.Logger) (task.Snapshot, error) {
	last, _ := mon.LastSnapshot()

	if !cancelTask {
		mon.Stop()
		fmt.Fprintf(out, "\nstopped watching %s, the task keeps running\n", taskID)
		return last, errInterrupted
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	msg, err := mon.Cancel(ctx)
	if err != nil {
		mon.Stop()
		return last, err
	}

	logger.Info().Str("message", msg).Msg("task cancelled on interrupt")
	fmt.Fprintf(out, "\n%s: %s\n", taskID, msg)
	return last, errInterrupted
}

func saveLog(book *display.LogBook, out io.Writer, dir, taskID string, logger zerolog.Logger) {
	if dir == "" || len(book.Entries()) == 0 {
		return
	}

	path, err := book.Save(dir, taskID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to save task log")
		return
	}

	fmt.Fprintf(out, "Log:       %s\n", path)
}

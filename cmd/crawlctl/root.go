package main

import (
	"fmt"
	"io"

	"github.com/nadmax/crawlctl/internal/client"
	"github.com/nadmax/crawlctl/internal/config"
	"github.com/nadmax/crawlctl/internal/logger"
	"github.com/nadmax/crawlctl/internal/notify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

type app struct {
	configPath string
	logLevel   string
	verbose    bool

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "crawlctl",
		Short: "Submit, follow and cancel crawl tasks",
		Long: `crawlctl talks to the crawler backend. It submits crawl tasks, follows a running task
with a live progress bar until it finishes, and cancels or inspects tasks.

Examples:
  crawlctl submit --city nyc --category food --category bars --start-page 1 --end-page 5
  crawlctl watch 5f0c7c9e-1a3b-4c61-a0a4-6f1f2b4b2d11
  crawlctl cancel 5f0c7c9e-1a3b-4c61-a0a4-6f1f2b4b2d11`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.SetOut(out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: ./configs/config.yaml, ./config.yaml or ~/.crawlctl/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "also write logs to stderr")

	root.AddCommand(
		newSubmitCmd(a),
		newWatchCmd(a),
		newCancelCmd(a),
		newQueueCmd(a),
		newVersionCmd(),
	)

	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := cfg.Logging.LoggerConfig()
	logCfg.Console = a.verbose
	if a.logLevel != "" {
		logCfg.Level = a.logLevel
	}

	l, err := logger.Init(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = l
	return nil
}

func (a *app) client() (*client.Client, error) {
	return client.New(client.Config{
		BaseURL: a.cfg.Client.BaseURL,
		Timeout: a.cfg.Client.Timeout,
		Logger:  &a.logger,
	})
}

// mailer returns nil when notifications are not configured.
func (a *app) mailer() summarySender {
	if !a.cfg.Notify.Enabled() {
		return nil
	}

	m, err := notify.NewMailer(notify.Config{
		APIKey:      a.cfg.Notify.SendgridAPIKey,
		FromName:    a.cfg.Notify.FromName,
		FromAddress: a.cfg.Notify.FromAddress,
		To:          a.cfg.Notify.To,
		Logger:      &a.logger,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("notifications disabled")
		return nil
	}

	return m
}

func (a *app) watchOptions(cancelOnInterrupt bool) watchOptions {
	return watchOptions{
		PollInterval:           a.cfg.Client.PollInterval,
		MaxConsecutiveFailures: a.cfg.Client.MaxConsecutiveFailures,
		LogDir:                 a.cfg.Client.LogDir,
		CancelOnInterrupt:      cancelOnInterrupt,
		Mailer:                 a.mailer(),
		Logger:                 &a.logger,
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}

			msg, err := c.CancelTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cmd.Printf("%s: %s\n", args[0], msg)
			return nil
		},
	}
}

func newQueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show how many tasks are waiting and running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}

			status, err := c.QueueStatus(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("Pending:   %d\n", status.Pending)
			cmd.Printf("Queued:    %d\n", status.Queued)
			cmd.Printf("Running:   %d\n", status.Running)
			cmd.Printf("Total:     %d\n", status.Total)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("crawlctl %s (built %s)\n", Version, BuildTime)
		},
	}
}

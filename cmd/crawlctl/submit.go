package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nadmax/crawlctl/internal/client"
	"github.com/spf13/cobra"
)

type submitFlags struct {
	city              string
	cityName          string
	categories        []string
	categoryNames     []string
	startPage         int
	endPage           int
	priority          int
	detach            bool
	cancelOnInterrupt bool
}

func (f submitFlags) validate() error {
	if f.city == "" {
		return errors.New("--city is required")
	}
	if len(f.categories) == 0 {
		return errors.New("at least one --category is required")
	}
	if f.startPage < 1 {
		return errors.New("--start-page must be at least 1")
	}
	if f.endPage < f.startPage {
		return errors.New("--end-page must not be lower than --start-page")
	}
	if f.priority < -1 || f.priority > 2 {
		return fmt.Errorf("--priority must be 0, 1 or 2, got %d", f.priority)
	}

	return nil
}

func (f submitFlags) request() client.StartRequest {
	req := client.StartRequest{
		City:          f.city,
		CityName:      f.cityName,
		Categories:    f.categories,
		CategoryNames: f.categoryNames,
		StartPage:     f.startPage,
		EndPage:       f.endPage,
	}
	if f.priority >= 0 {
		p := f.priority
		req.Priority = &p
	}

	return req
}

func newSubmitCmd(a *app) *cobra.Command {
	var f submitFlags

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a crawl task and follow it until it finishes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				return err
			}

			c, err := a.client()
			if err != nil {
				return err
			}

			taskID, err := c.StartCrawl(cmd.Context(), f.request())
			if err != nil {
				return fmt.Errorf("failed to submit crawl task: %w", err)
			}

			a.logger.Info().Str("task_id", taskID).Str("city", f.city).Strs("categories", f.categories).Msg("crawl task submitted")
			cmd.Printf("submitted task %s\n", taskID)

			if f.detach {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = watchTask(ctx, cmd.OutOrStdout(), c, taskID, a.watchOptions(f.cancelOnInterrupt))
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.city, "city", "", "city code to crawl")
	flags.StringVar(&f.cityName, "city-name", "", "display name of the city")
	flags.StringSliceVar(&f.categories, "category", nil, "category code (repeatable)")
	flags.StringSliceVar(&f.categoryNames, "category-name", nil, "display name of each category, in --category order")
	flags.IntVar(&f.startPage, "start-page", 1, "first page to crawl")
	flags.IntVar(&f.endPage, "end-page", 1, "last page to crawl")
	flags.IntVar(&f.priority, "priority", -1, "task priority: 0 low, 1 medium, 2 high (default: server default)")
	flags.BoolVarP(&f.detach, "detach", "d", false, "print the task id and exit without watching")
	flags.BoolVar(&f.cancelOnInterrupt, "cancel-on-interrupt", false, "cancel the task on Ctrl+C instead of only detaching")

	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/crawlctl/internal/task"
	"github.com/nadmax/crawlctl/internal/worker"
)

type crawlJob struct {
	City          string
	CityName      string
	Categories    []string
	CategoryNames []string
	StartPage     int
	EndPage       int
}

func (j crawlJob) pages() int {
	return j.EndPage - j.StartPage + 1
}

func (j crawlJob) categoryName(i int) string {
	if i < len(j.CategoryNames) && j.CategoryNames[i] != "" {
		return j.CategoryNames[i]
	}

	return j.Categories[i]
}

// crawlStats only counts pages. The captcha, skipped_pages and page_refreshes counters
// are reported by the external crawler.
type crawlStats struct {
	PagesDone int
}

func (s crawlStats) extraInfo() map[string]any {
	return map[string]any{
		"stats": map[string]any{
			"pages_done": s.PagesDone,
		},
	}
}

func parseCrawlJob(payload map[string]any) (crawlJob, error) {
	var j crawlJob

	city, ok := payload["city"].(string)
	if !ok || city == "" {
		return j, errors.New("missing 'city' field")
	}
	j.City = city
	j.CityName, _ = payload["city_name"].(string)

	categories, err := stringSlice(payload["categories"])
	if err != nil || len(categories) == 0 {
		return j, errors.New("missing 'categories' field")
	}
	j.Categories = categories
	j.CategoryNames, _ = stringSlice(payload["category_names"])

	if j.StartPage, err = intField(payload, "start_page"); err != nil {
		return j, err
	}
	if j.EndPage, err = intField(payload, "end_page"); err != nil {
		return j, err
	}
	if j.StartPage < 1 || j.EndPage < j.StartPage {
		return j, fmt.Errorf("invalid page range %d-%d", j.StartPage, j.EndPage)
	}

	return j, nil
}

func stringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected list item %v", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected list %T", v)
	}
}

func intField(payload map[string]any, key string) (int, error) {
	switch n := payload[key].(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("missing '%s' field", key)
	}
}

// newCrawlHandler walks category × page and reports progress after each page.
// Fetching pages is done by the external crawler.
func newCrawlHandler(pageDelay time.Duration) worker.TaskHandler {
	return func(ctx context.Context, t *task.Task, r worker.Reporter) error {
		job, err := parseCrawlJob(t.Payload)
		if err != nil {
			return err
		}

		city := job.CityName
		if city == "" {
			city = job.City
		}

		var stats crawlStats
		total := len(job.Categories) * job.pages()

		if err := r.Report(worker.Progress{
			Message:   fmt.Sprintf("crawling %s: %d categories, pages %d-%d", city, len(job.Categories), job.StartPage, job.EndPage),
			ExtraInfo: stats.extraInfo(),
		}); err != nil {
			return err
		}

		for i := range job.Categories {
			name := job.categoryName(i)

			for page := job.StartPage; page <= job.EndPage; page++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(pageDelay):
				}

				stats.PagesDone++

				err := r.Report(worker.Progress{
					Percent:   float64(stats.PagesDone) * 100 / float64(total),
					Message:   fmt.Sprintf("category %s: page %d/%d", name, page-job.StartPage+1, job.pages()),
					ExtraInfo: stats.extraInfo(),
				})
				if err != nil {
					return err
				}
			}
		}

		return nil
	}
}

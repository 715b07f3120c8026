// Package display renders task snapshots for a terminal: a progress bar, a running message log
// and the final summary.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nadmax/crawlctl/internal/task"
	"github.com/schollz/progressbar/v3"
)

const timeLayout = "2006-01-02 15:04:05"

// statLabels lists the extra_info.stats counters shown next to the bar, in display order.
var statLabels = []struct {
	key   string
	label string
}{
	{"captcha", "captcha"},
	{"skipped_pages", "skipped pages"},
	{"page_refreshes", "page refreshes"},
}

type ProgressView struct {
	mu          sync.Mutex
	out         io.Writer
	bar         *progressbar.ProgressBar
	percent     int
	description string
}

func NewProgressView(out io.Writer, taskID string) *ProgressView {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(fmt.Sprintf("[%s] %s", shortID(taskID), task.StatusPending.Text())),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	return &ProgressView{out: out, bar: bar}
}

// Observe updates the bar from a snapshot. It satisfies monitor.Observer.
func (v *ProgressView) Observe(s task.Snapshot) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.percent = clampPercent(s.Progress)
	v.description = Describe(s)

	v.bar.Describe(fmt.Sprintf("[%s] %s", shortID(s.TaskID), v.description))
	return v.bar.Set(v.percent)
}

// Finish closes the bar and prints the final summary of a finished task.
func (v *ProgressView) Finish(s task.Snapshot) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var err error
	if s.Status == task.StatusCompleted {
		if err = v.bar.Set(100); err == nil {
			err = v.bar.Finish()
		}
	} else {
		err = v.bar.Exit()
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(v.out, "\n"+Summary(s))
	return err
}

// Describe is the one-line text shown next to the bar: the message, or the status label when
// there is none, followed by any non-zero stat counters.
func Describe(s task.Snapshot) string {
	text := s.Message
	if text == "" {
		text = s.Status.Text()
	}

	stats := s.Stats()
	var details []string
	for _, sl := range statLabels {
		if n := stats[sl.key]; n > 0 {
			details = append(details, fmt.Sprintf("%s: %d", sl.label, n))
		}
	}

	if len(details) == 0 {
		return text
	}

	return fmt.Sprintf("%s (%s)", text, strings.Join(details, ", "))
}

// Summary formats the final report of a task.
func Summary(s task.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task:      %s\n", s.TaskID)
	fmt.Fprintf(&b, "Status:    %s\n", s.Status.Text())
	if s.StartTime != nil {
		fmt.Fprintf(&b, "Started:   %s\n", s.StartTime.Local().Format(timeLayout))
	}
	if s.EndTime != nil {
		fmt.Fprintf(&b, "Finished:  %s\n", s.EndTime.Local().Format(timeLayout))
	}
	if s.StartTime != nil && s.EndTime != nil {
		fmt.Fprintf(&b, "Duration:  %s\n", s.EndTime.Sub(*s.StartTime).Round(time.Second))
	}
	if s.Status == task.StatusCompleted {
		fmt.Fprintf(&b, "Shops:     %d\n", s.TotalShops)
	}
	if s.OutputFile != "" {
		fmt.Fprintf(&b, "Output:    %s\n", s.OutputFile)
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:     %s\n", s.ErrorMessage)
	}

	return b.String()
}

func clampPercent(p float64) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return int(p)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

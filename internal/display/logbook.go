package display

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nadmax/crawlctl/internal/task"
)

const DefaultLogLimit = 500

type Entry struct {
	Time    time.Time
	Level   string
	Message string
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] [%s] %s", e.Time.Format(timeLayout), strings.ToUpper(e.Level), e.Message)
}

// LogBook keeps the most recent task messages. Consecutive repeats of the same message are
// recorded once, since every poll returns the latest message again.
type LogBook struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
	now     func() time.Time
}

func NewLogBook(limit int) *LogBook {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	return &LogBook{limit: limit, now: time.Now}
}

// Observe records the snapshot's message. It satisfies monitor.Observer.
func (b *LogBook) Observe(s task.Snapshot) error {
	if s.Message == "" {
		return nil
	}

	level := s.MessageType
	if level == "" {
		level = "info"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.entries); n > 0 && b.entries[n-1].Message == s.Message && b.entries[n-1].Level == level {
		return nil
	}

	b.entries = append(b.entries, Entry{Time: b.now(), Level: level, Message: s.Message})
	if over := len(b.entries) - b.limit; over > 0 {
		b.entries = append(b.entries[:0:0], b.entries[over:]...)
	}

	return nil
}

func (b *LogBook) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Entry(nil), b.entries...)
}

func (b *LogBook) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range b.Entries() {
		n, err := fmt.Fprintln(w, e.String())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// Save writes the log to <dir>/crawl-log-<taskID>.txt and returns the file path.
func (b *LogBook) Save(dir, taskID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("crawl-log-%s.txt", filepath.Base(taskID)))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}

	if _, err := b.WriteTo(f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write log file: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close log file: %w", err)
	}

	return path, nil
}

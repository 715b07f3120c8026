// Package monitor follows one long-running crawl task at a time. It polls the backend for the
// task's status, fans every snapshot out to observers, and ends the session when the task
// reaches a terminal state or the caller stops it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/crawlctl/internal/metrics"
	"github.com/nadmax/crawlctl/internal/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = 5 * time.Second

var (
	ErrEmptyTaskID   = errors.New("task id must not be empty")
	ErrNotMonitoring = errors.New("no task is being monitored")
)

// StatusClient is the part of the crawler API the monitor needs.
type StatusClient interface {
	GetStatus(ctx context.Context, taskID string) (*task.Snapshot, error)
	CancelTask(ctx context.Context, taskID string) (string, error)
}

// Observer receives every accepted snapshot. A returned error is logged and does not
// affect other observers or the session.
type Observer func(task.Snapshot) error

type ObserverID uint64

type Options struct {
	PollInterval time.Duration
	Scheduler    Scheduler
	Logger       *zerolog.Logger

	// MaxConsecutiveFailures ends the session after that many failed fetches in a row.
	// Zero keeps polling forever.
	MaxConsecutiveFailures int

	// OnFinished runs once per session with the terminal snapshot. It does not run after Stop.
	OnFinished func(task.Snapshot)

	// OnGiveUp runs when MaxConsecutiveFailures is reached, with the last fetch error.
	OnGiveUp func(taskID string, err error)
}

type observerEntry struct {
	id ObserverID
	fn Observer
}

type Monitor struct {
	client   StatusClient
	interval time.Duration
	sched    Scheduler
	logger   zerolog.Logger
	maxFails int

	onFinished func(task.Snapshot)
	onGiveUp   func(string, error)

	mu         sync.Mutex
	taskID     string
	generation uint64
	stopTimer  func()
	cancel     context.CancelFunc
	sessionCtx context.Context
	failures   int
	last       *task.Snapshot

	obsMu     sync.RWMutex
	observers []observerEntry
	nextID    ObserverID
}

func New(client StatusClient, opts Options) *Monitor {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	sched := opts.Scheduler
	if sched == nil {
		sched = TickerScheduler{}
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	maxFails := opts.MaxConsecutiveFailures
	if maxFails < 0 {
		maxFails = 0
	}

	return &Monitor{
		client:     client,
		interval:   interval,
		sched:      sched,
		logger:     logger.With().Str("component", "task_monitor").Logger(),
		maxFails:   maxFails,
		onFinished: opts.OnFinished,
		onGiveUp:   opts.OnGiveUp,
	}
}

// Start replaces any current session with one following taskID. It fetches the status once
// right away and then every poll interval. Fetches use a context derived from ctx that is
// cancelled when the session ends.
func (m *Monitor) Start(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}

	m.mu.Lock()
	if m.taskID != "" {
		m.logger.Info().Str("task_id", m.taskID).Str("next_task_id", taskID).Msg("replacing monitoring session")
	}
	m.endSessionLocked()

	m.generation++
	gen := m.generation
	m.taskID = taskID
	m.sessionCtx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info().Str("task_id", taskID).Dur("interval", m.interval).Msg("monitoring started")

	m.check(gen)

	m.mu.Lock()
	defer m.mu.Unlock()

	// the eager check may already have ended or replaced the session
	if m.generation != gen {
		return nil
	}

	m.stopTimer = m.sched.Every(m.interval, func() { m.check(gen) })
	return nil
}

// Stop ends the current session without running OnFinished. It is a no-op when idle.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.taskID == "" {
		return
	}

	m.logger.Info().Str("task_id", m.taskID).Msg("monitoring stopped")
	m.endSessionLocked()
}

func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.taskID != ""
}

func (m *Monitor) CurrentTaskID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.taskID
}

// ConsecutiveFailures is the number of failed fetches since the last accepted snapshot.
func (m *Monitor) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.failures
}

// LastSnapshot returns the most recent snapshot accepted in any session, if any.
func (m *Monitor) LastSnapshot() (task.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last == nil {
		return task.Snapshot{}, false
	}

	return *m.last, true
}

// Cancel asks the backend to cancel the monitored task. The session is stopped only when
// the backend confirms; on error polling carries on.
func (m *Monitor) Cancel(ctx context.Context) (string, error) {
	m.mu.Lock()
	taskID, gen := m.taskID, m.generation
	m.mu.Unlock()

	if taskID == "" {
		return "", ErrNotMonitoring
	}

	msg, err := m.client.CancelTask(ctx, taskID)
	if err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("cancel request failed, still monitoring")
		return "", fmt.Errorf("cancel task %s: %w", taskID, err)
	}

	m.mu.Lock()
	if m.generation == gen {
		m.endSessionLocked()
	}
	m.mu.Unlock()

	m.logger.Info().Str("task_id", taskID).Str("message", msg).Msg("task cancelled")
	return msg, nil
}

func (m *Monitor) AddObserver(fn Observer) ObserverID {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	m.nextID++
	m.observers = append(m.observers, observerEntry{id: m.nextID, fn: fn})
	return m.nextID
}

func (m *Monitor) RemoveObserver(id ObserverID) bool {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	for i, entry := range m.observers {
		if entry.id == id {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return true
		}
	}

	return false
}

// endSessionLocked must be called with mu held.
func (m *Monitor) endSessionLocked() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	m.sessionCtx = nil
	m.taskID = ""
	m.failures = 0
	m.generation++
}

func (m *Monitor) check(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.taskID == "" {
		m.mu.Unlock()
		return
	}
	taskID, ctx := m.taskID, m.sessionCtx
	m.mu.Unlock()

	snap, err := m.client.GetStatus(ctx, taskID)
	if err == nil && snap == nil {
		err = errors.New("empty status response")
	}
	if err == nil && snap.TaskID != "" && snap.TaskID != taskID {
		err = fmt.Errorf("status response is for task %s", snap.TaskID)
	}
	if err == nil {
		err = snap.Validate()
	}

	if err != nil {
		m.handleFailure(gen, taskID, err)
		return
	}

	m.apply(gen, taskID, snap.Normalize())
}

func (m *Monitor) handleFailure(gen uint64, taskID string, err error) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		metrics.RecordStatusPoll(metrics.PollStale)
		return
	}

	m.failures++
	failures := m.failures
	giveUp := m.maxFails > 0 && failures >= m.maxFails
	if giveUp {
		m.endSessionLocked()
	}
	m.mu.Unlock()

	metrics.RecordStatusPoll(metrics.PollError)
	m.logger.Warn().Err(err).Str("task_id", taskID).Int("consecutive_failures", failures).Msg("status fetch failed")

	if giveUp {
		m.logger.Error().Str("task_id", taskID).Int("consecutive_failures", failures).Msg("giving up on task")
		if m.onGiveUp != nil {
			m.onGiveUp(taskID, err)
		}
	}
}

func (m *Monitor) apply(gen uint64, taskID string, snap task.Snapshot) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		metrics.RecordStatusPoll(metrics.PollStale)
		m.logger.Debug().Str("task_id", taskID).Msg("discarding stale status response")
		return
	}

	m.failures = 0
	m.last = &snap
	terminal := snap.Status.IsTerminal()
	if terminal {
		m.endSessionLocked()
	}
	m.mu.Unlock()

	metrics.RecordStatusPoll(metrics.PollOK)
	m.logger.Debug().
		Str("task_id", taskID).
		Str("status", string(snap.Status)).
		Float64("progress", snap.Progress).
		Msg("status received")

	if !terminal {
		m.notify(snap, func() bool { return m.isCurrent(gen) })
		return
	}

	m.notify(snap, nil)
	m.logger.Info().Str("task_id", taskID).Str("status", string(snap.Status)).Msg("task finished")
	if m.onFinished != nil {
		m.onFinished(snap)
	}
}

func (m *Monitor) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.generation == gen
}

// notify calls observers in registration order. When current is set, delivery stops as soon
// as the session that produced snap is no longer current.
func (m *Monitor) notify(snap task.Snapshot, current func() bool) {
	m.obsMu.RLock()
	observers := make([]observerEntry, len(m.observers))
	copy(observers, m.observers)
	m.obsMu.RUnlock()

	for _, entry := range observers {
		if current != nil && !current() {
			return
		}
		if err := safeCall(entry.fn, snap); err != nil {
			m.logger.Error().
				Err(err).
				Str("task_id", snap.TaskID).
				Uint64("observer_id", uint64(entry.id)).
				Msg("observer failed")
		}
	}
}

func safeCall(fn Observer, snap task.Snapshot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("observer panicked: %v", rec)
		}
	}()

	return fn(snap)
}

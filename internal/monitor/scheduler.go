package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
)

// defaultTickInterval drives the global monitoring tick.
const defaultTickInterval = 15 * time.Second

// TaskFunc is one registered polling routine. A returned error (or a
// panic) increments the task's consecutive-error counter but never
// affects other tasks or the scheduler itself.
type TaskFunc func(ctx context.Context) error

// task is the runtime state of one registered routine. Not persisted.
type task struct {
	name     string
	fn       TaskFunc
	interval time.Duration // 0 means every global tick

	mu                sync.Mutex
	lastRun           time.Time
	consecutiveErrors int
}

// TaskStatus is a snapshot of one task's runtime state.
type TaskStatus struct {
	Name              string        `json:"name"`
	Interval          time.Duration `json:"interval"`
	LastRun           time.Time     `json:"last_run"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
}

// Scheduler runs registered polling routines on a single global tick.
//
// On each tick all due tasks run concurrently (fan-out/fan-in). If a
// tick fires while the previous one is still executing, the new tick
// is skipped entirely: no overlap, no queueing. Stop cancels the
// ticker and waits for in-flight tasks to finish.
//
// Thread Safety: Register may be called before or after Start; all
// methods are safe for concurrent use.
type Scheduler struct {
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	tasks   []*task
	running bool
	cancel  context.CancelFunc

	tickActive   atomic.Bool
	wg           sync.WaitGroup
	ticksTotal   atomic.Uint64
	ticksSkipped atomic.Uint64
}

// NewScheduler creates a scheduler with the given global tick
// interval. Zero uses the default of 15 seconds.
func NewScheduler(interval time.Duration, logger *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{interval: interval, logger: logger}
}

// Register adds a polling routine. A zero interval runs the task on
// every global tick; a longer interval skips ticks until it is due.
func (s *Scheduler) Register(name string, fn TaskFunc, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{name: name, fn: fn, interval: interval})
	s.logger.Info("monitoring task registered", "task", name, "interval", interval)
}

// Start launches the tick loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("monitor: scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.run(runCtx)

	s.logger.Info("monitoring scheduler started", "tick_interval", s.interval)
	return nil
}

// Stop cancels the tick loop and waits for in-flight task invocations
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("monitoring scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs all due tasks concurrently, unless the previous tick is
// still executing, in which case this tick is dropped.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.tickActive.CompareAndSwap(false, true) {
		s.ticksSkipped.Add(1)
		s.logger.Warn("monitoring tick skipped, previous tick still running")
		return
	}
	s.ticksTotal.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.tickActive.Store(false)
		s.runDueTasks(ctx)
	}()
}

func (s *Scheduler) runDueTasks(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		ready := t.interval == 0 || t.lastRun.IsZero() || now.Sub(t.lastRun) >= t.interval
		t.mu.Unlock()
		if ready {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range due {
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			s.runTask(ctx, t, now)
		}(t)
	}
	wg.Wait()
}

// runTask invokes one task, isolating panics so a broken routine
// cannot take down its siblings or the scheduler.
func (s *Scheduler) runTask(ctx context.Context, t *task, now time.Time) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("monitor: task panicked: %v", r)
			}
		}()
		err = t.fn(ctx)
	}()

	t.mu.Lock()
	t.lastRun = now
	if err != nil {
		t.consecutiveErrors++
		count := t.consecutiveErrors
		t.mu.Unlock()
		s.logger.Error("monitoring task failed",
			"task", t.name,
			"consecutive_errors", count,
			"error", err)
		return
	}
	t.consecutiveErrors = 0
	t.mu.Unlock()
}

// Status returns a snapshot of every registered task.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out = append(out, TaskStatus{
			Name:              t.name,
			Interval:          t.interval,
			LastRun:           t.lastRun,
			ConsecutiveErrors: t.consecutiveErrors,
		})
		t.mu.Unlock()
	}
	return out
}

// TicksTotal returns the number of executed ticks.
func (s *Scheduler) TicksTotal() uint64 { return s.ticksTotal.Load() }

// TicksSkipped returns the number of ticks dropped due to overlap.
func (s *Scheduler) TicksSkipped() uint64 { return s.ticksSkipped.Load() }

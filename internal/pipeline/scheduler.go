package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-detect/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Task is a named function run on a fixed period.
type Task struct {
	Name   string
	Period time.Duration
	Run    func(ctx context.Context) error
}

// Scheduler runs each task on its own ticker. A failing or panicking tick is
// logged and the task carries on with its next tick.
type Scheduler struct {
	tasks   []Task
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, tasks ...Task) *Scheduler {
	return &Scheduler{
		tasks:   tasks,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Start launches one goroutine per task. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels all tasks and waits up to timeout for in-flight ticks to
// return.
func (s *Scheduler) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		s.running.Store(false)
		s.logger.Info("scheduler stopped")
		return nil
	case <-timer.C:
		return fmt.Errorf("scheduler: tasks still running after %s", timeout)
	}
}

func (s *Scheduler) Running() bool { return s.running.Load() }

// CheckReadiness reports an error until the scheduler is started.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.running.Load() {
		return errors.New("scheduler is not running")
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(t.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t Task) {
	start := time.Now()
	defer func() {
		s.metrics.TaskDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			s.metrics.TaskPanics.WithLabelValues(t.Name).Inc()
			s.logger.Error("task panicked", "task", t.Name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := t.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("task failed", "task", t.Name, "error", err)
	}
}

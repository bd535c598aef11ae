// Package scheduler runs named periodic tasks that are started and
// stopped together.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/zapctx"
)

// Task is one periodic job. Run is invoked on its own goroutine at every
// tick, so a slow run never delays the next tick or any other task.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

type Scheduler struct {
	mu     sync.Mutex
	base   context.Context
	timers map[string]*timer
}

type timer struct {
	task   Task
	cancel context.CancelFunc
	done   chan struct{}
}

func New() *Scheduler {
	return &Scheduler{timers: make(map[string]*timer)}
}

// Start replaces any running tasks with tasks. The context passed to each
// run keeps the values of ctx but is cancelled only by Stop or by a
// Reconfigure of that task.
func (s *Scheduler) Start(ctx context.Context, tasks ...Task) error {
	for _, t := range tasks {
		if t.Interval <= 0 {
			return fmt.Errorf("task %q: interval must be positive, got %s", t.Name, t.Interval)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.base = context.WithoutCancel(ctx)
	for _, t := range tasks {
		s.timers[t.Name] = spawn(s.base, t)
	}
	return nil
}

// Stop cancels every task and returns once no loop can fire again.
// Runs already dispatched see their context cancelled but are not awaited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	for _, tm := range s.timers {
		tm.cancel()
	}
	for name, tm := range s.timers {
		<-tm.done
		delete(s.timers, name)
	}
	s.base = nil
}

// Reconfigure restarts the named task with a new interval and leaves the
// other tasks untouched. It reports false when the task is not running.
func (s *Scheduler) Reconfigure(name string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return false, fmt.Errorf("task %q: interval must be positive, got %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tm, ok := s.timers[name]
	if !ok {
		return false, nil
	}
	tm.cancel()
	<-tm.done

	task := tm.task
	task.Interval = interval
	s.timers[name] = spawn(s.base, task)
	return true, nil
}

// Interval returns the current interval of a running task.
func (s *Scheduler) Interval(name string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm, ok := s.timers[name]
	if !ok {
		return 0, false
	}
	return tm.task.Interval, true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers) > 0
}

func spawn(ctx context.Context, task Task) *timer {
	ctx, cancel := context.WithCancel(ctx)
	tm := &timer{
		task:   task,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go tm.loop(ctx)
	return tm
}

func (tm *timer) loop(ctx context.Context) {
	defer close(tm.done)

	ticker := time.NewTicker(tm.task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// select picks randomly when both are ready
			if ctx.Err() != nil {
				return
			}
			go tm.fire(ctx)
		}
	}
}

func (tm *timer) fire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil && zapctx.Has(ctx) {
			zapctx.Error(ctx, "scheduled task panicked",
				zap.String("task", tm.task.Name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	tm.task.Run(ctx)
}

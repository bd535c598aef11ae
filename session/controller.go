// Package session owns the Inactive/Active lifecycle that gates every
// sampling, capture and reporting task.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/activity"
	"github.com/ctolnik/session-agent/collector"
	"github.com/ctolnik/session-agent/scheduler"
	"github.com/ctolnik/session-agent/screenshot"
	"github.com/ctolnik/session-agent/zapctx"
)

const (
	TaskActivity   = "activity"
	TaskIdle       = "idle"
	TaskScreenshot = "screenshot"
)

// State is the session flag. Only the Controller writes it.
type State struct {
	active atomic.Bool
}

func (s *State) Active() bool {
	return s.active.Load()
}

type Intervals struct {
	Activity   time.Duration
	Idle       time.Duration
	Screenshot time.Duration
}

// Deps are the OS probes and remote endpoints the controller drives.
type Deps struct {
	Foreground activity.ForegroundProbe
	Idle       activity.IdleProbe
	Capturer   screenshot.Capturer
	Uploader   screenshot.Uploader
	Sink       collector.Sink
}

type Options struct {
	Intervals      Intervals
	Screenshot     screenshot.Options
	BackendAddress string
}

type Controller struct {
	state     *State
	tracker   *activity.Tracker
	idle      *activity.IdleDetector
	pipeline  *screenshot.Pipeline
	scheduler *scheduler.Scheduler
	backend   string

	// mu serializes lifecycle transitions and interval changes
	mu        sync.Mutex
	intervals Intervals
}

func New(deps Deps, opts Options) (*Controller, error) {
	if opts.Intervals.Activity <= 0 || opts.Intervals.Idle <= 0 || opts.Intervals.Screenshot <= 0 {
		return nil, fmt.Errorf("intervals must be positive: %+v", opts.Intervals)
	}
	if deps.Foreground == nil || deps.Idle == nil || deps.Capturer == nil || deps.Uploader == nil || deps.Sink == nil {
		return nil, errors.New("session: missing dependency")
	}

	state := &State{}
	tracker := activity.NewTracker(state, deps.Foreground, deps.Sink)
	return &Controller{
		state:     state,
		tracker:   tracker,
		idle:      activity.NewIdleDetector(state, deps.Idle, tracker),
		pipeline:  screenshot.NewPipeline(state, deps.Capturer, deps.Uploader, opts.Screenshot),
		scheduler: scheduler.New(),
		backend:   opts.BackendAddress,
		intervals: opts.Intervals,
	}, nil
}

func (c *Controller) Active() bool {
	return c.state.Active()
}

// StartSession activates the session, starts the timers and dispatches
// one activity sample and one capture without waiting for them. It does
// nothing when the session is already active.
func (c *Controller) StartSession(ctx context.Context) {
	ctx = zapctx.Ensure(ctx, nil)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Active() {
		zapctx.Debug(ctx, "session already active")
		return
	}

	c.tracker.Reset()
	c.idle.Reset()
	c.state.active.Store(true)

	err := c.scheduler.Start(ctx,
		scheduler.Task{Name: TaskActivity, Interval: c.intervals.Activity, Run: c.tracker.Evaluate},
		scheduler.Task{Name: TaskIdle, Interval: c.intervals.Idle, Run: c.idle.Tick},
		scheduler.Task{Name: TaskScreenshot, Interval: c.intervals.Screenshot, Run: c.captureTick},
	)
	if err != nil {
		// intervals are validated in New and SetScreenshotInterval
		c.state.active.Store(false)
		zapctx.Error(ctx, "failed to start session timers", zap.Error(err))
		return
	}

	zapctx.Info(ctx, "session started", zap.Duration("screenshot_interval", c.intervals.Screenshot))

	bg := context.WithoutCancel(ctx)
	go c.tracker.Evaluate(bg)
	go c.pipeline.Capture(bg)
}

// EndSession deactivates the session and stops every timer before
// returning. Requests already in flight finish on their own.
func (c *Controller) EndSession(ctx context.Context) {
	ctx = zapctx.Ensure(ctx, nil)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Active() {
		zapctx.Debug(ctx, "session already inactive")
		return
	}

	c.state.active.Store(false)
	c.scheduler.Stop()
	zapctx.Info(ctx, "session ended")
}

// UserActivity clears the idle flag when it is set.
func (c *Controller) UserActivity(ctx context.Context) {
	ctx = zapctx.Ensure(ctx, nil)
	c.idle.UserActivity(ctx)
}

// CaptureNow dispatches a capture outside the timer.
func (c *Controller) CaptureNow(ctx context.Context) {
	ctx = zapctx.Ensure(ctx, nil)
	go c.pipeline.Capture(context.WithoutCancel(ctx))
}

// SetScreenshotInterval stores the capture interval and, during a session,
// rebuilds only the screenshot timer.
func (c *Controller) SetScreenshotInterval(ctx context.Context, d time.Duration) error {
	ctx = zapctx.Ensure(ctx, nil)
	if d < time.Second {
		return fmt.Errorf("screenshot interval must be at least 1s, got %s", d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.intervals.Screenshot = d
	restarted, err := c.scheduler.Reconfigure(TaskScreenshot, d)
	if err != nil {
		return err
	}
	zapctx.Info(ctx, "screenshot interval changed", zap.Duration("interval", d), zap.Bool("restarted", restarted))
	return nil
}

func (c *Controller) ScreenshotInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intervals.Screenshot
}

func (c *Controller) BackendAddress() string {
	return c.backend
}

// CurrentLabel exposes the tracker's open interval for status reporting.
func (c *Controller) CurrentLabel() (string, bool) {
	return c.tracker.Current()
}

func (c *Controller) Idle() bool {
	return c.idle.Idle()
}

// Close ends the session and deletes temporary screenshots still waiting
// for their grace delay. A context without a logger is accepted.
func (c *Controller) Close(ctx context.Context) error {
	c.EndSession(ctx)
	return c.pipeline.Close()
}

func (c *Controller) captureTick(ctx context.Context) {
	c.pipeline.Capture(ctx)
}

package session

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/activity"
	"github.com/ctolnik/session-agent/collector"
	"github.com/ctolnik/session-agent/screenshot"
	"github.com/ctolnik/session-agent/zapctx"
)

type probes struct {
	foreground atomic.Int64
	idleCalls  atomic.Int64
	captures   atomic.Int64
	uploads    atomic.Int64

	mu      sync.Mutex
	app     string
	idleFor time.Duration
	events  []collector.Event
}

func (p *probes) ForegroundApp(context.Context) (string, error) {
	p.foreground.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.app, nil
}

func (p *probes) IdleDuration(context.Context) (time.Duration, error) {
	p.idleCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleFor, nil
}

func (p *probes) CaptureScreen(context.Context) (image.Image, error) {
	p.captures.Add(1)
	return image.NewRGBA(image.Rect(0, 0, 4, 3)), nil
}

func (p *probes) UploadScreenshot(context.Context, string) error {
	p.uploads.Add(1)
	return nil
}

func (p *probes) Send(_ context.Context, ev collector.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, collector.Event{Kind: ev.Kind, AppName: ev.AppName})
}

func (p *probes) sent() []collector.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]collector.Event(nil), p.events...)
}

func (p *probes) setIdle(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idleFor = d
}

func newController(t *testing.T, p *probes, iv Intervals) *Controller {
	t.Helper()
	c, err := New(Deps{
		Foreground: p,
		Idle:       p,
		Capturer:   p,
		Uploader:   p,
		Sink:       p,
	}, Options{
		Intervals:      iv,
		Screenshot:     screenshot.Options{TempDir: t.TempDir(), DeleteDelay: time.Hour},
		BackendAddress: "http://collector.local",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func testContext(t *testing.T) context.Context {
	return zapctx.WithLogger(t.Context(), zap.NewNop())
}

var slow = Intervals{Activity: time.Hour, Idle: time.Hour, Screenshot: time.Hour}

func TestNewValidates(t *testing.T) {
	p := &probes{}
	_, err := New(Deps{Foreground: p, Idle: p, Capturer: p, Uploader: p, Sink: p}, Options{Intervals: Intervals{Activity: time.Second}})
	assert.Error(t, err)

	_, err = New(Deps{Foreground: p}, Options{Intervals: slow})
	assert.Error(t, err)
}

func TestStartSessionIsIdempotent(t *testing.T) {
	p := &probes{app: "chrome"}
	c := newController(t, p, slow)
	ctx := testContext(t)

	c.StartSession(ctx)
	c.StartSession(ctx)
	assert.True(t, c.Active())

	assert.Eventually(t, func() bool {
		return p.foreground.Load() == 1 && p.uploads.Load() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), p.foreground.Load())
	assert.Equal(t, int64(1), p.captures.Load())
	assert.Equal(t, []collector.Event{{Kind: collector.KindStart, AppName: "chrome"}}, p.sent())

	interval, ok := c.scheduler.Interval(TaskActivity)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, interval)
}

func TestEndSessionWhileInactiveIsNoop(t *testing.T) {
	p := &probes{app: "chrome"}
	c := newController(t, p, slow)

	c.EndSession(testContext(t))
	assert.False(t, c.Active())
	assert.False(t, c.scheduler.Running())
	assert.Empty(t, p.sent())
}

func TestLifecycleWithoutLogger(t *testing.T) {
	p := &probes{app: "chrome"}
	c := newController(t, p, slow)
	ctx := context.Background()

	assert.NotPanics(t, func() { c.EndSession(ctx) })
	assert.NotPanics(t, func() { c.StartSession(ctx) })
	assert.True(t, c.Active())
	assert.True(t, c.scheduler.Running())

	// the immediate sample and capture still go out
	assert.Eventually(t, func() bool {
		return p.foreground.Load() == 1 && p.uploads.Load() == 1
	}, time.Second, 5*time.Millisecond)

	assert.NotPanics(t, func() { c.UserActivity(ctx) })
	assert.NotPanics(t, func() { c.CaptureNow(ctx) })
	assert.Eventually(t, func() bool { return p.uploads.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.NotPanics(t, func() { assert.NoError(t, c.SetScreenshotInterval(ctx, time.Minute)) })
	assert.NotPanics(t, func() { c.EndSession(ctx) })
	assert.False(t, c.Active())
	assert.False(t, c.scheduler.Running())
	assert.NotPanics(t, func() { assert.NoError(t, c.Close(ctx)) })
}

func TestEndSessionStopsTimers(t *testing.T) {
	p := &probes{app: "chrome"}
	c := newController(t, p, Intervals{Activity: 2 * time.Millisecond, Idle: 2 * time.Millisecond, Screenshot: 5 * time.Millisecond})
	ctx := testContext(t)

	c.StartSession(ctx)
	assert.Eventually(t, func() bool {
		return p.foreground.Load() > 5 && p.idleCalls.Load() > 5 && p.captures.Load() > 2
	}, time.Second, time.Millisecond)

	c.EndSession(ctx)
	assert.False(t, c.Active())
	assert.False(t, c.scheduler.Running())

	time.Sleep(30 * time.Millisecond)
	fg, idle, shots := p.foreground.Load(), p.idleCalls.Load(), p.captures.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, fg, p.foreground.Load())
	assert.Equal(t, idle, p.idleCalls.Load())
	assert.Equal(t, shots, p.captures.Load())
}

func TestRestartBeginsWithStartEvent(t *testing.T) {
	p := &probes{app: "chrome"}
	c := newController(t, p, slow)
	ctx := testContext(t)

	c.StartSession(ctx)
	assert.Eventually(t, func() bool { return len(p.sent()) == 1 }, time.Second, time.Millisecond)
	c.EndSession(ctx)

	c.StartSession(ctx)
	assert.Eventually(t, func() bool { return len(p.sent()) == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, []collector.Event{
		{Kind: collector.KindStart, AppName: "chrome"},
		{Kind: collector.KindStart, AppName: "chrome"},
	}, p.sent())
}

func TestIdleFlowThroughController(t *testing.T) {
	p := &probes{app: "chrome"}
	c := newController(t, p, Intervals{Activity: time.Hour, Idle: 5 * time.Millisecond, Screenshot: time.Hour})
	ctx := testContext(t)

	c.StartSession(ctx)
	assert.Eventually(t, func() bool { return len(p.sent()) == 1 }, time.Second, time.Millisecond)

	p.setIdle(activity.IdleThreshold + 5*time.Second)
	assert.Eventually(t, c.Idle, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return len(p.sent()) == 3 }, time.Second, time.Millisecond)

	p.setIdle(0)
	c.UserActivity(ctx)
	assert.False(t, c.Idle())

	// the idle ticker sees the user active and does not toggle again
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []collector.Event{
		{Kind: collector.KindStart, AppName: "chrome"},
		{Kind: collector.KindEnd, AppName: "chrome"},
		{Kind: collector.KindStart, AppName: "idle"},
		{Kind: collector.KindEnd, AppName: "idle"},
		{Kind: collector.KindStart, AppName: "chrome"},
	}, p.sent())

	label, ok := c.CurrentLabel()
	assert.True(t, ok)
	assert.Equal(t, "chrome", label)
}

func TestSetScreenshotIntervalMidSession(t *testing.T) {
	p := &probes{app: "chrome"}
	c := newController(t, p, Intervals{Activity: time.Hour, Idle: 500 * time.Millisecond, Screenshot: time.Hour})
	ctx := testContext(t)

	c.StartSession(ctx)
	assert.Eventually(t, func() bool { return p.captures.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.SetScreenshotInterval(ctx, time.Second))
	assert.Equal(t, time.Second, c.ScreenshotInterval())

	shot, _ := c.scheduler.Interval(TaskScreenshot)
	act, _ := c.scheduler.Interval(TaskActivity)
	idle, _ := c.scheduler.Interval(TaskIdle)
	assert.Equal(t, time.Second, shot)
	assert.Equal(t, time.Hour, act)
	assert.Equal(t, 500*time.Millisecond, idle)

	assert.Eventually(t, func() bool { return p.captures.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.Active())
	assert.Equal(t, int64(1), p.foreground.Load())
}

func TestSetScreenshotIntervalWhileInactive(t *testing.T) {
	p := &probes{}
	c := newController(t, p, slow)
	ctx := testContext(t)

	require.NoError(t, c.SetScreenshotInterval(ctx, time.Minute))
	assert.False(t, c.scheduler.Running())

	c.StartSession(ctx)
	shot, ok := c.scheduler.Interval(TaskScreenshot)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, shot)
}

func TestSetScreenshotIntervalRejectsSubSecond(t *testing.T) {
	c := newController(t, &probes{}, slow)
	assert.Error(t, c.SetScreenshotInterval(testContext(t), 0))
	assert.Error(t, c.SetScreenshotInterval(testContext(t), 500*time.Millisecond))
	assert.Equal(t, time.Hour, c.ScreenshotInterval())
}

func TestCaptureNow(t *testing.T) {
	p := &probes{}
	c := newController(t, p, slow)
	ctx := testContext(t)

	c.CaptureNow(ctx)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, p.captures.Load(), "captures are gated on the session")

	c.StartSession(ctx)
	assert.Eventually(t, func() bool { return p.uploads.Load() == 1 }, time.Second, time.Millisecond)
	c.CaptureNow(ctx)
	assert.Eventually(t, func() bool { return p.uploads.Load() == 2 }, time.Second, time.Millisecond)
}

func TestBackendAddress(t *testing.T) {
	c := newController(t, &probes{}, slow)
	assert.Equal(t, "http://collector.local", c.BackendAddress())
}

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ctolnik/session-agent/zapctx"
)

func counting(name string, interval time.Duration, n *atomic.Int64) Task {
	return Task{Name: name, Interval: interval, Run: func(context.Context) { n.Add(1) }}
}

func testContext(t *testing.T) context.Context {
	return zapctx.WithLogger(t.Context(), zap.NewNop())
}

func TestStartRunsEveryTask(t *testing.T) {
	s := New()
	var a, b atomic.Int64
	require.NoError(t, s.Start(testContext(t),
		counting("activity", 5*time.Millisecond, &a),
		counting("idle", 5*time.Millisecond, &b),
	))
	defer s.Stop()

	assert.Eventually(t, func() bool { return a.Load() >= 3 && b.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())
}

func TestStopPreventsFurtherTicks(t *testing.T) {
	s := New()
	var n atomic.Int64
	require.NoError(t, s.Start(testContext(t), counting("activity", 2*time.Millisecond, &n)))

	assert.Eventually(t, func() bool { return n.Load() > 0 }, time.Second, time.Millisecond)
	s.Stop()
	assert.False(t, s.Running())

	// allow already dispatched runs to land
	time.Sleep(20 * time.Millisecond)
	before := n.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, n.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	s := New()
	s.Stop()
	require.NoError(t, s.Start(testContext(t), counting("a", time.Hour, new(atomic.Int64))))
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestStartReplacesExistingTasks(t *testing.T) {
	s := New()
	var first, second atomic.Int64
	require.NoError(t, s.Start(testContext(t), counting("activity", 2*time.Millisecond, &first)))
	require.NoError(t, s.Start(testContext(t), counting("activity", 2*time.Millisecond, &second)))
	defer s.Stop()

	time.Sleep(10 * time.Millisecond)
	frozen := first.Load()
	assert.Eventually(t, func() bool { return second.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, frozen, first.Load())
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	s := New()
	err := s.Start(testContext(t), Task{Name: "screenshot", Interval: 0, Run: func(context.Context) {}})
	assert.ErrorContains(t, err, `task "screenshot"`)
	assert.False(t, s.Running())
}

func TestSlowRunDoesNotDelayTicks(t *testing.T) {
	s := New()
	release := make(chan struct{})
	var slowStarted, fast atomic.Int64

	require.NoError(t, s.Start(testContext(t),
		Task{Name: "screenshot", Interval: 2 * time.Millisecond, Run: func(context.Context) {
			slowStarted.Add(1)
			<-release
		}},
		counting("idle", 2*time.Millisecond, &fast),
	))
	defer s.Stop()
	defer close(release)

	assert.Eventually(t, func() bool { return slowStarted.Load() >= 3 && fast.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestReconfigureReplacesOnlyOneTask(t *testing.T) {
	s := New()
	var activity, shots atomic.Int64
	require.NoError(t, s.Start(testContext(t),
		counting("activity", 5*time.Millisecond, &activity),
		counting("screenshot", time.Hour, &shots),
	))
	defer s.Stop()

	ok, err := s.Reconfigure("screenshot", 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	interval, ok := s.Interval("screenshot")
	assert.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, interval)

	interval, ok = s.Interval("activity")
	assert.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, interval)

	assert.Eventually(t, func() bool { return shots.Load() >= 2 && activity.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestReconfigureCadence(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var fired []time.Time
	require.NoError(t, s.Start(testContext(t), Task{Name: "screenshot", Interval: time.Hour, Run: func(context.Context) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, time.Now())
	}}))
	defer s.Stop()

	start := time.Now()
	_, err := s.Reconfigure("screenshot", 30*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) >= 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, fired[0].Sub(start), 25*time.Millisecond)
}

func TestReconfigureUnknownTask(t *testing.T) {
	s := New()
	ok, err := s.Reconfigure("screenshot", time.Second)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Reconfigure("screenshot", -time.Second)
	assert.Error(t, err)

	_, ok = s.Interval("screenshot")
	assert.False(t, ok)
}

func TestRunContextKeepsValuesNotCancellation(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(testContext(t), key{}, "v"))

	s := New()
	got := make(chan context.Context, 1)
	require.NoError(t, s.Start(parent, Task{Name: "a", Interval: time.Millisecond, Run: func(ctx context.Context) {
		select {
		case got <- ctx:
		default:
		}
	}}))
	cancel()

	ctx := <-got
	assert.Equal(t, "v", ctx.Value(key{}))
	assert.True(t, s.Running())

	s.Stop()
	assert.Error(t, ctx.Err())
}

func TestPanickingTaskIsRecovered(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	ctx := zapctx.WithLogger(t.Context(), zap.New(core))

	s := New()
	var after atomic.Int64
	require.NoError(t, s.Start(ctx,
		Task{Name: "screenshot", Interval: 2 * time.Millisecond, Run: func(context.Context) { panic("capture exploded") }},
		counting("activity", 2*time.Millisecond, &after),
	))

	assert.Eventually(t, func() bool { return logs.Len() >= 2 && after.Load() >= 2 }, time.Second, time.Millisecond)
	s.Stop()

	entry := logs.All()[0]
	assert.Equal(t, "scheduled task panicked", entry.Message)
	assert.Equal(t, "screenshot", entry.ContextMap()["task"])
}

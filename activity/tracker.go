// Package activity decides which application label is current and
// reports every change as an end/start pair.
package activity

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/collector"
	"github.com/ctolnik/session-agent/zapctx"
)

const (
	LabelIdle    = "idle"
	LabelUnknown = "unknown"
)

// Gate reports whether a session is active. Nothing is sampled or
// reported while it returns false.
type Gate interface {
	Active() bool
}

type ForegroundProbe interface {
	ForegroundApp(ctx context.Context) (string, error)
}

type Tracker struct {
	gate  Gate
	probe ForegroundProbe
	sink  collector.Sink
	idle  *IdleDetector
	now   func() time.Time

	mu         sync.Mutex
	current    string
	hasCurrent bool
}

func NewTracker(gate Gate, probe ForegroundProbe, sink collector.Sink) *Tracker {
	return &Tracker{
		gate:  gate,
		probe: probe,
		sink:  sink,
		now:   time.Now,
	}
}

// Evaluate samples the foreground application once and emits an end
// event for the previous label followed by a start event for the new one
// when the effective label changed.
func (t *Tracker) Evaluate(ctx context.Context) {
	if !t.gate.Active() {
		return
	}

	raw := LabelUnknown
	name, err := t.probe.ForegroundApp(ctx)
	switch {
	case err != nil:
		zapctx.Debug(ctx, "foreground app unavailable", zap.Error(err))
	case strings.TrimSpace(name) != "":
		raw = strings.TrimSpace(name)
	}

	label := raw
	if t.idle != nil && t.idle.Idle() {
		label = LabelIdle
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// the session may have ended while the probe ran
	if !t.gate.Active() {
		return
	}
	if t.hasCurrent && label == t.current {
		return
	}

	at := t.now()
	if t.hasCurrent {
		t.sink.Send(ctx, collector.Event{Kind: collector.KindEnd, AppName: t.current, At: at})
	}
	zapctx.Debug(ctx, "activity label changed", zap.String("from", t.current), zap.String("to", label))
	t.current, t.hasCurrent = label, true
	t.sink.Send(ctx, collector.Event{Kind: collector.KindStart, AppName: label, At: at})
}

// Current returns the label of the open interval, if any.
func (t *Tracker) Current() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.hasCurrent
}

// Reset forgets the current label so the next change starts without an
// end event.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current, t.hasCurrent = "", false
}

package activity

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/zapctx"
)

// IdleThreshold is the continuous time without input after which the
// user counts as idle.
const IdleThreshold = 15 * time.Second

type IdleProbe interface {
	IdleDuration(ctx context.Context) (time.Duration, error)
}

// IdleDetector is the only writer of the idle flag. Every transition
// triggers an immediate tracker evaluation.
type IdleDetector struct {
	gate    Gate
	probe   IdleProbe
	tracker *Tracker
	idle    atomic.Bool
}

// NewIdleDetector binds a detector to tracker so that the tracker reports
// "idle" while the detector says so.
func NewIdleDetector(gate Gate, probe IdleProbe, tracker *Tracker) *IdleDetector {
	d := &IdleDetector{gate: gate, probe: probe, tracker: tracker}
	tracker.idle = d
	return d
}

func (d *IdleDetector) Idle() bool {
	return d.idle.Load()
}

// Tick samples system idle time once.
func (d *IdleDetector) Tick(ctx context.Context) {
	if !d.gate.Active() {
		return
	}

	idleFor, err := d.probe.IdleDuration(ctx)
	if err != nil {
		zapctx.Warn(ctx, "failed to read idle time", zap.Error(err))
		return
	}

	if idleFor >= IdleThreshold {
		if d.idle.CompareAndSwap(false, true) {
			zapctx.Info(ctx, "user is idle", zap.Duration("idle_for", idleFor))
			d.tracker.Evaluate(ctx)
		}
		return
	}

	if d.idle.CompareAndSwap(true, false) {
		zapctx.Info(ctx, "user is active again", zap.Duration("idle_for", idleFor))
		d.tracker.Evaluate(ctx)
	}
}

// UserActivity clears the idle flag on explicit input forwarded by the UI.
// It reports whether the flag was set.
func (d *IdleDetector) UserActivity(ctx context.Context) bool {
	if !d.gate.Active() {
		return false
	}
	if !d.idle.CompareAndSwap(true, false) {
		return false
	}
	zapctx.Info(ctx, "user activity reported while idle")
	d.tracker.Evaluate(ctx)
	return true
}

// Reset marks the user active without evaluating.
func (d *IdleDetector) Reset() {
	d.idle.Store(false)
}

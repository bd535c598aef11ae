// Package agent assembles the session agent from its parts and owns the
// start and shutdown order.
package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/collector"
	"github.com/ctolnik/session-agent/config"
	"github.com/ctolnik/session-agent/control"
	"github.com/ctolnik/session-agent/credentials"
	"github.com/ctolnik/session-agent/httpclient"
	"github.com/ctolnik/session-agent/journal"
	"github.com/ctolnik/session-agent/monitoring"
	"github.com/ctolnik/session-agent/screenshot"
	"github.com/ctolnik/session-agent/session"
	"github.com/ctolnik/session-agent/zapctx"
)

const shutdownTimeout = 5 * time.Second

// Probe is the OS boundary: foreground application, idle time and screen
// capture.
type Probe interface {
	ForegroundApp(ctx context.Context) (string, error)
	IdleDuration(ctx context.Context) (time.Duration, error)
	CaptureScreen(ctx context.Context) (image.Image, error)
	Close() error
}

// Deps overrides the parts New would otherwise build itself.
type Deps struct {
	// Probe defaults to monitoring.Open(tracking.probe).
	Probe Probe
	// Capturer defaults to an external command when
	// screenshots.capture_command is set, else to Probe.
	Capturer screenshot.Capturer
	// Listener defaults to a TCP listener on control.listen.
	Listener net.Listener
	// Journal is closed by Close when set.
	Journal *journal.Journal
	// ConfigPath enables live reload when set.
	ConfigPath string
}

type Agent struct {
	logger     *zap.Logger
	probe      Probe
	sink       *collector.HTTPSink
	controller *session.Controller
	server     *control.Server
	push       *control.PushClient
	listener   net.Listener
	journal    *journal.Journal
	configPath string

	mu  sync.Mutex
	cfg *config.Config

	closeOnce sync.Once
	closeErr  error
}

// New builds every component from cfg. ctx must carry a logger; it is used
// for construction and as the base logger of the running agent.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Agent, error) {
	if err := cfg.RequireBackend(); err != nil {
		return nil, err
	}
	logger := zapctx.Logger(ctx)

	if deps.Journal != nil {
		pruneJournal(ctx, deps.Journal, cfg.Journal.RetentionDays)
	}

	probe := deps.Probe
	if probe == nil {
		p, err := monitoring.Open(cfg.Tracking.Probe)
		if err != nil {
			return nil, fmt.Errorf("failed to open OS probe: %w", err)
		}
		zapctx.Info(ctx, "OS probe ready", zap.String("platform", p.Platform()))
		probe = p
	}
	fail := func(err error) (*Agent, error) {
		if deps.Probe == nil {
			_ = probe.Close()
		}
		return nil, err
	}

	capturer := deps.Capturer
	if capturer == nil {
		capturer = probe
		if len(cfg.Screenshots.CaptureCommand) > 0 {
			ec, err := monitoring.NewExecCapturer(cfg.Screenshots.CaptureCommand)
			if err != nil {
				return fail(err)
			}
			capturer = ec
		}
	}

	tokens := tokenSource(cfg)
	client := httpclient.NewClient(httpclient.Config{
		ServerURL:      cfg.BackendAddress(),
		TimeoutSeconds: cfg.Agent.TimeoutSeconds,
	})
	sink := collector.NewHTTPSink(client, tokens)

	controller, err := session.New(session.Deps{
		Foreground: probe,
		Idle:       probe,
		Capturer:   capturer,
		Uploader:   sink,
		Sink:       sink,
	}, session.Options{
		Intervals: session.Intervals{
			Activity:   cfg.ActivityInterval(),
			Idle:       cfg.IdleInterval(),
			Screenshot: cfg.ScreenshotInterval(),
		},
		Screenshot: screenshot.Options{
			MaxWidth:    cfg.Screenshots.MaxWidth,
			MaxHeight:   cfg.Screenshots.MaxHeight,
			TempDir:     cfg.Screenshots.TempDir,
			DeleteDelay: cfg.DeleteDelay(),
		},
		BackendAddress: cfg.BackendAddress(),
	})
	if err != nil {
		return fail(err)
	}

	listener := deps.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", cfg.Control.Listen)
		if err != nil {
			return fail(fmt.Errorf("failed to listen on %s: %w", cfg.Control.Listen, err))
		}
	}

	sessionCtx := zapctx.WithLogger(context.Background(), logger.Named("session"))
	surface := control.NewSurface(detached{Controller: controller, ctx: sessionCtx})

	a := &Agent{
		logger:     logger,
		probe:      probe,
		sink:       sink,
		controller: controller,
		server:     control.NewServer(listener.Addr().String(), surface, controller, logger.Named("control")),
		listener:   listener,
		journal:    deps.Journal,
		configPath: deps.ConfigPath,
		cfg:        cfg,
	}
	if cfg.Control.PushURL != "" {
		a.push = control.NewPushClient(surface, control.PushOptions{
			URL:           cfg.Control.PushURL,
			Tokens:        tokens,
			RatePerMinute: cfg.Control.PushRatePerMinute,
			Reconnect:     time.Duration(cfg.Control.ReconnectSeconds) * time.Second,
		})
	}
	return a, nil
}

func tokenSource(cfg *config.Config) credentials.Source {
	return credentials.Chain(
		credentials.FileSource{Path: cfg.Agent.TokenFile},
		credentials.Static(cfg.Agent.Token),
	)
}

func pruneJournal(ctx context.Context, j *journal.Journal, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	n, err := j.Prune(time.Now().AddDate(0, 0, -retentionDays))
	if err != nil {
		zapctx.Warn(ctx, "failed to prune journal", zap.Error(err))
		return
	}
	if n > 0 {
		zapctx.Info(ctx, "journal pruned", zap.Int64("entries", n))
	}
}

// Addr is the control API address actually bound.
func (a *Agent) Addr() string {
	return a.listener.Addr().String()
}

func (a *Agent) Controller() *session.Controller {
	return a.controller
}

// Run serves the control API, the push channel and config reloads until
// ctx is done or the API fails.
func (a *Agent) Run(ctx context.Context) error {
	ctx = zapctx.Ensure(ctx, a.logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.Serve(a.listener)
	}()

	var wg sync.WaitGroup
	if a.push != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.push.Run(zapctx.Named(ctx, "push"))
		}()
	}
	if a.configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.watchConfig(zapctx.Named(ctx, "config"))
		}()
	}

	zapctx.Info(ctx, "agent running", zap.String("control", a.Addr()))

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("control API stopped: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := a.server.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
		err = multierr.Append(err, serr)
	}
	wg.Wait()
	return err
}

func (a *Agent) watchConfig(ctx context.Context) {
	err := config.Watch(ctx, a.configPath,
		func(cfg *config.Config) { a.ApplyConfig(ctx, cfg) },
		func(err error) { zapctx.Warn(ctx, "config reload failed", zap.Error(err)) },
	)
	if err != nil {
		zapctx.Warn(ctx, "config watch unavailable", zap.Error(err))
	}
}

// ApplyConfig takes a reloaded config. Only the screenshot interval
// applies live; any other change is logged and waits for a restart.
func (a *Agent) ApplyConfig(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	if cfg.Screenshots.IntervalSeconds != prev.Screenshots.IntervalSeconds {
		if err := a.controller.SetScreenshotInterval(ctx, cfg.ScreenshotInterval()); err != nil {
			zapctx.Warn(ctx, "failed to apply screenshot interval", zap.Error(err))
		}
	}

	a.logRestartRequired(ctx, prev, cfg)
}

func (a *Agent) logRestartRequired(ctx context.Context, prev, next *config.Config) {
	var changed []string
	if prev.Agent != next.Agent {
		changed = append(changed, "agent")
	}
	if prev.Tracking != next.Tracking {
		changed = append(changed, "tracking")
	}
	p, n := prev.Screenshots, next.Screenshots
	if p.MaxWidth != n.MaxWidth || p.MaxHeight != n.MaxHeight || p.TempDir != n.TempDir ||
		p.DeleteDelaySeconds != n.DeleteDelaySeconds || !slices.Equal(p.CaptureCommand, n.CaptureCommand) {
		changed = append(changed, "screenshots")
	}
	if prev.Control != next.Control {
		changed = append(changed, "control")
	}
	if prev.Journal != next.Journal {
		changed = append(changed, "journal")
	}
	if prev.Logging != next.Logging {
		changed = append(changed, "logging")
	}
	if len(changed) > 0 {
		zapctx.Info(ctx, "config change requires restart", zap.Strings("sections", changed))
	}
}

// Close ends the session and releases everything New opened. It is safe to
// call more than once.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		ctx := zapctx.WithLogger(context.Background(), a.logger)
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		a.controller.EndSession(ctx)

		var err error
		if serr := a.server.Shutdown(ctx); serr != nil {
			err = multierr.Append(err, serr)
		}
		// already closed when Run served on it
		_ = a.listener.Close()
		if werr := a.sink.Wait(ctx); werr != nil {
			zapctx.Warn(ctx, "abandoning in-flight deliveries", zap.Error(werr))
		}
		err = multierr.Append(err, a.controller.Close(ctx))
		err = multierr.Append(err, a.probe.Close())
		if a.journal != nil {
			err = multierr.Append(err, a.journal.Close())
		}
		a.closeErr = err
		zapctx.Info(ctx, "agent stopped")
	})
	return a.closeErr
}

// detached runs session commands on the agent's own logger so timers
// started by a request do not inherit its request fields.
type detached struct {
	*session.Controller
	ctx context.Context
}

func (d detached) StartSession(context.Context) { d.Controller.StartSession(d.ctx) }

func (d detached) EndSession(context.Context) { d.Controller.EndSession(d.ctx) }

func (d detached) UserActivity(context.Context) { d.Controller.UserActivity(d.ctx) }

func (d detached) CaptureNow(context.Context) { d.Controller.CaptureNow(d.ctx) }

func (d detached) SetScreenshotInterval(_ context.Context, iv time.Duration) error {
	return d.Controller.SetScreenshotInterval(d.ctx, iv)
}

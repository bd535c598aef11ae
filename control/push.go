package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ctolnik/session-agent/credentials"
	"github.com/ctolnik/session-agent/zapctx"
)

const MessageScreenshotRequest = "screenshotRequest"

type pushMessage struct {
	Type string `json:"type"`
}

type PushOptions struct {
	URL           string
	Tokens        credentials.Source
	RatePerMinute int
	Reconnect     time.Duration
}

// PushClient keeps a websocket open to the collector and turns its
// screenshot requests into captures.
type PushClient struct {
	url       string
	tokens    credentials.Source
	surface   *Surface
	limiter   *rate.Limiter
	reconnect time.Duration
	dialer    *websocket.Dialer
}

func NewPushClient(surface *Surface, opts PushOptions) *PushClient {
	// no limit unless one is configured: a pushed request is a local capture
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), opts.RatePerMinute)
	}
	reconnect := opts.Reconnect
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &PushClient{
		url:       opts.URL,
		tokens:    opts.Tokens,
		surface:   surface,
		limiter:   limiter,
		reconnect: reconnect,
		dialer:    websocket.DefaultDialer,
	}
}

// Run connects and serves push messages until ctx is cancelled,
// reconnecting after every failure.
func (p *PushClient) Run(ctx context.Context) error {
	logger := zapctx.Logger(ctx).With(zap.String("push_url", p.url))
	ctx = zapctx.WithLogger(ctx, logger)

	for {
		err := p.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, credentials.ErrNoToken):
			zapctx.Debug(ctx, "push channel waiting for token")
		case err != nil:
			zapctx.Warn(ctx, "push channel disconnected", zap.Error(err))
		}

		t := time.NewTimer(p.reconnect)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (p *PushClient) serve(ctx context.Context) error {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := p.dialer.DialContext(ctx, p.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("push handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("push dial failed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	zapctx.Info(ctx, "push channel connected")

	for {
		var msg pushMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.handle(ctx, msg)
	}
}

func (p *PushClient) handle(ctx context.Context, msg pushMessage) {
	if msg.Type != MessageScreenshotRequest {
		zapctx.Debug(ctx, "ignoring push message", zap.String("type", msg.Type))
		return
	}
	if !p.limiter.Allow() {
		zapctx.Warn(ctx, "push screenshot request dropped by rate limit")
		return
	}
	if _, err := p.surface.Dispatch(ctx, Request{Command: CommandCaptureScreenshotNow}); err != nil {
		zapctx.Warn(ctx, "push screenshot request failed", zap.Error(err))
	}
}

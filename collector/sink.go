// Package collector delivers activity events and screenshots to the
// remote collector. Delivery is best effort: failures are logged and the
// call is abandoned.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/credentials"
	"github.com/ctolnik/session-agent/httpclient"
	"github.com/ctolnik/session-agent/zapctx"
)

type Kind string

const (
	KindStart Kind = "start"
	KindEnd   Kind = "end"
)

// Event marks the start or end of one activity interval.
type Event struct {
	Kind    Kind
	AppName string
	At      time.Time
}

// Sink accepts events without blocking the caller on network I/O.
// Events are initiated in the order Send is called.
type Sink interface {
	Send(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Send(ctx context.Context, ev Event) { f(ctx, ev) }

type activityPayload struct {
	AppName string `json:"appName"`
}

// HTTPSink posts events and uploads screenshots to the collector API.
type HTTPSink struct {
	client *httpclient.Client
	tokens credentials.Source

	wg sync.WaitGroup
}

func NewHTTPSink(client *httpclient.Client, tokens credentials.Source) *HTTPSink {
	return &HTTPSink{client: client, tokens: tokens}
}

func eventEndpoint(kind Kind) string {
	return "/sessionForegroundApp/" + string(kind)
}

// Send starts delivery of ev in the background and returns immediately.
// Cancelling ctx afterwards does not abort the request.
func (s *HTTPSink) Send(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Post(ctx, ev); err != nil {
			logDeliveryFailure(ctx, "activity event not delivered", err,
				zap.String("kind", string(ev.Kind)), zap.String("app", ev.AppName))
		}
	}()
}

// Post delivers ev synchronously.
func (s *HTTPSink) Post(ctx context.Context, ev Event) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if err := s.client.PostJSON(ctx, eventEndpoint(ev.Kind), token, activityPayload{AppName: ev.AppName}); err != nil {
		return fmt.Errorf("failed to post %s event: %w", ev.Kind, err)
	}
	zapctx.Debug(ctx, "activity event delivered", zap.String("kind", string(ev.Kind)), zap.String("app", ev.AppName))
	return nil
}

// Wait blocks until every in-flight Send has finished or ctx is done.
func (s *HTTPSink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("in-flight deliveries did not finish: %w", ctx.Err())
	}
}

func logDeliveryFailure(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if errors.Is(err, credentials.ErrNoToken) {
		zapctx.Debug(ctx, msg+": no token", fields...)
		return
	}
	zapctx.Warn(ctx, msg, append(fields, zap.Error(err))...)
}

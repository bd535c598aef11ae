// Package control is the command boundary between the agent and the
// outside world: the local UI process, the CLI and the remote push channel.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/zapctx"
)

type Command string

const (
	CommandSessionStart          Command = "sessionStart"
	CommandSessionEnd            Command = "sessionEnd"
	CommandUserActivity          Command = "userActivity"
	CommandCaptureScreenshotNow  Command = "captureScreenshotNow"
	CommandSetScreenshotInterval Command = "setScreenshotInterval"
	CommandGetBackendAddress     Command = "getBackendAddress"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidInterval = errors.New("invalid screenshot interval")
)

// Request is one command message. Seconds is only read by
// setScreenshotInterval.
type Request struct {
	Command Command `json:"command"`
	Seconds int     `json:"seconds,omitempty"`
}

type Reply struct {
	OK             bool   `json:"ok"`
	BackendAddress string `json:"backendAddress,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Controller is the session API the surface drives. Every method except
// BackendAddress must return without waiting on network I/O.
type Controller interface {
	StartSession(ctx context.Context)
	EndSession(ctx context.Context)
	UserActivity(ctx context.Context)
	CaptureNow(ctx context.Context)
	SetScreenshotInterval(ctx context.Context, d time.Duration) error
	BackendAddress() string
}

type Surface struct {
	ctrl Controller
}

func NewSurface(ctrl Controller) *Surface {
	return &Surface{ctrl: ctrl}
}

// Dispatch applies req and returns the reply to send back.
func (s *Surface) Dispatch(ctx context.Context, req Request) (Reply, error) {
	zapctx.Debug(ctx, "control command", zap.String("command", string(req.Command)))

	switch req.Command {
	case CommandSessionStart:
		s.ctrl.StartSession(ctx)
	case CommandSessionEnd:
		s.ctrl.EndSession(ctx)
	case CommandUserActivity:
		s.ctrl.UserActivity(ctx)
	case CommandCaptureScreenshotNow:
		s.ctrl.CaptureNow(ctx)
	case CommandSetScreenshotInterval:
		if req.Seconds < 1 {
			return Reply{Error: ErrInvalidInterval.Error()}, fmt.Errorf("%w: %d seconds", ErrInvalidInterval, req.Seconds)
		}
		if err := s.ctrl.SetScreenshotInterval(ctx, time.Duration(req.Seconds)*time.Second); err != nil {
			return Reply{Error: err.Error()}, fmt.Errorf("%w: %v", ErrInvalidInterval, err)
		}
	case CommandGetBackendAddress:
		return Reply{OK: true, BackendAddress: s.ctrl.BackendAddress()}, nil
	default:
		return Reply{Error: ErrUnknownCommand.Error()}, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
	return Reply{OK: true}, nil
}

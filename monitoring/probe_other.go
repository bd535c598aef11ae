//go:build !windows && !linux

package monitoring

import (
	"context"
	"image"
	"time"
)

// Probe has no native implementation on this platform. Configure an
// external capture command for screenshots.
type Probe struct{}

func New() (*Probe, error) {
	return &Probe{}, nil
}

func (p *Probe) Platform() string { return "unsupported" }

func (p *Probe) ForegroundApp(ctx context.Context) (string, error) {
	return "", ErrUnsupported
}

func (p *Probe) IdleDuration(ctx context.Context) (time.Duration, error) {
	return 0, ErrUnsupported
}

func (p *Probe) CaptureScreen(ctx context.Context) (image.Image, error) {
	return nil, ErrUnsupported
}

func (p *Probe) Close() error { return nil }

// Package screenshot captures the display, scales it into a bounding
// box, uploads it as PNG and removes the temporary copy afterwards.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/zapctx"
)

const (
	MaxWidth           = 1280
	MaxHeight          = 720
	DefaultDeleteDelay = 30 * time.Second
)

var ErrEmptyImage = errors.New("captured image is empty")

type Gate interface {
	Active() bool
}

type Capturer interface {
	CaptureScreen(ctx context.Context) (image.Image, error)
}

type Uploader interface {
	UploadScreenshot(ctx context.Context, path string) error
}

// Artifact is the temporary file of one capture.
type Artifact struct {
	ID         string
	Path       string
	CapturedAt time.Time
	Width      int
	Height     int
}

type Options struct {
	MaxWidth    int
	MaxHeight   int
	TempDir     string
	DeleteDelay time.Duration
}

type Pipeline struct {
	gate     Gate
	capturer Capturer
	uploader Uploader
	opts     Options

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

func NewPipeline(gate Gate, capturer Capturer, uploader Uploader, opts Options) *Pipeline {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = MaxHeight
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.DeleteDelay < 0 {
		opts.DeleteDelay = DefaultDeleteDelay
	}
	return &Pipeline{
		gate:     gate,
		capturer: capturer,
		uploader: uploader,
		opts:     opts,
		pending:  make(map[string]*time.Timer),
	}
}

// Capture runs one capture cycle. Failures are logged and swallowed; the
// artifact is nil when nothing was written.
func (p *Pipeline) Capture(ctx context.Context) *Artifact {
	if !p.gate.Active() {
		return nil
	}

	art, err := p.capture(ctx)
	if err != nil {
		zapctx.Warn(ctx, "screenshot cycle failed", zap.Error(err))
	}
	return art
}

func (p *Pipeline) capture(ctx context.Context) (*Artifact, error) {
	capturedAt := time.Now()
	img, err := p.capturer.CaptureScreen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	b := img.Bounds()
	w, h, err := Fit(b.Dx(), b.Dy(), p.opts.MaxWidth, p.opts.MaxHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to size screenshot: %w", err)
	}
	if w != b.Dx() || h != b.Dy() {
		img = Resize(img, w, h)
	}

	art, err := p.persist(img, capturedAt)
	if err != nil {
		return nil, err
	}
	art.Width, art.Height = w, h
	defer p.scheduleDelete(ctx, art.Path)

	if err := p.uploader.UploadScreenshot(context.WithoutCancel(ctx), art.Path); err != nil {
		return art, fmt.Errorf("failed to upload screenshot: %w", err)
	}

	zapctx.Info(ctx, "screenshot uploaded", zap.String("id", art.ID), zap.Int("width", w), zap.Int("height", h))
	return art, nil
}

func (p *Pipeline) persist(img image.Image, capturedAt time.Time) (*Artifact, error) {
	id := uuid.NewString()
	name := fmt.Sprintf("screenshot_%d_%s.png", capturedAt.UnixNano(), id)
	path := filepath.Join(p.opts.TempDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to encode screenshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write screenshot: %w", err)
	}

	return &Artifact{ID: id, Path: path, CapturedAt: capturedAt}, nil
}

func (p *Pipeline) scheduleDelete(ctx context.Context, path string) {
	ctx = context.WithoutCancel(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	// uploads still in flight at Close delete right away
	if p.closed {
		if err := removeFile(path); err != nil {
			zapctx.Warn(ctx, "failed to delete temporary screenshot", zap.String("path", path), zap.Error(err))
		}
		return
	}

	p.pending[path] = time.AfterFunc(p.opts.DeleteDelay, func() {
		p.mu.Lock()
		delete(p.pending, path)
		p.mu.Unlock()

		if err := removeFile(path); err != nil {
			zapctx.Warn(ctx, "failed to delete temporary screenshot", zap.String("path", path), zap.Error(err))
		}
	})
}

// Pending returns the number of temporary files awaiting deletion.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close deletes every temporary file still waiting for its grace delay.
// Files from uploads that finish later are deleted immediately.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	var err error
	for path, t := range p.pending {
		if t.Stop() {
			err = multierr.Append(err, removeFile(path))
		}
		delete(p.pending, path)
	}
	return err
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

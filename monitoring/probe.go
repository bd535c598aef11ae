// Package monitoring queries the operating system for the focused
// application, the time since the last user input and the screen image.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var ErrUnsupported = errors.New("not supported on this platform")

// Probe kinds accepted by Open.
const (
	KindAuto   = "auto"
	KindX11    = "x11"
	KindMutter = "mutter"
)

// Source is the set of queries every platform probe answers.
type Source interface {
	Platform() string
	ForegroundApp(ctx context.Context) (string, error)
	IdleDuration(ctx context.Context) (time.Duration, error)
	CaptureScreen(ctx context.Context) (image.Image, error)
	Close() error
}

type focusedWindow struct {
	WMClass         string `json:"wm_class"`
	WMClassInstance string `json:"wm_class_instance"`
	Title           string `json:"title"`
}

// parseFocusedWindow extracts the application name from the JSON the GNOME
// Shell FocusedWindow extension returns.
func parseFocusedWindow(raw string) (string, error) {
	var w focusedWindow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return "", fmt.Errorf("failed to parse focused window: %w", err)
	}
	if name := strings.TrimSpace(w.WMClass); name != "" {
		return name, nil
	}
	return strings.TrimSpace(w.WMClassInstance), nil
}

// processBaseName turns an executable path into an application name:
// the file name without directory or ".exe" suffix.
func processBaseName(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		path = path[i+1:]
	}
	if ext := filepath.Ext(path); strings.EqualFold(ext, ".exe") {
		path = path[:len(path)-len(ext)]
	}
	return path
}

// parseWMClass returns the class half of a WM_CLASS property, which is two
// NUL-terminated strings: instance then class. It falls back to the
// instance when the class is missing.
func parseWMClass(raw []byte) string {
	parts := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	for i := len(parts) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(parts[i]); s != "" {
			return s
		}
	}
	return ""
}

// bgraToRGBA converts 32-bit BGRA/BGRX rows into an opaque RGBA image.
// stride is the number of bytes per source row.
func bgraToRGBA(data []byte, width, height, stride int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if stride < width*4 || len(data) < stride*(height-1)+width*4 {
		return nil, fmt.Errorf("pixel buffer too small: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := data[y*stride : y*stride+width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width*4; x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = 0xff
		}
	}
	return img, nil
}

// ExecCapturer runs an external screenshot tool that writes a PNG or
// JPEG image to stdout, for displays the native probe cannot read.
type ExecCapturer struct {
	Command string
	Args    []string
}

// NewExecCapturer builds a capturer from a command line such as
// ["grim", "-"] or ["screencapture", "-x", "-t", "png", "/dev/stdout"].
func NewExecCapturer(cmdline []string) (*ExecCapturer, error) {
	if len(cmdline) == 0 || strings.TrimSpace(cmdline[0]) == "" {
		return nil, errors.New("capture command is empty")
	}
	return &ExecCapturer{Command: cmdline[0], Args: cmdline[1:]}, nil
}

func (c *ExecCapturer) CaptureScreen(ctx context.Context) (image.Image, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", c.Command, err, strings.TrimSpace(stderr.String()))
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s output: %w", c.Command, err)
	}
	return img, nil
}

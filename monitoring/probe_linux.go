//go:build linux

package monitoring

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"
)

// Probe reads the X11 display named by $DISPLAY. Wayland sessions work
// through XWayland for focus and idle; screen capture there needs an
// external capture command.
type Probe struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo

	mu    sync.Mutex
	atoms map[string]xproto.Atom

	screensaver bool
}

func New() (*Probe, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to X server")
	}

	p := &Probe{
		conn:   conn,
		screen: xproto.Setup(conn).DefaultScreen(conn),
		atoms:  make(map[string]xproto.Atom),
	}
	p.screensaver = screensaver.Init(conn) == nil
	return p, nil
}

func (p *Probe) Platform() string { return "x11" }

func (p *Probe) atom(name string) (xproto.Atom, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(p.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to intern atom %s", name)
	}
	if reply.Atom == xproto.AtomNone {
		return 0, errors.Errorf("atom %s is not defined", name)
	}
	p.atoms[name] = reply.Atom
	return reply.Atom, nil
}

func (p *Probe) property(win xproto.Window, atom xproto.Atom, length uint32) (*xproto.GetPropertyReply, error) {
	reply, err := xproto.GetProperty(p.conn, false, win, atom, xproto.GetPropertyTypeAny, 0, length).Reply()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read window property")
	}
	return reply, nil
}

func (p *Probe) activeWindow() (xproto.Window, error) {
	atom, err := p.atom("_NET_ACTIVE_WINDOW")
	if err != nil {
		return 0, err
	}
	reply, err := p.property(p.screen.Root, atom, 1)
	if err != nil {
		return 0, err
	}
	if reply.Format != 32 || len(reply.Value) < 4 {
		return 0, errors.New("window manager does not publish the active window")
	}
	win := xproto.Window(xgb.Get32(reply.Value))
	if win == 0 {
		return 0, errors.New("no active window")
	}
	return win, nil
}

// ForegroundApp names the active window's process from /proc, falling
// back to its WM_CLASS.
func (p *Probe) ForegroundApp(ctx context.Context) (string, error) {
	win, err := p.activeWindow()
	if err != nil {
		return "", err
	}

	if name, err := p.processName(win); err == nil && name != "" {
		return name, nil
	}

	reply, err := p.property(win, xproto.AtomWmClass, 256)
	if err != nil {
		return "", err
	}
	if name := parseWMClass(reply.Value); name != "" {
		return name, nil
	}
	return "", errors.Errorf("window %d has no process or class", win)
}

func (p *Probe) processName(win xproto.Window) (string, error) {
	atom, err := p.atom("_NET_WM_PID")
	if err != nil {
		return "", err
	}
	reply, err := p.property(win, atom, 1)
	if err != nil {
		return "", err
	}
	if reply.Format != 32 || len(reply.Value) < 4 {
		return "", errors.New("window has no pid")
	}

	pid := xgb.Get32(reply.Value)
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read name of process %d", pid)
	}
	return strings.TrimSpace(string(comm)), nil
}

// IdleDuration uses the MIT-SCREEN-SAVER extension.
func (p *Probe) IdleDuration(ctx context.Context) (time.Duration, error) {
	if !p.screensaver {
		return 0, errors.Wrap(ErrUnsupported, "MIT-SCREEN-SAVER extension missing")
	}
	reply, err := screensaver.QueryInfo(p.conn, xproto.Drawable(p.screen.Root)).Reply()
	if err != nil {
		return 0, errors.Wrap(err, "failed to query idle time")
	}
	return time.Duration(reply.MsSinceUserInput) * time.Millisecond, nil
}

// CaptureScreen reads the root window as a ZPixmap.
func (p *Probe) CaptureScreen(ctx context.Context) (image.Image, error) {
	w, h := p.screen.WidthInPixels, p.screen.HeightInPixels
	reply, err := xproto.GetImage(p.conn, xproto.ImageFormatZPixmap, xproto.Drawable(p.screen.Root),
		0, 0, w, h, ^uint32(0)).Reply()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read root window image")
	}
	if reply.Depth != 24 && reply.Depth != 32 {
		return nil, errors.Errorf("unsupported screen depth %d", reply.Depth)
	}

	img, err := bgraToRGBA(reply.Data, int(w), int(h), int(w)*4)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert root window image")
	}
	return img, nil
}

func (p *Probe) Close() error {
	p.conn.Close()
	return nil
}

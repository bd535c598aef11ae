//go:build linux

package monitoring

import (
	"context"
	"image"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

const (
	focusedWindowDest   = "org.gnome.Shell"
	focusedWindowPath   = dbus.ObjectPath("/org/gnome/shell/extensions/FocusedWindow")
	focusedWindowMethod = "org.gnome.shell.extensions.FocusedWindow.Get"

	idleMonitorDest   = "org.gnome.Mutter.IdleMonitor"
	idleMonitorPath   = dbus.ObjectPath("/org/gnome/Mutter/IdleMonitor/Core")
	idleMonitorMethod = "org.gnome.Mutter.IdleMonitor.GetIdletime"
)

// MutterProbe asks GNOME Shell over the session bus, for Wayland sessions
// where X11 cannot see native windows. Focus needs the FocusedWindow shell
// extension. It cannot capture the screen; configure a capture command.
type MutterProbe struct {
	conn *dbus.Conn
}

func NewMutter() (*MutterProbe, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to session bus")
	}
	return &MutterProbe{conn: conn}, nil
}

func (p *MutterProbe) Platform() string { return "mutter" }

func (p *MutterProbe) ForegroundApp(ctx context.Context) (string, error) {
	call := p.conn.Object(focusedWindowDest, focusedWindowPath).CallWithContext(ctx, focusedWindowMethod, 0)
	if call.Err != nil {
		return "", errors.Wrap(call.Err, "FocusedWindow.Get failed")
	}
	var raw string
	if err := call.Store(&raw); err != nil {
		return "", errors.Wrap(err, "unexpected FocusedWindow reply")
	}
	return parseFocusedWindow(raw)
}

func (p *MutterProbe) IdleDuration(ctx context.Context) (time.Duration, error) {
	call := p.conn.Object(idleMonitorDest, idleMonitorPath).CallWithContext(ctx, idleMonitorMethod, 0)
	if call.Err != nil {
		return 0, errors.Wrap(call.Err, "IdleMonitor.GetIdletime failed")
	}
	var ms uint64
	if err := call.Store(&ms); err != nil {
		return 0, errors.Wrap(err, "unexpected IdleMonitor reply")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (p *MutterProbe) CaptureScreen(ctx context.Context) (image.Image, error) {
	return nil, ErrUnsupported
}

func (p *MutterProbe) Close() error {
	return p.conn.Close()
}

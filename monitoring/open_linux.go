//go:build linux

package monitoring

import (
	"fmt"
	"os"
)

// Open returns the probe for kind. Auto picks Mutter on Wayland sessions
// without an X display and X11 otherwise.
func Open(kind string) (Source, error) {
	switch kind {
	case "", KindAuto:
		if os.Getenv("XDG_SESSION_TYPE") == "wayland" && os.Getenv("DISPLAY") == "" {
			return openMutter()
		}
		return openX11()
	case KindX11:
		return openX11()
	case KindMutter:
		return openMutter()
	default:
		return nil, fmt.Errorf("unknown probe kind %q", kind)
	}
}

func openX11() (Source, error) {
	p, err := New()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func openMutter() (Source, error) {
	p, err := NewMutter()
	if err != nil {
		return nil, err
	}
	return p, nil
}

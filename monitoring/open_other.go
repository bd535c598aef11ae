//go:build !linux

package monitoring

import "fmt"

// Open returns the native probe. Only auto is meaningful off Linux.
func Open(kind string) (Source, error) {
	if kind != "" && kind != KindAuto {
		return nil, fmt.Errorf("probe kind %q is not available on this platform", kind)
	}
	p, err := New()
	if err != nil {
		return nil, err
	}
	return p, nil
}

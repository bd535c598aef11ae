//go:build windows

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Probe reads the interactive desktop through user32, gdi32 and kernel32.
type Probe struct{}

func New() (*Probe, error) {
	if err := procGetForegroundWindow.Find(); err != nil {
		return nil, fmt.Errorf("user32 unavailable: %w", err)
	}
	return &Probe{}, nil
}

func (p *Probe) Platform() string { return "windows" }

// ForegroundApp returns the executable name of the process that owns the
// foreground window.
func (p *Probe) ForegroundApp(ctx context.Context) (string, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return "", errors.New("no foreground window")
	}

	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return "", errors.New("foreground window has no owning process")
	}

	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return "", fmt.Errorf("failed to query image name of process %d: %w", pid, err)
	}

	return processBaseName(windows.UTF16ToString(buf[:size])), nil
}

// IdleDuration returns the time since the last keyboard or mouse input.
func (p *Probe) IdleDuration(ctx context.Context) (time.Duration, error) {
	var info lastInputInfo
	info.cbSize = uint32(unsafe.Sizeof(info))

	ret, _, err := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0, fmt.Errorf("GetLastInputInfo failed: %w", err)
	}

	tick, _, _ := procGetTickCount.Call()
	// both counters wrap every ~49.7 days; unsigned subtraction handles it
	idleMillis := uint32(tick) - info.dwTime
	return time.Duration(idleMillis) * time.Millisecond, nil
}

// CaptureScreen copies the primary screen into an RGBA image.
func (p *Probe) CaptureScreen(ctx context.Context) (image.Image, error) {
	width, _, _ := procGetSystemMetrics.Call(smCxScreen)
	height, _, _ := procGetSystemMetrics.Call(smCyScreen)
	if width == 0 || height == 0 {
		return nil, errors.New("screen has no size")
	}

	hDC, _, _ := procGetDC.Call(0)
	if hDC == 0 {
		return nil, errors.New("GetDC failed")
	}
	defer procReleaseDC.Call(0, hDC)

	hMemDC, _, _ := procCreateCompatibleDC.Call(hDC)
	if hMemDC == 0 {
		return nil, errors.New("CreateCompatibleDC failed")
	}
	defer procDeleteDC.Call(hMemDC)

	hBitmap, _, _ := procCreateCompatibleBitmap.Call(hDC, width, height)
	if hBitmap == 0 {
		return nil, errors.New("CreateCompatibleBitmap failed")
	}
	defer procDeleteObject.Call(hBitmap)

	hOld, _, _ := procSelectObject.Call(hMemDC, hBitmap)
	if hOld == 0 {
		return nil, errors.New("SelectObject failed")
	}
	defer procSelectObject.Call(hMemDC, hOld)

	if ret, _, _ := procBitBlt.Call(hMemDC, 0, 0, width, height, hDC, 0, 0, srcCopy); ret == 0 {
		return nil, errors.New("BitBlt failed")
	}

	var bi bitmapInfo
	bi.BmiHeader.BiSize = uint32(unsafe.Sizeof(bi.BmiHeader))
	bi.BmiHeader.BiWidth = int32(width)
	// negative height asks for top-down rows
	bi.BmiHeader.BiHeight = -int32(height)
	bi.BmiHeader.BiPlanes = 1
	bi.BmiHeader.BiBitCount = bitsPerPixel
	bi.BmiHeader.BiCompression = biRGB

	stride := int(width) * bytesPerPixel
	pixels := make([]byte, stride*int(height))

	ret, _, _ := procGetDIBits.Call(
		hMemDC,
		hBitmap,
		0,
		height,
		uintptr(unsafe.Pointer(&pixels[0])),
		uintptr(unsafe.Pointer(&bi)),
		dibRGBColors,
	)
	if ret == 0 {
		return nil, errors.New("GetDIBits failed")
	}

	return bgraToRGBA(pixels, int(width), int(height), stride)
}

func (p *Probe) Close() error { return nil }

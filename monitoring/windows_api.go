//go:build windows

package monitoring

import (
	"golang.org/x/sys/windows"
)

const (
	smCxScreen    = 0
	smCyScreen    = 1
	srcCopy       = 0x00CC0020
	biRGB         = 0
	dibRGBColors  = 0
	bitsPerPixel  = 32
	bytesPerPixel = bitsPerPixel / 8
)

var (
	modUser32   = windows.NewLazySystemDLL("user32.dll")
	modGdi32    = windows.NewLazySystemDLL("gdi32.dll")
	modKernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetDC                    = modUser32.NewProc("GetDC")
	procReleaseDC                = modUser32.NewProc("ReleaseDC")
	procGetSystemMetrics         = modUser32.NewProc("GetSystemMetrics")
	procGetForegroundWindow      = modUser32.NewProc("GetForegroundWindow")
	procGetWindowThreadProcessId = modUser32.NewProc("GetWindowThreadProcessId")
	procGetLastInputInfo         = modUser32.NewProc("GetLastInputInfo")
	procCreateCompatibleDC       = modGdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap   = modGdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject             = modGdi32.NewProc("SelectObject")
	procBitBlt                   = modGdi32.NewProc("BitBlt")
	procDeleteDC                 = modGdi32.NewProc("DeleteDC")
	procDeleteObject             = modGdi32.NewProc("DeleteObject")
	procGetDIBits                = modGdi32.NewProc("GetDIBits")
	procGetTickCount             = modKernel32.NewProc("GetTickCount")
)

type bitmapInfoHeader struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type bitmapInfo struct {
	BmiHeader bitmapInfoHeader
	BmiColors [1]uint32
}

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

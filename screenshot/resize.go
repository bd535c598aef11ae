package screenshot

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Fit scales w x h into the maxW x maxH box keeping the aspect ratio.
// Images already inside the box keep their size.
func Fit(w, h, maxW, maxH int) (int, int, error) {
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid source size %dx%d", w, h)
	}
	if maxW <= 0 || maxH <= 0 {
		return 0, 0, fmt.Errorf("invalid bounds %dx%d", maxW, maxH)
	}

	ratio := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if ratio >= 1 {
		return w, h, nil
	}

	outW := clamp(int(math.Round(float64(w)*ratio)), 1, maxW)
	outH := clamp(int(math.Round(float64(h)*ratio)), 1, maxH)
	return outW, outH, nil
}

// Resize renders src into a new w x h RGBA image.
func Resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

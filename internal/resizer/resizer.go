// Package resizer fits images inside a maximum edge length without ever upscaling.
package resizer

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultMaxEdge is the longest edge, in pixels, an output image may have.
const DefaultMaxEdge = 1024

// ComputeTargetDimensions returns the size an image of srcW x srcH must be
// scaled to so that neither edge exceeds maxEdge. Aspect ratio is preserved
// to within one pixel of rounding; the shorter edge never drops below 1.
// A non-positive maxEdge disables resizing.
func ComputeTargetDimensions(srcW, srcH, maxEdge int) (int, int) {
	if maxEdge <= 0 || (srcW <= maxEdge && srcH <= maxEdge) {
		return srcW, srcH
	}

	longer, shorter := srcW, srcH
	if srcH > srcW {
		longer, shorter = srcH, srcW
	}

	scaled := int(math.Round(float64(shorter) * float64(maxEdge) / float64(longer)))
	if scaled < 1 {
		scaled = 1
	}

	if srcW >= srcH {
		return maxEdge, scaled
	}
	return scaled, maxEdge
}

// Resize resamples img to w x h with a Lanczos filter. The input is returned
// unchanged when it already has the requested size.
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// Fit resizes img so its longer edge is at most maxEdge and reports whether
// any resampling happened.
func Fit(img image.Image, maxEdge int) (image.Image, bool) {
	b := img.Bounds()
	w, h := ComputeTargetDimensions(b.Dx(), b.Dy(), maxEdge)
	if w == b.Dx() && h == b.Dy() {
		return img, false
	}
	return Resize(img, w, h), true
}

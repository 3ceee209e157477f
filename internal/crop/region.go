package crop

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

const (
	// DisplaySide is the nominal on-screen crop side in display pixels.
	DisplaySide = 430
	// ResolutionMultiplier upsamples display-space crops for print.
	ResolutionMultiplier = 2
	// OutputSide is the edge of every PDF-derived crop.
	OutputSide = DisplaySide * ResolutionMultiplier
)

// Region is a square in rendered-page pixel coordinates.
type Region struct {
	X, Y, Side int
}

func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Side, r.Y+r.Side)
}

// ClampRegion fits r inside a width×height page. The side shrinks to the
// smallest page dimension first, then the origin shifts so the square stays
// inside. It never fails; the result has Side >= 1.
func ClampRegion(r Region, width, height int) Region {
	side := r.Side
	if side > width {
		side = width
	}
	if side > height {
		side = height
	}
	if side < 1 {
		side = 1
	}
	r.Side = side
	r.X = clampInt(r.X, 0, width-side)
	r.Y = clampInt(r.Y, 0, height-side)
	return r
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Extract copies the clamped region of src into a new outSide×outSide
// buffer, resampling with Catmull-Rom.
func Extract(src image.Image, r Region, outSide int) *image.RGBA {
	b := src.Bounds()
	r = ClampRegion(r, b.Dx(), b.Dy())
	dst := image.NewRGBA(image.Rect(0, 0, outSide, outSide))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	sr := r.Rect().Add(b.Min)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, sr, xdraw.Over, nil)
	return dst
}

// AutoRegion is the fixed auto-crop rule: the largest top-left square up to
// OutputSide pixels.
func AutoRegion(width, height int) Region {
	side := OutputSide
	if width < side {
		side = width
	}
	if height < side {
		side = height
	}
	return ClampRegion(Region{Side: side}, width, height)
}

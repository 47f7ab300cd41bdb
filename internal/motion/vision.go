package motion

import "github.com/care/sentry/internal/types"

// Image is an intermediate image owned by a Vision backend.
type Image interface {
	Close() error
}

// Region is one connected area of a binary motion mask.
type Region struct {
	Bounds types.PixelRect
	Area   float64
}

// Vision is the set of image primitives the detector is built from.
// Every returned Image is owned by the caller and must be closed.
type Vision interface {
	// FromFrame wraps a BGR24 frame without modifying it.
	FromFrame(f types.Frame) (Image, error)
	// AbsDiff returns |a - b| per pixel and channel.
	AbsDiff(a, b Image) (Image, error)
	// Gray converts a BGR image to single channel intensity.
	Gray(img Image) (Image, error)
	// Blur applies Gaussian smoothing with a square odd kernel.
	Blur(img Image, kernel int) (Image, error)
	// Threshold sets pixels strictly above cutoff to 255 and the rest to 0.
	Threshold(img Image, cutoff uint8) (Image, error)
	// Dilate grows a binary mask with a 3x3 rectangle, iterations times.
	Dilate(img Image, iterations int) (Image, error)
	// Regions extracts the outer connected regions of a binary mask.
	Regions(mask Image) ([]Region, error)
}

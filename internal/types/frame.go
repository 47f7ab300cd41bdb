package types

import (
	"image"
	"time"
)

// Frame represents a single video frame
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the pixels in BGR24 format, row-major
	Data []byte
	// SourceStream identifies the capture device or stream URL
	SourceStream string
	// TraceID follows the frame through logs
	TraceID string
}

// Size returns the frame dimensions.
func (f Frame) Size() image.Point {
	return image.Pt(f.Width, f.Height)
}

// Valid reports whether Data holds exactly Width x Height BGR24 pixels.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Data) == f.Width*f.Height*3
}

// Clone returns a copy that does not share pixel memory with f.
func (f Frame) Clone() Frame {
	c := f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return c
}

// PixelRect represents a rectangle in pixel coordinates
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the pixel area of the rectangle
func (r PixelRect) Area() int {
	return r.Width * r.Height
}

// Rect converts r to an image.Rectangle.
func (r PixelRect) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// RectFrom converts an image.Rectangle to a PixelRect.
func RectFrom(r image.Rectangle) PixelRect {
	return PixelRect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// MotionResult is the outcome of comparing two consecutive frames.
type MotionResult struct {
	Occurred   bool
	Regions    []PixelRect
	DetectedAt time.Time
}

// StreamStats contains frame source statistics
type StreamStats struct {
	FrameCount   uint64  `json:"frame_count"`
	FPSTarget    float64 `json:"fps_target"`
	FPSReal      float64 `json:"fps_real"`
	SourceStream string  `json:"source_stream"`
	Resolution   string  `json:"resolution"`
	Reconnects   uint32  `json:"reconnects"`
	BytesRead    uint64  `json:"bytes_read"`
	IsConnected  bool    `json:"is_connected"`
}

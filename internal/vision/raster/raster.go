// Package raster is a portable implementation of the motion primitives.
// Its blur, threshold and dilation follow OpenCV's documented semantics, so
// both backends produce the same masks. Region areas differ: raster counts
// foreground pixels, while the opencv backend measures the contour polygon.
package raster

import (
	"fmt"
	"math"

	"github.com/care/sentry/internal/motion"
	"github.com/care/sentry/internal/types"
)

// plane is an 8-bit image with interleaved channels.
type plane struct {
	w, h, ch int
	pix      []uint8
}

func (p *plane) Close() error {
	p.pix = nil
	return nil
}

func (p *plane) at(x, y, c int) uint8 {
	return p.pix[(y*p.w+x)*p.ch+c]
}

func newPlane(w, h, ch int) *plane {
	return &plane{w: w, h: h, ch: ch, pix: make([]uint8, w*h*ch)}
}

// Vision implements motion.Vision on plain byte slices.
type Vision struct{}

var _ motion.Vision = Vision{}

func New() Vision {
	return Vision{}
}

func asPlane(img motion.Image) (*plane, error) {
	p, ok := img.(*plane)
	if !ok {
		return nil, fmt.Errorf("raster: foreign image type %T", img)
	}
	if p.pix == nil {
		return nil, fmt.Errorf("raster: image already closed")
	}
	return p, nil
}

func (Vision) FromFrame(f types.Frame) (motion.Image, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("raster: frame %dx%d has %d bytes, want BGR24", f.Width, f.Height, len(f.Data))
	}
	// Shares f.Data; no primitive writes to its inputs.
	return &plane{w: f.Width, h: f.Height, ch: 3, pix: f.Data}, nil
}

func (Vision) AbsDiff(a, b motion.Image) (motion.Image, error) {
	pa, err := asPlane(a)
	if err != nil {
		return nil, err
	}
	pb, err := asPlane(b)
	if err != nil {
		return nil, err
	}
	if pa.w != pb.w || pa.h != pb.h || pa.ch != pb.ch {
		return nil, fmt.Errorf("raster: absdiff size mismatch")
	}
	out := newPlane(pa.w, pa.h, pa.ch)
	for i, v := range pa.pix {
		u := pb.pix[i]
		if v > u {
			out.pix[i] = v - u
		} else {
			out.pix[i] = u - v
		}
	}
	return out, nil
}

// Gray uses the BT.601 weights in the 14-bit fixed point form OpenCV uses
// for 8-bit BGR to gray conversion.
func (Vision) Gray(img motion.Image) (motion.Image, error) {
	p, err := asPlane(img)
	if err != nil {
		return nil, err
	}
	if p.ch == 1 {
		out := newPlane(p.w, p.h, 1)
		copy(out.pix, p.pix)
		return out, nil
	}
	if p.ch != 3 {
		return nil, fmt.Errorf("raster: gray expects 1 or 3 channels, got %d", p.ch)
	}
	const (
		wb    = 1868
		wg    = 9617
		wr    = 4899
		shift = 14
	)
	out := newPlane(p.w, p.h, 1)
	for i := range out.pix {
		b, g, r := int(p.pix[i*3]), int(p.pix[i*3+1]), int(p.pix[i*3+2])
		out.pix[i] = uint8((b*wb + g*wg + r*wr + 1<<(shift-1)) >> shift)
	}
	return out, nil
}

// Blur is a separable Gaussian with reflect-101 borders. With sigma derived
// from the kernel size, sizes up to 7 use OpenCV's fixed binomial kernels.
func (Vision) Blur(img motion.Image, kernel int) (motion.Image, error) {
	p, err := asPlane(img)
	if err != nil {
		return nil, err
	}
	if p.ch != 1 {
		return nil, fmt.Errorf("raster: blur expects a single channel image")
	}
	k, err := gaussianKernel(kernel)
	if err != nil {
		return nil, err
	}
	r := len(k) / 2

	tmp := make([]float64, p.w*p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var s float64
			for i, wt := range k {
				s += wt * float64(p.pix[y*p.w+reflect101(x+i-r, p.w)])
			}
			tmp[y*p.w+x] = s
		}
	}

	out := newPlane(p.w, p.h, 1)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var s float64
			for i, wt := range k {
				s += wt * tmp[reflect101(y+i-r, p.h)*p.w+x]
			}
			out.pix[y*p.w+x] = saturate(s)
		}
	}
	return out, nil
}

func (Vision) Threshold(img motion.Image, cutoff uint8) (motion.Image, error) {
	p, err := asPlane(img)
	if err != nil {
		return nil, err
	}
	out := newPlane(p.w, p.h, p.ch)
	for i, v := range p.pix {
		if v > cutoff {
			out.pix[i] = 255
		}
	}
	return out, nil
}

// Dilate takes the 3x3 neighbourhood maximum. Pixels outside the image are
// ignored, matching OpenCV's default border for morphology.
func (Vision) Dilate(img motion.Image, iterations int) (motion.Image, error) {
	p, err := asPlane(img)
	if err != nil {
		return nil, err
	}
	if p.ch != 1 {
		return nil, fmt.Errorf("raster: dilate expects a single channel image")
	}
	cur := newPlane(p.w, p.h, 1)
	copy(cur.pix, p.pix)
	row := newPlane(p.w, p.h, 1)

	for n := 0; n < iterations; n++ {
		for y := 0; y < p.h; y++ {
			for x := 0; x < p.w; x++ {
				m := cur.pix[y*p.w+x]
				if x > 0 && cur.pix[y*p.w+x-1] > m {
					m = cur.pix[y*p.w+x-1]
				}
				if x+1 < p.w && cur.pix[y*p.w+x+1] > m {
					m = cur.pix[y*p.w+x+1]
				}
				row.pix[y*p.w+x] = m
			}
		}
		for y := 0; y < p.h; y++ {
			for x := 0; x < p.w; x++ {
				m := row.pix[y*p.w+x]
				if y > 0 && row.pix[(y-1)*p.w+x] > m {
					m = row.pix[(y-1)*p.w+x]
				}
				if y+1 < p.h && row.pix[(y+1)*p.w+x] > m {
					m = row.pix[(y+1)*p.w+x]
				}
				cur.pix[y*p.w+x] = m
			}
		}
	}
	return cur, nil
}

// Regions labels 8-connected foreground components. Area is the number of
// foreground pixels in the component, so enclosed holes do not count.
func (Vision) Regions(mask motion.Image) ([]motion.Region, error) {
	p, err := asPlane(mask)
	if err != nil {
		return nil, err
	}
	if p.ch != 1 {
		return nil, fmt.Errorf("raster: regions expects a single channel mask")
	}

	seen := make([]bool, p.w*p.h)
	var regions []motion.Region
	var stack []int

	for start := range p.pix {
		if p.pix[start] == 0 || seen[start] {
			continue
		}
		minX, minY := p.w, p.h
		maxX, maxY := -1, -1
		count := 0

		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%p.w, i/p.w
			count++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= p.w || ny >= p.h {
						continue
					}
					j := ny*p.w + nx
					if p.pix[j] != 0 && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}

		regions = append(regions, motion.Region{
			Bounds: types.PixelRect{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1},
			Area:   float64(count),
		})
	}
	return regions, nil
}

func gaussianKernel(size int) ([]float64, error) {
	if size <= 0 || size%2 == 0 {
		return nil, fmt.Errorf("raster: blur kernel must be a positive odd number, got %d", size)
	}
	switch size {
	case 1:
		return []float64{1}, nil
	case 3:
		return []float64{0.25, 0.5, 0.25}, nil
	case 5:
		return []float64{0.0625, 0.25, 0.375, 0.25, 0.0625}, nil
	case 7:
		return []float64{0.03125, 0.109375, 0.21875, 0.28125, 0.21875, 0.109375, 0.03125}, nil
	}
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	k := make([]float64, size)
	var sum float64
	for i := range k {
		x := float64(i - size/2)
		k[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k, nil
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func saturate(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

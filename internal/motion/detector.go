// Package motion decides whether two consecutive frames differ enough to
// count as motion.
package motion

import (
	"fmt"
	"sort"
	"time"

	"github.com/care/sentry/internal/types"
)

// Options tunes the differencing pipeline. The area threshold is passed
// per call.
type Options struct {
	IntensityCutoff  uint8
	BlurKernel       int
	DilateIterations int
}

// DefaultOptions returns cutoff 20, a 5x5 blur and three dilations.
func DefaultOptions() Options {
	return Options{
		IntensityCutoff:  20,
		BlurKernel:       5,
		DilateIterations: 3,
	}
}

// Detector compares frames with absolute differencing. It holds no state
// between calls.
type Detector struct {
	vision Vision
	opts   Options
	now    func() time.Time
}

func NewDetector(v Vision, opts Options) *Detector {
	return &Detector{vision: v, opts: opts, now: time.Now}
}

// Detect reports motion between prev and cur. Regions smaller than
// areaThreshold are discarded; any surviving region means motion occurred.
// Regions are ordered top to bottom, then left to right.
func (d *Detector) Detect(prev, cur types.Frame, areaThreshold int) (types.MotionResult, error) {
	res := types.MotionResult{DetectedAt: cur.Timestamp}
	if res.DetectedAt.IsZero() {
		res.DetectedAt = d.now()
	}

	if prev.Width != cur.Width || prev.Height != cur.Height {
		return res, fmt.Errorf("motion: frame size changed from %dx%d to %dx%d",
			prev.Width, prev.Height, cur.Width, cur.Height)
	}

	var owned []Image
	defer func() {
		for _, img := range owned {
			img.Close()
		}
	}()
	keep := func(img Image, err error) (Image, error) {
		if err == nil {
			owned = append(owned, img)
		}
		return img, err
	}

	a, err := keep(d.vision.FromFrame(prev))
	if err != nil {
		return res, fmt.Errorf("motion: previous frame: %w", err)
	}
	b, err := keep(d.vision.FromFrame(cur))
	if err != nil {
		return res, fmt.Errorf("motion: current frame: %w", err)
	}
	diff, err := keep(d.vision.AbsDiff(a, b))
	if err != nil {
		return res, fmt.Errorf("motion: absdiff: %w", err)
	}
	gray, err := keep(d.vision.Gray(diff))
	if err != nil {
		return res, fmt.Errorf("motion: gray: %w", err)
	}
	blurred, err := keep(d.vision.Blur(gray, d.opts.BlurKernel))
	if err != nil {
		return res, fmt.Errorf("motion: blur: %w", err)
	}
	mask, err := keep(d.vision.Threshold(blurred, d.opts.IntensityCutoff))
	if err != nil {
		return res, fmt.Errorf("motion: threshold: %w", err)
	}
	dilated, err := keep(d.vision.Dilate(mask, d.opts.DilateIterations))
	if err != nil {
		return res, fmt.Errorf("motion: dilate: %w", err)
	}
	regions, err := d.vision.Regions(dilated)
	if err != nil {
		return res, fmt.Errorf("motion: regions: %w", err)
	}

	for _, r := range regions {
		if r.Area < float64(areaThreshold) {
			continue
		}
		res.Regions = append(res.Regions, r.Bounds)
	}
	sort.Slice(res.Regions, func(i, j int) bool {
		if res.Regions[i].Y != res.Regions[j].Y {
			return res.Regions[i].Y < res.Regions[j].Y
		}
		return res.Regions[i].X < res.Regions[j].X
	})
	res.Occurred = len(res.Regions) > 0

	return res, nil
}

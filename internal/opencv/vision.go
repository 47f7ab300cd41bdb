package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/care/sentry/internal/motion"
	"github.com/care/sentry/internal/types"
)

type matImage struct {
	mat gocv.Mat
}

func (m *matImage) Close() error {
	return m.mat.Close()
}

// Vision implements motion.Vision on OpenCV.
type Vision struct{}

var _ motion.Vision = Vision{}

func asMat(img motion.Image) (gocv.Mat, error) {
	m, ok := img.(*matImage)
	if !ok {
		return gocv.Mat{}, fmt.Errorf("opencv: foreign image type %T", img)
	}
	return m.mat, nil
}

func (Vision) FromFrame(f types.Frame) (motion.Image, error) {
	mat, err := frameToMat(f)
	if err != nil {
		return nil, err
	}
	return &matImage{mat: mat}, nil
}

func (Vision) AbsDiff(a, b motion.Image) (motion.Image, error) {
	ma, err := asMat(a)
	if err != nil {
		return nil, err
	}
	mb, err := asMat(b)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.AbsDiff(ma, mb, &dst)
	return &matImage{mat: dst}, nil
}

func (Vision) Gray(img motion.Image) (motion.Image, error) {
	src, err := asMat(img)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return &matImage{mat: dst}, nil
}

func (Vision) Blur(img motion.Image, kernel int) (motion.Image, error) {
	if kernel <= 0 || kernel%2 == 0 {
		return nil, fmt.Errorf("opencv: blur kernel must be odd and positive, got %d", kernel)
	}
	src, err := asMat(img)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.GaussianBlur(src, &dst, image.Pt(kernel, kernel), 0, 0, gocv.BorderDefault)
	return &matImage{mat: dst}, nil
}

func (Vision) Threshold(img motion.Image, cutoff uint8) (motion.Image, error) {
	src, err := asMat(img)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.Threshold(src, &dst, float32(cutoff), 255, gocv.ThresholdBinary)
	return &matImage{mat: dst}, nil
}

// Dilate repeats a 3x3 rectangular dilation, which matches a single call
// with the same number of iterations.
func (Vision) Dilate(img motion.Image, iterations int) (motion.Image, error) {
	src, err := asMat(img)
	if err != nil {
		return nil, err
	}
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	dst := src.Clone()
	for i := 0; i < iterations; i++ {
		gocv.Dilate(dst, &dst, kernel)
	}
	return &matImage{mat: dst}, nil
}

func (Vision) Regions(mask motion.Image) ([]motion.Region, error) {
	src, err := asMat(mask)
	if err != nil {
		return nil, err
	}
	contours := gocv.FindContours(src, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]motion.Region, 0, contours.Size())
	for i := range contours.Size() {
		c := contours.At(i)
		regions = append(regions, motion.Region{
			Bounds: types.RectFrom(gocv.BoundingRect(c)),
			Area:   gocv.ContourArea(c),
		})
	}
	return regions, nil
}

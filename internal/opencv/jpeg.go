package opencv

import (
	"gocv.io/x/gocv"

	"github.com/care/sentry/internal/types"
)

// Encoder compresses frames with OpenCV's JPEG codec.
type Encoder struct{}

func (Encoder) EncodeJPEG(f types.Frame, quality int) ([]byte, error) {
	mat, err := frameToMat(f)
	if err != nil {
		return nil, types.EncodingError("opencv.jpeg", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, types.EncodingError("opencv.jpeg", err)
	}
	defer buf.Close()

	// GetBytes points into C memory owned by buf.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

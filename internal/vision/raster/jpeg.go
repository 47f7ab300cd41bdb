package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/care/sentry/internal/types"
)

// Encoder compresses BGR24 frames to JPEG without cgo.
type Encoder struct{}

func (Encoder) EncodeJPEG(f types.Frame, quality int) ([]byte, error) {
	if !f.Valid() {
		return nil, types.EncodingError("raster.jpeg", fmt.Errorf("invalid frame %dx%d", f.Width, f.Height))
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		img.Pix[j] = f.Data[i+2]
		img.Pix[j+1] = f.Data[i+1]
		img.Pix[j+2] = f.Data[i]
		img.Pix[j+3] = 0xff
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, types.EncodingError("raster.jpeg", err)
	}
	return buf.Bytes(), nil
}

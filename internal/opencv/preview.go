package opencv

import (
	"image/color"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/care/sentry/internal/types"
)

var overlayColor = color.RGBA{0, 255, 0, 0}

// Preview shows frames with motion regions outlined. The overlay is drawn
// on a copy, so recorded frames are never modified.
type Preview struct {
	window *gocv.Window
}

func NewPreview(title string) *Preview {
	return &Preview{window: gocv.NewWindow(title)}
}

// Show draws f and regions and reports whether the operator asked to quit
// with q or Esc.
func (p *Preview) Show(f types.Frame, res types.MotionResult) bool {
	mat, err := frameToMat(f)
	if err != nil {
		slog.Warn("preview: frame skipped", "error", err)
		return false
	}
	defer mat.Close()

	canvas := mat.Clone()
	defer canvas.Close()
	for _, r := range res.Regions {
		gocv.Rectangle(&canvas, r.Rect(), overlayColor, 2)
	}

	p.window.IMShow(canvas)
	key := p.window.WaitKey(1)
	return key == 'q' || key == 27
}

func (p *Preview) Close() error {
	return p.window.Close()
}

package gst

import (
	"fmt"
	"strings"
)

// videoCaps builds raw BGR caps. Framerates below 1 are expressed as 1/N.
func videoCaps(width, height int, fps float64) string {
	num, den := framerate(fps)
	return fmt.Sprintf(
		"video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/%d",
		width, height, num, den,
	)
}

func framerate(fps float64) (int, int) {
	switch {
	case fps <= 0:
		return 0, 1
	case fps < 1:
		return 1, int(1/fps + 0.5)
	default:
		return int(fps + 0.5), 1
	}
}

// quoteLocation escapes a file path for use inside a gst-launch description.
func quoteLocation(path string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(path) + `"`
}

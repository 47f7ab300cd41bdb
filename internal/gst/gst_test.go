package gst

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg, debug string
		want       ErrorCategory
	}{
		{"Could not connect to server", "", ErrCategoryNetwork},
		{"Unauthorized", "rtsp 401", ErrCategoryAuth},
		{"Internal data stream error", "not negotiated", ErrCategoryCodec},
		{"Something odd", "", ErrCategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.msg, tt.debug), tt.msg)
	}

	assert.True(t, ErrCategoryNetwork.Retryable())
	assert.False(t, ErrCategoryAuth.Retryable())
	assert.Equal(t, ErrCategoryUnknown, ClassifyGError(nil))
}

func TestVideoCaps(t *testing.T) {
	assert.Equal(t, "video/x-raw,format=BGR,width=640,height=480,framerate=20/1", videoCaps(640, 480, 20))
	assert.Equal(t, "video/x-raw,format=BGR,width=320,height=240,framerate=1/2", videoCaps(320, 240, 0.5))
	assert.Equal(t, "video/x-raw,format=BGR,width=320,height=240,framerate=15/1", videoCaps(320, 240, 14.8))
}

func TestDescriptionsQuotePaths(t *testing.T) {
	d := writerDescription(`rec/motion "a".mp4`, 20, image.Pt(640, 480))
	assert.Contains(t, d, `location="rec/motion \"a\".mp4"`)
	assert.Contains(t, d, "appsrc name=src")

	assert.Contains(t, audioDescription("", "a.wav"), "autoaudiosrc ! ")
	assert.Contains(t, audioDescription("hw:1", "a.wav"), `pulsesrc device="hw:1"`)
}

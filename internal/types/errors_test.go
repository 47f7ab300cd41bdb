package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindMatching(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("start recording: %w", ResourceError("recorder.start", cause))

	assert.True(t, errors.Is(err, ErrResourceUnavailable))
	assert.False(t, errors.Is(err, ErrTransportFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindResourceUnavailable, KindOf(err))
	assert.Equal(t, "recorder.start: resource unavailable: disk full", errors.Unwrap(err).Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorKind(0), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(0), KindOf(nil))
}

func TestCaptureErrorWrapsEndOfStream(t *testing.T) {
	err := CaptureError("webcam.read", ErrEndOfStream)
	assert.True(t, errors.Is(err, ErrCaptureUnavailable))
	assert.True(t, errors.Is(err, ErrEndOfStream))
}

func TestFrameClone(t *testing.T) {
	f := Frame{Width: 2, Height: 1, Data: []byte{1, 2, 3, 4, 5, 6}}
	assert.True(t, f.Valid())

	c := f.Clone()
	c.Data[0] = 9
	assert.Equal(t, byte(1), f.Data[0])
	assert.False(t, Frame{Width: 2, Height: 2, Data: f.Data}.Valid())
}

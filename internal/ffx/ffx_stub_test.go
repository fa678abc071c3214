//go:build !ffmpeg

package ffx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStubReportsUnavailable(t *testing.T) {
	assert.False(t, Available())
	assert.Equal(t, "native", Backend())
	assert.ErrorIs(t, Register(), ErrFFmpegNotAvailable)
}

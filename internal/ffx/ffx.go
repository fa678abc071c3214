// Package ffx exposes libavdevice, libavcodec, libswscale and libavformat
// through the capture, codec, scale and mux registries. The bindings are only
// compiled with the ffmpeg build tag; otherwise Register reports that the
// backend is unavailable.
package ffx

import "github.com/pkg/errors"

var ErrFFmpegNotAvailable = errors.New("built without libav support (rebuild with -tags ffmpeg)")

const (
	// ProbeFormat opens any input libavformat can probe from the URL.
	ProbeFormat = "lavf"
	// MuxerName is the output format that accepts any file name libavformat
	// can guess a muxer for.
	MuxerName  = "lavf"
	ScalerName = "swscale"

	DefaultCaptureFormat = "x11grab"
	DefaultEncoder       = "libx264"
)

// DeviceFormats are the libavdevice inputs registered by name.
var DeviceFormats = []string{"x11grab", "kmsgrab", "gdigrab", "avfoundation", "v4l2", "lavfi"}

// Backend names the media backend compiled into the binary.
func Backend() string {
	if Available() {
		return "libav"
	}
	return "native"
}

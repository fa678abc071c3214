package av

import "strings"

// PixelFormat identifies the memory layout of a raw frame.
type PixelFormat int

const (
	PixelFormatNone PixelFormat = iota
	PixelFormatYUV420P
	PixelFormatRGBA
	PixelFormatBGRA
	// PixelFormatBGR0 is BGRA with an unused fourth byte, as produced by X11.
	PixelFormatBGR0
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatYUV420P: "yuv420p",
	PixelFormatRGBA:    "rgba",
	PixelFormatBGRA:    "bgra",
	PixelFormatBGR0:    "bgr0",
}

func (pf PixelFormat) String() string {
	if name, ok := pixelFormatNames[pf]; ok {
		return name
	}
	return "none"
}

// ParsePixelFormat looks a pixel format up by its lowercase name.
func ParsePixelFormat(name string) (PixelFormat, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for pf, n := range pixelFormatNames {
		if n == name {
			return pf, nil
		}
	}
	return PixelFormatNone, ErrUnknownPixelFormat
}

// Planes returns the number of planes used by the format.
func (pf PixelFormat) Planes() int {
	switch pf {
	case PixelFormatYUV420P:
		return 3
	case PixelFormatRGBA, PixelFormatBGRA, PixelFormatBGR0:
		return 1
	}
	return 0
}

// PlaneSize returns the line size and row count of plane i for a picture of
// w x h pixels. Chroma planes of yuv420p are rounded up.
func (pf PixelFormat) PlaneSize(i, w, h int) (linesize, rows int) {
	switch pf {
	case PixelFormatYUV420P:
		if i == 0 {
			return w, h
		}
		return (w + 1) / 2, (h + 1) / 2
	case PixelFormatRGBA, PixelFormatBGRA, PixelFormatBGR0:
		return w * 4, h
	}
	return 0, 0
}

// BufferSize is the total number of bytes needed for a packed picture.
func (pf PixelFormat) BufferSize(w, h int) int {
	size := 0
	for i := 0; i < pf.Planes(); i++ {
		ls, rows := pf.PlaneSize(i, w, h)
		size += ls * rows
	}
	return size
}

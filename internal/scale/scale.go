// Package scale converts raw frames between dimensions and pixel formats.
package scale

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

var (
	// ErrShortScale is returned when a conversion produced fewer rows than the
	// target height.
	ErrShortScale        = errors.New("scaler produced fewer rows than requested")
	ErrUnknownScaler     = errors.New("unknown scaler")
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// Scaler produces a new frame of the requested geometry from src. The source
// frame is never modified and the result is owned by the caller.
type Scaler interface {
	Scale(src *av.Frame, w, h int, pf av.PixelFormat) (*av.Frame, error)
	Close() error
}

// Key identifies a conversion: source and target geometry.
type Key struct {
	SrcW, SrcH int
	SrcFormat  av.PixelFormat
	DstW, DstH int
	DstFormat  av.PixelFormat
}

func keyFor(src *av.Frame, w, h int, pf av.PixelFormat) Key {
	return Key{
		SrcW: src.Width(), SrcH: src.Height(), SrcFormat: src.PixelFormat(),
		DstW: w, DstH: h, DstFormat: pf,
	}
}

// Options select the interpolation and whether conversion contexts are kept
// across calls.
type Options struct {
	// Algorithm is one of "bilinear" (default), "bicubic" or "nearest".
	// The native backend adds "fast" (approximate bilinear), swscale adds
	// "area".
	Algorithm string
	// Cache keeps the last conversion context and reuses it while the
	// geometry stays the same.
	Cache bool
}

// Factory creates a scaler backend.
type Factory func(opts Options) (Scaler, error)

var (
	mu       sync.RWMutex
	backends = map[string]Factory{}
)

// Register adds a scaler backend.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	backends[name] = f
}

// New creates the named scaler backend.
func New(name string, opts Options) (Scaler, error) {
	mu.RLock()
	f, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownScaler, "%q", name)
	}
	return f(opts)
}

// Backends lists registered scaler names.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkRows wraps a backend conversion: dst is returned only when exactly
// dst height rows were written.
func checkRows(rows int, dst *av.Frame) error {
	if rows != dst.Height() {
		return errors.Wrapf(ErrShortScale, "got %d rows, want %d", rows, dst.Height())
	}
	return nil
}

// Finish applies the common post-conversion checks and copies timing from src.
// Backends call it after filling dst; on error dst is freed.
func Finish(src, dst *av.Frame, rows int) (*av.Frame, error) {
	if err := checkRows(rows, dst); err != nil {
		dst.Free()
		return nil, err
	}
	dst.SetPts(src.Pts())
	dst.SetPktDts(src.PktDts())
	dst.SetPictureType(src.PictureType())
	return dst, nil
}

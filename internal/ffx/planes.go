package ffx

import (
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

// packPlanes copies the visible rows of every plane into one buffer laid out
// the way av_image_copy_to_buffer does with an alignment of 1.
func packPlanes(f *av.Frame) ([]byte, error) {
	if f.IsNull() {
		return nil, av.ErrNullHandle
	}
	pf, w, h := f.PixelFormat(), f.Width(), f.Height()
	if pf.Planes() == 0 {
		return nil, errors.Wrapf(av.ErrUnknownPixelFormat, "%s", pf)
	}
	buf := make([]byte, 0, pf.BufferSize(w, h))
	for i := 0; i < pf.Planes(); i++ {
		ls, rows := pf.PlaneSize(i, w, h)
		plane, stride := f.Plane(i), f.Linesize(i)
		if stride < ls || len(plane) < stride*(rows-1)+ls {
			return nil, errors.Wrapf(av.ErrInvalidDimensions, "plane %d too small", i)
		}
		for y := 0; y < rows; y++ {
			buf = append(buf, plane[y*stride:y*stride+ls]...)
		}
	}
	return buf, nil
}

// setPacked points the planes of f into a packed picture buffer.
func setPacked(f *av.Frame, buf []byte, w, h int, pf av.PixelFormat) error {
	if need := pf.BufferSize(w, h); need == 0 || len(buf) < need {
		return errors.Wrapf(av.ErrInvalidDimensions, "%d bytes for %dx%d %s", len(buf), w, h, pf)
	}
	f.SetGeometry(w, h, pf)
	off := 0
	for i := 0; i < pf.Planes(); i++ {
		ls, rows := pf.PlaneSize(i, w, h)
		f.SetPlane(i, buf[off:off+ls*rows], ls)
		off += ls * rows
	}
	return nil
}

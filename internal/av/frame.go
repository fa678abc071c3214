package av

import "github.com/pkg/errors"

// MaxPlanes is the number of data planes a frame can carry.
const MaxPlanes = 4

// PictureType is the encoder hint carried on a frame.
type PictureType int

const (
	PictureTypeNone PictureType = iota
	PictureTypeI
	PictureTypeP
	PictureTypeB
)

// Frame is an exclusively owned raw picture. The zero value and nil are null
// handles.
type Frame struct {
	res         *Resource
	data        [MaxPlanes][]byte
	linesize    [MaxPlanes]int
	width       int
	height      int
	format      PixelFormat
	pts         int64
	pktDts      int64
	pictureType PictureType
}

// AllocFrame returns a frame with no buffer attached.
func AllocFrame() *Frame {
	r := &Resource{}
	r.Track(KindFrame)
	return &Frame{res: r}
}

// AllocFrameBuffer returns a frame with tightly packed planes for a w x h
// picture in pixel format pf.
func AllocFrameBuffer(w, h int, pf PixelFormat) (*Frame, error) {
	f := AllocFrame()
	if err := f.AllocBuffer(w, h, pf); err != nil {
		f.Free()
		return nil, err
	}
	return f, nil
}

// AllocBuffer attaches freshly allocated planes to f, replacing any previous
// ones.
func (f *Frame) AllocBuffer(w, h int, pf PixelFormat) error {
	if f.IsNull() {
		return ErrNullHandle
	}
	if w <= 0 || h <= 0 {
		return errors.Wrapf(ErrInvalidDimensions, "%dx%d", w, h)
	}
	if pf.Planes() == 0 {
		return errors.Wrapf(ErrUnknownPixelFormat, "%d", int(pf))
	}
	f.data = [MaxPlanes][]byte{}
	f.linesize = [MaxPlanes]int{}
	for i := 0; i < pf.Planes(); i++ {
		ls, rows := pf.PlaneSize(i, w, h)
		f.data[i] = make([]byte, ls*rows)
		f.linesize[i] = ls
	}
	f.width, f.height, f.format = w, h, pf
	return nil
}

func (f *Frame) IsNull() bool {
	return f == nil || f.res == nil
}

// Free releases the frame. It is safe to call more than once.
func (f *Frame) Free() {
	if f.IsNull() {
		return
	}
	f.res.Release()
	*f = Frame{}
}

// Move hands ownership to the returned handle and leaves f null.
func (f *Frame) Move() *Frame {
	if f.IsNull() {
		return nil
	}
	moved := *f
	*f = Frame{}
	return &moved
}

// SetPlane attaches an existing buffer as plane i.
func (f *Frame) SetPlane(i int, b []byte, linesize int) {
	if f.IsNull() || i < 0 || i >= MaxPlanes {
		return
	}
	f.data[i] = b
	f.linesize[i] = linesize
}

// SetGeometry sets dimensions and pixel format without touching the planes.
func (f *Frame) SetGeometry(w, h int, pf PixelFormat) {
	if f.IsNull() {
		return
	}
	f.width, f.height, f.format = w, h, pf
}

func (f *Frame) Plane(i int) []byte {
	if f.IsNull() || i < 0 || i >= MaxPlanes {
		return nil
	}
	return f.data[i]
}

func (f *Frame) Linesize(i int) int {
	if f.IsNull() || i < 0 || i >= MaxPlanes {
		return 0
	}
	return f.linesize[i]
}

func (f *Frame) Width() int {
	if f.IsNull() {
		return 0
	}
	return f.width
}

func (f *Frame) Height() int {
	if f.IsNull() {
		return 0
	}
	return f.height
}

func (f *Frame) PixelFormat() PixelFormat {
	if f.IsNull() {
		return PixelFormatNone
	}
	return f.format
}

func (f *Frame) Pts() int64 {
	if f.IsNull() {
		return 0
	}
	return f.pts
}

func (f *Frame) SetPts(v int64) {
	if !f.IsNull() {
		f.pts = v
	}
}

func (f *Frame) PktDts() int64 {
	if f.IsNull() {
		return 0
	}
	return f.pktDts
}

func (f *Frame) SetPktDts(v int64) {
	if !f.IsNull() {
		f.pktDts = v
	}
}

func (f *Frame) PictureType() PictureType {
	if f.IsNull() {
		return PictureTypeNone
	}
	return f.pictureType
}

func (f *Frame) SetPictureType(t PictureType) {
	if !f.IsNull() {
		f.pictureType = t
	}
}

// RowsAvailable is the number of complete rows that plane 0 actually holds.
func (f *Frame) RowsAvailable() int {
	if f.IsNull() || f.linesize[0] <= 0 {
		return 0
	}
	rows := len(f.data[0]) / f.linesize[0]
	if rows > f.height {
		rows = f.height
	}
	return rows
}

package codec

import (
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

var ErrShortPacket = errors.New("packet smaller than picture")

func init() {
	RegisterDecoder(av.CodecIDRawVideo, newRawVideoDecoder)
}

// rawVideoDecoder unpacks uncompressed pictures. Frames reference the packet
// payload instead of copying it.
type rawVideoDecoder struct {
	av.Resource

	width   int
	height  int
	format  av.PixelFormat
	pending *av.Frame
	flushed bool
}

func newRawVideoDecoder(params av.CodecParameters) (Decoder, error) {
	if params.Width <= 0 || params.Height <= 0 {
		return nil, errors.Wrapf(av.ErrInvalidDimensions, "%dx%d", params.Width, params.Height)
	}
	if params.PixelFormat.Planes() == 0 {
		return nil, errors.Wrapf(av.ErrUnknownPixelFormat, "rawvideo %s", params.PixelFormat)
	}
	d := &rawVideoDecoder{width: params.Width, height: params.Height, format: params.PixelFormat}
	d.Track(av.KindDecoder)
	return d, nil
}

func (d *rawVideoDecoder) Name() string { return "rawvideo" }

func (d *rawVideoDecoder) SendPacket(pkt *av.Packet) error {
	if d.Released() {
		return ErrNotOpen
	}
	if d.flushed {
		return av.ErrEOF
	}
	if pkt.IsNull() {
		d.flushed = true
		return nil
	}
	if d.pending != nil {
		return av.ErrAgain
	}

	data := pkt.Data()
	need := d.format.BufferSize(d.width, d.height)
	if len(data) < need {
		return errors.Wrapf(ErrShortPacket, "got %d bytes, want %d", len(data), need)
	}

	f := av.AllocFrame()
	f.SetGeometry(d.width, d.height, d.format)
	off := 0
	for i := 0; i < d.format.Planes(); i++ {
		ls, rows := d.format.PlaneSize(i, d.width, d.height)
		f.SetPlane(i, data[off:off+ls*rows], ls)
		off += ls * rows
	}
	f.SetPts(pkt.Pts())
	f.SetPktDts(pkt.Dts())
	if pkt.KeyFrame() {
		f.SetPictureType(av.PictureTypeI)
	}
	d.pending = f
	return nil
}

func (d *rawVideoDecoder) ReceiveFrame() (*av.Frame, error) {
	if d.Released() {
		return nil, ErrNotOpen
	}
	if d.pending != nil {
		f := d.pending
		d.pending = nil
		return f, nil
	}
	if d.flushed {
		return nil, av.ErrEOF
	}
	return nil, av.ErrAgain
}

func (d *rawVideoDecoder) Close() error {
	if d.Release() {
		d.pending.Free()
		d.pending = nil
	}
	return nil
}

//go:build ffmpeg

package ffx

import (
	"github.com/asticode/go-astiav"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
)

// decoder wraps a libavcodec decoder. Pictures in pixel formats without a
// native equivalent are converted to yuv420p before they leave the decoder.
type decoder struct {
	av.Resource

	cc    *astiav.CodecContext
	name  string
	pkt   *astiav.Packet
	frame *astiav.Frame
	conv  *astiav.Frame
	sws   *astiav.SoftwareScaleContext
}

func openDecoder(params av.CodecParameters) (codec.Decoder, error) {
	cp, _ := params.Opaque.(*astiav.CodecParameters)
	id := toCodecID(params.CodecID)
	if cp != nil {
		id = cp.CodecID()
	}
	c := astiav.FindDecoder(id)
	if c == nil {
		return nil, errors.Wrapf(codec.ErrDecoderNotFound, "libav %q", params.CodecID)
	}
	cc := astiav.AllocCodecContext(c)
	if cc == nil {
		return nil, errors.New("failed to allocate decoder context")
	}
	if cp != nil {
		if err := cp.ToCodecContext(cc); err != nil {
			cc.Free()
			return nil, errors.Wrap(err, "failed to apply stream parameters")
		}
	} else {
		cc.SetWidth(params.Width)
		cc.SetHeight(params.Height)
		if pf, err := toPixelFormat(params.PixelFormat); err == nil {
			cc.SetPixelFormat(pf)
		}
	}
	if err := cc.Open(c, nil); err != nil {
		cc.Free()
		return nil, errors.Wrapf(err, "failed to open decoder %s", c.Name())
	}

	d := &decoder{cc: cc, name: c.Name(), pkt: astiav.AllocPacket(), frame: astiav.AllocFrame()}
	d.Track(av.KindDecoder)
	return d, nil
}

func (d *decoder) Name() string { return d.name }

func (d *decoder) SendPacket(pkt *av.Packet) error {
	if d.Released() {
		return codec.ErrNotOpen
	}
	if pkt.IsNull() {
		return translate(d.cc.SendPacket(nil))
	}
	p, err := toPacket(pkt)
	if err != nil {
		return err
	}
	defer p.Free()
	return translate(d.cc.SendPacket(p))
}

func (d *decoder) ReceiveFrame() (*av.Frame, error) {
	if d.Released() {
		return nil, codec.ErrNotOpen
	}
	if err := d.cc.ReceiveFrame(d.frame); err != nil {
		return nil, translate(err)
	}
	defer d.frame.Unref()

	src := d.frame
	if fromPixelFormat(src.PixelFormat()) == av.PixelFormatNone {
		conv, err := d.toYUV(src)
		if err != nil {
			return nil, err
		}
		src = conv
	}
	return fromFrame(src)
}

// toYUV converts src into the decoder's conversion frame.
func (d *decoder) toYUV(src *astiav.Frame) (*astiav.Frame, error) {
	if d.sws == nil {
		flags := astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear, astiav.SoftwareScaleContextFlagAccurateRnd)
		sws, err := astiav.CreateSoftwareScaleContext(src.Width(), src.Height(), src.PixelFormat(),
			src.Width(), src.Height(), astiav.PixelFormatYuv420P, flags)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to convert %s", src.PixelFormat())
		}
		d.sws = sws
		d.conv = astiav.AllocFrame()
	}
	d.conv.Unref()
	d.conv.SetWidth(src.Width())
	d.conv.SetHeight(src.Height())
	d.conv.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := d.sws.ScaleFrame(src, d.conv); err != nil {
		return nil, errors.Wrap(err, "failed to convert frame")
	}
	d.conv.SetPts(src.Pts())
	return d.conv, nil
}

func (d *decoder) Close() error {
	if !d.Release() {
		return nil
	}
	if d.sws != nil {
		d.sws.Free()
		d.conv.Free()
	}
	d.frame.Free()
	d.pkt.Free()
	d.cc.Free()
	return nil
}

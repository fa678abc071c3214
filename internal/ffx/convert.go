//go:build ffmpeg

package ffx

import (
	"github.com/asticode/go-astiav"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

func toRational(r av.Rational) astiav.Rational { return astiav.NewRational(r.Num, r.Den) }

func fromRational(r astiav.Rational) av.Rational { return av.NewRational(r.Num(), r.Den()) }

var pixelFormats = map[av.PixelFormat]astiav.PixelFormat{
	av.PixelFormatYUV420P: astiav.PixelFormatYuv420P,
	av.PixelFormatRGBA:    astiav.PixelFormatRgba,
	av.PixelFormatBGRA:    astiav.PixelFormatBgra,
	av.PixelFormatBGR0:    astiav.PixelFormatBgr0,
}

func toPixelFormat(pf av.PixelFormat) (astiav.PixelFormat, error) {
	if p, ok := pixelFormats[pf]; ok {
		return p, nil
	}
	return astiav.PixelFormatNone, errors.Wrapf(av.ErrUnknownPixelFormat, "%s", pf)
}

func fromPixelFormat(p astiav.PixelFormat) av.PixelFormat {
	for pf, ap := range pixelFormats {
		if ap == p {
			return pf
		}
	}
	return av.PixelFormatNone
}

var codecIDs = map[astiav.CodecID]av.CodecID{
	astiav.CodecIDRawvideo: av.CodecIDRawVideo,
	astiav.CodecIDMjpeg:    av.CodecIDMJPEG,
	astiav.CodecIDH264:     av.CodecIDH264,
}

// fromCodecID keeps the libav codec name for codecs without a native id.
func fromCodecID(id astiav.CodecID) av.CodecID {
	if c, ok := codecIDs[id]; ok {
		return c
	}
	return av.CodecID(id.String())
}

func toCodecID(id av.CodecID) astiav.CodecID {
	for aid, c := range codecIDs {
		if c == id {
			return aid
		}
	}
	if c := astiav.FindDecoderByName(string(id)); c != nil {
		return c.ID()
	}
	return astiav.CodecIDNone
}

func fromMediaType(t astiav.MediaType) av.MediaType {
	switch t {
	case astiav.MediaTypeVideo:
		return av.MediaTypeVideo
	case astiav.MediaTypeAudio:
		return av.MediaTypeAudio
	case astiav.MediaTypeData:
		return av.MediaTypeData
	}
	return av.MediaTypeUnknown
}

// translate maps the libav control signals onto av.ErrAgain and av.ErrEOF.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return av.ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return av.ErrEOF
	}
	return err
}

// fromPacket copies a libav packet into a new owned packet.
func fromPacket(p *astiav.Packet) *av.Packet {
	out := av.AllocPacket()
	out.SetData(append([]byte(nil), p.Data()...))
	out.SetStreamIndex(p.StreamIndex())
	out.SetPts(p.Pts())
	out.SetDts(p.Dts())
	out.SetDuration(p.Duration())
	out.SetKeyFrame(p.Flags().Has(astiav.PacketFlagKey))
	return out
}

// toPacket copies pkt into a libav packet the caller must free.
func toPacket(pkt *av.Packet) (*astiav.Packet, error) {
	out := astiav.AllocPacket()
	if out == nil {
		return nil, errors.New("failed to allocate packet")
	}
	if err := out.FromData(pkt.Data()); err != nil {
		out.Free()
		return nil, errors.Wrap(err, "failed to copy packet data")
	}
	out.SetStreamIndex(pkt.StreamIndex())
	out.SetPts(pkt.Pts())
	out.SetDts(pkt.Dts())
	out.SetDuration(pkt.Duration())
	if pkt.KeyFrame() {
		out.SetFlags(out.Flags().Add(astiav.PacketFlagKey))
	}
	return out, nil
}

// fromFrame copies a decoded libav frame into a new owned frame.
func fromFrame(f *astiav.Frame) (*av.Frame, error) {
	pf := fromPixelFormat(f.PixelFormat())
	if pf == av.PixelFormatNone {
		return nil, errors.Wrapf(av.ErrUnknownPixelFormat, "libav %s", f.PixelFormat())
	}
	buf, err := f.Data().Bytes(1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to copy frame data")
	}
	out := av.AllocFrame()
	if err := setPacked(out, buf, f.Width(), f.Height(), pf); err != nil {
		out.Free()
		return nil, err
	}
	out.SetPts(f.Pts())
	out.SetPktDts(f.PktDts())
	return out, nil
}

// toFrame copies f into a libav frame the caller must free. The picture type
// is left unset so encoders pick their own.
func toFrame(f *av.Frame) (*astiav.Frame, error) {
	pf, err := toPixelFormat(f.PixelFormat())
	if err != nil {
		return nil, err
	}
	buf, err := packPlanes(f)
	if err != nil {
		return nil, err
	}
	out := astiav.AllocFrame()
	out.SetWidth(f.Width())
	out.SetHeight(f.Height())
	out.SetPixelFormat(pf)
	if err := out.AllocBuffer(0); err != nil {
		out.Free()
		return nil, errors.Wrap(err, "failed to allocate frame buffer")
	}
	if err := out.Data().SetBytes(buf, 1); err != nil {
		out.Free()
		return nil, errors.Wrap(err, "failed to fill frame")
	}
	out.SetPts(f.Pts())
	out.SetPictureType(astiav.PictureTypeNone)
	return out, nil
}

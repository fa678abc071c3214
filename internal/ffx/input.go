//go:build ffmpeg

package ffx

import (
	"context"

	"github.com/asticode/go-astiav"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/capture"
)

// input is a libavformat demuxer, usually a libavdevice grabber.
type input struct {
	av.Resource

	name    string
	fc      *astiav.FormatContext
	pkt     *astiav.Packet
	streams []*av.Stream
}

func openerFor(name string) capture.Opener {
	return func(_ context.Context, url string, opts capture.Options) (capture.Input, error) {
		return openInput(name, url, opts)
	}
}

// openInput opens url with the named input format, or lets libavformat probe
// it when name is empty. Options go to the demuxer as a dictionary.
func openInput(name, url string, opts capture.Options) (*input, error) {
	var ifmt *astiav.InputFormat
	if name != "" {
		if ifmt = astiav.FindInputFormat(name); ifmt == nil {
			return nil, errors.Wrapf(capture.ErrUnknownFormat, "%q is not available in this libavdevice", name)
		}
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("failed to allocate format context")
	}
	d := astiav.NewDictionary()
	defer d.Free()
	for k, v := range opts {
		if err := d.Set(k, v, 0); err != nil {
			fc.Free()
			return nil, errors.Wrapf(err, "failed to set option %s", k)
		}
	}
	if err := fc.OpenInput(url, ifmt, d); err != nil {
		fc.Free()
		return nil, errors.Wrap(err, "failed to open input")
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, errors.Wrap(err, "failed to find stream info")
	}

	in := &input{name: name, fc: fc, pkt: astiav.AllocPacket()}
	if in.name == "" {
		in.name = ProbeFormat
	}
	for _, s := range fc.Streams() {
		in.streams = append(in.streams, fromStream(s))
	}
	in.Track(av.KindInput)
	return in, nil
}

func fromStream(s *astiav.Stream) *av.Stream {
	cp := s.CodecParameters()
	rate := s.AvgFrameRate()
	if rate.Num() == 0 {
		rate = s.RFrameRate()
	}
	st := &av.Stream{
		Index:       s.Index(),
		TimeBase:    fromRational(s.TimeBase()),
		FrameRate:   fromRational(rate),
		AttachedPic: s.DispositionFlags().Has(astiav.DispositionFlagAttachedPic),
	}
	st.Params = av.CodecParameters{
		MediaType:         fromMediaType(cp.MediaType()),
		CodecID:           fromCodecID(cp.CodecID()),
		Width:             cp.Width(),
		Height:            cp.Height(),
		PixelFormat:       fromPixelFormat(cp.PixelFormat()),
		SampleAspectRatio: fromRational(cp.SampleAspectRatio()),
		BitRate:           cp.BitRate(),
		TimeBase:          st.TimeBase,
		FrameRate:         st.FrameRate,
		ExtraData:         cp.ExtraData(),
		Opaque:            cp,
	}
	return st
}

func (in *input) Format() string        { return in.name }
func (in *input) Streams() []*av.Stream { return in.streams }

// ReadPacket blocks until the device delivers the next packet.
func (in *input) ReadPacket(ctx context.Context) (*av.Packet, error) {
	if in.Released() {
		return nil, av.ErrEOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.fc.ReadFrame(in.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil, av.ErrEOF
		}
		return nil, errors.Wrap(err, "failed to read frame")
	}
	defer in.pkt.Unref()
	return fromPacket(in.pkt), nil
}

func (in *input) Close() error {
	if !in.Release() {
		return nil
	}
	in.pkt.Free()
	in.fc.CloseInput()
	in.fc.Free()
	return nil
}

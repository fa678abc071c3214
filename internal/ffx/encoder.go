//go:build ffmpeg

package ffx

import (
	"strconv"

	"github.com/asticode/go-astiav"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

// encoder wraps a libavcodec encoder selected by name.
type encoder struct {
	av.Resource

	name   string
	codec  *astiav.Codec
	cfg    codec.EncoderConfig
	cc     *astiav.CodecContext
	pkt    *astiav.Packet
	extra  []byte
	opened bool
}

func findEncoder(name string) (codec.Encoder, error) {
	c := astiav.FindEncoderByName(name)
	if c == nil {
		return nil, errors.Wrapf(codec.ErrEncoderNotFound, "libav %q", name)
	}
	e := &encoder{name: name, codec: c}
	e.Track(av.KindEncoder)
	return e, nil
}

func (e *encoder) Name() string                 { return e.name }
func (e *encoder) CodecID() av.CodecID          { return fromCodecID(e.codec.ID()) }
func (e *encoder) Config() *codec.EncoderConfig { return &e.cfg }

// Open applies the configuration. Timestamps count ticks of 1/den of the
// configured time base, matching the output stream. Preset and rate control
// bounds go through the options dictionary so encoders without them ignore
// them.
func (e *encoder) Open() error {
	if e.Released() {
		return codec.ErrNotOpen
	}
	if e.opened {
		return codec.ErrAlreadyOpen
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	pf, err := toPixelFormat(e.cfg.PixelFormat)
	if err != nil {
		return err
	}

	cc := astiav.AllocCodecContext(e.codec)
	if cc == nil {
		return errors.New("failed to allocate encoder context")
	}
	cc.SetPixelFormat(pf)
	cc.SetWidth(e.cfg.Width)
	cc.SetHeight(e.cfg.Height)
	if !e.cfg.SampleAspectRatio.IsZero() {
		cc.SetSampleAspectRatio(toRational(e.cfg.SampleAspectRatio))
	}
	cc.SetTimeBase(astiav.NewRational(1, e.cfg.TimeBase.Den))
	cc.SetFramerate(toRational(e.cfg.FrameRate))
	cc.SetBitRate(e.cfg.BitRate)
	if e.cfg.Flags.Has(av.CodecFlagGlobalHeader) {
		cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	d := astiav.NewDictionary()
	defer d.Free()
	set := func(k, v string) {
		if err := d.Set(k, v, 0); err != nil {
			util.GetLogger().Warn("Failed to set encoder option", "key", k, "error", err)
		}
	}
	if e.cfg.Preset != "" {
		set("preset", e.cfg.Preset)
	}
	if e.cfg.RCBufferSize > 0 {
		set("bufsize", strconv.FormatInt(e.cfg.RCBufferSize, 10))
	}
	if e.cfg.RCMaxRate > 0 {
		set("maxrate", strconv.FormatInt(e.cfg.RCMaxRate, 10))
	}
	if e.cfg.RCMinRate > 0 {
		set("minrate", strconv.FormatInt(e.cfg.RCMinRate, 10))
	}
	for k, v := range e.cfg.Options {
		set(k, v)
	}

	if err := cc.Open(e.codec, d); err != nil {
		cc.Free()
		return errors.Wrapf(err, "failed to open encoder %s", e.name)
	}

	cp := astiav.AllocCodecParameters()
	defer cp.Free()
	if err := cp.FromCodecContext(cc); err == nil {
		e.extra = append([]byte(nil), cp.ExtraData()...)
	}
	e.cc = cc
	e.pkt = astiav.AllocPacket()
	e.opened = true
	util.GetLogger().Debug("libav encoder opened", "encoder", e.name, "extradata", len(e.extra))
	return nil
}

// Parameters carries the codec context as the opaque handle once open, so a
// libav muxer can copy every field.
func (e *encoder) Parameters() av.CodecParameters {
	p := av.CodecParameters{
		MediaType:         av.MediaTypeVideo,
		CodecID:           e.CodecID(),
		Width:             e.cfg.Width,
		Height:            e.cfg.Height,
		PixelFormat:       e.cfg.PixelFormat,
		SampleAspectRatio: e.cfg.SampleAspectRatio,
		BitRate:           e.cfg.BitRate,
		TimeBase:          e.cfg.TimeBase,
		FrameRate:         e.cfg.FrameRate,
		Flags:             e.cfg.Flags,
		ExtraData:         e.extra,
	}
	if e.cc != nil {
		p.Opaque = e.cc
	}
	return p
}

func (e *encoder) SendFrame(f *av.Frame) error {
	if e.Released() || !e.opened {
		return codec.ErrNotOpen
	}
	if f.IsNull() {
		return translate(e.cc.SendFrame(nil))
	}
	fr, err := toFrame(f)
	if err != nil {
		return err
	}
	defer fr.Free()
	return translate(e.cc.SendFrame(fr))
}

func (e *encoder) ReceivePacket() (*av.Packet, error) {
	if e.Released() || !e.opened {
		return nil, codec.ErrNotOpen
	}
	if err := e.cc.ReceivePacket(e.pkt); err != nil {
		return nil, translate(err)
	}
	defer e.pkt.Unref()
	return fromPacket(e.pkt), nil
}

func (e *encoder) Close() error {
	if !e.Release() {
		return nil
	}
	if e.cc != nil {
		e.pkt.Free()
		e.cc.Free()
	}
	return nil
}

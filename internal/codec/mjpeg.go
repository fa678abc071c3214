package codec

import (
	"bytes"
	"image"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

const (
	MJPEGEncoderName = "mjpeg"

	minQuality  = 10
	maxQuality  = 95
	qualityStep = 5
)

// presetQuality maps x264 style preset names onto a starting JPEG quality.
var presetQuality = map[string]int{
	"ultrafast": 60,
	"superfast": 65,
	"veryfast":  70,
	"faster":    75,
	"fast":      80,
	"medium":    85,
	"slow":      88,
	"slower":    90,
	"veryslow":  92,
}

func init() {
	RegisterEncoder(MJPEGEncoderName, newMJPEGEncoder)
}

// mjpegEncoder compresses every frame into an independent JPEG picture.
// When a bit rate is configured, the quality is nudged after each frame
// toward the per-frame byte budget.
type mjpegEncoder struct {
	av.Resource

	cfg     EncoderConfig
	opened  bool
	flushed bool
	quality int
	budget  int
	queue   []*av.Packet
}

func newMJPEGEncoder() (Encoder, error) {
	e := &mjpegEncoder{cfg: EncoderConfig{
		PixelFormat:       av.PixelFormatYUV420P,
		SampleAspectRatio: av.NewRational(1, 1),
		Preset:            "medium",
	}}
	e.Track(av.KindEncoder)
	return e, nil
}

func (e *mjpegEncoder) Name() string           { return MJPEGEncoderName }
func (e *mjpegEncoder) CodecID() av.CodecID    { return av.CodecIDMJPEG }
func (e *mjpegEncoder) Config() *EncoderConfig { return &e.cfg }

func (e *mjpegEncoder) Open() error {
	if e.Released() {
		return ErrNotOpen
	}
	if e.opened {
		return ErrAlreadyOpen
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	switch e.cfg.PixelFormat {
	case av.PixelFormatYUV420P, av.PixelFormatRGBA:
	default:
		return errors.Wrapf(ErrInvalidConfig, "mjpeg does not accept %s", e.cfg.PixelFormat)
	}

	e.quality = 85
	if q, ok := presetQuality[e.cfg.Preset]; ok {
		e.quality = q
	}
	if v, ok := e.cfg.Options["quality"]; ok {
		q, err := strconv.Atoi(v)
		if err != nil || q < 1 || q > 100 {
			return errors.Wrapf(ErrInvalidConfig, "quality %q", v)
		}
		e.quality = q
	}

	rate := e.cfg.BitRate
	if e.cfg.RCMaxRate > 0 && (rate == 0 || e.cfg.RCMaxRate < rate) {
		rate = e.cfg.RCMaxRate
	}
	if rate > 0 {
		e.budget = int(rate * int64(e.cfg.TimeBase.Num) / int64(e.cfg.TimeBase.Den) / 8)
	}

	e.opened = true
	util.GetLogger().Debug("MJPEG encoder opened",
		"size", strconv.Itoa(e.cfg.Width)+"x"+strconv.Itoa(e.cfg.Height),
		"quality", e.quality, "frameBudget", e.budget)
	return nil
}

func (e *mjpegEncoder) Parameters() av.CodecParameters {
	return av.CodecParameters{
		MediaType:         av.MediaTypeVideo,
		CodecID:           av.CodecIDMJPEG,
		Width:             e.cfg.Width,
		Height:            e.cfg.Height,
		PixelFormat:       e.cfg.PixelFormat,
		SampleAspectRatio: e.cfg.SampleAspectRatio,
		BitRate:           e.cfg.BitRate,
		TimeBase:          e.cfg.TimeBase,
		FrameRate:         e.cfg.FrameRate,
		Flags:             e.cfg.Flags,
	}
}

func (e *mjpegEncoder) SendFrame(f *av.Frame) error {
	if e.Released() || !e.opened {
		return ErrNotOpen
	}
	if e.flushed {
		return av.ErrEOF
	}
	if f.IsNull() {
		e.flushed = true
		return nil
	}
	if f.Width() != e.cfg.Width || f.Height() != e.cfg.Height || f.PixelFormat() != e.cfg.PixelFormat {
		return errors.Wrapf(ErrInvalidConfig, "frame %dx%d %s does not match encoder %dx%d %s",
			f.Width(), f.Height(), f.PixelFormat(), e.cfg.Width, e.cfg.Height, e.cfg.PixelFormat)
	}

	img, err := frameImage(f)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return errors.Wrap(err, "jpeg encode")
	}
	e.adjustQuality(buf.Len())

	pkt := av.AllocPacket()
	pkt.SetData(buf.Bytes())
	pkt.SetPts(f.Pts())
	pkt.SetDts(f.Pts())
	pkt.SetDuration(int64(e.cfg.TimeBase.Num))
	pkt.SetKeyFrame(true)
	e.queue = append(e.queue, pkt)
	return nil
}

func (e *mjpegEncoder) adjustQuality(size int) {
	if e.budget <= 0 {
		return
	}
	switch {
	case size > e.budget*11/10 && e.quality > minQuality:
		e.quality = max(minQuality, e.quality-qualityStep)
	case size < e.budget*9/10 && e.quality < maxQuality:
		e.quality = min(maxQuality, e.quality+qualityStep)
	}
}

func (e *mjpegEncoder) ReceivePacket() (*av.Packet, error) {
	if e.Released() || !e.opened {
		return nil, ErrNotOpen
	}
	if len(e.queue) > 0 {
		pkt := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		return pkt, nil
	}
	if e.flushed {
		return nil, av.ErrEOF
	}
	return nil, av.ErrAgain
}

func (e *mjpegEncoder) Close() error {
	if e.Release() {
		for _, pkt := range e.queue {
			pkt.Free()
		}
		e.queue = nil
	}
	return nil
}

// frameImage wraps the frame planes in an image.Image without copying.
func frameImage(f *av.Frame) (image.Image, error) {
	rect := image.Rect(0, 0, f.Width(), f.Height())
	if f.RowsAvailable() < f.Height() {
		return nil, errors.Wrapf(av.ErrInvalidDimensions, "frame holds %d of %d rows", f.RowsAvailable(), f.Height())
	}
	switch f.PixelFormat() {
	case av.PixelFormatYUV420P:
		return &image.YCbCr{
			Y:              f.Plane(0),
			Cb:             f.Plane(1),
			Cr:             f.Plane(2),
			YStride:        f.Linesize(0),
			CStride:        f.Linesize(1),
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil
	case av.PixelFormatRGBA:
		return &image.RGBA{Pix: f.Plane(0), Stride: f.Linesize(0), Rect: rect}, nil
	}
	return nil, errors.Wrapf(av.ErrUnknownPixelFormat, "%s", f.PixelFormat())
}

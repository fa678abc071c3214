package capture

import (
	"context"
	"image"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

// ScreenFormat grabs an active display through the platform screenshot API.
const ScreenFormat = "screen"

var ErrNoDisplay = errors.New("no active display")

func init() {
	Register(ScreenFormat, openScreen)
}

// screenTimeBase matches x11grab, which stamps packets with wall-clock
// microseconds.
var screenTimeBase = av.NewRational(1, 1000000)

type grabber func(image.Rectangle) (*image.RGBA, error)

type screenSource struct {
	av.Resource

	stream *av.Stream
	rect   image.Rectangle
	grab   grabber
	ticker *time.Ticker
	start  time.Time
}

// openScreen accepts the display index as url (":0.0" style suffixes and the
// "display" option are both honored), plus framerate, video_size, offset_x and
// offset_y options.
func openScreen(_ context.Context, url string, opts Options) (Input, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, ErrNoDisplay
	}
	display, err := opts.Int("display", displayFromURL(url))
	if err != nil {
		return nil, err
	}
	if display < 0 || display >= n {
		return nil, errors.Wrapf(ErrNoDisplay, "display %d of %d", display, n)
	}

	bounds := screenshot.GetDisplayBounds(display)
	rect, err := captureRect(bounds, opts)
	if err != nil {
		return nil, err
	}
	rate, err := opts.FrameRate("framerate", av.NewRational(30000, 1001))
	if err != nil {
		return nil, err
	}

	s := newScreenSource(rect, rate, screenshot.CaptureRect)
	s.Track(av.KindInput)
	util.GetLogger().Debug("Screen capture opened",
		"display", display, "rect", rect.String(), "framerate", rate.String())
	return s, nil
}

func newScreenSource(rect image.Rectangle, rate av.Rational, grab grabber) *screenSource {
	return &screenSource{
		stream: &av.Stream{
			Index:     0,
			TimeBase:  screenTimeBase,
			FrameRate: rate,
			Params: av.CodecParameters{
				MediaType:         av.MediaTypeVideo,
				CodecID:           av.CodecIDRawVideo,
				Width:             rect.Dx(),
				Height:            rect.Dy(),
				PixelFormat:       av.PixelFormatRGBA,
				SampleAspectRatio: av.NewRational(1, 1),
				TimeBase:          screenTimeBase,
				FrameRate:         rate,
			},
		},
		rect:   rect,
		grab:   grab,
		ticker: time.NewTicker(time.Duration(float64(time.Second) / rate.Float64())),
		start:  time.Now(),
	}
}

func captureRect(bounds image.Rectangle, opts Options) (image.Rectangle, error) {
	w, h, err := opts.VideoSize("video_size")
	if err != nil {
		return image.Rectangle{}, err
	}
	x, err := opts.Int("offset_x", 0)
	if err != nil {
		return image.Rectangle{}, err
	}
	y, err := opts.Int("offset_y", 0)
	if err != nil {
		return image.Rectangle{}, err
	}
	if w == 0 {
		w, h = bounds.Dx()-x, bounds.Dy()-y
	}
	rect := image.Rect(bounds.Min.X+x, bounds.Min.Y+y, bounds.Min.X+x+w, bounds.Min.Y+y+h)
	if rect.Empty() || !rect.In(bounds) {
		return image.Rectangle{}, errors.Errorf("capture area %s outside display %s", rect, bounds)
	}
	return rect, nil
}

func displayFromURL(url string) int {
	// ":0.1" selects screen 1 of display 0, as with X11 names.
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '.' {
			n := 0
			for _, c := range url[i+1:] {
				if c < '0' || c > '9' {
					return 0
				}
				n = n*10 + int(c-'0')
			}
			return n
		}
	}
	return 0
}

func (s *screenSource) Format() string        { return ScreenFormat }
func (s *screenSource) Streams() []*av.Stream { return []*av.Stream{s.stream} }

func (s *screenSource) ReadPacket(ctx context.Context) (*av.Packet, error) {
	if s.Released() {
		return nil, av.ErrEOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}

	img, err := s.grab(s.rect)
	if err != nil {
		return nil, errors.Wrap(err, "grab screen")
	}
	ts := time.Since(s.start).Microseconds()

	pkt := av.AllocPacket()
	pkt.SetData(packRGBA(img))
	pkt.SetStreamIndex(s.stream.Index)
	pkt.SetPts(ts)
	pkt.SetDts(ts)
	pkt.SetKeyFrame(true)
	return pkt, nil
}

func (s *screenSource) Close() error {
	if s.Release() {
		s.ticker.Stop()
	}
	return nil
}

// packRGBA returns the image pixels without row padding.
func packRGBA(img *image.RGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if img.Stride == w*4 && len(img.Pix) == w*h*4 {
		return img.Pix
	}
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		copy(out[y*w*4:(y+1)*w*4], img.Pix[y*img.Stride:y*img.Stride+w*4])
	}
	return out
}

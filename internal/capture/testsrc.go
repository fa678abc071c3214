package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

// TestSourceFormat is a synthetic input producing a moving colour-bar pattern.
const TestSourceFormat = "testsrc"

func init() {
	Register(TestSourceFormat, openTestSource)
}

var testBars = [][3]byte{
	{235, 235, 235}, {235, 235, 16}, {16, 235, 235}, {16, 235, 16},
	{235, 16, 235}, {235, 16, 16}, {16, 16, 235}, {16, 16, 16},
}

type testSource struct {
	av.Resource

	stream   *av.Stream
	limit    int
	n        int
	ticker   *time.Ticker
	interval time.Duration
}

func openTestSource(_ context.Context, _ string, opts Options) (Input, error) {
	w, h, err := opts.VideoSize("video_size")
	if err != nil {
		return nil, err
	}
	if w == 0 {
		w, h = 320, 240
	}
	rate, err := opts.FrameRate("framerate", av.NewRational(24000, 1001))
	if err != nil {
		return nil, err
	}
	pf, err := av.ParsePixelFormat(opts.String("pixel_format", "rgba"))
	if err != nil {
		return nil, errors.Wrap(err, "option pixel_format")
	}
	limit, err := opts.Int("frames", 0)
	if err != nil {
		return nil, err
	}
	realtime, err := opts.Bool("realtime", false)
	if err != nil {
		return nil, err
	}

	s := &testSource{
		stream: &av.Stream{
			Index:     0,
			TimeBase:  rate.Invert(),
			FrameRate: rate,
			Params: av.CodecParameters{
				MediaType:         av.MediaTypeVideo,
				CodecID:           av.CodecIDRawVideo,
				Width:             w,
				Height:            h,
				PixelFormat:       pf,
				SampleAspectRatio: av.NewRational(1, 1),
				TimeBase:          rate.Invert(),
				FrameRate:         rate,
			},
		},
		limit: limit,
	}
	if realtime {
		s.interval = time.Duration(float64(time.Second) / rate.Float64())
		s.ticker = time.NewTicker(s.interval)
	}
	s.Track(av.KindInput)
	return s, nil
}

func (s *testSource) Format() string        { return TestSourceFormat }
func (s *testSource) Streams() []*av.Stream { return []*av.Stream{s.stream} }

func (s *testSource) ReadPacket(ctx context.Context) (*av.Packet, error) {
	if s.Released() {
		return nil, av.ErrEOF
	}
	if s.limit > 0 && s.n >= s.limit {
		return nil, av.ErrEOF
	}
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ticker.C:
		}
	}

	p := s.stream.Params
	buf := make([]byte, p.PixelFormat.BufferSize(p.Width, p.Height))
	drawTestPattern(buf, p.Width, p.Height, p.PixelFormat, s.n)

	pkt := av.AllocPacket()
	pkt.SetData(buf)
	pkt.SetStreamIndex(s.stream.Index)
	pkt.SetPts(int64(s.n))
	pkt.SetDts(int64(s.n))
	pkt.SetDuration(1)
	pkt.SetKeyFrame(true)
	s.n++
	return pkt, nil
}

func (s *testSource) Close() error {
	if s.Release() && s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}

// drawTestPattern fills a packed picture with colour bars scrolled by n pixels
// and a white box sliding across the top band.
func drawTestPattern(buf []byte, w, h int, pf av.PixelFormat, n int) {
	box := (n * 4) % w
	rgbAt := func(x, y int) (r, g, b byte) {
		if y < h/8 && x >= box && x < box+h/8 {
			return 255, 255, 255
		}
		c := testBars[((x+n)*len(testBars)/w)%len(testBars)]
		return c[0], c[1], c[2]
	}

	switch pf {
	case av.PixelFormatRGBA, av.PixelFormatBGRA, av.PixelFormatBGR0:
		for y := 0; y < h; y++ {
			row := buf[y*w*4:]
			for x := 0; x < w; x++ {
				r, g, b := rgbAt(x, y)
				if pf != av.PixelFormatRGBA {
					r, b = b, r
				}
				row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = r, g, b, 255
			}
		}
	case av.PixelFormatYUV420P:
		cw, ch := (w+1)/2, (h+1)/2
		yp, up, vp := buf[:w*h], buf[w*h:w*h+cw*ch], buf[w*h+cw*ch:]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b := rgbAt(x, y)
				yy, cb, cr := rgbToYCbCr(r, g, b)
				yp[y*w+x] = yy
				if x%2 == 0 && y%2 == 0 {
					up[(y/2)*cw+x/2] = cb
					vp[(y/2)*cw+x/2] = cr
				}
			}
		}
	}
}

func rgbToYCbCr(r, g, b byte) (byte, byte, byte) {
	ri, gi, bi := int(r), int(g), int(b)
	y := (66*ri + 129*gi + 25*bi + 128) >> 8
	cb := (-38*ri - 74*gi + 112*bi + 128) >> 8
	cr := (112*ri - 94*gi - 18*bi + 128) >> 8
	return byte(y + 16), byte(cb + 128), byte(cr + 128)
}

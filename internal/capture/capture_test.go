package capture

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

type staticInput struct {
	streams []*av.Stream
}

func (s *staticInput) Format() string                                 { return "static" }
func (s *staticInput) Streams() []*av.Stream                          { return s.streams }
func (s *staticInput) ReadPacket(context.Context) (*av.Packet, error) { return nil, av.ErrEOF }
func (s *staticInput) Close() error                                   { return nil }

func video(index, w, h int) *av.Stream {
	return &av.Stream{Index: index, Params: av.CodecParameters{
		MediaType: av.MediaTypeVideo, CodecID: av.CodecIDRawVideo, Width: w, Height: h,
	}}
}

func TestTestSourceProducesFramesThenEOF(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	ctx := context.Background()

	in, err := Open(ctx, TestSourceFormat, "", Options{"frames": "3", "video_size": "64x48"})
	require.NoError(t, err)

	streams := in.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, av.NewRational(1001, 24000), streams[0].TimeBase)
	assert.Equal(t, 64, streams[0].Params.Width)

	for i := 0; i < 3; i++ {
		pkt, err := in.ReadPacket(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(i), pkt.Pts())
		assert.Equal(t, 64*48*4, pkt.Size())
		pkt.Free()
	}
	_, err = in.ReadPacket(ctx)
	assert.ErrorIs(t, err, av.ErrEOF)

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	assert.Equal(t, int64(0), av.DefaultLedger.Snapshot().Since(base).Outstanding())
}

func TestTestSourceYUV(t *testing.T) {
	in, err := Open(context.Background(), TestSourceFormat, "", Options{
		"video_size": "7x5", "pixel_format": "yuv420p",
	})
	require.NoError(t, err)
	defer in.Close()

	pkt, err := in.ReadPacket(context.Background())
	require.NoError(t, err)
	defer pkt.Free()
	assert.Equal(t, av.PixelFormatYUV420P.BufferSize(7, 5), pkt.Size())
}

func TestRealtimeTestSourceHonorsCancel(t *testing.T) {
	in, err := Open(context.Background(), TestSourceFormat, "", Options{"realtime": "true", "framerate": "1"})
	require.NoError(t, err)
	defer in.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = in.ReadPacket(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenUnknownFormat(t *testing.T) {
	_, err := Open(context.Background(), "nope", "", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Contains(t, Formats(), TestSourceFormat)
	assert.Contains(t, Formats(), ScreenFormat)
}

func TestFindBestVideoStream(t *testing.T) {
	cover := video(0, 1920, 1080)
	cover.AttachedPic = true
	audio := &av.Stream{Index: 1, Params: av.CodecParameters{MediaType: av.MediaTypeAudio}}
	small := video(2, 640, 480)
	large := video(3, 1280, 720)
	tie := video(4, 1280, 720)
	in := &staticInput{streams: []*av.Stream{cover, audio, small, large, tie}}

	s, err := FindBestVideoStream(in, -1, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Index)

	s, err = FindBestVideoStream(in, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Index)

	_, err = FindBestVideoStream(in, 1, nil)
	assert.ErrorIs(t, err, ErrNoVideoStream)

	onlySmall := func(p av.CodecParameters) bool { return p.Width == 640 }
	s, err = FindBestVideoStream(in, -1, onlySmall)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Index)

	_, err = FindBestVideoStream(&staticInput{streams: []*av.Stream{audio}}, -1, nil)
	assert.ErrorIs(t, err, ErrNoVideoStream)
}

func TestOptions(t *testing.T) {
	o := Options{"framerate": "ntsc", "video_size": "1280x720", "n": "x", "fps": "29.97", "frac": "30000/1001"}

	r, err := o.FrameRate("framerate", av.Rational{})
	require.NoError(t, err)
	assert.Equal(t, av.NewRational(30000, 1001), r)

	r, err = o.FrameRate("fps", av.Rational{})
	require.NoError(t, err)
	assert.Equal(t, av.NewRational(30000, 1001), r)

	r, err = o.FrameRate("frac", av.Rational{})
	require.NoError(t, err)
	assert.Equal(t, av.NewRational(30000, 1001), r)

	r, err = o.FrameRate("missing", av.NewRational(25, 1))
	require.NoError(t, err)
	assert.Equal(t, av.NewRational(25, 1), r)

	w, h, err := o.VideoSize("video_size")
	require.NoError(t, err)
	assert.Equal(t, []int{1280, 720}, []int{w, h})

	_, err = o.Int("n", 0)
	assert.Error(t, err)
	_, _, err = Options{"s": "big"}.VideoSize("s")
	assert.Error(t, err)
}

func TestScreenSourceReadsGrabbedImage(t *testing.T) {
	rect := image.Rect(10, 10, 14, 12)
	grab := func(r image.Rectangle) (*image.RGBA, error) {
		// Stride wider than the picture to exercise repacking.
		img := &image.RGBA{Pix: make([]byte, 24*r.Dy()), Stride: 24, Rect: r}
		img.Pix[0] = 0xAB
		return img, nil
	}
	s := newScreenSource(rect, av.NewRational(1000, 1), grab)
	s.Track(av.KindInput)
	defer s.Close()

	pkt, err := s.ReadPacket(context.Background())
	require.NoError(t, err)
	defer pkt.Free()
	assert.Equal(t, 4*2*4, pkt.Size())
	assert.Equal(t, byte(0xAB), pkt.Data()[0])
	assert.Equal(t, screenTimeBase, s.Streams()[0].TimeBase)
}

func TestCaptureRect(t *testing.T) {
	bounds := image.Rect(0, 0, 1920, 1080)

	r, err := captureRect(bounds, Options{})
	require.NoError(t, err)
	assert.Equal(t, bounds, r)

	r, err = captureRect(bounds, Options{"video_size": "640x480", "offset_x": "100", "offset_y": "50"})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(100, 50, 740, 530), r)

	_, err = captureRect(bounds, Options{"video_size": "640x480", "offset_x": "1500"})
	assert.Error(t, err)

	assert.Equal(t, 1, displayFromURL(":0.1"))
	assert.Equal(t, 0, displayFromURL(""))
}

package transcode

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
)

const (
	testWidth  = 16
	testHeight = 8
)

var (
	errCorrupt   = errors.New("corrupt packet")
	errReadFault = errors.New("device unplugged")
	testTimeBase = av.NewRational(1001, 24000)
)

// fakeInput emits single-byte packets numbered from 1. total of 0 means
// endless.
type fakeInput struct {
	av.Resource
	streams []*av.Stream
	total   int
	reads   int
	// streamOf chooses the stream index of packet n.
	streamOf func(n int) int
	onRead   func(n int)
	failAt   int
	delay    time.Duration
}

func newFakeInput(total int) *fakeInput {
	in := &fakeInput{
		total: total,
		streams: []*av.Stream{{
			Index:     0,
			TimeBase:  testTimeBase,
			FrameRate: testTimeBase.Invert(),
			Params: av.CodecParameters{
				MediaType:   av.MediaTypeVideo,
				CodecID:     av.CodecIDRawVideo,
				Width:       testWidth,
				Height:      testHeight,
				PixelFormat: av.PixelFormatYUV420P,
			},
		}},
	}
	in.Track(av.KindInput)
	return in
}

func (in *fakeInput) Format() string        { return "fake" }
func (in *fakeInput) Streams() []*av.Stream { return in.streams }

func (in *fakeInput) ReadPacket(ctx context.Context) (*av.Packet, error) {
	if in.total > 0 && in.reads >= in.total {
		return nil, av.ErrEOF
	}
	if in.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(in.delay):
		}
	}
	in.reads++
	n := in.reads
	if in.onRead != nil {
		in.onRead(n)
	}
	if in.failAt > 0 && n == in.failAt {
		return nil, errReadFault
	}
	pkt := av.AllocPacket()
	pkt.SetData([]byte{byte(n)})
	if in.streamOf != nil {
		pkt.SetStreamIndex(in.streamOf(n))
	}
	// Capture-domain timestamps, deliberately unrelated to the output.
	pkt.SetPts(int64(n) * 33333)
	pkt.SetDts(int64(n) * 33333)
	return pkt, nil
}

func (in *fakeInput) Close() error {
	in.Release()
	return nil
}

// fakeDecoder turns every packet into framesPerPacket frames whose first luma
// byte is the packet number. Packets listed in failOn are rejected.
type fakeDecoder struct {
	av.Resource
	framesPerPacket int
	failOn          map[byte]bool
	pending         []*av.Frame
	flushed         bool
}

func newFakeDecoder(framesPerPacket int, failOn ...byte) *fakeDecoder {
	d := &fakeDecoder{framesPerPacket: framesPerPacket, failOn: map[byte]bool{}}
	for _, n := range failOn {
		d.failOn[n] = true
	}
	d.Track(av.KindDecoder)
	return d
}

func (d *fakeDecoder) Name() string { return "fake" }

func (d *fakeDecoder) SendPacket(pkt *av.Packet) error {
	if pkt.IsNull() {
		d.flushed = true
		return nil
	}
	if len(d.pending) > 0 {
		return av.ErrAgain
	}
	n := pkt.Data()[0]
	if d.failOn[n] {
		return errCorrupt
	}
	for i := 0; i < d.framesPerPacket; i++ {
		f, err := av.AllocFrameBuffer(testWidth, testHeight, av.PixelFormatYUV420P)
		if err != nil {
			return err
		}
		f.Plane(0)[0] = n
		f.Plane(0)[1] = byte(i)
		f.SetPts(pkt.Pts())
		f.SetPktDts(pkt.Dts())
		f.SetPictureType(av.PictureTypeI)
		d.pending = append(d.pending, f)
	}
	return nil
}

func (d *fakeDecoder) ReceiveFrame() (*av.Frame, error) {
	if len(d.pending) > 0 {
		f := d.pending[0]
		d.pending = d.pending[1:]
		return f, nil
	}
	if d.flushed {
		return nil, av.ErrEOF
	}
	return nil, av.ErrAgain
}

func (d *fakeDecoder) Close() error {
	if d.Release() {
		for _, f := range d.pending {
			f.Free()
		}
		d.pending = nil
	}
	return nil
}

// fakeEncoder emits one packet per frame, holding back the newest delay
// packets until flushed.
type fakeEncoder struct {
	av.Resource
	cfg        codec.EncoderConfig
	opened     bool
	delay      int
	failFrames map[int]bool
	sent       int
	pictures   []av.PictureType
	payloads   [][2]byte
	queue      []*av.Packet
	flushed    bool
}

func newFakeEncoder() *fakeEncoder {
	e := &fakeEncoder{failFrames: map[int]bool{}}
	e.cfg.TimeBase = testTimeBase
	e.Track(av.KindEncoder)
	return e
}

func (e *fakeEncoder) Name() string                 { return "fake" }
func (e *fakeEncoder) CodecID() av.CodecID          { return av.CodecIDMJPEG }
func (e *fakeEncoder) Config() *codec.EncoderConfig { return &e.cfg }
func (e *fakeEncoder) Open() error                  { e.opened = true; return nil }
func (e *fakeEncoder) Parameters() av.CodecParameters {
	return av.CodecParameters{CodecID: av.CodecIDMJPEG}
}

func (e *fakeEncoder) SendFrame(f *av.Frame) error {
	if f.IsNull() {
		e.flushed = true
		return nil
	}
	e.sent++
	if e.failFrames[e.sent] {
		return errors.New("encoder rejected frame")
	}
	e.pictures = append(e.pictures, f.PictureType())
	e.payloads = append(e.payloads, [2]byte{f.Plane(0)[0], f.Plane(0)[1]})
	pkt := av.AllocPacket()
	pkt.SetData([]byte{f.Plane(0)[0]})
	pkt.SetStreamIndex(5)
	pkt.SetPts(f.Pts())
	pkt.SetDts(f.PktDts())
	e.queue = append(e.queue, pkt)
	return nil
}

func (e *fakeEncoder) ReceivePacket() (*av.Packet, error) {
	if len(e.queue) > e.delay || (e.flushed && len(e.queue) > 0) {
		pkt := e.queue[0]
		e.queue = e.queue[1:]
		return pkt, nil
	}
	if e.flushed {
		return nil, av.ErrEOF
	}
	return nil, av.ErrAgain
}

func (e *fakeEncoder) Close() error {
	if e.Release() {
		for _, pkt := range e.queue {
			pkt.Free()
		}
		e.queue = nil
	}
	return nil
}

type writtenPacket struct {
	streamIndex int
	pts         int64
	dts         int64
	payload     byte
}

type fakeOutput struct {
	av.Resource
	packets  []writtenPacket
	trailers int
	failOn   map[int]bool
}

func newFakeOutput() *fakeOutput {
	o := &fakeOutput{failOn: map[int]bool{}}
	o.Track(av.KindOutput)
	return o
}

func (o *fakeOutput) WritePacket(pkt *av.Packet) error {
	defer pkt.Free()
	if o.failOn[len(o.packets)+1] {
		delete(o.failOn, len(o.packets)+1)
		return errors.New("disk full")
	}
	o.packets = append(o.packets, writtenPacket{
		streamIndex: pkt.StreamIndex(),
		pts:         pkt.Pts(),
		dts:         pkt.Dts(),
		payload:     pkt.Data()[0],
	})
	return nil
}

func (o *fakeOutput) WriteTrailer() error {
	o.trailers++
	return nil
}

func (o *fakeOutput) Close() error {
	o.Release()
	return nil
}

func (o *fakeOutput) pts() []int64 {
	out := make([]int64, 0, len(o.packets))
	for _, p := range o.packets {
		out = append(out, p.pts)
	}
	return out
}

func (o *fakeOutput) payloads() []byte {
	out := make([]byte, 0, len(o.packets))
	for _, p := range o.packets {
		out = append(out, p.payload)
	}
	return out
}

// failingScaler rejects the calls listed in failCalls.
type failingScaler struct {
	calls     int
	failCalls map[int]bool
	inner     interface {
		Scale(*av.Frame, int, int, av.PixelFormat) (*av.Frame, error)
		Close() error
	}
}

func (s *failingScaler) Scale(src *av.Frame, w, h int, pf av.PixelFormat) (*av.Frame, error) {
	s.calls++
	if s.failCalls[s.calls] {
		return nil, errors.New("scale rejected")
	}
	return s.inner.Scale(src, w, h, pf)
}

func (s *failingScaler) Close() error { return s.inner.Close() }

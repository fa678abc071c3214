// Package transcode drives captured packets through decode, scale, encode and
// mux on a single goroutine.
package transcode

import (
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
	"github.com/babelcloud/gbox/packages/xgrab/internal/metrics"
	"github.com/babelcloud/gbox/packages/xgrab/internal/scale"
)

// ErrSendRejected is returned when a codec refuses input although all of its
// output was drained.
var ErrSendRejected = errors.New("codec rejected input with empty output queue")

// DecodeStage wraps a decoder as submit/next. After Submit, call Next until it
// returns av.ErrAgain or av.ErrEOF.
type DecodeStage struct {
	dec codec.Decoder
}

func NewDecodeStage(dec codec.Decoder) *DecodeStage {
	return &DecodeStage{dec: dec}
}

// Submit hands pkt to the decoder. The packet stays owned by the caller. A nil
// packet starts draining the decoder.
func (s *DecodeStage) Submit(pkt *av.Packet) error {
	err := s.dec.SendPacket(pkt)
	if errors.Is(err, av.ErrAgain) {
		return ErrSendRejected
	}
	return err
}

// Next returns the next decoded frame, owned by the caller.
func (s *DecodeStage) Next() (*av.Frame, error) {
	f, err := s.dec.ReceiveFrame()
	if err != nil {
		return nil, err
	}
	metrics.FramesDecoded.Inc()
	return f, nil
}

// ScaleStage converts decoded frames to the encoder geometry.
type ScaleStage struct {
	scaler scale.Scaler
	width  int
	height int
	format av.PixelFormat
}

func NewScaleStage(s scale.Scaler, width, height int, format av.PixelFormat) *ScaleStage {
	return &ScaleStage{scaler: s, width: width, height: height, format: format}
}

// Scale returns a new frame; src is left untouched.
func (s *ScaleStage) Scale(src *av.Frame) (*av.Frame, error) {
	start := time.Now()
	dst, err := s.scaler.Scale(src, s.width, s.height, s.format)
	metrics.ScaleDuration.Observe(time.Since(start).Seconds())
	return dst, err
}

func (s *ScaleStage) Close() error { return s.scaler.Close() }

// EncodeStage owns the frame counter. Frames are restamped with
// counter × time_base.num before they reach the encoder, and every drained
// packet is tagged with the output stream index.
type EncodeStage struct {
	enc         codec.Encoder
	timeBase    av.Rational
	streamIndex int
	frames      int64
}

func NewEncodeStage(enc codec.Encoder, streamIndex int) *EncodeStage {
	return &EncodeStage{enc: enc, timeBase: enc.Config().TimeBase, streamIndex: streamIndex}
}

// Frames is the number of frames the encoder accepted so far.
func (s *EncodeStage) Frames() int64 { return s.frames }

// Submit stamps and sends f. The frame stays owned by the caller. The counter
// only advances when the encoder accepts the frame.
func (s *EncodeStage) Submit(f *av.Frame) error {
	if f.IsNull() {
		return av.ErrNullHandle
	}
	pts := s.frames * int64(s.timeBase.Num)
	f.SetPictureType(av.PictureTypeNone)
	f.SetPts(pts)
	f.SetPktDts(pts)

	start := time.Now()
	err := s.enc.SendFrame(f)
	metrics.EncodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	s.frames++
	metrics.FramesEncoded.Inc()
	return nil
}

// Flush signals end of stream; remaining packets are returned by Next.
func (s *EncodeStage) Flush() error {
	return s.enc.SendFrame(nil)
}

// Next returns the next encoded packet, owned by the caller.
func (s *EncodeStage) Next() (*av.Packet, error) {
	pkt, err := s.enc.ReceivePacket()
	if err != nil {
		return nil, err
	}
	pkt.SetStreamIndex(s.streamIndex)
	return pkt, nil
}

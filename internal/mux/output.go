package mux

import (
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
	"github.com/babelcloud/gbox/packages/xgrab/internal/metrics"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

var (
	ErrStreamExists       = errors.New("output already has a stream")
	ErrNoStream           = errors.New("output has no stream")
	ErrCodecNotSupported  = errors.New("codec not supported by container")
	ErrHeaderWritten      = errors.New("header already written")
	ErrHeaderNotWritten   = errors.New("header not written")
	ErrTrailerWritten     = errors.New("trailer already written")
	ErrInvalidStreamIndex = errors.New("invalid stream index")
	ErrNonMonotonicDTS    = errors.New("non monotonically increasing dts")
)

// StreamEncoder is the part of an encoder the output needs: its parameters,
// and its configuration so container requirements can be pushed back into it
// before it is opened.
type StreamEncoder interface {
	Config() *codec.EncoderConfig
	Parameters() av.CodecParameters
}

// OutputContext is an opened output file with at most one video stream.
//
// Packets carrying a duration are written immediately. A packet without one
// is held back until the next packet's dts (or WriteTrailer) supplies it; a
// failure writing a held back packet is logged and counted under the mux
// stage instead of being returned for a later packet.
type OutputContext struct {
	av.Resource

	format  *Format
	path    string
	muxer   Muxer
	stream  *av.Stream
	encoder StreamEncoder

	headerWritten  bool
	trailerWritten bool
	pending        *av.Packet
	lastDts        int64
	haveDts        bool
	lastDuration   int64
	packets        int64
}

// OpenOutput creates path with the named format, or with the format inferred
// from the file extension when name is empty.
func OpenOutput(path, name string) (*OutputContext, error) {
	f, err := FindFormat(name, path)
	if err != nil {
		return nil, err
	}
	m, err := f.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s output %q", f.Name, path)
	}
	oc := &OutputContext{format: f, path: path, muxer: m}
	oc.Track(av.KindOutput)
	util.GetLogger().Debug("Output opened", "path", path, "format", f.Name)
	return oc, nil
}

func (oc *OutputContext) Format() *Format { return oc.format }
func (oc *OutputContext) Path() string    { return oc.path }

// Stream returns the created stream or nil.
func (oc *OutputContext) Stream() *av.Stream { return oc.stream }

// PacketsWritten counts packets handed to the container.
func (oc *OutputContext) PacketsWritten() int64 { return oc.packets }

// CreateStream adds the single video stream. When the container stores codec
// configuration out of band, av.CodecFlagGlobalHeader is set on the encoder
// configuration, so this must run before the encoder is opened. Stream
// timestamps count 1/den ticks of the encoder time base.
func (oc *OutputContext) CreateStream(enc StreamEncoder) (*av.Stream, error) {
	if oc.Released() {
		return nil, av.ErrNullHandle
	}
	if oc.stream != nil {
		return nil, ErrStreamExists
	}
	if oc.headerWritten {
		return nil, ErrHeaderWritten
	}

	cfg := enc.Config()
	params := enc.Parameters()
	if !oc.muxer.SupportsCodec(params.CodecID) {
		return nil, errors.Wrapf(ErrCodecNotSupported, "%s in %s", params.CodecID, oc.format.Name)
	}
	if oc.muxer.NeedsGlobalHeader() {
		cfg.Flags |= av.CodecFlagGlobalHeader
		params.Flags |= av.CodecFlagGlobalHeader
	}
	if cfg.TimeBase.IsZero() {
		return nil, errors.Wrap(codec.ErrInvalidConfig, "encoder time base not set")
	}

	oc.encoder = enc
	oc.stream = &av.Stream{
		Index:     0,
		TimeBase:  av.NewRational(1, cfg.TimeBase.Den),
		FrameRate: cfg.TimeBase.Invert(),
		Params:    params,
	}
	return oc.stream, nil
}

// WriteHeader refreshes the stream parameters from the (now opened) encoder
// and writes the container header.
func (oc *OutputContext) WriteHeader() error {
	if oc.Released() {
		return av.ErrNullHandle
	}
	if oc.stream == nil {
		return ErrNoStream
	}
	if oc.headerWritten {
		return ErrHeaderWritten
	}
	oc.stream.Params = oc.encoder.Parameters()
	if err := oc.muxer.WriteHeader(oc.stream); err != nil {
		return errors.Wrap(err, "write header")
	}
	oc.headerWritten = true
	return nil
}

// WritePacket takes ownership of pkt in every case, including errors.
func (oc *OutputContext) WritePacket(pkt *av.Packet) error {
	if pkt.IsNull() {
		return av.ErrNullHandle
	}
	if !oc.headerWritten || oc.trailerWritten || oc.Released() {
		pkt.Free()
		if oc.trailerWritten {
			return ErrTrailerWritten
		}
		return ErrHeaderNotWritten
	}
	if pkt.StreamIndex() != oc.stream.Index {
		idx := pkt.StreamIndex()
		pkt.Free()
		return errors.Wrapf(ErrInvalidStreamIndex, "%d", idx)
	}
	if oc.haveDts && pkt.Dts() <= oc.lastDts {
		dts := pkt.Dts()
		pkt.Free()
		return errors.Wrapf(ErrNonMonotonicDTS, "%d <= %d", dts, oc.lastDts)
	}
	oc.lastDts, oc.haveDts = pkt.Dts(), true

	if prev := oc.pending; prev != nil {
		oc.pending = nil
		if prev.Duration() <= 0 {
			prev.SetDuration(pkt.Dts() - prev.Dts())
		}
		oc.writeHeldBack(prev)
	}
	if pkt.Duration() <= 0 {
		oc.pending = pkt
		return nil
	}
	defer pkt.Free()
	return oc.write(pkt)
}

func (oc *OutputContext) writeHeldBack(pkt *av.Packet) {
	defer pkt.Free()
	if err := oc.write(pkt); err != nil {
		metrics.TransientErrors.WithLabelValues(metrics.StageMux).Inc()
		util.GetLogger().Warn("Failed to write held back packet", "path", oc.path, "dts", pkt.Dts(), "error", err)
	}
}

func (oc *OutputContext) write(pkt *av.Packet) error {
	if err := oc.muxer.WritePacket(pkt); err != nil {
		return errors.Wrap(err, "write packet")
	}
	oc.lastDuration = pkt.Duration()
	oc.packets++
	return nil
}

// WriteTrailer flushes a held back packet and finalizes the container. Only
// the container's own trailer failure is returned.
func (oc *OutputContext) WriteTrailer() error {
	if oc.Released() {
		return av.ErrNullHandle
	}
	if !oc.headerWritten {
		return ErrHeaderNotWritten
	}
	if oc.trailerWritten {
		return ErrTrailerWritten
	}
	oc.trailerWritten = true

	if last := oc.pending; last != nil {
		oc.pending = nil
		last.SetDuration(oc.defaultDuration())
		oc.writeHeldBack(last)
	}
	if err := oc.muxer.WriteTrailer(); err != nil {
		return errors.Wrap(err, "write trailer")
	}
	return nil
}

func (oc *OutputContext) defaultDuration() int64 {
	if oc.lastDuration > 0 {
		return oc.lastDuration
	}
	if oc.encoder != nil {
		return int64(oc.encoder.Config().TimeBase.Num)
	}
	return 1
}

// Close releases the output. Without a prior WriteTrailer the file may be
// incomplete.
func (oc *OutputContext) Close() error {
	if !oc.Release() {
		return nil
	}
	oc.pending.Free()
	oc.pending = nil
	return oc.muxer.Close()
}

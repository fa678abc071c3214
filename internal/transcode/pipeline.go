package transcode

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/capture"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
	"github.com/babelcloud/gbox/packages/xgrab/internal/metrics"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

// State of the driver loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Output is the write side the driver needs. WritePacket takes ownership of
// the packet.
type Output interface {
	WritePacket(pkt *av.Packet) error
	WriteTrailer() error
	Close() error
}

// Stats are updated by the driver goroutine and safe to read from others.
type Stats struct {
	PacketsRead     atomic.Int64
	PacketsSkipped  atomic.Int64
	FramesDecoded   atomic.Int64
	FramesEncoded   atomic.Int64
	PacketsWritten  atomic.Int64
	BytesWritten    atomic.Int64
	TransientErrors atomic.Int64
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	Session         string `json:"session"`
	State           string `json:"state"`
	Output          string `json:"output,omitempty"`
	PacketsRead     int64  `json:"packets_read"`
	FramesDecoded   int64  `json:"frames_decoded"`
	FramesEncoded   int64  `json:"frames_encoded"`
	PacketsWritten  int64  `json:"packets_written"`
	BytesWritten    int64  `json:"bytes_written"`
	TransientErrors int64  `json:"transient_errors"`
	Elapsed         string `json:"elapsed,omitempty"`
}

// Pipeline moves packets from one input stream to one output stream.
type Pipeline struct {
	session     string
	log         *slog.Logger
	input       capture.Input
	streamIndex int
	decode      *DecodeStage
	scale       *ScaleStage
	encode      *EncodeStage
	output      Output
	outputPath  string
	flushOnStop bool
	duration    time.Duration

	// closers release what the pipeline owns, in reverse setup order.
	closers []func() error

	state   atomic.Int32
	started atomic.Int64
	stats   Stats
}

// Parts are the opened components a Pipeline is assembled from.
type Parts struct {
	Input       capture.Input
	StreamIndex int
	Decoder     codec.Decoder
	Scaler      *ScaleStage
	Encoder     codec.Encoder
	// OutputStream is the index stamped on encoded packets.
	OutputStream int
	Output       Output
	OutputPath   string
	FlushOnStop  bool
	// Duration stops the run after the given time when positive.
	Duration time.Duration
	Session  string
}

// New assembles a pipeline from already opened parts. Ownership of the parts
// moves to the pipeline; Close releases them.
func New(p Parts) *Pipeline {
	pl := &Pipeline{
		session:     p.Session,
		input:       p.Input,
		streamIndex: p.StreamIndex,
		decode:      NewDecodeStage(p.Decoder),
		scale:       p.Scaler,
		encode:      NewEncodeStage(p.Encoder, p.OutputStream),
		output:      p.Output,
		outputPath:  p.OutputPath,
		flushOnStop: p.FlushOnStop,
		duration:    p.Duration,
	}
	pl.log = util.GetLogger().With("session", p.Session)
	pl.closers = []func() error{p.Input.Close, p.Decoder.Close, p.Scaler.Close, p.Encoder.Close, p.Output.Close}
	return pl
}

func (p *Pipeline) Session() string { return p.session }

func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.log.Debug("Pipeline state changed", "state", s.String())
}

// Stats exposes the live counters.
func (p *Pipeline) Stats() *Stats { return &p.stats }

// Status snapshots the counters.
func (p *Pipeline) Status() Status {
	st := Status{
		Session:         p.session,
		State:           p.State().String(),
		Output:          p.outputPath,
		PacketsRead:     p.stats.PacketsRead.Load(),
		FramesDecoded:   p.stats.FramesDecoded.Load(),
		FramesEncoded:   p.stats.FramesEncoded.Load(),
		PacketsWritten:  p.stats.PacketsWritten.Load(),
		BytesWritten:    p.stats.BytesWritten.Load(),
		TransientErrors: p.stats.TransientErrors.Load(),
	}
	if started := p.started.Load(); started > 0 {
		st.Elapsed = time.Since(time.Unix(0, started)).Truncate(time.Millisecond).String()
	}
	return st
}

// Run reads until the input ends or ctx is cancelled, then writes the
// trailer. Cancellation is checked once per captured packet; a packet already
// being processed runs through all stages first. Cancelling is not an error.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.duration)
		defer cancel()
	}

	p.started.Store(time.Now().UnixNano())
	p.setState(StateRunning)
	metrics.Recording.Set(1)
	defer metrics.Recording.Set(0)

	p.log.Info("Recording started", "stream", p.streamIndex)
	for ctx.Err() == nil {
		pkt, err := p.input.ReadPacket(ctx)
		if err != nil {
			p.logReadEnd(ctx, err)
			break
		}
		p.processPacket(pkt)
		pkt.Free()
	}

	p.setState(StateStopping)
	if p.flushOnStop {
		p.flush()
	}
	err := p.output.WriteTrailer()
	p.setState(StateStopped)
	p.log.Info("Recording stopped",
		"packetsRead", p.stats.PacketsRead.Load(),
		"framesEncoded", p.stats.FramesEncoded.Load(),
		"packetsWritten", p.stats.PacketsWritten.Load(),
		"transientErrors", p.stats.TransientErrors.Load())
	if err != nil {
		return errors.Wrap(err, "failed to write trailer")
	}
	return nil
}

// logReadEnd reports why reading stopped. A failed read ends the run like
// end of stream does.
func (p *Pipeline) logReadEnd(ctx context.Context, err error) {
	switch {
	case errors.Is(err, av.ErrEOF):
		p.log.Info("Capture source ended")
	case ctx.Err() != nil:
		p.log.Debug("Capture read interrupted", "error", err)
	default:
		p.log.Warn("Capture read failed, stopping", "error", err)
	}
}

// processPacket runs one captured packet through every stage. The packet
// remains owned by the caller.
func (p *Pipeline) processPacket(pkt *av.Packet) {
	if pkt.StreamIndex() != p.streamIndex {
		p.stats.PacketsSkipped.Add(1)
		return
	}
	p.stats.PacketsRead.Add(1)
	metrics.PacketsRead.Inc()

	if err := p.decode.Submit(pkt); err != nil {
		p.transient(metrics.StageDecode, err, "pts", pkt.Pts())
		return
	}
	p.drainDecoder()
}

// drainDecoder pulls every available frame. After a failure the remaining
// frames of the packet are discarded so the decoder is ready for new input.
func (p *Pipeline) drainDecoder() {
	failed := false
	for {
		f, err := p.decode.Next()
		if err != nil {
			if !av.IsDrained(err) {
				p.transient(metrics.StageDecode, err)
			}
			return
		}
		p.stats.FramesDecoded.Add(1)
		if !failed {
			if stage, err := p.encodeFrame(f); err != nil {
				p.transient(stage, err, "pts", f.Pts())
				failed = true
			}
		}
		f.Free()
	}
}

// encodeFrame scales f, submits the result and writes what the encoder
// produced. f remains owned by the caller.
func (p *Pipeline) encodeFrame(f *av.Frame) (string, error) {
	scaled, err := p.scale.Scale(f)
	if err != nil {
		return metrics.StageScale, err
	}
	defer scaled.Free()

	err = p.encode.Submit(scaled)
	if errors.Is(err, av.ErrAgain) {
		// The encoder wants its output read before taking more input.
		if stage, err := p.drainEncoder(); err != nil {
			return stage, err
		}
		err = p.encode.Submit(scaled)
	}
	if err != nil {
		return metrics.StageEncode, err
	}
	p.stats.FramesEncoded.Add(1)
	return p.drainEncoder()
}

func (p *Pipeline) drainEncoder() (string, error) {
	for {
		pkt, err := p.encode.Next()
		if err != nil {
			if av.IsDrained(err) {
				return "", nil
			}
			return metrics.StageEncode, err
		}
		size := pkt.Size()
		if err := p.output.WritePacket(pkt); err != nil {
			return metrics.StageMux, err
		}
		p.stats.PacketsWritten.Add(1)
		p.stats.BytesWritten.Add(int64(size))
		metrics.PacketsWritten.Inc()
		metrics.BytesWritten.Add(float64(size))
	}
}

// flush drains frames buffered in the decoder and packets buffered in the
// encoder.
func (p *Pipeline) flush() {
	if err := p.decode.Submit(nil); err == nil {
		p.drainDecoder()
	} else if !av.IsDrained(err) {
		p.log.Debug("Decoder flush failed", "error", err)
	}

	if err := p.encode.Flush(); err != nil {
		if !av.IsDrained(err) {
			p.log.Debug("Encoder flush failed", "error", err)
		}
		return
	}
	if stage, err := p.drainEncoder(); err != nil {
		p.transient(stage, err)
	}
}

func (p *Pipeline) transient(stage string, err error, attrs ...any) {
	p.stats.TransientErrors.Add(1)
	metrics.TransientErrors.WithLabelValues(stage).Inc()
	p.log.Warn("Dropping unit after "+stage+" failure", append([]any{"error", err}, attrs...)...)
}

// Close releases the input, codecs and output. It is safe to call more than
// once.
func (p *Pipeline) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}

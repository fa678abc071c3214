package transcode

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/capture"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
	"github.com/babelcloud/gbox/packages/xgrab/internal/mux"
	"github.com/babelcloud/gbox/packages/xgrab/internal/scale"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

// Stage names a setup step. Each has its own process exit code.
type Stage string

const (
	StageConfig          Stage = "configuration"
	StageCaptureOpen     Stage = "capture open"
	StageStreamDiscovery Stage = "stream discovery"
	StageDecoderOpen     Stage = "decoder open"
	StageOutputOpen      Stage = "output open"
	StageEncoderOpen     Stage = "encoder open"
	StageStreamCreation  Stage = "stream creation"
	StageHeaderWrite     Stage = "header write"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitUsage           = 2
	ExitCaptureOpen     = 10
	ExitStreamDiscovery = 11
	ExitDecoderOpen     = 12
	ExitOutputOpen      = 13
	ExitEncoderOpen     = 14
	ExitStreamCreation  = 15
	ExitHeaderWrite     = 16
)

func (s Stage) ExitCode() int {
	switch s {
	case StageConfig:
		return ExitUsage
	case StageCaptureOpen:
		return ExitCaptureOpen
	case StageStreamDiscovery:
		return ExitStreamDiscovery
	case StageDecoderOpen:
		return ExitDecoderOpen
	case StageOutputOpen:
		return ExitOutputOpen
	case StageEncoderOpen:
		return ExitEncoderOpen
	case StageStreamCreation:
		return ExitStreamCreation
	case StageHeaderWrite:
		return ExitHeaderWrite
	default:
		return ExitFailure
	}
}

// SetupError is a fatal failure before the pipeline started.
type SetupError struct {
	Stage Stage
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func (e *SetupError) ExitCode() int { return e.Stage.ExitCode() }

// ExitCode maps an error returned by Setup or Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var se *SetupError
	if errors.As(err, &se) {
		return se.ExitCode()
	}
	return ExitFailure
}

// Options configure Setup.
type Options struct {
	CaptureFormat  string
	CaptureURL     string
	CaptureStream  int
	CaptureOptions map[string]string

	OutputPath   string
	OutputFormat string

	EncoderName    string
	PixelFormat    string
	BitRate        int64
	RCBufferSize   int64
	RCMaxRate      int64
	RCMinRate      int64
	Preset         string
	EncoderOptions map[string]string

	// Width and Height of the encoded picture; zero keeps the captured size.
	Width  int
	Height int

	Scaler         string
	ScaleAlgorithm string
	ScaleCache     bool

	FlushOnStop bool
	Duration    time.Duration
}

// DefaultOptions records the screen to out.mp4 with the fixed rate-control
// policy. RCMinRate above RCMaxRate is kept as configured.
func DefaultOptions() Options {
	return Options{
		CaptureFormat:  capture.ScreenFormat,
		CaptureStream:  -1,
		OutputPath:     "out.mp4",
		EncoderName:    codec.MJPEGEncoderName,
		PixelFormat:    av.PixelFormatYUV420P.String(),
		BitRate:        2000000,
		RCBufferSize:   4000000,
		RCMaxRate:      2000000,
		RCMinRate:      2500000,
		Preset:         "fast",
		Scaler:         scale.NativeName,
		ScaleAlgorithm: "bilinear",
		ScaleCache:     true,
		FlushOnStop:    true,
	}
}

// Setup opens and wires every component in order: capture, stream discovery,
// decoder, output, encoder configuration, stream creation, encoder open and
// header. On failure everything already opened is released and a *SetupError
// is returned.
func Setup(ctx context.Context, opts Options) (pl *Pipeline, err error) {
	session := uuid.NewString()
	log := util.GetLogger().With("session", session)

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				log.Debug("Cleanup after failed setup", "error", cerr)
			}
		}
	}()
	fail := func(stage Stage, e error) error {
		log.Error("Setup failed", "stage", string(stage), "error", e)
		return &SetupError{Stage: stage, Err: e}
	}

	pixfmt, err := av.ParsePixelFormat(opts.PixelFormat)
	if err != nil {
		return nil, fail(StageConfig, err)
	}
	scaler, err := scale.New(opts.Scaler, scale.Options{Algorithm: opts.ScaleAlgorithm, Cache: opts.ScaleCache})
	if err != nil {
		return nil, fail(StageConfig, err)
	}
	closers = append(closers, scaler.Close)

	in, err := capture.Open(ctx, opts.CaptureFormat, opts.CaptureURL, capture.Options(opts.CaptureOptions))
	if err != nil {
		return nil, fail(StageCaptureOpen, err)
	}
	closers = append(closers, in.Close)

	stream, err := capture.FindBestVideoStream(in, opts.CaptureStream, func(p av.CodecParameters) bool {
		return codec.HasDecoder(p.CodecID)
	})
	if err != nil {
		return nil, fail(StageStreamDiscovery, err)
	}
	log.Info("Capture stream selected",
		"format", in.Format(), "stream", stream.Index, "codec", string(stream.Params.CodecID),
		"size", fmt.Sprintf("%dx%d", stream.Params.Width, stream.Params.Height),
		"frameRate", stream.FrameRate.String())

	dec, err := codec.OpenDecoder(stream.Params)
	if err != nil {
		return nil, fail(StageDecoderOpen, err)
	}
	closers = append(closers, dec.Close)

	out, err := mux.OpenOutput(opts.OutputPath, opts.OutputFormat)
	if err != nil {
		return nil, fail(StageOutputOpen, err)
	}
	closers = append(closers, out.Close)

	enc, err := codec.FindEncoderByName(opts.EncoderName)
	if err != nil {
		return nil, fail(StageEncoderOpen, err)
	}
	closers = append(closers, enc.Close)

	cfg := enc.Config()
	configureEncoder(cfg, stream, opts, pixfmt)
	if err := cfg.Validate(); err != nil {
		return nil, fail(StageEncoderOpen, err)
	}
	if cfg.RCMaxRate > 0 && cfg.RCMinRate > cfg.RCMaxRate {
		log.Warn("Encoder min rate exceeds max rate, keeping configured values",
			"minRate", cfg.RCMinRate, "maxRate", cfg.RCMaxRate)
	}

	// The stream is created before the encoder is opened so that a global
	// header requirement reaches the encoder configuration.
	ostream, err := out.CreateStream(enc)
	if err != nil {
		return nil, fail(StageStreamCreation, err)
	}
	if err := enc.Open(); err != nil {
		return nil, fail(StageEncoderOpen, err)
	}
	if err := out.WriteHeader(); err != nil {
		return nil, fail(StageHeaderWrite, err)
	}
	log.Info("Output ready",
		"path", out.Path(), "format", out.Format().Name, "encoder", enc.Name(),
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height), "timeBase", cfg.TimeBase.String(),
		"globalHeader", cfg.Flags.Has(av.CodecFlagGlobalHeader))

	return New(Parts{
		Input:        in,
		StreamIndex:  stream.Index,
		Decoder:      dec,
		Scaler:       NewScaleStage(scaler, cfg.Width, cfg.Height, cfg.PixelFormat),
		Encoder:      enc,
		OutputStream: ostream.Index,
		Output:       out,
		OutputPath:   out.Path(),
		FlushOnStop:  opts.FlushOnStop,
		Duration:     opts.Duration,
		Session:      session,
	}), nil
}

// configureEncoder derives the encoder setup from the captured stream. The
// encoder time base is the inverse of the capture frame rate, so packet
// timestamps advance by its numerator per frame.
func configureEncoder(cfg *codec.EncoderConfig, stream *av.Stream, opts Options, pixfmt av.PixelFormat) {
	cfg.PixelFormat = pixfmt
	cfg.Width, cfg.Height = opts.Width, opts.Height
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = stream.Params.Width, stream.Params.Height
	}
	cfg.SampleAspectRatio = stream.Params.SampleAspectRatio

	switch {
	case !stream.FrameRate.IsZero():
		cfg.TimeBase = stream.FrameRate.Invert()
	case !stream.Params.FrameRate.IsZero():
		cfg.TimeBase = stream.Params.FrameRate.Invert()
	default:
		cfg.TimeBase = stream.TimeBase
	}
	cfg.FrameRate = cfg.TimeBase.Invert()

	cfg.BitRate = opts.BitRate
	cfg.RCBufferSize = opts.RCBufferSize
	cfg.RCMaxRate = opts.RCMaxRate
	cfg.RCMinRate = opts.RCMinRate
	cfg.Preset = opts.Preset
	if len(opts.EncoderOptions) > 0 {
		if cfg.Options == nil {
			cfg.Options = map[string]string{}
		}
		for k, v := range opts.EncoderOptions {
			cfg.Options[k] = v
		}
	}
}

// Package codec holds the decoder and encoder state machines and the name
// based registries used to find them.
//
// Both directions follow the send/receive protocol: after every Send call the
// caller drains with Receive until it returns av.ErrAgain (more input needed)
// or av.ErrEOF (fully flushed). Sending nil starts a flush.
package codec

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

var (
	ErrDecoderNotFound = errors.New("decoder not found")
	ErrEncoderNotFound = errors.New("encoder not found")
	ErrNotOpen         = errors.New("codec not open")
	ErrAlreadyOpen     = errors.New("codec already open")
	ErrInvalidConfig   = errors.New("invalid encoder configuration")
)

// Decoder turns packets into frames. SendPacket borrows the packet; frames
// returned by ReceiveFrame are owned by the caller.
type Decoder interface {
	Name() string
	SendPacket(pkt *av.Packet) error
	ReceiveFrame() (*av.Frame, error)
	Close() error
}

// Encoder turns frames into packets. It is configured through Config before
// Open; changes made after Open are ignored. SendFrame borrows the frame;
// packets returned by ReceivePacket are owned by the caller.
type Encoder interface {
	Name() string
	CodecID() av.CodecID
	Config() *EncoderConfig
	Open() error
	// Parameters describes the encoded stream. Extradata is only available
	// after Open.
	Parameters() av.CodecParameters
	SendFrame(f *av.Frame) error
	ReceivePacket() (*av.Packet, error)
	Close() error
}

// EncoderConfig is the encoder setup applied at Open.
type EncoderConfig struct {
	PixelFormat       av.PixelFormat
	Width             int
	Height            int
	SampleAspectRatio av.Rational
	TimeBase          av.Rational
	FrameRate         av.Rational
	BitRate           int64
	RCBufferSize      int64
	RCMaxRate         int64
	RCMinRate         int64
	Preset            string
	Flags             av.CodecFlags
	// Options are passed verbatim to the encoder implementation.
	Options map[string]string
}

// Validate checks the fields every encoder needs.
func (c *EncoderConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "dimensions %dx%d", c.Width, c.Height)
	}
	if c.TimeBase.IsZero() {
		return errors.Wrap(ErrInvalidConfig, "time base not set")
	}
	if c.PixelFormat.Planes() == 0 {
		return errors.Wrap(ErrInvalidConfig, "pixel format not set")
	}
	return nil
}

// DecoderFactory opens a decoder for the given stream parameters.
type DecoderFactory func(params av.CodecParameters) (Decoder, error)

// EncoderFactory allocates an unopened encoder.
type EncoderFactory func() (Encoder, error)

var (
	mu              sync.RWMutex
	decoders        = map[av.CodecID]DecoderFactory{}
	encoders        = map[string]EncoderFactory{}
	decoderFallback DecoderFactory
	encoderFallback func(name string) (Encoder, error)
)

func RegisterDecoder(id av.CodecID, f DecoderFactory) {
	mu.Lock()
	defer mu.Unlock()
	decoders[id] = f
}

func RegisterEncoder(name string, f EncoderFactory) {
	mu.Lock()
	defer mu.Unlock()
	encoders[name] = f
}

// SetFallbacks installs factories consulted when no native codec matches.
// The libav backend uses this to expose every libavcodec codec.
func SetFallbacks(dec DecoderFactory, enc func(name string) (Encoder, error)) {
	mu.Lock()
	defer mu.Unlock()
	decoderFallback = dec
	encoderFallback = enc
}

// HasDecoder reports whether OpenDecoder can be attempted for id.
func HasDecoder(id av.CodecID) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := decoders[id]
	return ok || decoderFallback != nil
}

// OpenDecoder opens a decoder for params.
func OpenDecoder(params av.CodecParameters) (Decoder, error) {
	mu.RLock()
	f, ok := decoders[params.CodecID]
	fallback := decoderFallback
	mu.RUnlock()
	if !ok {
		if fallback == nil {
			return nil, errors.Wrapf(ErrDecoderNotFound, "codec %q", params.CodecID)
		}
		f = fallback
	}
	return f(params)
}

// FindEncoderByName allocates the named encoder.
func FindEncoderByName(name string) (Encoder, error) {
	mu.RLock()
	f, ok := encoders[name]
	fallback := encoderFallback
	mu.RUnlock()
	if ok {
		return f()
	}
	if fallback != nil {
		return fallback(name)
	}
	return nil, errors.Wrapf(ErrEncoderNotFound, "%q", name)
}

// Encoders lists natively registered encoder names.
func Encoders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decoders lists natively registered decoder codec ids.
func Decoders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(decoders))
	for id := range decoders {
		names = append(names, string(id))
	}
	sort.Strings(names)
	return names
}

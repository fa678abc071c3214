// Package capture opens display-capture inputs and exposes them as a demuxed
// packet stream.
package capture

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

var (
	ErrUnknownFormat = errors.New("unknown input format")
	ErrNoVideoStream = errors.New("no usable video stream")
)

// Input is an opened capture source. ReadPacket may block on live sources and
// returns av.ErrEOF once the source is exhausted.
type Input interface {
	Format() string
	Streams() []*av.Stream
	ReadPacket(ctx context.Context) (*av.Packet, error)
	Close() error
}

// Opener opens an input of one registered format.
type Opener func(ctx context.Context, url string, opts Options) (Input, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Opener{}
)

// Register makes an input format available to Open. Registering a name twice
// replaces the previous opener.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = open
}

// Formats lists registered input format names.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens url with the named input format.
func Open(ctx context.Context, format, url string, opts Options) (Input, error) {
	registryMu.RLock()
	open, ok := registry[format]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", format)
	}
	in, err := open(ctx, url, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s input %q", format, url)
	}
	return in, nil
}

// FindBestVideoStream picks the stream to record. A non-negative wanted index
// is honored when it names a video stream. Otherwise the largest decodable
// video stream that is not an attached picture wins, the lowest index breaking
// ties. decodable may be nil.
func FindBestVideoStream(in Input, wanted int, decodable func(av.CodecParameters) bool) (*av.Stream, error) {
	streams := in.Streams()
	if wanted >= 0 {
		for _, s := range streams {
			if s.Index == wanted && s.Params.MediaType == av.MediaTypeVideo {
				return s, nil
			}
		}
		return nil, errors.Wrapf(ErrNoVideoStream, "stream #%d", wanted)
	}

	var best *av.Stream
	bestArea := -1
	for _, s := range streams {
		if s.Params.MediaType != av.MediaTypeVideo || s.AttachedPic {
			continue
		}
		if decodable != nil && !decodable(s.Params) {
			continue
		}
		area := s.Params.Width * s.Params.Height
		if area > bestArea {
			best, bestArea = s, area
		}
	}
	if best == nil {
		return nil, ErrNoVideoStream
	}
	return best, nil
}

// Package mux writes one encoded video stream into a container file.
package mux

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
)

var (
	ErrUnknownFormat = errors.New("unknown output format")
	ErrNoFormatMatch = errors.New("unable to find a suitable output format")
)

// Muxer is the container specific part of an output. Packets passed to
// WritePacket remain owned by the caller. Timestamps are expressed in the
// stream time base given to WriteHeader.
type Muxer interface {
	// NeedsGlobalHeader reports whether codec configuration must be stored
	// out of band (extradata) rather than in keyframes.
	NeedsGlobalHeader() bool
	SupportsCodec(id av.CodecID) bool
	WriteHeader(stream *av.Stream) error
	WritePacket(pkt *av.Packet) error
	WriteTrailer() error
	Close() error
}

// Format describes a registered container.
type Format struct {
	Name       string
	LongName   string
	Extensions []string
	Open       func(path string) (Muxer, error)
	// Fallback formats accept any file name when no extension matches.
	Fallback bool
}

var (
	formatsMu sync.RWMutex
	formats   []*Format
)

// RegisterFormat adds a container format. Later registrations win extension
// conflicts.
func RegisterFormat(f *Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats = append([]*Format{f}, formats...)
}

// Formats lists registered formats sorted by name.
func Formats() []*Format {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	out := append([]*Format(nil), formats...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindFormat resolves a format by name, or by the extension of path when
// name is empty.
func FindFormat(name, path string) (*Format, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	if name != "" {
		for _, f := range formats {
			if f.Name == name {
				return f, nil
			}
		}
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", name)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext != "" {
		for _, f := range formats {
			for _, e := range f.Extensions {
				if e == ext {
					return f, nil
				}
			}
		}
	}
	for _, f := range formats {
		if f.Fallback {
			return f, nil
		}
	}
	return nil, errors.Wrapf(ErrNoFormatMatch, "%q", path)
}

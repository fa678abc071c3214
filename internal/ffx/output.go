//go:build ffmpeg

package ffx

import (
	"github.com/asticode/go-astiav"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/mux"
)

// lavfMuxer writes through a libavformat muxer guessed from the file name.
type lavfMuxer struct {
	oc     *astiav.FormatContext
	pb     *astiav.IOContext
	stream *astiav.Stream
	srcTB  astiav.Rational
}

func openOutput(path string) (mux.Muxer, error) {
	oc, err := astiav.AllocOutputFormatContext(nil, "", path)
	if err != nil {
		return nil, errors.Wrap(mux.ErrNoFormatMatch, err.Error())
	}
	if oc == nil {
		return nil, mux.ErrNoFormatMatch
	}
	m := &lavfMuxer{oc: oc}
	if !oc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		pb, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			oc.Free()
			return nil, errors.Wrap(err, "failed to open output file")
		}
		oc.SetPb(pb)
		m.pb = pb
	}
	return m, nil
}

func (m *lavfMuxer) NeedsGlobalHeader() bool {
	return m.oc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader)
}

// SupportsCodec defers the check to WriteHeader, where libavformat decides.
func (m *lavfMuxer) SupportsCodec(av.CodecID) bool { return true }

func (m *lavfMuxer) WriteHeader(stream *av.Stream) error {
	s := m.oc.NewStream(nil)
	if s == nil {
		return errors.New("failed to create output stream")
	}
	cp := s.CodecParameters()
	if cc, ok := stream.Params.Opaque.(*astiav.CodecContext); ok {
		if err := cp.FromCodecContext(cc); err != nil {
			return errors.Wrap(err, "failed to copy encoder parameters")
		}
	} else {
		cp.SetMediaType(astiav.MediaTypeVideo)
		cp.SetCodecID(toCodecID(stream.Params.CodecID))
		cp.SetWidth(stream.Params.Width)
		cp.SetHeight(stream.Params.Height)
		if len(stream.Params.ExtraData) > 0 {
			if err := cp.SetExtraData(stream.Params.ExtraData); err != nil {
				return errors.Wrap(err, "failed to set extradata")
			}
		}
	}
	m.srcTB = toRational(stream.TimeBase)
	s.SetTimeBase(m.srcTB)
	if !stream.FrameRate.IsZero() {
		s.SetAvgFrameRate(toRational(stream.FrameRate))
	}
	if err := m.oc.WriteHeader(nil); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	// The muxer may have picked its own stream time base.
	m.stream = s
	return nil
}

func (m *lavfMuxer) WritePacket(pkt *av.Packet) error {
	if m.stream == nil {
		return mux.ErrHeaderNotWritten
	}
	p, err := toPacket(pkt)
	if err != nil {
		return err
	}
	defer p.Free()
	p.SetStreamIndex(m.stream.Index())
	p.RescaleTs(m.srcTB, m.stream.TimeBase())
	if err := m.oc.WriteInterleavedFrame(p); err != nil {
		return errors.Wrap(err, "failed to write packet")
	}
	return nil
}

func (m *lavfMuxer) WriteTrailer() error {
	if m.stream == nil {
		return nil
	}
	if err := m.oc.WriteTrailer(); err != nil {
		return errors.Wrap(err, "failed to write trailer")
	}
	return nil
}

func (m *lavfMuxer) Close() error {
	var err error
	if m.pb != nil {
		err = m.pb.Close()
		m.pb = nil
	}
	if m.oc != nil {
		m.oc.Free()
		m.oc = nil
	}
	return err
}

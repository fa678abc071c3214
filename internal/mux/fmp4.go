package mux

import (
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/h264"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
)

const fmp4TrackID = 1

func init() {
	RegisterFormat(&Format{
		Name:       "mp4",
		LongName:   "fragmented MP4",
		Extensions: []string{"mp4", "m4v", "mov"},
		Open:       func(path string) (Muxer, error) { return newFMP4Muxer(path) },
	})
}

// fmp4Muxer writes an init segment followed by one moof/mdat pair per
// fragment. Fragments are cut on the first keyframe after fragmentDuration.
type fmp4Muxer struct {
	file     *os.File
	stream   *av.Stream
	codec    mp4.Codec
	h264     bool
	initDone bool

	timeScale        uint32
	fragmentDuration int64
	dtsShift         int64
	haveShift        bool

	seq       uint32
	baseTime  uint64
	fragStart int64
	samples   []*fmp4.Sample
}

func newFMP4Muxer(path string) (*fmp4Muxer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fmp4Muxer{file: f, seq: 1}, nil
}

func (m *fmp4Muxer) NeedsGlobalHeader() bool { return true }

func (m *fmp4Muxer) SupportsCodec(id av.CodecID) bool {
	return id == av.CodecIDMJPEG || id == av.CodecIDH264
}

func (m *fmp4Muxer) WriteHeader(stream *av.Stream) error {
	m.stream = stream
	m.timeScale = uint32(stream.TimeBase.Den)
	m.fragmentDuration = int64(stream.TimeBase.Den / stream.TimeBase.Num)

	p := stream.Params
	switch p.CodecID {
	case av.CodecIDMJPEG:
		m.codec = &mp4.CodecMJPEG{Width: p.Width, Height: p.Height}
	case av.CodecIDH264:
		m.h264 = true
		sps, pps, err := h264.ParameterSets(p.ExtraData)
		if err != nil {
			// Parameter sets will be taken from the first keyframe.
			util.GetLogger().Debug("fMP4 init deferred until first keyframe", "reason", err)
			return nil
		}
		m.codec = &mp4.CodecH264{SPS: sps, PPS: pps}
	default:
		return errors.Wrapf(ErrCodecNotSupported, "%s", p.CodecID)
	}
	return m.writeInit()
}

func (m *fmp4Muxer) writeInit() error {
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        fmp4TrackID,
			TimeScale: m.timeScale,
			Codec:     m.codec,
		}},
	}
	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return errors.Wrap(err, "marshal init segment")
	}
	if _, err := m.file.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write init segment")
	}
	m.initDone = true
	util.GetLogger().Debug("fMP4 init segment written", "size", len(buf.Bytes()), "timescale", m.timeScale)
	return nil
}

func (m *fmp4Muxer) WritePacket(pkt *av.Packet) error {
	payload := pkt.Data()
	if m.h264 {
		avcc, err := h264.ToAVCC(payload)
		if err != nil {
			return err
		}
		payload = avcc
		if !m.initDone {
			sps, pps, err := h264.ParameterSets(avcc)
			if err != nil {
				return errors.Wrap(err, "no parameter sets before first packet")
			}
			m.codec = &mp4.CodecH264{SPS: sps, PPS: pps}
			if err := m.writeInit(); err != nil {
				return err
			}
		}
	}
	if !m.initDone {
		return ErrHeaderNotWritten
	}

	if !m.haveShift {
		if pkt.Dts() < 0 {
			m.dtsShift = -pkt.Dts()
		}
		m.haveShift = true
	}
	dts := pkt.Dts() + m.dtsShift

	if len(m.samples) > 0 && pkt.KeyFrame() && dts-m.fragStart >= m.fragmentDuration {
		if err := m.flushFragment(); err != nil {
			return err
		}
	}
	if len(m.samples) == 0 {
		m.fragStart = dts
		m.baseTime = uint64(dts)
	}
	m.samples = append(m.samples, &fmp4.Sample{
		Duration:        uint32(pkt.Duration()),
		PTSOffset:       int32(pkt.Pts() - pkt.Dts()),
		IsNonSyncSample: !pkt.KeyFrame(),
		Payload:         payload,
	})
	return nil
}

func (m *fmp4Muxer) flushFragment() error {
	part := &fmp4.Part{
		SequenceNumber: m.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       fmp4TrackID,
			BaseTime: m.baseTime,
			Samples:  m.samples,
		}},
	}
	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return errors.Wrap(err, "marshal fragment")
	}
	if _, err := m.file.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write fragment")
	}
	util.GetLogger().Debug("fMP4 fragment written",
		"sequence", m.seq, "samples", len(m.samples), "size", len(buf.Bytes()))
	m.seq++
	m.samples = nil
	return nil
}

func (m *fmp4Muxer) WriteTrailer() error {
	if len(m.samples) > 0 {
		if err := m.flushFragment(); err != nil {
			return err
		}
	}
	if !m.initDone {
		return errors.Wrap(ErrHeaderNotWritten, "no init segment was produced")
	}
	return m.file.Sync()
}

func (m *fmp4Muxer) Close() error {
	return m.file.Close()
}

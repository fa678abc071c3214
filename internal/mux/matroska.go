package mux

import (
	"os"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/h264"
	"github.com/babelcloud/gbox/packages/xgrab/internal/util"
	"github.com/babelcloud/gbox/packages/xgrab/internal/version"
)

var matroskaCodecIDs = map[av.CodecID]string{
	av.CodecIDMJPEG: "V_MJPEG",
	av.CodecIDH264:  "V_MPEG4/ISO/AVC",
}

// millisecond block timestamps, the Matroska default TimecodeScale.
var matroskaTimeBase = av.NewRational(1, 1000)

func init() {
	RegisterFormat(&Format{
		Name:       "matroska",
		LongName:   "Matroska",
		Extensions: []string{"mkv"},
		Open: func(path string) (Muxer, error) {
			return newMatroskaMuxer(path, "matroska", matroskaCodecIDs)
		},
	})
	// WebM can only carry VP8/VP9/AV1, none of which is produced here, so the
	// format exists to reject streams early with a clear error.
	RegisterFormat(&Format{
		Name:       "webm",
		LongName:   "WebM",
		Extensions: []string{"webm"},
		Open: func(path string) (Muxer, error) {
			return newMatroskaMuxer(path, "webm", nil)
		},
	})
}

type matroskaMuxer struct {
	file    *os.File
	docType string
	codecs  map[av.CodecID]string

	stream *av.Stream
	writer webm.BlockWriteCloser
	fatal  error
}

func newMatroskaMuxer(path, docType string, codecs map[av.CodecID]string) (*matroskaMuxer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &matroskaMuxer{file: f, docType: docType, codecs: codecs}, nil
}

func (m *matroskaMuxer) NeedsGlobalHeader() bool { return true }

func (m *matroskaMuxer) SupportsCodec(id av.CodecID) bool {
	_, ok := m.codecs[id]
	return ok
}

func (m *matroskaMuxer) WriteHeader(stream *av.Stream) error {
	m.stream = stream
	if stream.Params.CodecID == av.CodecIDH264 {
		sps, pps, err := h264.ParameterSets(stream.Params.ExtraData)
		if err != nil {
			util.GetLogger().Debug("Matroska header deferred until first keyframe", "reason", err)
			return nil
		}
		return m.start(sps, pps)
	}
	return m.start(nil, nil)
}

func (m *matroskaMuxer) start(sps, pps []byte) error {
	p := m.stream.Params
	codecID, ok := m.codecs[p.CodecID]
	if !ok {
		return errors.Wrapf(ErrCodecNotSupported, "%s in %s", p.CodecID, m.docType)
	}

	track := webm.TrackEntry{
		Name:        "Video",
		TrackNumber: 1,
		TrackUID:    1,
		CodecID:     codecID,
		TrackType:   1,
		Video: &webm.Video{
			PixelWidth:  uint64(p.Width),
			PixelHeight: uint64(p.Height),
		},
	}
	if fr := m.stream.FrameRate; !fr.IsZero() {
		track.DefaultDuration = uint64(float64(time.Second) / fr.Float64())
	}
	if sps != nil {
		record, err := h264.BuildAvcC(sps, pps)
		if err != nil {
			return err
		}
		track.CodecPrivate = record
	}

	header := *webm.DefaultEBMLHeader
	header.DocType = m.docType
	info := *webm.DefaultSegmentInfo
	info.MuxingApp = version.UserAgent()
	info.WritingApp = version.UserAgent()

	writers, err := webm.NewSimpleBlockWriter(m.file, []webm.TrackEntry{track},
		mkvcore.WithEBMLHeader(&header),
		mkvcore.WithSegmentInfo(&info),
		mkvcore.WithOnFatalHandler(func(err error) {
			util.GetLogger().Warn("Matroska writer failed", "error", err)
			m.fatal = err
		}),
	)
	if err != nil {
		return errors.Wrap(err, "create block writer")
	}
	m.writer = writers[0]
	return nil
}

func (m *matroskaMuxer) WritePacket(pkt *av.Packet) error {
	if m.fatal != nil {
		return m.fatal
	}
	payload := pkt.Data()
	if m.stream.Params.CodecID == av.CodecIDH264 {
		avcc, err := h264.ToAVCC(payload)
		if err != nil {
			return err
		}
		payload = avcc
		if m.writer == nil {
			sps, pps, err := h264.ParameterSets(avcc)
			if err != nil {
				return errors.Wrap(err, "no parameter sets before first packet")
			}
			if err := m.start(sps, pps); err != nil {
				return err
			}
		}
	}
	if m.writer == nil {
		return ErrHeaderNotWritten
	}

	ts := av.Rescale(pkt.Pts(), m.stream.TimeBase, matroskaTimeBase)
	if _, err := m.writer.Write(pkt.KeyFrame(), ts, payload); err != nil {
		return errors.Wrap(err, "write block")
	}
	return nil
}

func (m *matroskaMuxer) WriteTrailer() error {
	if m.writer == nil {
		return errors.Wrap(ErrHeaderNotWritten, "no track was started")
	}
	err := m.writer.Close()
	m.writer = nil
	m.file = nil
	if err != nil {
		return errors.Wrap(err, "finalize matroska")
	}
	return m.fatal
}

func (m *matroskaMuxer) Close() error {
	if m.writer != nil {
		err := m.writer.Close()
		m.writer = nil
		m.file = nil
		return err
	}
	if m.file != nil {
		err := m.file.Close()
		m.file = nil
		return err
	}
	return nil
}

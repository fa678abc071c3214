package mux

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/codec"
	"github.com/babelcloud/gbox/packages/xgrab/internal/metrics"
)

// SPS/PPS of a 1920x1080 baseline stream.
var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
)

type fakeEncoder struct {
	cfg    codec.EncoderConfig
	params av.CodecParameters
}

func (e *fakeEncoder) Config() *codec.EncoderConfig { return &e.cfg }

func (e *fakeEncoder) Parameters() av.CodecParameters {
	p := e.params
	p.Flags = e.cfg.Flags
	return p
}

func newFakeEncoder(id av.CodecID) *fakeEncoder {
	return &fakeEncoder{
		cfg: codec.EncoderConfig{Width: 64, Height: 48, TimeBase: av.NewRational(1001, 24000)},
		params: av.CodecParameters{
			MediaType: av.MediaTypeVideo, CodecID: id, Width: 64, Height: 48,
			PixelFormat: av.PixelFormatYUV420P,
		},
	}
}

func packet(dts, duration int64, key bool, data []byte) *av.Packet {
	p := av.AllocPacket()
	p.SetData(data)
	p.SetPts(dts)
	p.SetDts(dts)
	p.SetDuration(duration)
	p.SetKeyFrame(key)
	return p
}

func TestFindFormat(t *testing.T) {
	tests := []struct {
		path string
		name string
		want string
	}{
		{"out.mp4", "", "mp4"},
		{"/tmp/OUT.MKV", "", "matroska"},
		{"clip.webm", "", "webm"},
		{"clip.bin", "mp4", "mp4"},
	}
	for _, tt := range tests {
		f, err := FindFormat(tt.name, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, f.Name, tt.path)
	}

	_, err := FindFormat("", "clip.xyz")
	assert.ErrorIs(t, err, ErrNoFormatMatch)
	_, err = FindFormat("avi", "clip.avi")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestCreateStreamSetsGlobalHeader(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	oc, err := OpenOutput(filepath.Join(t.TempDir(), "out.mp4"), "")
	require.NoError(t, err)

	enc := newFakeEncoder(av.CodecIDMJPEG)
	s, err := oc.CreateStream(enc)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, av.NewRational(1, 24000), s.TimeBase)
	assert.True(t, enc.cfg.Flags.Has(av.CodecFlagGlobalHeader))

	_, err = oc.CreateStream(enc)
	assert.ErrorIs(t, err, ErrStreamExists)

	require.NoError(t, oc.Close())
	require.NoError(t, oc.Close())
	assert.Equal(t, int64(0), av.DefaultLedger.Snapshot().Since(base).Outstanding())
}

func TestWebMRejectsMJPEG(t *testing.T) {
	oc, err := OpenOutput(filepath.Join(t.TempDir(), "out.webm"), "")
	require.NoError(t, err)
	defer oc.Close()

	_, err = oc.CreateStream(newFakeEncoder(av.CodecIDMJPEG))
	assert.ErrorIs(t, err, ErrCodecNotSupported)
	assert.ErrorIs(t, oc.WriteHeader(), ErrNoStream)
}

func TestWritePacketOwnership(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	oc, err := OpenOutput(filepath.Join(t.TempDir(), "out.mp4"), "")
	require.NoError(t, err)

	_, err = oc.CreateStream(newFakeEncoder(av.CodecIDMJPEG))
	require.NoError(t, err)

	assert.ErrorIs(t, oc.WritePacket(packet(0, 1001, true, []byte{1})), ErrHeaderNotWritten)
	require.NoError(t, oc.WriteHeader())
	assert.ErrorIs(t, oc.WriteHeader(), ErrHeaderWritten)

	require.NoError(t, oc.WritePacket(packet(1001, 1001, true, []byte{1})))
	assert.ErrorIs(t, oc.WritePacket(packet(1001, 1001, true, []byte{2})), ErrNonMonotonicDTS)

	wrong := packet(5005, 1001, true, []byte{3})
	wrong.SetStreamIndex(4)
	assert.ErrorIs(t, oc.WritePacket(wrong), ErrInvalidStreamIndex)

	require.NoError(t, oc.WriteTrailer())
	assert.ErrorIs(t, oc.WriteTrailer(), ErrTrailerWritten)
	assert.ErrorIs(t, oc.WritePacket(packet(9009, 1001, true, []byte{4})), ErrTrailerWritten)
	require.NoError(t, oc.Close())

	assert.Equal(t, int64(0), av.DefaultLedger.Snapshot().Since(base).Outstanding())
}

var errDiskFull = errors.New("disk full")

// failingMuxer fails the packet with dts failDts and records the others.
type failingMuxer struct {
	failDts  int64
	written  []int64
	trailers int
}

func (m *failingMuxer) NeedsGlobalHeader() bool       { return false }
func (m *failingMuxer) SupportsCodec(av.CodecID) bool { return true }
func (m *failingMuxer) WriteHeader(*av.Stream) error  { return nil }
func (m *failingMuxer) Close() error                  { return nil }
func (m *failingMuxer) WriteTrailer() error           { m.trailers++; return nil }
func (m *failingMuxer) WritePacket(pkt *av.Packet) error {
	if pkt.Dts() == m.failDts {
		return errDiskFull
	}
	m.written = append(m.written, pkt.Dts())
	return nil
}

func openFailing(t *testing.T, m Muxer) *OutputContext {
	t.Helper()
	oc := &OutputContext{format: &Format{Name: "failing"}, path: "failing.out", muxer: m}
	oc.Track(av.KindOutput)
	_, err := oc.CreateStream(newFakeEncoder(av.CodecIDMJPEG))
	require.NoError(t, err)
	require.NoError(t, oc.WriteHeader())
	return oc
}

func TestWritePacketReportsItsOwnFailure(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	m := &failingMuxer{failDts: 0}
	oc := openFailing(t, m)

	assert.ErrorIs(t, oc.WritePacket(packet(0, 1001, true, []byte{1})), errDiskFull)
	assert.NoError(t, oc.WritePacket(packet(1001, 1001, true, []byte{2})))
	assert.NoError(t, oc.WritePacket(packet(2002, 1001, true, []byte{3})))
	assert.NoError(t, oc.WriteTrailer())
	require.NoError(t, oc.Close())

	assert.Equal(t, []int64{1001, 2002}, m.written)
	assert.Equal(t, 1, m.trailers)
	assert.Equal(t, int64(0), av.DefaultLedger.Snapshot().Since(base).Outstanding())
}

func TestHeldBackFailureKeepsTrailerClean(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	before := testutil.ToFloat64(metrics.TransientErrors.WithLabelValues(metrics.StageMux))
	m := &failingMuxer{failDts: 2002}
	oc := openFailing(t, m)

	// No durations: every packet waits for the next dts.
	for _, dts := range []int64{0, 1001, 2002} {
		require.NoError(t, oc.WritePacket(packet(dts, 0, true, []byte{1})))
	}
	assert.Equal(t, []int64{0, 1001}, m.written)

	assert.NoError(t, oc.WriteTrailer())
	assert.Equal(t, 1, m.trailers)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TransientErrors.WithLabelValues(metrics.StageMux)))
	require.NoError(t, oc.Close())
	assert.Equal(t, int64(0), av.DefaultLedger.Snapshot().Since(base).Outstanding())
}

// splitInit returns the ftyp+moov prefix and the remaining fragments.
func splitInit(t *testing.T, data []byte) ([]byte, []byte) {
	t.Helper()
	off := 0
	for off+8 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[off:]))
		typ := string(data[off+4 : off+8])
		if typ == "moof" {
			return data[:off], data[off:]
		}
		require.Greater(t, size, 0)
		off += size
	}
	return data, nil
}

func TestFMP4MJPEGRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	oc, err := OpenOutput(path, "")
	require.NoError(t, err)

	_, err = oc.CreateStream(newFakeEncoder(av.CodecIDMJPEG))
	require.NoError(t, err)
	require.NoError(t, oc.WriteHeader())

	// Durations left at zero are derived from the following dts.
	for i := int64(0); i < 3; i++ {
		require.NoError(t, oc.WritePacket(packet(i*1001, 0, true, []byte{0xFF, 0xD8, byte(i)})))
	}
	require.NoError(t, oc.WriteTrailer())
	require.NoError(t, oc.Close())
	assert.Equal(t, int64(3), oc.PacketsWritten())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	initBytes, rest := splitInit(t, data)

	var init fmp4.Init
	require.NoError(t, init.Unmarshal(bytes.NewReader(initBytes)))
	require.Len(t, init.Tracks, 1)
	assert.Equal(t, uint32(24000), init.Tracks[0].TimeScale)
	mjpeg, ok := init.Tracks[0].Codec.(*mp4.CodecMJPEG)
	require.True(t, ok)
	assert.Equal(t, 64, mjpeg.Width)

	var parts fmp4.Parts
	require.NoError(t, parts.Unmarshal(rest))
	var samples []*fmp4.Sample
	for _, p := range parts {
		for _, tr := range p.Tracks {
			samples = append(samples, tr.Samples...)
		}
	}
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.Equal(t, uint32(1001), s.Duration)
		assert.Equal(t, []byte{0xFF, 0xD8, byte(i)}, s.Payload)
	}
	assert.Equal(t, uint64(0), parts[0].Tracks[0].BaseTime)
}

func TestFMP4H264FromExtradata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	oc, err := OpenOutput(path, "")
	require.NoError(t, err)
	defer oc.Close()

	enc := newFakeEncoder(av.CodecIDH264)
	enc.params.ExtraData = append(append([]byte{0, 0, 0, 1}, testSPS...), append([]byte{0, 0, 0, 1}, testPPS...)...)
	_, err = oc.CreateStream(enc)
	require.NoError(t, err)
	require.NoError(t, oc.WriteHeader())

	au := append([]byte{0, 0, 0, 1}, testIDR...)
	require.NoError(t, oc.WritePacket(packet(0, 1001, true, au)))
	require.NoError(t, oc.WriteTrailer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	initBytes, rest := splitInit(t, data)

	var init fmp4.Init
	require.NoError(t, init.Unmarshal(bytes.NewReader(initBytes)))
	c, ok := init.Tracks[0].Codec.(*mp4.CodecH264)
	require.True(t, ok)
	assert.Equal(t, testSPS, c.SPS)
	assert.Equal(t, testPPS, c.PPS)

	var parts fmp4.Parts
	require.NoError(t, parts.Unmarshal(rest))
	payload := parts[0].Tracks[0].Samples[0].Payload
	assert.Equal(t, append([]byte{0, 0, 0, byte(len(testIDR))}, testIDR...), payload)
}

func TestFMP4H264DeferredInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	oc, err := OpenOutput(path, "mp4")
	require.NoError(t, err)
	defer oc.Close()

	_, err = oc.CreateStream(newFakeEncoder(av.CodecIDH264))
	require.NoError(t, err)
	require.NoError(t, oc.WriteHeader())

	var au []byte
	for _, n := range [][]byte{testSPS, testPPS, testIDR} {
		au = append(au, 0, 0, 0, 1)
		au = append(au, n...)
	}
	require.NoError(t, oc.WritePacket(packet(0, 1001, true, au)))
	require.NoError(t, oc.WriteTrailer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ftyp", string(data[4:8]))
}

func TestMatroskaMJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mkv")
	oc, err := OpenOutput(path, "")
	require.NoError(t, err)

	_, err = oc.CreateStream(newFakeEncoder(av.CodecIDMJPEG))
	require.NoError(t, err)
	require.NoError(t, oc.WriteHeader())
	for i := int64(0); i < 3; i++ {
		require.NoError(t, oc.WritePacket(packet(i*1001, 1001, true, []byte{0xFF, 0xD8, 0xFF, 0xD9})))
	}
	require.NoError(t, oc.WriteTrailer())
	require.NoError(t, oc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1A, 0x45, 0xDF, 0xA3}, data[:4])
	assert.True(t, bytes.Contains(data, []byte("matroska")))
	assert.True(t, bytes.Contains(data, []byte("V_MJPEG")))
}

func TestMatroskaTrailerWithoutTrack(t *testing.T) {
	oc, err := OpenOutput(filepath.Join(t.TempDir(), "out.mkv"), "")
	require.NoError(t, err)
	defer oc.Close()

	_, err = oc.CreateStream(newFakeEncoder(av.CodecIDH264))
	require.NoError(t, err)
	require.NoError(t, oc.WriteHeader())
	assert.ErrorIs(t, oc.WriteTrailer(), ErrHeaderNotWritten)
}

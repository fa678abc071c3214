package transcode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/xgrab/internal/av"
	"github.com/babelcloud/gbox/packages/xgrab/internal/scale"
)

type harness struct {
	in  *fakeInput
	dec *fakeDecoder
	enc *fakeEncoder
	out *fakeOutput
	pl  *Pipeline
}

func newHarness(t *testing.T, in *fakeInput, dec *fakeDecoder, scaler scale.Scaler) *harness {
	t.Helper()
	if scaler == nil {
		native, err := scale.NewNative(scale.Options{Cache: true})
		require.NoError(t, err)
		scaler = native
	}
	h := &harness{in: in, dec: dec, enc: newFakeEncoder(), out: newFakeOutput()}
	h.pl = New(Parts{
		Input:        in,
		StreamIndex:  0,
		Decoder:      dec,
		Scaler:       NewScaleStage(scaler, testWidth, testHeight, av.PixelFormatYUV420P),
		Encoder:      h.enc,
		OutputStream: 0,
		Output:       h.out,
		FlushOnStop:  true,
		Session:      t.Name(),
	})
	return h
}

// balanced asserts that every handle allocated since base was released.
func balanced(t *testing.T, base av.Snapshot) {
	t.Helper()
	diff := av.DefaultLedger.Snapshot().Since(base)
	assert.Zero(t, diff.Outstanding(), "outstanding handles: %v", diff)
}

func TestRunThreePackets(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	h := newHarness(t, newFakeInput(3), newFakeDecoder(1), nil)

	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	assert.Equal(t, []int64{0, 1001, 2002}, h.out.pts())
	for _, p := range h.out.packets {
		assert.Equal(t, 0, p.streamIndex)
		assert.Equal(t, p.pts, p.dts)
	}
	assert.Equal(t, []byte{1, 2, 3}, h.out.payloads())
	assert.Equal(t, []av.PictureType{av.PictureTypeNone, av.PictureTypeNone, av.PictureTypeNone}, h.enc.pictures)
	assert.Equal(t, 1, h.out.trailers)
	assert.Equal(t, StateStopped, h.pl.State())

	st := h.pl.Status()
	assert.Equal(t, int64(3), st.PacketsRead)
	assert.Equal(t, int64(3), st.FramesEncoded)
	assert.Equal(t, int64(3), st.PacketsWritten)
	assert.Equal(t, "stopped", st.State)
	balanced(t, base)
}

func TestRunDecodeFailureKeepsGoing(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	h := newHarness(t, newFakeInput(3), newFakeDecoder(1, 2), nil)

	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	assert.Equal(t, 3, h.in.reads)
	assert.Equal(t, []byte{1, 3}, h.out.payloads())
	assert.Equal(t, []int64{0, 1001}, h.out.pts())
	assert.Equal(t, int64(1), h.pl.Stats().TransientErrors.Load())
	assert.Equal(t, 1, h.out.trailers)
	balanced(t, base)
}

func TestRunStopMidRun(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := newFakeInput(0)
	in.onRead = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	h := newHarness(t, in, newFakeDecoder(1), nil)

	require.NoError(t, h.pl.Run(ctx))
	require.NoError(t, h.pl.Close())

	// The packet in flight when the stop arrived is still processed.
	assert.Equal(t, 2, in.reads)
	assert.Equal(t, []int64{0, 1001}, h.out.pts())
	assert.Equal(t, 1, h.out.trailers)
	balanced(t, base)
}

func TestRepeatedStopIsSameAsOne(t *testing.T) {
	run := func(stops int) (int, []int64) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		in := newFakeInput(0)
		in.onRead = func(n int) {
			if n == 3 {
				for i := 0; i < stops; i++ {
					cancel()
				}
			}
		}
		h := newHarness(t, in, newFakeDecoder(1), nil)
		require.NoError(t, h.pl.Run(ctx))
		require.NoError(t, h.pl.Close())
		return in.reads, h.out.pts()
	}

	reads1, pts1 := run(1)
	reads5, pts5 := run(5)
	assert.Equal(t, reads1, reads5)
	assert.Equal(t, pts1, pts5)
}

func TestRunAlreadyCancelledReadsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, newFakeInput(3), newFakeDecoder(1), nil)
	require.NoError(t, h.pl.Run(ctx))
	require.NoError(t, h.pl.Close())

	assert.Zero(t, h.in.reads)
	assert.Empty(t, h.out.packets)
	assert.Equal(t, 1, h.out.trailers)
}

func TestRunSkipsOtherStreams(t *testing.T) {
	in := newFakeInput(4)
	in.streamOf = func(n int) int { return n % 2 }
	h := newHarness(t, in, newFakeDecoder(1), nil)

	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	assert.Equal(t, []byte{2, 4}, h.out.payloads())
	assert.Equal(t, int64(2), h.pl.Stats().PacketsSkipped.Load())
}

func TestRunReadFailureEndsRun(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	in := newFakeInput(0)
	in.failAt = 3
	h := newHarness(t, in, newFakeDecoder(1), nil)

	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	assert.Equal(t, 3, in.reads)
	assert.Equal(t, []byte{1, 2}, h.out.payloads())
	assert.Equal(t, 1, h.out.trailers)
	balanced(t, base)
}

func TestRunManyFramesPerPacketInOrder(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	h := newHarness(t, newFakeInput(2), newFakeDecoder(3), nil)

	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	assert.Equal(t, [][2]byte{{1, 0}, {1, 1}, {1, 2}, {2, 0}, {2, 1}, {2, 2}}, h.enc.payloads)
	assert.Equal(t, []int64{0, 1001, 2002, 3003, 4004, 5005}, h.out.pts())
	balanced(t, base)
}

func TestRunScaleFailureDropsRestOfPacket(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	native, err := scale.NewNative(scale.Options{})
	require.NoError(t, err)
	scaler := &failingScaler{inner: native, failCalls: map[int]bool{2: true}}
	h := newHarness(t, newFakeInput(2), newFakeDecoder(3), scaler)

	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	// Frame two of packet one fails; frame three of that packet is dropped.
	assert.Equal(t, [][2]byte{{1, 0}, {2, 0}, {2, 1}, {2, 2}}, h.enc.payloads)
	assert.Equal(t, []int64{0, 1001, 2002, 3003}, h.out.pts())
	assert.Equal(t, int64(1), h.pl.Stats().TransientErrors.Load())
	balanced(t, base)
}

func TestRunEncodeFailureDoesNotAdvanceCounter(t *testing.T) {
	h := newHarness(t, newFakeInput(3), newFakeDecoder(1), nil)
	h.enc.failFrames[2] = true

	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	assert.Equal(t, []byte{1, 3}, h.out.payloads())
	assert.Equal(t, []int64{0, 1001}, h.out.pts())
}

func TestRunMuxFailureIsTransient(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	h := newHarness(t, newFakeInput(3), newFakeDecoder(1), nil)
	h.out.failOn[2] = true

	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	assert.Equal(t, []byte{1, 3}, h.out.payloads())
	assert.Equal(t, []int64{0, 2002}, h.out.pts())
	balanced(t, base)
}

func TestFlushOnStopDrainsEncoder(t *testing.T) {
	for _, flush := range []bool{true, false} {
		base := av.DefaultLedger.Snapshot()
		h := newHarness(t, newFakeInput(3), newFakeDecoder(1), nil)
		h.enc.delay = 2
		h.pl.flushOnStop = flush

		require.NoError(t, h.pl.Run(context.Background()))
		require.NoError(t, h.pl.Close())

		if flush {
			assert.Equal(t, []int64{0, 1001, 2002}, h.out.pts())
		} else {
			assert.Equal(t, []int64{0}, h.out.pts())
		}
		balanced(t, base)
	}
}

func TestRunStopsAfterDuration(t *testing.T) {
	in := newFakeInput(0)
	in.delay = 5 * time.Millisecond
	h := newHarness(t, in, newFakeDecoder(1), nil)
	h.pl.duration = 50 * time.Millisecond

	start := time.Now()
	require.NoError(t, h.pl.Run(context.Background()))
	require.NoError(t, h.pl.Close())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Positive(t, in.reads)
	assert.Len(t, h.out.packets, in.reads)
}

func TestCloseIsIdempotent(t *testing.T) {
	base := av.DefaultLedger.Snapshot()
	h := newHarness(t, newFakeInput(1), newFakeDecoder(1), nil)
	require.NoError(t, h.pl.Close())
	require.NoError(t, h.pl.Close())
	balanced(t, base)
}

package xmodem

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startReceiver(t *testing.T, opts ...Option) (*Session, *fakeTransport, *fakeSink, *eventRecorder) {
	t.Helper()

	m, rec := newTestModem(t, opts...)
	tr := newFakeTransport()
	sink := &fakeSink{}

	s, err := m.Receive(context.Background(), tr, sink)
	require.NoError(t, err)
	t.Cleanup(s.Abort)

	return s, tr, sink, rec
}

func TestReceiver_ReconstructsFile(t *testing.T) {
	data := testData(300)
	frames := encodeAll(t, data, BlockSize, 1, ModeCRC16)

	s, tr, sink, rec := startReceiver(t)

	assert.Equal(t, []byte{CRCProbe}, tr.waitWritten(t, 1))
	assert.Equal(t, StateInitiating, s.State())

	for i, frame := range frames {
		tr.feed(frame...)
		tr.waitWritten(t, 2+i)
	}
	assert.Equal(t, StateReceiving, s.State())

	tr.feed(EOT)
	require.NoError(t, waitSession(t, s))

	assert.Equal(t, []byte{CRCProbe, ACK, ACK, ACK, ACK}, tr.Written())
	assert.Equal(t, data, sink.Bytes())
	assert.Equal(t, 1, sink.writes, "file is written at once")
	assert.True(t, sink.isClosed())
	assert.True(t, tr.isClosed())

	assert.Equal(t, []string{
		"start(crc)",
		"status(recv SOH #1)",
		"status(send ACK)",
		"status(recv SOH #2)",
		"status(send ACK)",
		"status(recv SOH #3)",
		"status(send ACK)",
		"status(recv EOT)",
		"status(send ACK)",
		"stop(0)",
	}, rec.Strings())
	assert.Equal(t, 300, rec.last().Bytes)
	assert.Equal(t, RoleReceiver, rec.last().Role)

	assert.Equal(t, uint64(3), s.Metrics().BlockRecvCount.Load())
	assert.Equal(t, uint64(1), s.Metrics().ProbeCount.Load())
}

func TestReceiver_OnlyLastBlockIsTrimmed(t *testing.T) {
	// the first block ends with filler bytes that belong to the file
	data := append(bytes.Repeat([]byte{'a'}, BlockSize-4), bytes.Repeat([]byte{Filler}, 4)...)
	data = append(data, 'b', 'c')
	frames := encodeAll(t, data, BlockSize, 1, ModeChecksum)

	s, tr, sink, _ := startReceiver(t, WithMode(ModeChecksum))
	tr.waitWritten(t, 1)

	for _, frame := range frames {
		tr.feed(frame...)
	}
	tr.feed(EOT)
	require.NoError(t, waitSession(t, s))

	assert.Equal(t, data, sink.Bytes())
}

func TestReceiver_ChunkedFrames(t *testing.T) {
	data := testData(2 * BlockSize)
	frames := encodeAll(t, data, BlockSize, 1, ModeCRC16)
	stream := append(append(bytes.Clone(frames[0]), frames[1]...), EOT)

	s, tr, sink, _ := startReceiver(t)
	tr.waitWritten(t, 1)

	// split across arbitrary boundaries, including mid-header and mid-trailer
	for _, cut := range [][2]int{{0, 2}, {2, 70}, {70, 132}, {132, 135}, {135, 265}, {265, len(stream)}} {
		tr.feed(stream[cut[0]:cut[1]]...)
	}

	require.NoError(t, waitSession(t, s))
	assert.Equal(t, data, sink.Bytes())
	assert.Equal(t, []byte{CRCProbe, ACK, ACK, ACK}, tr.Written())
}

func TestReceiver_CoalescedFrames(t *testing.T) {
	data := testData(3 * BlockSize)
	frames := encodeAll(t, data, BlockSize, 1, ModeCRC16)

	s, tr, sink, _ := startReceiver(t)
	tr.waitWritten(t, 1)

	tr.feed(append(bytes.Join(frames, nil), EOT)...)

	require.NoError(t, waitSession(t, s))
	assert.Equal(t, data, sink.Bytes())
}

func TestReceiver_SyncErrorDropsFrame(t *testing.T) {
	data := testData(2 * BlockSize)
	frames := encodeAll(t, data, BlockSize, 1, ModeCRC16)

	s, tr, sink, _ := startReceiver(t)
	tr.waitWritten(t, 1)

	tr.feed(frames[0]...)
	tr.feed(frames[1]...)
	before := tr.waitWritten(t, 3)

	// expecting block 3, block 5 arrives
	tr.feed(mustEncode(t, 5, testData(BlockSize), ModeCRC16)...)
	require.Eventually(t, func() bool { return s.Metrics().SyncErrorCount.Load() == 1 }, waitTimeout, time.Millisecond)

	assert.Equal(t, before, tr.Written(), "no ACK or NAK written")
	assert.Equal(t, StateReceiving, s.State())
	assert.Equal(t, uint64(2), s.Metrics().BlockRecvCount.Load())

	// a duplicate of the previous block is dropped the same way
	tr.feed(frames[1]...)
	require.Eventually(t, func() bool { return s.Metrics().SyncErrorCount.Load() == 2 }, waitTimeout, time.Millisecond)
	assert.Equal(t, before, tr.Written())

	tr.feed(EOT)
	require.NoError(t, waitSession(t, s))
	assert.Equal(t, data, sink.Bytes())
}

func TestReceiver_SyncErrorNak(t *testing.T) {
	s, tr, _, _ := startReceiver(t, WithNakOnSyncError(true))
	tr.waitWritten(t, 1)

	tr.feed(mustEncode(t, 5, testData(BlockSize), ModeCRC16)...)
	written := tr.waitWritten(t, 2)

	assert.Equal(t, NAK, written[1])
	assert.Equal(t, uint64(1), s.Metrics().SyncErrorCount.Load())
	assert.Equal(t, uint64(1), s.Metrics().NakSendCount.Load())
}

func TestReceiver_DuplicateIsAcknowledgedAgain(t *testing.T) {
	data := testData(2 * BlockSize)
	frames := encodeAll(t, data, BlockSize, 1, ModeCRC16)

	s, tr, sink, rec := startReceiver(t, WithNakOnSyncError(true), WithMaxErrors(1))
	tr.waitWritten(t, 1)

	tr.feed(frames[0]...)
	tr.waitWritten(t, 2)

	// the sender missed the ACK and repeats block 1
	tr.feed(frames[0]...)
	tr.feed(frames[0]...)
	assert.Equal(t, []byte{CRCProbe, ACK, ACK, ACK}, tr.waitWritten(t, 4))
	assert.Equal(t, StateReceiving, s.State())

	tr.feed(frames[1]...)
	tr.waitWritten(t, 5)
	tr.feed(EOT)
	require.NoError(t, waitSession(t, s))

	assert.Equal(t, data, sink.Bytes())
	assert.Equal(t, uint64(2), s.Metrics().BlockRecvCount.Load())
	assert.Equal(t, uint64(2), s.Metrics().DuplicateCount.Load())
	assert.Zero(t, s.Metrics().SyncErrorCount.Load())
	assert.Zero(t, s.Metrics().NakSendCount.Load())
	assert.Equal(t, []string{
		"start(crc)",
		"status(recv SOH #1)",
		"status(send ACK)",
		"status(recv SOH #1)",
		"status(send ACK)",
		"status(recv SOH #1)",
		"status(send ACK)",
	}, rec.Strings()[:7])
}

func TestReceiver_CorruptDuplicateIsNaked(t *testing.T) {
	frames := encodeAll(t, testData(2*BlockSize), BlockSize, 1, ModeCRC16)

	bad := bytes.Clone(frames[0])
	bad[len(bad)-1] ^= 0xFF

	s, tr, _, _ := startReceiver(t, WithNakOnSyncError(true))
	tr.waitWritten(t, 1)

	tr.feed(frames[0]...)
	tr.waitWritten(t, 2)
	tr.feed(bad...)

	assert.Equal(t, []byte{CRCProbe, ACK, NAK}, tr.waitWritten(t, 3))
	assert.Equal(t, uint64(1), s.Metrics().BlockErrorCount.Load())
	assert.Zero(t, s.Metrics().DuplicateCount.Load())
}

func TestReceiver_BadFramesAreNaked(t *testing.T) {
	payload := testData(BlockSize)
	good := mustEncode(t, 1, payload, ModeCRC16)

	badComplement := bytes.Clone(good)
	badComplement[2] = 0x00

	badCRC := bytes.Clone(good)
	badCRC[len(badCRC)-1] ^= 0xFF

	s, tr, sink, rec := startReceiver(t)
	tr.waitWritten(t, 1)

	tr.feed(badComplement...)
	assert.Equal(t, NAK, tr.waitWritten(t, 2)[1])

	tr.feed(badCRC...)
	assert.Equal(t, NAK, tr.waitWritten(t, 3)[2])

	// the retry is accepted as block 1
	tr.feed(good...)
	assert.Equal(t, ACK, tr.waitWritten(t, 4)[3])

	tr.feed(EOT)
	require.NoError(t, waitSession(t, s))
	assert.Equal(t, payload, sink.Bytes())

	assert.Equal(t, uint64(2), s.Metrics().BlockErrorCount.Load())
	assert.Equal(t, uint64(2), s.Metrics().NakSendCount.Load())
	assert.Contains(t, rec.Strings(), "status(send NAK)")
}

func TestReceiver_LaxTrailer(t *testing.T) {
	payload := testData(BlockSize)
	frame := mustEncode(t, 1, payload, ModeCRC16)
	frame[len(frame)-1] ^= 0xFF

	s, tr, sink, _ := startReceiver(t, WithVerifyTrailer(false))
	tr.waitWritten(t, 1)

	tr.feed(frame...)
	assert.Equal(t, ACK, tr.waitWritten(t, 2)[1])

	tr.feed(EOT)
	require.NoError(t, waitSession(t, s))
	assert.Equal(t, payload, sink.Bytes())
}

func TestReceiver_TooManyErrors(t *testing.T) {
	bad := mustEncode(t, 1, testData(BlockSize), ModeCRC16)
	bad[2] = 0x00

	s, tr, sink, rec := startReceiver(t, WithMaxErrors(2))
	tr.waitWritten(t, 1)

	tr.feed(bad...)
	tr.feed(bad...)
	tr.feed(bad...)

	err := waitSession(t, s)
	require.ErrorIs(t, err, ErrTooManyErrors)

	assert.Equal(t, []byte{CRCProbe, NAK, NAK}, tr.Written())
	assert.Equal(t, EventError, rec.last().Type)
	assert.Empty(t, sink.Bytes())
	assert.True(t, sink.isClosed())
	assert.True(t, tr.isClosed())
}

func TestReceiver_ErrorCounterResetOnSuccess(t *testing.T) {
	frames := encodeAll(t, testData(2*BlockSize), BlockSize, 1, ModeCRC16)

	bad := bytes.Clone(frames[0])
	bad[2] = 0x00

	s, tr, _, _ := startReceiver(t, WithMaxErrors(1))
	tr.waitWritten(t, 1)

	tr.feed(bad...)
	tr.waitWritten(t, 2)
	tr.feed(frames[0]...)
	tr.waitWritten(t, 3)

	// one more failure is tolerated for block 2
	bad2 := bytes.Clone(frames[1])
	bad2[2] = 0x00
	tr.feed(bad2...)
	written := tr.waitWritten(t, 4)

	assert.Equal(t, []byte{CRCProbe, NAK, ACK, NAK}, written)
	assert.Equal(t, StateReceiving, s.State())
}

func TestReceiver_Negotiation(t *testing.T) {
	s, tr, _, rec := startReceiver(t,
		WithCRCAttempts(3),
		WithMaxErrors(1),
		WithTimeout(time.Second),
		WithProbeInterval(5*time.Millisecond),
	)

	err := waitSession(t, s)
	require.ErrorIs(t, err, ErrNegotiationTimeout)

	// CRCAttempts-1 'C' probes, then MaxErrors x timeout seconds x 3 NAK probes
	assert.Equal(t, []byte{CRCProbe, CRCProbe, NAK, NAK, NAK}, tr.Written())
	assert.Equal(t, ModeChecksum, s.Mode())
	assert.Equal(t, uint64(5), s.Metrics().ProbeCount.Load())
	assert.Equal(t, []string{"error(" + err.Error() + ")"}, rec.Strings())
}

func TestReceiver_NegotiationChecksumOnly(t *testing.T) {
	s, tr, _, _ := startReceiver(t,
		WithMode(ModeChecksum),
		WithMaxErrors(1),
		WithProbeInterval(5*time.Millisecond),
	)

	err := waitSession(t, s)
	require.ErrorIs(t, err, ErrNegotiationTimeout)
	assert.Equal(t, []byte{NAK, NAK, NAK}, tr.Written())
}

func TestReceiver_NegotiationSingleCRCAttempt(t *testing.T) {
	s, tr, _, _ := startReceiver(t,
		WithCRCAttempts(1),
		WithMaxErrors(1),
		WithProbeInterval(5*time.Millisecond),
	)

	err := waitSession(t, s)
	require.ErrorIs(t, err, ErrNegotiationTimeout)
	assert.Equal(t, []byte{NAK, NAK, NAK}, tr.Written())
}

func TestReceiver_FallbackToChecksum(t *testing.T) {
	payload := testData(BlockSize)

	s, tr, sink, rec := startReceiver(t,
		WithCRCAttempts(2),
		WithProbeInterval(50*time.Millisecond),
	)

	// one 'C', then NAK probes start
	written := tr.waitWritten(t, 2)
	assert.Equal(t, []byte{CRCProbe, NAK}, written)

	tr.feed(mustEncode(t, 1, payload, ModeChecksum)...)
	require.Eventually(t, func() bool { return s.Metrics().BlockRecvCount.Load() == 1 }, waitTimeout, time.Millisecond)

	// no probe after the first block
	n := len(tr.Written())
	time.Sleep(120 * time.Millisecond)
	assert.Len(t, tr.Written(), n)
	assert.Equal(t, ACK, tr.Written()[n-1])

	tr.feed(EOT)
	require.NoError(t, waitSession(t, s))
	assert.Equal(t, payload, sink.Bytes())
	assert.Contains(t, rec.Strings(), "start(normal)")
}

func TestReceiver_FirstFrameStopsProbes(t *testing.T) {
	s, tr, _, _ := startReceiver(t, WithProbeInterval(50*time.Millisecond))
	tr.waitWritten(t, 1)

	tr.feed(mustEncode(t, 1, testData(BlockSize), ModeCRC16)...)
	require.Eventually(t, func() bool { return s.State() == StateReceiving }, waitTimeout, time.Millisecond)

	n := len(tr.Written())
	time.Sleep(120 * time.Millisecond)
	assert.Len(t, tr.Written(), n)
}

func TestReceiver_1K(t *testing.T) {
	data := testData(2000)
	frames := encodeAll(t, data, BlockSize1K, 1, ModeCRC16)

	s, tr, sink, rec := startReceiver(t, WithProtocol(ProtocolXModem1K))
	tr.waitWritten(t, 1)

	for _, frame := range frames {
		tr.feed(frame...)
	}
	tr.feed(EOT)

	require.NoError(t, waitSession(t, s))
	assert.Equal(t, data, sink.Bytes())
	assert.Contains(t, rec.Strings(), "status(recv STX #2)")
}

func TestReceiver_StandardRejects1KFrame(t *testing.T) {
	s, tr, _, _ := startReceiver(t)
	tr.waitWritten(t, 1)

	tr.feed(mustEncode(t, 1, testData(BlockSize1K), ModeCRC16)...)
	assert.Equal(t, NAK, tr.waitWritten(t, 2)[1])
	assert.Equal(t, uint64(0), s.Metrics().BlockRecvCount.Load())
}

func TestReceiver_PartialFrameTimeout(t *testing.T) {
	frame := mustEncode(t, 1, testData(BlockSize), ModeCRC16)

	s, tr, _, _ := startReceiver(t)
	tr.waitWritten(t, 1)

	tr.feed(frame[:60]...)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, tr.Written(), 1, "waiting for the rest of the frame")

	// flushed after the timeout and rejected as a size mismatch
	written := tr.waitWritten(t, 2)
	assert.Equal(t, NAK, written[1])
	assert.Equal(t, uint64(1), s.Metrics().TimeoutCount.Load())

	tr.feed(frame...)
	assert.Equal(t, ACK, tr.waitWritten(t, 3)[2])
}

func TestReceiver_EmptyFile(t *testing.T) {
	s, tr, sink, rec := startReceiver(t)
	tr.waitWritten(t, 1)

	tr.feed(EOT)
	require.NoError(t, waitSession(t, s))

	assert.Equal(t, []byte{CRCProbe, ACK}, tr.Written())
	assert.Empty(t, sink.Bytes())
	assert.True(t, sink.isClosed())
	assert.Equal(t, 0, rec.last().Bytes)
}

func TestReceiver_IgnoresNoise(t *testing.T) {
	payload := testData(BlockSize)

	s, tr, sink, _ := startReceiver(t)
	tr.waitWritten(t, 1)

	tr.feed(NAK, 0x00, 'z')
	tr.feed(mustEncode(t, 1, payload, ModeCRC16)...)
	tr.feed(ACK, EOT)

	require.NoError(t, waitSession(t, s))
	assert.Equal(t, payload, sink.Bytes())
}

func TestReceiver_SinkError(t *testing.T) {
	s, tr, sink, _ := startReceiver(t)
	sink.writeErr = errors.New("disk full")
	tr.waitWritten(t, 1)

	tr.feed(mustEncode(t, 1, testData(BlockSize), ModeCRC16)...)
	tr.feed(EOT)

	err := waitSession(t, s)
	require.ErrorIs(t, err, ErrSink)
	assert.True(t, sink.isClosed())
}

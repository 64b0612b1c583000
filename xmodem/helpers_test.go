package xmodem

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vipoo/xmodem-cli/logger"
)

const waitTimeout = 3 * time.Second

// newTestConfig creates a Config with a silent logger and fast probes.
func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithLogger(logger.NewNop()),
		WithProbeInterval(time.Hour),
		WithTimeout(MinTimeout),
	}

	cfg, err := NewConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

func newTestModem(t *testing.T, opts ...Option) (*Modem, *eventRecorder) {
	t.Helper()

	m, err := NewModem(newTestConfig(t, opts...))
	require.NoError(t, err)

	rec := &eventRecorder{}
	m.AddEventHandler(rec.handle)

	return m, rec
}

// fakeTransport is an in-memory Transport. Bytes passed to feed are returned
// by Read in the same chunks; writes are recorded.
type fakeTransport struct {
	in      chan []byte
	pending []byte

	mu       sync.Mutex
	written  []byte
	writeErr error

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if len(f.pending) == 0 {
		select {
		case b := <-f.in:
			f.pending = b
		case <-f.closed:
			return 0, io.EOF
		}
	}

	n := copy(p, f.pending)
	f.pending = f.pending[n:]

	return n, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, p...)

	return len(p), nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) feed(b ...byte) {
	f.in <- append([]byte(nil), b...)
}

func (f *fakeTransport) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeErr = err
}

func (f *fakeTransport) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return bytes.Clone(f.written)
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// waitWritten waits until exactly n bytes were written and returns them.
func (f *fakeTransport) waitWritten(t *testing.T, n int) []byte {
	t.Helper()

	require.Eventually(t, func() bool { return len(f.Written()) >= n }, waitTimeout, time.Millisecond,
		"waiting for %d written bytes", n)

	written := f.Written()
	require.Len(t, written, n)

	return written
}

// fakeSink records what a receiving session writes.
type fakeSink struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writes   int
	closed   bool
	writeErr error
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.writes++

	return s.buf.Write(p)
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sink already closed")
	}
	s.closed = true

	return nil
}

func (s *fakeSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	// an empty sink reads as an empty file, not nil
	return append([]byte{}, s.buf.Bytes()...)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// eventRecorder collects events in emission order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, evt)
}

func (r *eventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

// Strings renders the recorded events with Event.String.
func (r *eventRecorder) Strings() []string {
	events := r.Events()
	out := make([]string, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.String())
	}

	return out
}

func (r *eventRecorder) last() Event {
	events := r.Events()
	if len(events) == 0 {
		return Event{}
	}

	return events[len(events)-1]
}

// testData returns n bytes that never end with Filler.
func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if n > 0 {
		data[n-1] = '!'
	}

	return data
}

// mustEncode encodes a block, failing the test on error.
func mustEncode(t *testing.T, seq byte, payload []byte, mode Mode) []byte {
	t.Helper()

	frame, err := EncodeBlock(seq, payload, mode)
	require.NoError(t, err)

	return frame
}

// encodeAll returns the wire frames of data split into blocks from startSeq.
func encodeAll(t *testing.T, data []byte, blockSize int, startSeq byte, mode Mode) [][]byte {
	t.Helper()

	blocks, err := SplitBlocks(data, blockSize, startSeq)
	require.NoError(t, err)

	frames := make([][]byte, 0, len(blocks))
	for _, blk := range blocks {
		frame, err := blk.Encode(mode)
		require.NoError(t, err)
		frames = append(frames, frame)
	}

	return frames
}

func waitSession(t *testing.T, s *Session) error {
	t.Helper()

	select {
	case <-s.Done():
		return s.Err()
	case <-time.After(waitTimeout):
		t.Fatalf("session %d did not finish, state %s", s.ID(), s.State())
		return nil
	}
}

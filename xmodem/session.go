package xmodem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vipoo/xmodem-cli/internal/pool"
	"github.com/vipoo/xmodem-cli/logger"
)

// readBufferSize is the size of a single transport read. Frames may span
// several reads.
const readBufferSize = 2048

// inboundQueueSize bounds the chunks read ahead of the session goroutine.
const inboundQueueSize = 16

// Transport is the byte stream a session runs on, typically a serial port
// or a net.Conn.
//
// Read may return frames split or coalesced at any boundary. Write is
// treated as fire-and-forget; a Write error ends the session. Close must
// unblock a pending Read.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Sink receives the assembled file of a receiving session in a single
// Write, followed by Close.
type Sink interface {
	io.Writer
	io.Closer
}

// machine is the protocol state machine driven by a session.
// All methods run on the session goroutine.
type machine interface {
	// begin runs once before the first event.
	begin()
	// feed handles a chunk of inbound bytes.
	feed(data []byte)
	// timeout handles expiry of the session deadline.
	timeout()
	// stop releases machine resources once the session is terminal.
	stop()
}

type inboundChunk struct {
	data []byte
	err  error
}

// Session is one transfer, sending or receiving, bound to a transport.
//
// Inbound chunks, supervisor probes and deadlines are handled one at a time
// on the session goroutine; the accessors are safe for concurrent use.
type Session struct {
	id        uint64
	role      Role
	cfg       *Config
	logger    logger.Logger
	transport Transport
	handlers  []EventHandler
	machine   machine

	state atomicState
	mode  atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc

	inbound  chan inboundChunk
	calls    chan func()
	deadline pool.Deadline

	done      chan struct{}
	err       error
	closeOnce sync.Once
	onFinish  func(*Session)

	metrics SessionMetrics
}

func newSession(ctx context.Context, id uint64, role Role, cfg *Config, t Transport, handlers []EventHandler) *Session {
	s := &Session{
		id:        id,
		role:      role,
		cfg:       cfg,
		logger:    cfg.logger.With("session", id, "role", role.String()),
		transport: t,
		handlers:  handlers,
		inbound:   make(chan inboundChunk, inboundQueueSize),
		calls:     make(chan func()),
		done:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mode.Store(uint32(cfg.mode))

	return s
}

// ID returns the session ID, unique within its Modem.
func (s *Session) ID() uint64 { return s.id }

// Role returns whether the session sends or receives.
func (s *Session) Role() Role { return s.role }

// State returns the current state.
func (s *Session) State() State { return s.state.Get() }

// Mode returns the error-detection mode. It is settled once the session
// leaves AwaitingMode or Initiating.
func (s *Session) Mode() Mode { return Mode(s.mode.Load()) }

// Metrics returns the session counters.
func (s *Session) Metrics() *SessionMetrics { return &s.metrics }

// Done returns a channel closed once the session is terminal and its
// transport closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the fatal error of a failed session. It is nil while the
// session runs and after a successful transfer.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the session is terminal or ctx is done. It returns the
// session error, or ctx.Err() when ctx ends first.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout is Wait with a timeout.
func (s *Session) WaitTimeout(timeout time.Duration) error {
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case <-s.done:
		return s.err
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

// Abort stops listening, closes the transport and fails the session with
// ErrAborted. The peer is not notified. Aborting a terminal session is a no-op.
func (s *Session) Abort() {
	s.cancel()
}

// start launches the transport reader and the session goroutine.
func (s *Session) start(m machine) {
	s.machine = m
	go s.readLoop()
	go s.run()
}

func (s *Session) run() {
	defer s.cleanup()

	s.machine.begin()

	for !s.state.Get().IsTerminal() {
		select {
		case <-s.ctx.Done():
			s.fail(fmt.Errorf("%w: %w", ErrAborted, s.ctx.Err()))

		case in := <-s.inbound:
			if in.err != nil {
				s.fail(fmt.Errorf("%w: %w", ErrTransport, in.err))
				continue
			}
			s.machine.feed(in.data)

		case fn := <-s.calls:
			fn()

		case <-s.deadline.C():
			s.deadline.Fired()
			s.machine.timeout()
		}
	}
}

func (s *Session) readLoop() {
	buf := make([]byte, readBufferSize)

	for {
		n, err := s.transport.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case s.inbound <- inboundChunk{data: chunk}:
			case <-s.done:
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			select {
			case s.inbound <- inboundChunk{err: err}:
			case <-s.done:
			}

			return
		}
	}
}

func (s *Session) cleanup() {
	s.machine.stop()
	s.deadline.Disarm()
	s.cancel()
	s.closeTransport()

	if s.onFinish != nil {
		s.onFinish(s)
	}
	close(s.done)
}

// post runs fn on the session goroutine. fn is dropped once the session is over.
func (s *Session) post(fn func()) {
	select {
	case s.calls <- fn:
	case <-s.done:
	}
}

func (s *Session) closeTransport() {
	s.closeOnce.Do(func() {
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("xmodem: close transport", "error", err)
		}
	})
}

// write writes b to the transport, failing the session on error.
func (s *Session) write(b ...byte) bool {
	if _, err := s.transport.Write(b); err != nil {
		s.fail(fmt.Errorf("%w: write: %w", ErrTransport, err))
		return false
	}

	return true
}

func (s *Session) setState(st State) {
	prev := s.state.Get()
	if prev.IsTerminal() {
		return
	}
	s.state.Set(st)
	s.logger.Debug("xmodem: state changed", "prevState", prev.String(), "newState", st.String())
}

func (s *Session) setMode(m Mode) {
	s.mode.Store(uint32(m))
}

// complete moves the session to Done and emits stop.
func (s *Session) complete(n int) {
	if !s.state.ToTerminal(StateDone) {
		return
	}
	s.logger.Info("xmodem: transfer complete", "bytes", n)
	s.emit(Event{Type: EventStop, ExitCode: 0, Bytes: n})
}

// fail moves the session to Error and emits error. Only the first failure counts.
func (s *Session) fail(err error) {
	if !s.state.ToTerminal(StateError) {
		return
	}
	s.err = err
	s.logger.Error("xmodem: transfer failed", "error", err)
	s.emit(Event{Type: EventError, Err: err})
}

func (s *Session) status(action Action, signal byte, block int) {
	s.emit(Event{Type: EventStatus, Status: Status{Action: action, Signal: signalName(signal), Block: block}})
}

func (s *Session) emit(evt Event) {
	evt.SessionID = s.id
	evt.Role = s.role

	for _, h := range s.handlers {
		s.callWithRecover(h, evt)
	}
}

func (s *Session) callWithRecover(h EventHandler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("xmodem: panic in event handler", "event", evt.Type, "panic", r)
		}
	}()

	h(evt)
}

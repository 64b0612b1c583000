package xmodem

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Modem starts XMODEM sessions with a shared configuration and event handlers.
//
// A Modem allows at most one active session per transport. Transports are
// used as map keys, so their dynamic type must be comparable; pointer types
// such as *net.TCPConn or serial.Port implementations are.
type Modem struct {
	cfg *Config

	handlerMu sync.RWMutex
	handlers  []EventHandler

	sessions *xsync.MapOf[Transport, *Session]
	nextID   atomic.Uint64
}

// NewModem creates a Modem with cfg.
func NewModem(cfg *Config) (*Modem, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	return &Modem{
		cfg:      cfg,
		sessions: xsync.NewMapOf[Transport, *Session](),
	}, nil
}

// Config returns the configuration.
func (m *Modem) Config() *Config {
	return m.cfg
}

// AddEventHandler registers handlers invoked for every event of sessions
// started afterwards.
func (m *Modem) AddEventHandler(handlers ...EventHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	for _, h := range handlers {
		if h != nil {
			m.handlers = append(m.handlers, h)
		}
	}
}

// Send starts a sending session transferring data over t and returns
// immediately. The session waits for the receiver's start probe; progress
// and completion are reported through events and the returned Session.
//
// Cancelling ctx aborts the session.
func (m *Modem) Send(ctx context.Context, t Transport, data []byte) (*Session, error) {
	if t == nil {
		return nil, ErrTransportNil
	}

	s := m.newSession(ctx, RoleSender, t)
	sd, err := newSender(s, data)
	if err != nil {
		s.cancel()
		return nil, err
	}

	if err := m.register(s); err != nil {
		return nil, err
	}

	s.start(sd)

	return s, nil
}

// Receive starts a receiving session over t and returns immediately. The
// received file is written to sink in a single Write followed by Close. The
// sink is closed on failure as well.
//
// Cancelling ctx aborts the session.
func (m *Modem) Receive(ctx context.Context, t Transport, sink Sink) (*Session, error) {
	if t == nil {
		return nil, ErrTransportNil
	}
	if sink == nil {
		return nil, ErrSinkNil
	}

	s := m.newSession(ctx, RoleReceiver, t)
	if err := m.register(s); err != nil {
		return nil, err
	}

	s.start(newReceiver(s, sink))

	return s, nil
}

// Session returns the active session bound to t.
func (m *Modem) Session(t Transport) (*Session, bool) {
	return m.sessions.Load(t)
}

// ActiveSessions returns the number of sessions not yet terminated.
func (m *Modem) ActiveSessions() int {
	return m.sessions.Size()
}

// AbortAll aborts every active session.
func (m *Modem) AbortAll() {
	m.sessions.Range(func(_ Transport, s *Session) bool {
		s.Abort()
		return true
	})
}

func (m *Modem) newSession(ctx context.Context, role Role, t Transport) *Session {
	m.handlerMu.RLock()
	handlers := append([]EventHandler(nil), m.handlers...)
	m.handlerMu.RUnlock()

	s := newSession(ctx, m.nextID.Add(1), role, m.cfg, t, handlers)
	s.onFinish = m.unregister

	return s
}

func (m *Modem) register(s *Session) error {
	if _, loaded := m.sessions.LoadOrStore(s.transport, s); loaded {
		s.cancel()
		return ErrSessionActive
	}

	return nil
}

func (m *Modem) unregister(s *Session) {
	m.sessions.Compute(s.transport, func(cur *Session, loaded bool) (*Session, bool) {
		return cur, !loaded || cur == s
	})
}

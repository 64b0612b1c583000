package xmodem

import "sync/atomic"

// Role tells a sending session from a receiving one.
type Role uint8

const (
	RoleSender Role = iota + 1
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// State is a session state. Senders move through
// AwaitingMode → Transmitting → EOTSent → Done, receivers through
// Initiating → Receiving → Finalizing → Done. Either may end in Error.
type State uint32

const (
	StateAwaitingMode State = iota + 1
	StateTransmitting
	StateEOTSent
	StateInitiating
	StateReceiving
	StateFinalizing
	StateDone
	StateError
)

func (st State) String() string {
	switch st {
	case StateAwaitingMode:
		return "awaiting-mode"
	case StateTransmitting:
		return "transmitting"
	case StateEOTSent:
		return "eot-sent"
	case StateInitiating:
		return "initiating"
	case StateReceiving:
		return "receiving"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether st is Done or Error.
func (st State) IsTerminal() bool {
	return st == StateDone || st == StateError
}

// atomicState is written by the session goroutine and read from anywhere.
type atomicState struct {
	state atomic.Uint32
}

func (a *atomicState) Get() State {
	return State(a.state.Load())
}

func (a *atomicState) Set(st State) {
	a.state.Store(uint32(st))
}

// ToTerminal moves to st unless already terminal. It returns false when a
// terminal state was reached first.
func (a *atomicState) ToTerminal(st State) bool {
	for {
		cur := a.state.Load()
		if State(cur).IsTerminal() {
			return false
		}
		if a.state.CompareAndSwap(cur, uint32(st)) {
			return true
		}
	}
}

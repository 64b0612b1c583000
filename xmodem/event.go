package xmodem

import (
	"fmt"
)

// EventType names a session lifecycle event.
type EventType string

const (
	// EventReady is emitted by a sender once the input is chunked; Blocks holds the block count.
	EventReady EventType = "ready"
	// EventStart is emitted when the error-detection mode is settled; Mode holds it.
	EventStart EventType = "start"
	// EventStatus reports a control byte or block crossing the wire; Status holds it.
	EventStatus EventType = "status"
	// EventStop is emitted on successful completion; ExitCode is 0 and Bytes the file length.
	EventStop EventType = "stop"
	// EventError is emitted on a fatal condition; Err holds the cause.
	EventError EventType = "error"
)

// Action is the direction of a status event.
type Action string

const (
	ActionSend Action = "send"
	ActionRecv Action = "recv"
)

// NoBlock is the Status.Block value of statuses that do not concern a block.
const NoBlock = -1

// Status describes one control byte or block crossing the wire.
type Status struct {
	Action Action
	// Signal is the control byte mnemonic: "SOH", "STX", "EOT", "ACK", "NAK".
	Signal string
	// Block is the block index counted from the start block, not wrapped
	// at 256. NoBlock when the status does not concern a block.
	Block int
}

// HasBlock reports whether the status concerns a block.
func (s Status) HasBlock() bool {
	return s.Block != NoBlock
}

// Event is a lifecycle notification of a session.
type Event struct {
	Type      EventType
	SessionID uint64
	Role      Role

	Blocks   int    // ready
	Mode     Mode   // start
	Status   Status // status
	ExitCode int    // stop
	Bytes    int    // stop
	Err      error  // error
}

// String renders the event for logs.
func (e Event) String() string {
	switch e.Type {
	case EventReady:
		return fmt.Sprintf("ready(%d)", e.Blocks)
	case EventStart:
		return fmt.Sprintf("start(%s)", e.Mode)
	case EventStatus:
		if e.Status.HasBlock() {
			return fmt.Sprintf("status(%s %s #%d)", e.Status.Action, e.Status.Signal, e.Status.Block)
		}
		return fmt.Sprintf("status(%s %s)", e.Status.Action, e.Status.Signal)
	case EventStop:
		return fmt.Sprintf("stop(%d)", e.ExitCode)
	case EventError:
		return fmt.Sprintf("error(%v)", e.Err)
	default:
		return string(e.Type)
	}
}

// EventHandler receives session events.
//
// Handlers are invoked synchronously on the session goroutine, in emission
// order. A handler must not block; hand long work off to another goroutine.
type EventHandler func(evt Event)

// EventChannel returns a handler forwarding events to ch. Events are dropped
// when ch is full, so size it for the expected burst.
func EventChannel(ch chan<- Event) EventHandler {
	return func(evt Event) {
		select {
		case ch <- evt:
		default:
		}
	}
}

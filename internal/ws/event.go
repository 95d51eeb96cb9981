package ws

import "fmt"

// EventKind discriminates transport events.
type EventKind int

const (
	// EventOpen reports a completed websocket handshake.
	EventOpen EventKind = iota + 1
	// EventFrame carries one inbound text frame.
	EventFrame
	// EventClose is the last event of a connection. Err is nil for a close
	// requested through Conn.Close.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventFrame:
		return "frame"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one transport notification.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Conn is one live (or still dialing) connection.
type Conn interface {
	// Send writes one text frame. It fails if the connection is not open.
	Send(data []byte) error
	// Close tears the connection down. It is safe to call multiple times and
	// aborts a dial that has not completed yet.
	Close() error
}

// Dialer opens connections to a chat room.
type Dialer interface {
	// Dial starts connecting to target and returns immediately. The handler
	// receives EventOpen once the handshake completes, EventFrame per inbound
	// frame and exactly one EventClose. Events are delivered sequentially
	// from a single goroutine, never from within Dial itself.
	Dial(target Target, handler func(Event)) Conn
}

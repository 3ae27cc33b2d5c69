// Package transport abstracts the relay connection so the client's event
// loop can be driven by a real WebSocket or by an in-memory fake.
package transport

import (
	"errors"
	"sync/atomic"
)

// ErrNotOpen is returned by Send before the connection is established or
// after it is closed.
var ErrNotOpen = errors.New("connection not open")

// EventType identifies a transport event.
type EventType int

const (
	EventOpen EventType = iota
	EventMessage
	EventError
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is posted by a connection to its sink. Conn is the id of the
// connection that produced it so consumers can drop events from a
// connection they have already replaced.
type Event struct {
	Conn uint64
	Type EventType
	Data string
	Err  error
}

// Conn is one relay connection.
type Conn interface {
	ID() uint64
	// Send writes one text frame.
	Send(text string) error
	// Close tears the connection down and stops its goroutines. An event
	// racing with Close may still be delivered, so consumers match Event.Conn
	// against the connection they currently hold. Safe to call more than once.
	Close() error
}

// Dialer opens connections. Dial must not block on the network: it returns
// a Conn immediately and reports the outcome through EventOpen or
// EventError on sink.
type Dialer interface {
	Dial(url string, sink chan<- Event) (Conn, error)
}

var lastID atomic.Uint64

// NextID returns a process-unique connection id.
func NextID() uint64 {
	return lastID.Add(1)
}

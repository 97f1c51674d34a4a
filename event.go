// Package rawecho implements a bounded-concurrency TCP echo service on
// top of a raw connection abstraction. The service is driven by an
// external proactor-style event engine: the engine multiplexes socket
// readiness into discrete events, and the core processes exactly one
// event at a time, so none of the core state needs locking. Buffers
// move between the application and the transport layer by strict
// ownership hand-off.
package rawecho

import (
	"time"

	"github.com/McMartinos/qpid-proton/pool"
)

// EventType identifies the kind of event delivered by the engine.
type EventType int

const (
	// EventListenerOpen is delivered once the listener is bound.
	EventListenerOpen EventType = iota
	// EventListenerAccept is delivered for each pending incoming
	// connection. The connection is not live until accepted.
	EventListenerAccept
	// EventListenerClose is delivered when the listener has closed.
	EventListenerClose
	// EventConnected confirms an accepted connection is live.
	EventConnected
	// EventWoken is delivered in response to Conn.Wake.
	EventWoken
	// EventDisconnected is the final event for a connection. All
	// buffers handed to the transport layer have been returned through
	// earlier Read and Written events by the time it is delivered.
	EventDisconnected
	// EventNeedReadBuffers signals the transport layer ran out of read
	// buffers. The service ignores it: the fixed initial batch is the
	// only provisioning strategy.
	EventNeedReadBuffers
	// EventRead signals filled read buffers are ready to be taken.
	// During teardown the same event returns unused read buffers with
	// zero size.
	EventRead
	// EventReadClosed signals the read direction has closed.
	EventReadClosed
	// EventWriteClosed signals the write direction has closed.
	EventWriteClosed
	// EventWritten signals sent buffers are ready to be reclaimed.
	EventWritten
	// EventTimerFired signals the single cooperative timer expired.
	EventTimerFired
	// EventInactive signals the engine has no remaining sources of
	// events; the dispatch loop can terminate safely.
	EventInactive
)

// String returns the event type name used in logs and conditions.
func (t EventType) String() string {
	switch t {
	case EventListenerOpen:
		return "listener-open"
	case EventListenerAccept:
		return "listener-accept"
	case EventListenerClose:
		return "listener-close"
	case EventConnected:
		return "connection-connected"
	case EventWoken:
		return "connection-woken"
	case EventDisconnected:
		return "connection-disconnected"
	case EventNeedReadBuffers:
		return "need-read-buffers"
	case EventRead:
		return "connection-read"
	case EventReadClosed:
		return "read-closed"
	case EventWriteClosed:
		return "write-closed"
	case EventWritten:
		return "connection-written"
	case EventTimerFired:
		return "timer-fired"
	case EventInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Event is a single occurrence delivered by the engine. Conn is nil for
// listener, timer, and inactive events. Err carries the transport
// condition, if one is set, for close and disconnect events.
type Event struct {
	Type EventType
	Conn Conn
	Err  error
}

// Batch is a group of events delivered together by Engine.Wait. The
// core hands the batch back through Engine.Done once every event in it
// has been processed.
type Batch struct {
	Events []Event
}

// Conn is the engine's handle for one raw connection. All methods are
// called only from the dispatch goroutine.
type Conn interface {
	// GiveReadBuffers transfers Free buffers to the transport layer to
	// be filled. The buffers come back through EventRead.
	GiveReadBuffers(bufs []*pool.Buffer) error

	// TakeReadBuffers returns all buffers the transport layer has
	// finished filling, restored to Free with their payload size set.
	TakeReadBuffers() []*pool.Buffer

	// WriteBuffers transfers Free buffers with payload to the
	// transport layer to be sent. They come back through EventWritten.
	WriteBuffers(bufs []*pool.Buffer) error

	// TakeWrittenBuffers returns all buffers whose payload has been
	// sent, restored to Free.
	TakeWrittenBuffers() []*pool.Buffer

	// Wake requests an EventWoken for this connection.
	Wake()

	// Close begins teardown of both directions. Idempotent.
	Close()

	// ReadClosed reports whether the read direction has closed.
	ReadClosed() bool

	// WriteClosed reports whether the write direction has closed.
	WriteClosed() bool

	// SetContext attaches an application value to the connection.
	SetContext(v any)

	// Context returns the value set by SetContext, or nil.
	Context() any
}

// Engine is the contract the core requires from the external event
// engine. Wait is the only blocking call in the whole service.
type Engine interface {
	// Wait blocks until a batch of events is ready.
	Wait() *Batch

	// Done hands a fully processed batch back to the engine.
	Done(b *Batch)

	// Accept acknowledges a pending connection delivered by
	// EventListenerAccept, making it live. There is no way to decline
	// a pending connection; rejection is Accept followed by Close.
	Accept(c Conn) error

	// CloseListener stops accepting new connections. Idempotent.
	CloseListener()

	// SetTimer arms the single cooperative timer. Re-arming replaces
	// any pending deadline.
	SetTimer(d time.Duration)

	// Now returns the engine's monotonic wall clock.
	Now() time.Time
}

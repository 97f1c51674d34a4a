package internal

import "time"

// ConnState represents the lifecycle state of an echoed connection.
type ConnState int

const (
	// StateConnecting represents a connection that has been admitted
	// but not yet confirmed by the transport layer.
	StateConnecting ConnState = iota
	// StateConnected represents a connection exchanging data.
	StateConnected
	// StateDraining represents a connection that has begun closing and
	// is waiting for its outstanding buffers to come back.
	StateDraining
	// StateClosed represents a fully torn down connection.
	StateClosed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnMetrics holds per-connection diagnostic counters. The dispatch
// loop is single-threaded, so no locking is needed.
type ConnMetrics struct {
	BytesTotal   int
	BuffersTotal int
	LastRecv     time.Time
}

// AddRecv records a batch of received buffers.
func (m *ConnMetrics) AddRecv(bytes, buffers int, at time.Time) {
	m.BytesTotal += bytes
	m.BuffersTotal += buffers
	m.LastRecv = at
}

// Reset zeroes the counters for slot reuse.
func (m *ConnMetrics) Reset() {
	m.BytesTotal = 0
	m.BuffersTotal = 0
	m.LastRecv = time.Time{}
}

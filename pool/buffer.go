// Package pool provides fixed-capacity raw buffers with explicit
// ownership tracking. A buffer's memory is writable by the application
// only while it is Free; once handed to the transport layer for reading
// or writing it belongs to the transport until the corresponding
// completion returns it. Every transition is checked so that a buffer
// can never be outstanding in two places at once.
package pool

import (
	"io"

	"github.com/samber/oops"
)

// Ownership describes who currently holds a Buffer.
type Ownership int

const (
	// Free means the buffer is held by the application and may be
	// filled, handed out, or disposed.
	Free Ownership = iota
	// GivenForRead means the buffer has been handed to the transport
	// layer to be filled with incoming bytes.
	GivenForRead
	// ReadyToWrite means the buffer has been handed to the transport
	// layer to be sent.
	ReadyToWrite
	// Disposed means the buffer has been returned to the pool for good
	// and must not be used again.
	Disposed
)

// String returns the string representation of the ownership state.
func (o Ownership) String() string {
	switch o {
	case Free:
		return "free"
	case GivenForRead:
		return "given-for-read"
	case ReadyToWrite:
		return "ready-to-write"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Buffer is a fixed-capacity byte buffer whose ownership moves
// explicitly between the application and the transport layer.
type Buffer struct {
	data   []byte
	size   int
	offset int
	state  Ownership
}

// Capacity returns the fixed capacity of the buffer.
func (b *Buffer) Capacity() int { return cap(b.data) }

// Size returns the number of valid payload bytes.
func (b *Buffer) Size() int { return b.size }

// Offset returns the current read position within the payload.
func (b *Buffer) Offset() int { return b.offset }

// State returns the current ownership state.
func (b *Buffer) State() Ownership { return b.state }

// Bytes returns the valid payload, from the read offset to the end of
// the filled region. The slice aliases the buffer's memory and is only
// valid while the caller owns the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.offset:b.size] }

// FillFrom reads once from r into the buffer's backing memory. Only
// the transport layer may call it, while it holds the buffer as
// GivenForRead. The read size is reported to the caller, not recorded;
// CompleteRead hands the buffer back with its final size.
func (b *Buffer) FillFrom(r io.Reader) (int, error) {
	if b.state != GivenForRead {
		return 0, b.stateError("FillFrom")
	}
	return r.Read(b.data[:cap(b.data)])
}

// DrainTo writes the buffer's whole payload to w. Only the transport
// layer may call it, while it holds the buffer as ReadyToWrite.
func (b *Buffer) DrainTo(w io.Writer) (int, error) {
	if b.state != ReadyToWrite {
		return 0, b.stateError("DrainTo")
	}
	n, err := w.Write(b.data[b.offset:b.size])
	b.offset += n
	return n, err
}

// GrantRead transfers ownership to the transport layer for filling.
// Only a Free buffer may be granted.
func (b *Buffer) GrantRead() error {
	if b.state != Free {
		return b.stateError("GrantRead")
	}
	b.state = GivenForRead
	b.size = 0
	b.offset = 0
	return nil
}

// CompleteRead returns a GivenForRead buffer to the application with n
// bytes of payload.
func (b *Buffer) CompleteRead(n int) error {
	if b.state != GivenForRead {
		return b.stateError("CompleteRead")
	}
	if n < 0 || n > b.Capacity() {
		return oops.
			Code("BUFFER_STATE").
			In("pool").
			With("n", n).
			With("capacity", b.Capacity()).
			Errorf("read completion size out of range")
	}
	b.state = Free
	b.size = n
	b.offset = 0
	return nil
}

// GrantWrite transfers ownership to the transport layer for sending the
// current payload. Only a Free buffer may be granted.
func (b *Buffer) GrantWrite() error {
	if b.state != Free {
		return b.stateError("GrantWrite")
	}
	b.state = ReadyToWrite
	return nil
}

// CompleteWrite returns a ReadyToWrite buffer to the application after
// its payload has been sent. The payload is cleared.
func (b *Buffer) CompleteWrite() error {
	if b.state != ReadyToWrite {
		return b.stateError("CompleteWrite")
	}
	b.state = Free
	b.size = 0
	b.offset = 0
	return nil
}

func (b *Buffer) stateError(op string) error {
	return oops.
		Code("BUFFER_STATE").
		In("pool").
		With("op", op).
		With("state", b.state.String()).
		Errorf("illegal buffer ownership transition")
}

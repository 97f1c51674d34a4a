package pool

import (
	"github.com/samber/oops"
)

// Disposition tells the pool what to do with a buffer the transport
// layer has handed back.
type Disposition int

const (
	// RecycleForRead prepares the buffer to be granted for another
	// read; any leftover payload is discarded.
	RecycleForRead Disposition = iota
	// RecycleForWrite keeps the payload intact so the buffer can be
	// granted to the write side (the echo path).
	RecycleForWrite
	// Dispose returns the buffer to the pool for good.
	Dispose
)

// BufferPool hands out fixed-capacity buffers and accounts for their
// whole lifetime. It is used from a single dispatch goroutine and
// performs no locking.
type BufferPool struct {
	bufferSize  int
	allocated   int
	disposed    int
	outstanding int
}

// NewBufferPool creates a pool that allocates buffers of the given
// fixed capacity.
func NewBufferPool(bufferSize int) (*BufferPool, error) {
	if bufferSize <= 0 {
		return nil, oops.
			Code("INVALID_CONFIG").
			In("pool").
			With("buffer_size", bufferSize).
			Errorf("buffer size must be positive")
	}
	return &BufferPool{bufferSize: bufferSize}, nil
}

// BufferSize returns the fixed capacity of buffers handed out by the
// pool.
func (p *BufferPool) BufferSize() int { return p.bufferSize }

// Allocate hands out exactly n Free buffers or fails entirely; there is
// no partial allocation. Allocation never blocks.
func (p *BufferPool) Allocate(n int) ([]*Buffer, error) {
	if n <= 0 {
		return nil, oops.
			Code("ALLOCATION_FAILED").
			In("pool").
			With("count", n).
			Errorf("allocation count must be positive")
	}
	bufs := make([]*Buffer, n)
	for i := range bufs {
		bufs[i] = &Buffer{data: make([]byte, p.bufferSize)}
	}
	p.allocated += n
	p.outstanding += n
	return bufs, nil
}

// Return hands a buffer back to the pool with the given disposition.
// The buffer must be Free, that is, already returned by the transport
// layer through a completion.
func (p *BufferPool) Return(b *Buffer, d Disposition) error {
	if b.state != Free {
		return oops.
			Code("BUFFER_STATE").
			In("pool").
			With("state", b.state.String()).
			With("disposition", int(d)).
			Errorf("only a free buffer can be returned to the pool")
	}
	switch d {
	case RecycleForRead:
		b.size = 0
		b.offset = 0
		return nil
	case RecycleForWrite:
		// Payload stays valid for the echo write.
		return nil
	case Dispose:
		b.state = Disposed
		b.data = nil
		p.disposed++
		p.outstanding--
		return nil
	default:
		return oops.
			Code("BUFFER_STATE").
			In("pool").
			With("disposition", int(d)).
			Errorf("unknown disposition")
	}
}

// Outstanding returns the number of allocated buffers not yet disposed.
func (p *BufferPool) Outstanding() int { return p.outstanding }

// Allocated returns the cumulative number of buffers handed out.
func (p *BufferPool) Allocated() int { return p.allocated }

// Disposed returns the cumulative number of buffers returned for good.
func (p *BufferPool) Disposed() int { return p.disposed }

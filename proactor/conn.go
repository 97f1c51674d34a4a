package proactor

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/eapache/queue"
	"github.com/samber/oops"

	rawecho "github.com/McMartinos/qpid-proton"
	"github.com/McMartinos/qpid-proton/pool"
)

// Conn implements rawecho.Conn over one TCP connection. Buffers flow
// through four FIFO stages: given-for-read, filled (awaiting take),
// ready-to-write, and written (awaiting take). A reader and a writer
// goroutine move buffers between the outer stages; the core only ever
// touches the take queues from the dispatch goroutine.
type Conn struct {
	p   *Proactor
	tcp net.Conn

	mu        sync.Mutex
	readQ     *queue.Queue // GivenForRead, waiting to be filled
	readDone  *queue.Queue // filled, waiting for TakeReadBuffers
	writeQ    *queue.Queue // ReadyToWrite, waiting to be sent
	writeDone *queue.Queue // sent, waiting for TakeWrittenBuffers

	readKick  chan struct{}
	writeKick chan struct{}
	closeCh   chan struct{}

	readClosed  bool
	writeClosed bool
	closed      bool
	started     bool
	needPosted  bool
	cond        error

	wg  sync.WaitGroup
	ctx any
}

func newConn(p *Proactor, tcp net.Conn) *Conn {
	return &Conn{
		p:         p,
		tcp:       tcp,
		readQ:     queue.New(),
		readDone:  queue.New(),
		writeQ:    queue.New(),
		writeDone: queue.New(),
		readKick:  make(chan struct{}, 1),
		writeKick: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
}

// start brings the dormant connection live: transport goroutines begin
// and the connected event is posted.
func (c *Conn) start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return oops.
			Code("ACCEPT_FAILED").
			In("proactor").
			Errorf("connection already accepted")
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		c.teardown()
	}()

	c.p.post(rawecho.Event{Type: rawecho.EventConnected, Conn: c})
	return nil
}

// GiveReadBuffers transfers Free buffers to the read side.
func (c *Conn) GiveReadBuffers(bufs []*pool.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.readClosed {
		return oops.
			Code("CONN_CLOSED").
			In("proactor").
			Errorf("read side is closed")
	}
	for _, b := range bufs {
		if err := b.GrantRead(); err != nil {
			return err
		}
		c.readQ.Add(b)
	}
	c.needPosted = false
	kick(c.readKick)
	return nil
}

// TakeReadBuffers returns every filled buffer currently queued.
func (c *Conn) TakeReadBuffers() []*pool.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return drain(c.readDone)
}

// WriteBuffers transfers Free buffers with payload to the write side.
func (c *Conn) WriteBuffers(bufs []*pool.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.writeClosed {
		return oops.
			Code("CONN_CLOSED").
			In("proactor").
			Errorf("write side is closed")
	}
	for _, b := range bufs {
		if err := b.GrantWrite(); err != nil {
			return err
		}
		c.writeQ.Add(b)
	}
	kick(c.writeKick)
	return nil
}

// TakeWrittenBuffers returns every sent buffer currently queued.
func (c *Conn) TakeWrittenBuffers() []*pool.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return drain(c.writeDone)
}

// Wake requests a woken event for this connection.
func (c *Conn) Wake() {
	c.p.post(rawecho.Event{Type: rawecho.EventWoken, Conn: c})
}

// Close begins teardown of both directions. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.closeCh)
	started := c.started
	c.mu.Unlock()

	if err := c.tcp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithError(err).Debug("tcp close failed")
	}

	// A connection closed before being accepted has no transport
	// goroutines, so its disconnect must be synthesized here.
	if !started {
		c.teardown()
	}
}

// ReadClosed reports whether the read direction has closed.
func (c *Conn) ReadClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readClosed || c.closed
}

// WriteClosed reports whether the write direction has closed.
func (c *Conn) WriteClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeClosed || c.closed
}

// SetContext attaches an application value to the connection.
func (c *Conn) SetContext(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = v
}

// Context returns the value set by SetContext, or nil.
func (c *Conn) Context() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// readLoop fills granted buffers from the socket until the read side
// closes. Buffers left ungranted at exit are returned with zero size
// through a final read event.
func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if c.closed || c.readClosed {
			c.mu.Unlock()
			return
		}
		var b *pool.Buffer
		postNeed := false
		if c.readQ.Length() > 0 {
			b = c.readQ.Peek().(*pool.Buffer)
			c.readQ.Remove()
		} else if !c.needPosted {
			c.needPosted = true
			postNeed = true
		}
		c.mu.Unlock()
		if postNeed {
			c.p.post(rawecho.Event{Type: rawecho.EventNeedReadBuffers, Conn: c})
		}

		if b == nil {
			select {
			case <-c.readKick:
				continue
			case <-c.closeCh:
				return
			}
		}

		// A Read of (0, nil) is allowed by the io.Reader contract; keep
		// the buffer and try again rather than dropping it.
		for {
			n, err := b.FillFrom(c.tcp)
			if n > 0 {
				c.finishRead(b, n)
				b = nil
			}
			if err != nil {
				c.closeRead(b, err)
				return
			}
			if b == nil {
				break
			}
		}
	}
}

// finishRead moves a filled buffer to the take queue and posts a read
// event.
func (c *Conn) finishRead(b *pool.Buffer, n int) {
	if err := b.CompleteRead(n); err != nil {
		log.WithError(err).Error("read completion failed")
		return
	}
	c.mu.Lock()
	c.readDone.Add(b)
	c.mu.Unlock()
	c.p.post(rawecho.Event{Type: rawecho.EventRead, Conn: c})
}

// closeRead marks the read direction closed, returns any unfilled
// buffers with zero size, and posts the read-closed event.
func (c *Conn) closeRead(current *pool.Buffer, err error) {
	c.mu.Lock()
	c.readClosed = true
	if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !c.closed {
		c.cond = oops.
			Code("TRANSPORT_CONDITION").
			In("proactor").
			Wrapf(err, "read failed")
	}

	returned := false
	if current != nil {
		if cerr := current.CompleteRead(0); cerr == nil {
			c.readDone.Add(current)
			returned = true
		}
	}
	for c.readQ.Length() > 0 {
		b := c.readQ.Peek().(*pool.Buffer)
		c.readQ.Remove()
		if cerr := b.CompleteRead(0); cerr == nil {
			c.readDone.Add(b)
			returned = true
		}
	}
	c.mu.Unlock()

	if returned {
		c.p.post(rawecho.Event{Type: rawecho.EventRead, Conn: c})
	}
	c.p.post(rawecho.Event{Type: rawecho.EventReadClosed, Conn: c})
}

// writeLoop sends queued payloads until the write side closes.
func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if c.closed || c.writeClosed {
			c.mu.Unlock()
			return
		}
		var b *pool.Buffer
		if c.writeQ.Length() > 0 {
			b = c.writeQ.Peek().(*pool.Buffer)
			c.writeQ.Remove()
		}
		c.mu.Unlock()

		if b == nil {
			select {
			case <-c.writeKick:
				continue
			case <-c.closeCh:
				return
			}
		}

		if _, err := b.DrainTo(c.tcp); err != nil {
			c.closeWrite(b, err)
			return
		}
		c.finishWrite(b)
	}
}

// finishWrite moves a sent buffer to the take queue and posts a
// written event.
func (c *Conn) finishWrite(b *pool.Buffer) {
	if err := b.CompleteWrite(); err != nil {
		log.WithError(err).Error("write completion failed")
		return
	}
	c.mu.Lock()
	c.writeDone.Add(b)
	c.mu.Unlock()
	c.p.post(rawecho.Event{Type: rawecho.EventWritten, Conn: c})
}

// closeWrite marks the write direction closed, returns any unsent
// buffers, and posts the write-closed event.
func (c *Conn) closeWrite(current *pool.Buffer, err error) {
	c.mu.Lock()
	c.writeClosed = true
	if !errors.Is(err, net.ErrClosed) && !c.closed {
		c.cond = oops.
			Code("TRANSPORT_CONDITION").
			In("proactor").
			Wrapf(err, "write failed")
	}

	returned := false
	if current != nil {
		if cerr := current.CompleteWrite(); cerr == nil {
			c.writeDone.Add(current)
			returned = true
		}
	}
	for c.writeQ.Length() > 0 {
		b := c.writeQ.Peek().(*pool.Buffer)
		c.writeQ.Remove()
		if cerr := b.CompleteWrite(); cerr == nil {
			c.writeDone.Add(b)
			returned = true
		}
	}
	c.mu.Unlock()

	if returned {
		c.p.post(rawecho.Event{Type: rawecho.EventWritten, Conn: c})
	}
	c.p.post(rawecho.Event{Type: rawecho.EventWriteClosed, Conn: c})
}

// teardown runs once both transport goroutines have exited (or, for a
// never-accepted connection, directly from Close). Every buffer still
// held by the transport is returned through final read and written
// events before the disconnected event is posted.
func (c *Conn) teardown() {
	c.mu.Lock()
	c.closed = true
	c.readClosed = true
	c.writeClosed = true

	readReturned := false
	for c.readQ.Length() > 0 {
		b := c.readQ.Peek().(*pool.Buffer)
		c.readQ.Remove()
		if err := b.CompleteRead(0); err == nil {
			c.readDone.Add(b)
			readReturned = true
		}
	}
	writeReturned := false
	for c.writeQ.Length() > 0 {
		b := c.writeQ.Peek().(*pool.Buffer)
		c.writeQ.Remove()
		if err := b.CompleteWrite(); err == nil {
			c.writeDone.Add(b)
			writeReturned = true
		}
	}
	cond := c.cond
	c.mu.Unlock()

	if readReturned {
		c.p.post(rawecho.Event{Type: rawecho.EventRead, Conn: c})
	}
	if writeReturned {
		c.p.post(rawecho.Event{Type: rawecho.EventWritten, Conn: c})
	}
	c.p.post(rawecho.Event{Type: rawecho.EventDisconnected, Conn: c, Err: cond})
	c.p.decActive()
}

// kick signals a waiting transport loop without blocking.
func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// drain empties a FIFO of buffers into a slice.
func drain(q *queue.Queue) []*pool.Buffer {
	if q.Length() == 0 {
		return nil
	}
	bufs := make([]*pool.Buffer, 0, q.Length())
	for q.Length() > 0 {
		bufs = append(bufs, q.Peek().(*pool.Buffer))
		q.Remove()
	}
	return bufs
}

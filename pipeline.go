package rawecho

import (
	"github.com/sirupsen/logrus"

	"github.com/McMartinos/qpid-proton/internal"
	"github.com/McMartinos/qpid-proton/pool"
)

// handleConnEvent routes per-connection events through the echo
// pipeline state machine: Connecting -> Connected -> Draining -> Closed.
func (s *Server) handleConnEvent(e Event) {
	switch e.Type {
	case EventConnected:
		s.handleConnected(e)
	case EventRead:
		s.handleRead(e)
	case EventWritten:
		s.handleWritten(e)
	case EventWoken:
		s.handleWoken(e)
	case EventReadClosed, EventWriteClosed:
		// Half-duplex echo is not supported: either direction closing
		// tears the whole connection down.
		if slot := s.slotFor(e.Conn); slot != nil {
			slot.state = internal.StateDraining
		}
		e.Conn.Close()
	case EventDisconnected:
		s.handleDisconnected(e)
	case EventNeedReadBuffers:
		// No-op: the initial batch is the only provisioning strategy.
	}
}

// handleConnected issues the initial read buffers once the engine
// confirms the connection. A connection without a bound slot was
// rejected at admission and stays inert.
func (s *Server) handleConnected(e Event) {
	slot := s.slotFor(e.Conn)
	if slot == nil {
		log.Debug("connection confirmed without slot, leaving inert")
		return
	}

	slot.state = internal.StateConnected
	s.connects++

	bufs, err := s.bpool.Allocate(s.cfg.ReadBuffers)
	if err != nil {
		// Allocation failure is fatal for this connection only.
		log.WithError(err).WithFields(logrus.Fields{
			"slot": slot.ID(),
		}).Error("failed to allocate read buffers, closing connection")
		e.Conn.Close()
		return
	}

	if err := e.Conn.GiveReadBuffers(bufs); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"slot": slot.ID(),
		}).Error("failed to issue read buffers, closing connection")
		s.disposeAll(bufs)
		e.Conn.Close()
		return
	}

	log.WithFields(logrus.Fields{
		"slot": slot.ID(),
	}).Info("raw connection connected")
}

// handleRead drains every returned read buffer, delivers its payload to
// the sink, then echoes it back on the write side when possible. The
// same path returns unused buffers during teardown.
func (s *Server) handleRead(e Event) {
	c := e.Conn
	slot := s.slotFor(c)

	for bufs := c.TakeReadBuffers(); len(bufs) > 0; bufs = c.TakeReadBuffers() {
		bytes := 0
		for _, b := range bufs {
			bytes += b.Size()
			if b.Size() > 0 {
				if _, err := s.cfg.Sink.Write(b.Bytes()); err != nil {
					log.WithError(err).Error("sink write failed")
				}
			}
		}
		if slot != nil {
			slot.metrics.AddRecv(bytes, len(bufs), s.engine.Now())
		}

		switch {
		case !c.WriteClosed():
			for _, b := range bufs {
				if err := s.bpool.Return(b, pool.RecycleForWrite); err != nil {
					log.WithError(err).Error("buffer recycle failed")
				}
			}
			if err := c.WriteBuffers(bufs); err != nil {
				log.WithError(err).Error("failed to echo buffers, closing connection")
				s.disposeAll(bufs)
				c.Close()
				return
			}
		case !c.ReadClosed():
			for _, b := range bufs {
				if err := s.bpool.Return(b, pool.RecycleForRead); err != nil {
					log.WithError(err).Error("buffer recycle failed")
				}
			}
			if err := c.GiveReadBuffers(bufs); err != nil {
				log.WithError(err).Error("failed to recycle read buffers, closing connection")
				s.disposeAll(bufs)
				c.Close()
				return
			}
		default:
			s.disposeAll(bufs)
		}
	}
}

// handleWritten reclaims buffers whose payload was sent, recycling them
// for further reads while the read side is open.
func (s *Server) handleWritten(e Event) {
	c := e.Conn

	for bufs := c.TakeWrittenBuffers(); len(bufs) > 0; bufs = c.TakeWrittenBuffers() {
		if !c.ReadClosed() {
			for _, b := range bufs {
				if err := s.bpool.Return(b, pool.RecycleForRead); err != nil {
					log.WithError(err).Error("buffer recycle failed")
				}
			}
			if err := c.GiveReadBuffers(bufs); err != nil {
				log.WithError(err).Error("failed to recycle written buffers, closing connection")
				s.disposeAll(bufs)
				c.Close()
				return
			}
		} else {
			s.disposeAll(bufs)
		}
	}
}

// handleWoken is the liveness probe response; the connection stays in
// Connected and no buffer action is taken.
func (s *Server) handleWoken(e Event) {
	if slot := s.slotFor(e.Conn); slot != nil {
		log.WithFields(logrus.Fields{
			"slot": slot.ID(),
		}).Debug("raw connection woken")
	}
}

// handleDisconnected finalizes teardown: surface any pending condition,
// free whatever buffers the transport returned during teardown, and
// release the slot for reuse.
func (s *Server) handleDisconnected(e Event) {
	slot := s.slotFor(e.Conn)
	s.logCondition(e)

	// The engine has returned all outstanding buffers through read and
	// written events by now; sweep up any still queued on the handle.
	s.disposeAll(e.Conn.TakeReadBuffers())
	s.disposeAll(e.Conn.TakeWrittenBuffers())

	if slot == nil {
		// Rejected at admission; it never counted as a connect, so it
		// must not count as a disconnect either.
		log.Debug("raw connection disconnected: not connected")
		return
	}

	s.disconnects++
	m := slot.Metrics()
	log.WithFields(logrus.Fields{
		"slot":    slot.ID(),
		"bytes":   m.BytesTotal,
		"buffers": m.BuffersTotal,
	}).Info("raw connection disconnected")

	// Unbind before releasing: the slot may be reassigned immediately,
	// and a straggler event on this handle must not resolve to it.
	e.Conn.SetContext(nil)
	s.table.Release(slot)
}

// disposeAll returns a batch of buffers to the pool for good.
func (s *Server) disposeAll(bufs []*pool.Buffer) {
	for _, b := range bufs {
		if err := s.bpool.Return(b, pool.Dispose); err != nil {
			log.WithError(err).Error("buffer dispose failed")
		}
	}
}

package rawecho

import (
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/McMartinos/qpid-proton/pool"
)

// Server is the single-threaded core of the echo service. It owns the
// slot table, the buffer pool, and the global activity counters, and
// processes events delivered by the engine one at a time.
type Server struct {
	cfg    *Config
	engine Engine
	table  *SlotTable
	bpool  *pool.BufferPool

	connects    int
	disconnects int

	// firstIdle is set when connects == disconnects is first observed
	// and cleared the moment a new connection is admitted.
	firstIdle time.Time

	// nextWake is the deadline of the next keepalive sweep.
	nextWake time.Time

	listenerClosed bool

	// exitErr is set by a listener-level transport condition; it is
	// the only failure that aborts the whole service.
	exitErr error
}

// NewServer creates a server driven by the given engine.
func NewServer(engine Engine, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			Errorf("engine cannot be nil")
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bp, err := pool.NewBufferPool(cfg.BufferSize)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:    cfg,
		engine: engine,
		table:  NewSlotTable(cfg.MaxConnections),
		bpool:  bp,
	}, nil
}

// Counters returns the cumulative connect and disconnect counts.
func (s *Server) Counters() (connects, disconnects int) {
	return s.connects, s.disconnects
}

// Run processes event batches until the engine reports it is inactive
// or a listener condition aborts the service. It returns nil on clean
// shutdown and the listener condition otherwise.
func (s *Server) Run() error {
	for {
		batch := s.engine.Wait()
		for _, e := range batch.Events {
			if stop := s.handle(e); stop {
				s.engine.Done(batch)
				return s.exitErr
			}
		}
		s.engine.Done(batch)
	}
}

// handle dispatches one event. It returns true when the dispatch loop
// should stop.
func (s *Server) handle(e Event) bool {
	switch e.Type {
	case EventListenerOpen:
		log.WithFields(logrus.Fields{
			"host": s.cfg.Host,
			"port": s.cfg.Port,
		}).Info("listening")
		s.engine.SetTimer(s.cfg.WakeInterval)

	case EventListenerAccept:
		s.handleAccept(e)

	case EventListenerClose:
		s.listenerClosed = true
		if e.Err != nil {
			s.logCondition(e)
			s.exitErr = oops.
				Code("TRANSPORT_CONDITION").
				In("rawecho").
				With("event", e.Type.String()).
				Wrapf(e.Err, "listener failed")
			s.closeAll(nil)
			return true
		}

	case EventTimerFired:
		s.handleTimer()

	case EventInactive:
		return true

	default:
		if e.Conn != nil {
			s.handleConnEvent(e)
		}
	}
	return s.exitErr != nil
}

// handleAccept admits or rejects a pending connection. The engine has
// no way to decline a pending connection, so rejection is
// accept-then-immediately-close.
func (s *Server) handleAccept(e Event) {
	slot, err := s.table.Reserve(e.Conn)
	if err != nil {
		log.WithError(err).Warn("too many connections, rejecting")
		if aerr := s.engine.Accept(e.Conn); aerr != nil {
			log.WithError(aerr).Error("failed to accept connection for rejection")
		}
		e.Conn.Close()
		return
	}

	// A new connection means we are no longer idle.
	s.firstIdle = time.Time{}

	now := s.engine.Now()
	if s.nextWake.Before(now) {
		s.nextWake = now.Add(s.cfg.WakeInterval)
		s.engine.SetTimer(s.cfg.WakeInterval)
	}

	e.Conn.SetContext(slot)
	if err := s.engine.Accept(e.Conn); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"slot": slot.ID(),
		}).Error("failed to accept connection")
		e.Conn.SetContext(nil)
		s.table.Release(slot)
		e.Conn.Close()
		return
	}

	log.WithFields(logrus.Fields{
		"slot": slot.ID(),
	}).Debug("connection admitted")
}

// closeAll closes the given connection and the listener so the engine
// will deliver an inactive event once all outstanding events have been
// processed.
func (s *Server) closeAll(c Conn) {
	if c != nil {
		c.Close()
	}
	if !s.listenerClosed {
		s.listenerClosed = true
		s.engine.CloseListener()
	}
}

// logCondition reports a transport condition with its event context.
// Returns true if a condition was set.
func (s *Server) logCondition(e Event) bool {
	if e.Err == nil {
		return false
	}
	log.WithError(e.Err).WithFields(logrus.Fields{
		"event": e.Type.String(),
	}).Error("transport condition")
	return true
}

// slotFor returns the slot bound to the connection, or nil for a
// connection that was rejected at admission.
func (s *Server) slotFor(c Conn) *Slot {
	if slot, ok := c.Context().(*Slot); ok {
		return slot
	}
	return nil
}

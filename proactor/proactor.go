// Package proactor is a TCP-backed implementation of the event engine
// contract the rawecho core is written against. It multiplexes listener
// and per-connection goroutines into a single event channel, so the
// core sees exactly one event at a time and never performs raw socket
// I/O itself.
package proactor

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	rawecho "github.com/McMartinos/qpid-proton"
)

// log is the package-level logger for engine internals.
var log = logger.GetGoI2PLogger()

// maxBatch bounds how many queued events Wait folds into one batch.
const maxBatch = 32

// Proactor implements rawecho.Engine over a net.Listener. Every live
// event source (the listener, each connection, an armed timer) holds a
// reference; when the count drops to zero an inactive event is emitted
// exactly once and nothing further is delivered.
type Proactor struct {
	ln     net.Listener
	events chan rawecho.Event

	mu              sync.Mutex
	active          int
	timer           *time.Timer
	timerGen        uint64
	listenerClosing bool
	inactiveSent    bool
}

// Listen binds a TCP listener for the given host and port (port may be
// a service name) and starts delivering events. The backlog argument is
// accepted for contract fidelity; the operating system's listen backlog
// is not adjustable through net.Listen.
func Listen(host, port string, backlog int) (*Proactor, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, oops.
			Code("LISTEN_FAILED").
			In("proactor").
			With("host", host).
			With("port", port).
			Wrapf(err, "failed to bind listener")
	}

	p := &Proactor{
		ln:     ln,
		events: make(chan rawecho.Event, 1024),
		active: 1, // the listener
	}

	log.WithFields(logrus.Fields{
		"addr":    ln.Addr().String(),
		"backlog": backlog,
	}).Info("proactor listening")

	p.post(rawecho.Event{Type: rawecho.EventListenerOpen})
	go p.acceptLoop()
	return p, nil
}

// Addr returns the listener's bound address.
func (p *Proactor) Addr() net.Addr { return p.ln.Addr() }

// acceptLoop turns raw accepts into listener-accept events. Each
// pending connection stays dormant until the core acknowledges it
// through Accept.
func (p *Proactor) acceptLoop() {
	for {
		tcp, err := p.ln.Accept()
		if err != nil {
			p.mu.Lock()
			deliberate := p.listenerClosing
			p.mu.Unlock()

			var cond error
			if !deliberate && !errors.Is(err, net.ErrClosed) {
				cond = oops.
					Code("TRANSPORT_CONDITION").
					In("proactor").
					Wrapf(err, "listener accept failed")
			}
			p.post(rawecho.Event{Type: rawecho.EventListenerClose, Err: cond})
			p.decActive()
			return
		}

		c := newConn(p, tcp)
		p.incActive()
		p.post(rawecho.Event{Type: rawecho.EventListenerAccept, Conn: c})
	}
}

// Wait blocks until at least one event is available, then folds any
// further already-queued events into the same batch.
func (p *Proactor) Wait() *rawecho.Batch {
	b := &rawecho.Batch{Events: []rawecho.Event{<-p.events}}
	for len(b.Events) < maxBatch {
		select {
		case e := <-p.events:
			b.Events = append(b.Events, e)
		default:
			return b
		}
	}
	return b
}

// Done releases a processed batch. Batches carry no engine-owned
// resources, so this is bookkeeping symmetry only.
func (p *Proactor) Done(b *rawecho.Batch) {}

// Accept acknowledges a pending connection, starting its transport
// goroutines. This is the only admission primitive: a connection that
// must be turned away is accepted and then closed.
func (p *Proactor) Accept(c rawecho.Conn) error {
	cc, ok := c.(*Conn)
	if !ok {
		return oops.
			Code("ACCEPT_FAILED").
			In("proactor").
			Errorf("connection does not belong to this engine")
	}
	return cc.start()
}

// CloseListener stops accepting new connections. Idempotent.
func (p *Proactor) CloseListener() {
	p.mu.Lock()
	if p.listenerClosing {
		p.mu.Unlock()
		return
	}
	p.listenerClosing = true
	p.mu.Unlock()

	log.Debug("closing listener")
	if err := p.ln.Close(); err != nil {
		log.WithError(err).Warn("listener close failed")
	}
}

// SetTimer arms the single cooperative timer, replacing any pending
// deadline.
func (p *Proactor) SetTimer(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil && p.timer.Stop() {
		// A pending deadline was replaced; the armed timer already
		// holds an activity reference.
	} else {
		p.active++
	}
	p.timerGen++
	gen := p.timerGen
	p.timer = time.AfterFunc(d, func() { p.timerFired(gen) })
}

// timerFired runs off the timer goroutine. A firing that lost a race
// with SetTimer must not clear the freshly armed timer, so the stored
// pointer is only cleared when the generation still matches.
func (p *Proactor) timerFired(gen uint64) {
	p.mu.Lock()
	if gen == p.timerGen {
		p.timer = nil
	}
	p.mu.Unlock()

	p.post(rawecho.Event{Type: rawecho.EventTimerFired})
	p.decActive()
}

// Now returns the engine clock.
func (p *Proactor) Now() time.Time { return time.Now() }

// post delivers an event unless the engine has already gone inactive.
func (p *Proactor) post(e rawecho.Event) {
	p.mu.Lock()
	dead := p.inactiveSent
	p.mu.Unlock()
	if dead {
		return
	}
	p.events <- e
}

func (p *Proactor) incActive() {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
}

func (p *Proactor) decActive() {
	p.mu.Lock()
	p.active--
	fire := p.active == 0 && !p.inactiveSent
	if fire {
		p.inactiveSent = true
	}
	p.mu.Unlock()

	if fire {
		p.events <- rawecho.Event{Type: rawecho.EventInactive}
	}
}

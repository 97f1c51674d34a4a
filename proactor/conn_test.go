package proactor

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rawecho "github.com/McMartinos/qpid-proton"
	"github.com/McMartinos/qpid-proton/pool"
)

// stutterConn is a net.Conn whose first Read returns (0, nil), which
// the io.Reader contract permits. Later Reads block until Close.
type stutterConn struct {
	mu       sync.Mutex
	zeroDone bool
	closed   chan struct{}
	once     sync.Once
}

func newStutterConn() *stutterConn {
	return &stutterConn{closed: make(chan struct{})}
}

func (s *stutterConn) Read(p []byte) (int, error) {
	s.mu.Lock()
	first := !s.zeroDone
	s.zeroDone = true
	s.mu.Unlock()
	if first {
		return 0, nil
	}
	<-s.closed
	return 0, net.ErrClosed
}

func (s *stutterConn) Write(p []byte) (int, error) { return len(p), nil }

func (s *stutterConn) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *stutterConn) LocalAddr() net.Addr { return &net.TCPAddr{} }

func (s *stutterConn) RemoteAddr() net.Addr { return &net.TCPAddr{} }

func (s *stutterConn) SetDeadline(t time.Time) error { return nil }

func (s *stutterConn) SetReadDeadline(t time.Time) error { return nil }

func (s *stutterConn) SetWriteDeadline(t time.Time) error { return nil }

func nextEvent(t *testing.T, p *Proactor) rawecho.Event {
	t.Helper()
	select {
	case e := <-p.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	return rawecho.Event{}
}

func TestZeroLengthReadKeepsBufferGranted(t *testing.T) {
	p := &Proactor{events: make(chan rawecho.Event, 64), active: 1}
	tcp := newStutterConn()
	c := newConn(p, tcp)
	p.incActive()
	require.NoError(t, p.Accept(c))

	e := nextEvent(t, p)
	require.Equal(t, rawecho.EventConnected, e.Type)

	bp, err := pool.NewBufferPool(1024)
	require.NoError(t, err)
	bufs, err := bp.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, c.GiveReadBuffers(bufs))

	// Let the reader hit the zero-length Read and retry before closing.
	time.Sleep(50 * time.Millisecond)
	c.Close()

	// Every granted buffer must come back through a read event before
	// the disconnect, in the Free state.
	returned := 0
	for {
		e := nextEvent(t, p)
		switch e.Type {
		case rawecho.EventRead:
			for _, b := range c.TakeReadBuffers() {
				assert.Equal(t, pool.Free, b.State())
				returned++
			}
		case rawecho.EventDisconnected:
			assert.Equal(t, 1, returned, "granted buffer lost during teardown")
			return
		}
	}
}

func TestTimerFiringRaceKeepsRearmedTimer(t *testing.T) {
	p := &Proactor{events: make(chan rawecho.Event, 8), active: 1}

	p.SetTimer(time.Hour)

	// A firing from a previously armed timer can reach the lock after
	// SetTimer has stored a fresh timer; its stale generation must
	// leave that timer in place.
	p.timerFired(0)

	p.mu.Lock()
	stillArmed := p.timer != nil
	p.mu.Unlock()
	require.True(t, stillArmed, "racing fire must not clear a re-armed timer")

	// With the pointer intact, re-arming stops the pending deadline
	// instead of stacking a second live timer.
	p.SetTimer(time.Hour)

	p.mu.Lock()
	gen := p.timerGen
	tm := p.timer
	p.mu.Unlock()
	require.True(t, tm.Stop(), "exactly one pending timer expected")

	// A firing with the current generation clears the stored timer.
	p.timerFired(gen)
	p.mu.Lock()
	cleared := p.timer == nil
	p.mu.Unlock()
	assert.True(t, cleared)

	var types []rawecho.EventType
	for len(types) < 3 {
		e := nextEvent(t, p)
		types = append(types, e.Type)
	}
	assert.Equal(t, []rawecho.EventType{
		rawecho.EventTimerFired,
		rawecho.EventTimerFired,
		rawecho.EventInactive,
	}, types)
}

package rawecho

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleShutdownScenario(t *testing.T) {
	eng := newFakeEngine(t)
	srv, err := NewServer(eng, NewConfig().WithSink(&bytes.Buffer{}))
	require.NoError(t, err)

	eng.steps = []step{
		{events: []Event{{Type: EventListenerOpen}}},
		// First idle firing starts the countdown and re-arms with the
		// idle check interval.
		{pre: func() { eng.advance(5 * time.Second) },
			events: []Event{{Type: EventTimerFired}}},
		// A full idle window later the listener closes, with no
		// further re-arm.
		{pre: func() { eng.advance(20 * time.Second) },
			events: []Event{{Type: EventTimerFired}}},
		{events: []Event{{Type: EventListenerClose}}},
		{events: []Event{{Type: EventInactive}}},
	}

	require.NoError(t, srv.Run())

	assert.Equal(t, 1, eng.listenerCloses, "listener closed exactly once")
	assert.Equal(t, []time.Duration{
		5 * time.Second,  // armed at listener open
		20 * time.Second, // idle check interval
	}, eng.timers, "no re-arm after shutdown begins")
}

func TestKeepaliveSweepWakesActiveSlots(t *testing.T) {
	eng := newFakeEngine(t)
	srv, err := NewServer(eng, NewConfig().WithSink(&bytes.Buffer{}))
	require.NoError(t, err)

	c1 := &fakeConn{}
	c2 := &fakeConn{}
	eng.steps = []step{
		{events: []Event{
			{Type: EventListenerOpen},
			{Type: EventListenerAccept, Conn: c1},
			{Type: EventListenerAccept, Conn: c2},
			{Type: EventConnected, Conn: c1},
			{Type: EventConnected, Conn: c2},
		}},
		// The sweep deadline has passed: every active slot is woken.
		{pre: func() { eng.advance(5 * time.Second) },
			events: []Event{{Type: EventTimerFired}}},
		// Fires again before the new deadline: plain re-arm, no sweep.
		{events: []Event{{Type: EventTimerFired}}},
		{events: []Event{{Type: EventInactive}}},
	}

	require.NoError(t, srv.Run())

	assert.Equal(t, 1, c1.wakes)
	assert.Equal(t, 1, c2.wakes)
	assert.Equal(t, 0, eng.listenerCloses)
	// Every firing while connections are active re-arms with the wake
	// interval.
	for _, d := range eng.timers {
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestAdmissionClearsIdleCountdown(t *testing.T) {
	eng := newFakeEngine(t)
	srv, err := NewServer(eng, NewConfig().WithSink(&bytes.Buffer{}))
	require.NoError(t, err)

	c := &fakeConn{}
	eng.steps = []step{
		{events: []Event{{Type: EventListenerOpen}}},
		{pre: func() { eng.advance(5 * time.Second) },
			events: []Event{{Type: EventTimerFired}}},
		{pre: func() { eng.advance(time.Second) },
			events: []Event{{Type: EventListenerAccept, Conn: c}}},
		{events: []Event{{Type: EventInactive}}},
	}

	require.NoError(t, srv.Run())

	assert.True(t, srv.firstIdle.IsZero(), "admission clears the idle countdown")
	assert.Equal(t, eng.now.Add(5*time.Second), srv.nextWake,
		"admission schedules the next sweep")
	assert.Equal(t, 0, eng.listenerCloses)
}

func TestIdleCountdownSurvivesEarlyFirings(t *testing.T) {
	eng := newFakeEngine(t)
	srv, err := NewServer(eng, NewConfig().WithSink(&bytes.Buffer{}))
	require.NoError(t, err)

	eng.steps = []step{
		{events: []Event{{Type: EventListenerOpen}}},
		{pre: func() { eng.advance(5 * time.Second) },
			events: []Event{{Type: EventTimerFired}}},
		// Fires again before the idle window elapses: the countdown
		// keeps its original start.
		{pre: func() { eng.advance(10 * time.Second) },
			events: []Event{{Type: EventTimerFired}}},
		{events: []Event{{Type: EventInactive}}},
	}

	started := eng.now.Add(5 * time.Second)
	require.NoError(t, srv.Run())

	assert.Equal(t, started, srv.firstIdle)
	assert.Equal(t, 0, eng.listenerCloses)
}

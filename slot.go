package rawecho

import (
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/McMartinos/qpid-proton/internal"
)

// Slot is one entry of the bounded connection table. It holds a
// non-owning back-reference to the live connection plus per-connection
// bookkeeping; the connection's lifetime is managed by the engine.
type Slot struct {
	id      int
	conn    Conn
	state   internal.ConnState
	metrics internal.ConnMetrics
}

// ID returns the slot's stable index, 0..N-1.
func (s *Slot) ID() int { return s.id }

// State returns the slot's connection lifecycle state.
func (s *Slot) State() internal.ConnState { return s.state }

// Metrics returns the slot's diagnostic counters.
func (s *Slot) Metrics() internal.ConnMetrics { return s.metrics }

// SlotTable is a fixed-capacity registry of connection slots. It is
// used only from the dispatch goroutine and needs no locking.
type SlotTable struct {
	slots []Slot
}

// NewSlotTable creates a table with n slots.
func NewSlotTable(n int) *SlotTable {
	t := &SlotTable{slots: make([]Slot, n)}
	for i := range t.slots {
		t.slots[i].id = i
	}
	return t
}

// Capacity returns the fixed number of slots.
func (t *SlotTable) Capacity() int { return len(t.slots) }

// Reserve assigns the first free slot to the connection. The scan is
// linear; with a small fixed table the order only needs to be
// deterministic. Returns a SLOT_TABLE_FULL error when every slot is
// taken.
func (t *SlotTable) Reserve(c Conn) (*Slot, error) {
	for i := range t.slots {
		if t.slots[i].conn == nil {
			s := &t.slots[i]
			s.conn = c
			s.state = internal.StateConnecting
			return s, nil
		}
	}
	return nil, oops.
		Code("SLOT_TABLE_FULL").
		In("rawecho").
		With("capacity", len(t.slots)).
		Errorf("all connection slots are in use")
}

// Release clears the slot's connection reference and zeroes its
// counters, making it reusable.
func (t *SlotTable) Release(s *Slot) {
	log.WithFields(logrus.Fields{
		"slot":    s.id,
		"bytes":   s.metrics.BytesTotal,
		"buffers": s.metrics.BuffersTotal,
	}).Debug("releasing connection slot")

	s.conn = nil
	s.state = internal.StateClosed
	s.metrics.Reset()
}

// Active returns the number of slots bound to a live connection.
func (t *SlotTable) Active() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].conn != nil {
			n++
		}
	}
	return n
}

// ForEachActive calls fn for every slot bound to a live connection.
func (t *SlotTable) ForEachActive(fn func(*Slot)) {
	for i := range t.slots {
		if t.slots[i].conn != nil {
			fn(&t.slots[i])
		}
	}
}

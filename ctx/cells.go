package ctx

import (
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/value"
)

// MVar is the blocking-cell record (§3): empty or full. The stepper
// does not fill the WaitingPut/WaitingTake/WaitingRead queues; blocked
// threads are tracked by their BlockReason in the Thread Table and are
// all woken together, in ascending ThreadId order.
type MVar struct {
	ID          identifier.MVarId
	Contents    *value.Value // nil means empty
	WaitingPut  []identifier.ThreadId
	WaitingTake []identifier.ThreadId
	WaitingRead []identifier.ThreadId
}

func (m *MVar) clone() *MVar {
	out := &MVar{
		ID:          m.ID,
		WaitingPut:  append([]identifier.ThreadId(nil), m.WaitingPut...),
		WaitingTake: append([]identifier.ThreadId(nil), m.WaitingTake...),
		WaitingRead: append([]identifier.ThreadId(nil), m.WaitingRead...),
	}
	if m.Contents != nil {
		v := *m.Contents
		out.Contents = &v
	}
	return out
}

func (m *MVar) enqueue(q *[]identifier.ThreadId, tid identifier.ThreadId) {
	*q = append(*q, tid)
}

func (m *MVar) dequeue(q *[]identifier.ThreadId, tid identifier.ThreadId) {
	for i, t := range *q {
		if t == tid {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return
		}
	}
}

// MVarStore owns every live MVar cell.
type MVarStore struct {
	cells map[identifier.MVarId]*MVar
}

func NewMVarStore() *MVarStore {
	return &MVarStore{cells: make(map[identifier.MVarId]*MVar)}
}

func (s *MVarStore) New(id identifier.MVarId, initial *value.Value) *MVar {
	m := &MVar{ID: id, Contents: initial}
	s.cells[id] = m
	return m
}

func (s *MVarStore) Get(id identifier.MVarId) *MVar { return s.cells[id] }

func (s *MVarStore) clone() *MVarStore {
	out := &MVarStore{cells: make(map[identifier.MVarId]*MVar, len(s.cells))}
	for id, m := range s.cells {
		out.cells[id] = m.clone()
	}
	return out
}

// Ticket is a CAS token: the cell, the version at the time it was read,
// and the value observed, so a later casIORef can detect intervening
// writes.
type Ticket struct {
	IORef    identifier.IORefId
	Version  uint64
	Observed value.Value
}

// IORef is the non-blocking cell record (§3): just the committed value
// and a version counter used to detect CAS races. Deferred writes under
// TSO/PSO live in the Write Buffer (writebuffer.go), keyed by
// memmodel.BufferKey rather than stored on the cell itself, since TSO
// requires a single thread's writes to different refs to stay ordered
// relative to one another.
type IORef struct {
	ID        identifier.IORefId
	Committed value.Value
	Version   uint64
}

func (r *IORef) clone() *IORef {
	out := *r
	return &out
}

// apply installs v as the committed value (a commit-thread step or an
// immediate synchronised write).
func (r *IORef) apply(v value.Value) {
	r.Committed = v
	r.Version++
}

// IORefStore owns every live IORef cell.
type IORefStore struct {
	cells map[identifier.IORefId]*IORef
}

func NewIORefStore() *IORefStore {
	return &IORefStore{cells: make(map[identifier.IORefId]*IORef)}
}

func (s *IORefStore) New(id identifier.IORefId, initial value.Value) *IORef {
	r := &IORef{ID: id, Committed: initial}
	s.cells[id] = r
	return r
}

func (s *IORefStore) Get(id identifier.IORefId) *IORef { return s.cells[id] }

func (s *IORefStore) All() []identifier.IORefId {
	out := make([]identifier.IORefId, 0, len(s.cells))
	for id := range s.cells {
		out = append(out, id)
	}
	return out
}

func (s *IORefStore) clone() *IORefStore {
	out := &IORefStore{cells: make(map[identifier.IORefId]*IORef, len(s.cells))}
	for id, r := range s.cells {
		out.cells[id] = r.clone()
	}
	return out
}

// TVarStore owns the committed value of every live TVar. Transactional
// overlays live only inside a single stm.Run call (§4.5); once a
// transaction succeeds its writes land here.
type TVarStore struct {
	cells map[identifier.TVarId]value.Value
}

func NewTVarStore() *TVarStore {
	return &TVarStore{cells: make(map[identifier.TVarId]value.Value)}
}

func (s *TVarStore) New(id identifier.TVarId, initial value.Value) {
	s.cells[id] = initial
}

// Get implements stm.Heap.
func (s *TVarStore) Get(id identifier.TVarId) (value.Value, bool) {
	v, ok := s.cells[id]
	return v, ok
}

func (s *TVarStore) Set(id identifier.TVarId, v value.Value) {
	s.cells[id] = v
}

func (s *TVarStore) clone() *TVarStore {
	out := &TVarStore{cells: make(map[identifier.TVarId]value.Value, len(s.cells))}
	for id, v := range s.cells {
		out.cells[id] = v.Clone()
	}
	return out
}

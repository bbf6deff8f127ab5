// Package identifier allocates the four kinds of opaque ids the engine
// hands out: ThreadId, MVarId, IORefId and TVarId. Allocation is pure: a
// Source is a value, not a singleton, so replaying a prefix from a given
// Source reproduces identical ids every time.
package identifier

import "fmt"

// ThreadId names a thread record in the Thread Table.
type ThreadId struct {
	Index uint64
	Label string
}

func (t ThreadId) String() string {
	if t.Label == "" {
		return fmt.Sprintf("thread-%d", t.Index)
	}
	return fmt.Sprintf("thread-%d(%s)", t.Index, t.Label)
}

// MVarId names a blocking cell in the Shared-Cell Store.
type MVarId struct {
	Index uint64
	Label string
}

func (m MVarId) String() string {
	if m.Label == "" {
		return fmt.Sprintf("mvar-%d", m.Index)
	}
	return fmt.Sprintf("mvar-%d(%s)", m.Index, m.Label)
}

// IORefId names a non-blocking, per-thread-buffered cell.
type IORefId struct {
	Index uint64
	Label string
}

func (r IORefId) String() string {
	if r.Label == "" {
		return fmt.Sprintf("ioref-%d", r.Index)
	}
	return fmt.Sprintf("ioref-%d(%s)", r.Index, r.Label)
}

// TVarId names a transactional cell, mutable only inside an STM transaction.
type TVarId struct {
	Index uint64
	Label string
}

func (v TVarId) String() string {
	if v.Label == "" {
		return fmt.Sprintf("tvar-%d", v.Index)
	}
	return fmt.Sprintf("tvar-%d(%s)", v.Index, v.Label)
}

// Source is a monotonic, per-kind allocator. The zero value is ready to
// use and allocates from index 0 for every kind.
type Source struct {
	nextThread uint64
	nextMVar   uint64
	nextIORef  uint64
	nextTVar   uint64
}

// NextThread returns a fresh ThreadId and the advanced Source.
func (s Source) NextThread(label string) (ThreadId, Source) {
	id := ThreadId{Index: s.nextThread, Label: label}
	s.nextThread++
	return id, s
}

// NextMVar returns a fresh MVarId and the advanced Source.
func (s Source) NextMVar(label string) (MVarId, Source) {
	id := MVarId{Index: s.nextMVar, Label: label}
	s.nextMVar++
	return id, s
}

// NextIORef returns a fresh IORefId and the advanced Source.
func (s Source) NextIORef(label string) (IORefId, Source) {
	id := IORefId{Index: s.nextIORef, Label: label}
	s.nextIORef++
	return id, s
}

// NextTVar returns a fresh TVarId and the advanced Source.
func (s Source) NextTVar(label string) (TVarId, Source) {
	id := TVarId{Index: s.nextTVar, Label: label}
	s.nextTVar++
	return id, s
}

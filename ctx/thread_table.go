package ctx

import (
	"sort"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/value"
)

// BlockKind tags why a thread is not runnable.
type BlockKind int

const (
	NotBlocked BlockKind = iota
	OnMVarFull
	OnMVarEmpty
	OnTVar
	OnMask
)

// PendingThrow records an asynchronous exception a throwTo sender wants
// delivered to this thread once it becomes interruptible.
type PendingThrow struct {
	Sender    identifier.ThreadId
	Exception value.Value
}

// BlockReason is the thread record's blocking field (§3).
type BlockReason struct {
	Kind   BlockKind
	MVar   identifier.MVarId   // OnMVarFull / OnMVarEmpty
	TVars  []identifier.TVarId // OnTVar: the read set the retry aborted on
	Target identifier.ThreadId // OnMask: the thread this sender is waiting to become interruptible
}

// Thread is the Thread Table's record for one modeled thread (§3).
type Thread struct {
	ID      identifier.ThreadId
	Cont    action.Continuation
	Block   BlockReason
	Masking action.MaskKind
	// Handlers is the ordered stack of typed exception handlers installed
	// by Catching, innermost last.
	Handlers []action.ExceptionHandler
	Bound    bool

	// Pending holds an asynchronous exception thrown at this thread by
	// throwTo while it was uninterruptible, delivered as soon as it
	// becomes interruptible again.
	Pending *PendingThrow
}

// Runnable reports whether the thread can be picked by the scheduler.
func (t *Thread) Runnable() bool {
	return t.Block.Kind == NotBlocked
}

func (t *Thread) clone() *Thread {
	out := *t
	if t.Block.TVars != nil {
		out.Block.TVars = append([]identifier.TVarId(nil), t.Block.TVars...)
	}
	if t.Handlers != nil {
		out.Handlers = append([]action.ExceptionHandler(nil), t.Handlers...)
	}
	if t.Pending != nil {
		p := *t.Pending
		out.Pending = &p
	}
	return &out
}

// ThreadTable is the Thread Table component (§4.2): a map from ThreadId
// to thread record, iterated in ascending ThreadId order so that waking
// a set of blocked threads is deterministic.
type ThreadTable struct {
	threads map[identifier.ThreadId]*Thread
	order   []identifier.ThreadId
}

// NewThreadTable builds an empty table.
func NewThreadTable() *ThreadTable {
	return &ThreadTable{threads: make(map[identifier.ThreadId]*Thread)}
}

// Launch installs a new thread record with the given initial continuation
// and masking state (inherited from the parent per §4.6's fork rule).
func (tt *ThreadTable) Launch(id identifier.ThreadId, cont action.Continuation, masking action.MaskKind, bound bool) *Thread {
	th := &Thread{ID: id, Cont: cont, Masking: masking, Bound: bound}
	tt.threads[id] = th
	tt.order = append(tt.order, id)
	sort.Slice(tt.order, func(i, j int) bool { return tt.order[i].Index < tt.order[j].Index })
	return th
}

// Get returns the thread record for id, or nil if it has been removed.
func (tt *ThreadTable) Get(id identifier.ThreadId) *Thread {
	return tt.threads[id]
}

// Goto replaces a thread's continuation (after a primitive step commits).
func (tt *ThreadTable) Goto(id identifier.ThreadId, cont action.Continuation) {
	if th, ok := tt.threads[id]; ok {
		th.Cont = cont
	}
}

// Block marks a thread non-runnable for the given reason.
func (tt *ThreadTable) Block(id identifier.ThreadId, reason BlockReason) {
	if th, ok := tt.threads[id]; ok {
		th.Block = reason
	}
}

// Kill removes a thread from the table (normal termination, uncaught
// exception in a non-initial thread, or end-of-execution teardown).
func (tt *ThreadTable) Kill(id identifier.ThreadId) {
	if _, ok := tt.threads[id]; !ok {
		return
	}
	delete(tt.threads, id)
	for i, existing := range tt.order {
		if existing == id {
			tt.order = append(tt.order[:i], tt.order[i+1:]...)
			break
		}
	}
}

// WakeWhere unblocks every live thread whose BlockReason matches pred,
// clearing its Block back to NotBlocked, and returns the unblocked ids in
// ascending ThreadId order.
func (tt *ThreadTable) WakeWhere(pred func(BlockReason) bool) []identifier.ThreadId {
	var woken []identifier.ThreadId
	for _, id := range tt.order {
		th := tt.threads[id]
		if th.Block.Kind != NotBlocked && pred(th.Block) {
			th.Block = BlockReason{}
			woken = append(woken, id)
		}
	}
	return woken
}

// WakeOne unblocks the single earliest (lowest ThreadId) live thread
// matching pred. The stepper's MVar operations do not use it: a put or
// take wakes every matching waiter through WakeWhere, and each woken
// thread retries its blocked action.
func (tt *ThreadTable) WakeOne(pred func(BlockReason) bool) (identifier.ThreadId, bool) {
	for _, id := range tt.order {
		th := tt.threads[id]
		if th.Block.Kind != NotBlocked && pred(th.Block) {
			th.Block = BlockReason{}
			return id, true
		}
	}
	return identifier.ThreadId{}, false
}

// Runnable returns every live thread id, in ascending order, currently
// able to run.
func (tt *ThreadTable) Runnable() []identifier.ThreadId {
	var out []identifier.ThreadId
	for _, id := range tt.order {
		if tt.threads[id].Runnable() {
			out = append(out, id)
		}
	}
	return out
}

// All returns every live thread id, in ascending order.
func (tt *ThreadTable) All() []identifier.ThreadId {
	return append([]identifier.ThreadId(nil), tt.order...)
}

// Len reports how many threads remain live.
func (tt *ThreadTable) Len() int { return len(tt.order) }

func (tt *ThreadTable) clone() *ThreadTable {
	out := &ThreadTable{
		threads: make(map[identifier.ThreadId]*Thread, len(tt.threads)),
		order:   append([]identifier.ThreadId(nil), tt.order...),
	}
	for id, th := range tt.threads {
		out.threads[id] = th.clone()
	}
	return out
}

// Package ctx holds the mutable state one execution steps through: the
// Thread Table, the Shared-Cell Store (MVars, IORefs, TVars) and the
// Write Buffer, bundled as an ExecutionContext (§3, §4.2-4.4).
package ctx

import (
	"github.com/google/uuid"

	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/memmodel"
	"github.com/gip/dejafu/value"
)

// ChoiceKind tags what a RunnableChoice represents.
type ChoiceKind int

const (
	// ChoiceThread is an ordinary modeled thread ready to take a step.
	ChoiceThread ChoiceKind = iota
	// ChoiceCommit is a synthetic "commit thread": choosing it drains one
	// outstanding write-buffer queue by one entry, exposing relaxed-memory
	// reorderings to the scheduler as an explicit, schedulable step.
	ChoiceCommit
)

// RunnableChoice is one option available to a scheduler at a given step.
type RunnableChoice struct {
	Kind      ChoiceKind
	Thread    identifier.ThreadId // ChoiceThread
	CommitKey memmodel.BufferKey  // ChoiceCommit
}

// Context is the execution context threaded through a single run: the
// id source, the thread table, every shared cell, the write buffer, the
// simulated capability count and the memory model in force.
type Context struct {
	Source   identifier.Source
	Threads  *ThreadTable
	MVars    *MVarStore
	IORefs   *IORefStore
	TVars    *TVarStore
	Buffer   *WriteBuffer
	Caps     int
	MemType  memmodel.MemType
	// RunID identifies this execution, attached to its Result and to log
	// lines so parallel/batched runs can be correlated externally.
	RunID uuid.UUID
	// ActionsTaken counts top-level steps the Execution Driver has
	// dispatched so far (stepper.Step or CommitStep calls), used to tell
	// whether a DontCheck is the very first action of the program.
	ActionsTaken int
}

// NewContext builds an empty execution context for the given memory
// model, with one simulated capability.
func NewContext(memtype memmodel.MemType) *Context {
	return &Context{
		Threads: NewThreadTable(),
		MVars:   NewMVarStore(),
		IORefs:  NewIORefStore(),
		TVars:   NewTVarStore(),
		Buffer:  NewWriteBuffer(),
		Caps:    1,
		MemType: memtype,
		RunID:   uuid.New(),
	}
}

// Clone deep-copies the context. BPOR replay (§9) does not restore from
// a clone in practice — allocation and blocking order are fully
// deterministic from an identical id Source and scheduler prefix, so a
// fresh Context built by re-running from scratch is simpler and exactly
// equivalent. Nothing in this module calls Clone: Subconcurrency and
// DontCheck step the live context in place.
func (c *Context) Clone() *Context {
	return &Context{
		Source:       c.Source,
		Threads:      c.Threads.clone(),
		MVars:        c.MVars.clone(),
		IORefs:       c.IORefs.clone(),
		TVars:        c.TVars.clone(),
		Buffer:       c.Buffer.clone(),
		Caps:         c.Caps,
		MemType:      c.MemType,
		RunID:        c.RunID,
		ActionsTaken: c.ActionsTaken,
	}
}

// ReadIORef resolves what tid observes reading ref: its own most recent
// buffered write if one is pending (store-to-load forwarding), else the
// committed value.
func (c *Context) ReadIORef(tid identifier.ThreadId, ref identifier.IORefId) value.Value {
	if v, ok := c.Buffer.TailFor(c.MemType, tid, ref); ok {
		return v
	}
	if cell := c.IORefs.Get(ref); cell != nil {
		return cell.Committed
	}
	return value.None
}

// WriteIORef performs tid's write to ref: immediate under
// SequentialConsistency, deferred into the Write Buffer otherwise.
func (c *Context) WriteIORef(tid identifier.ThreadId, ref identifier.IORefId, v value.Value) {
	if c.MemType == memmodel.SequentialConsistency {
		if cell := c.IORefs.Get(ref); cell != nil {
			cell.apply(v)
		}
		return
	}
	c.Buffer.Push(c.MemType.Key(tid, ref), ref, v)
}

// Barrier flushes every write tid has buffered, making them visible to
// every other thread. Used at synchronising points: atomically, the
// non-try MVar operations, ReadForCAS, ModifyIORef and CasIORef. Thread
// exit does not flush; a finished thread's buffered writes remain
// available as commit choices.
func (c *Context) Barrier(tid identifier.ThreadId) {
	c.Buffer.FlushThread(tid, c.IORefs)
}

// RunnableChoices lists every option available to the scheduler at the
// current step: live runnable threads in ascending ThreadId order,
// followed by a synthetic commit choice for each non-empty write-buffer
// queue, in the order that queue first received an entry.
func (c *Context) RunnableChoices() []RunnableChoice {
	var out []RunnableChoice
	for _, tid := range c.Threads.Runnable() {
		out = append(out, RunnableChoice{Kind: ChoiceThread, Thread: tid})
	}
	for _, key := range c.Buffer.PendingKeys() {
		out = append(out, RunnableChoice{Kind: ChoiceCommit, CommitKey: key})
	}
	return out
}

// CommitStep applies the synthetic commit-thread step for key: pops and
// applies one queued write. Reports false if the queue was already
// empty (stale choice, e.g. raced by a Barrier).
func (c *Context) CommitStep(key memmodel.BufferKey) bool {
	return c.Buffer.CommitOne(key, c.IORefs)
}

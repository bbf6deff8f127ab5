package ctx

import (
	"sort"

	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/memmodel"
	"github.com/gip/dejafu/value"
)

// bufEntry is one not-yet-visible write sitting in a write-buffer queue.
type bufEntry struct {
	IORef identifier.IORefId
	Value value.Value
}

// WriteBuffer holds every deferred IORef write, grouped by
// memmodel.BufferKey (§4.4). Under SequentialConsistency it is always
// empty: writes apply immediately and never pass through here.
//
// Each key's queue is a strict FIFO in program order. Under TSO the key
// is per-thread, so a thread's writes to different refs interleave in
// the single queue in the order they were issued; under PSO the key
// also carries the target ref, so each (thread, ref) pair gets its own
// independent queue.
type WriteBuffer struct {
	queues map[memmodel.BufferKey][]bufEntry
	// order tracks insertion order of keys, for deterministic iteration
	// when enumerating synthetic commit-thread choices.
	order []memmodel.BufferKey
}

func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{queues: make(map[memmodel.BufferKey][]bufEntry)}
}

// Push appends a pending write to key's queue.
func (wb *WriteBuffer) Push(key memmodel.BufferKey, ref identifier.IORefId, v value.Value) {
	if _, ok := wb.queues[key]; !ok {
		wb.order = append(wb.order, key)
	}
	wb.queues[key] = append(wb.queues[key], bufEntry{IORef: ref, Value: v})
}

// Pending reports whether key has at least one queued write.
func (wb *WriteBuffer) Pending(key memmodel.BufferKey) bool {
	return len(wb.queues[key]) > 0
}

// PendingKeys returns every key with a non-empty queue, in the order
// each first received an entry — the set of synthetic "commit thread"
// choices currently available to the scheduler.
func (wb *WriteBuffer) PendingKeys() []memmodel.BufferKey {
	var out []memmodel.BufferKey
	for _, k := range wb.order {
		if len(wb.queues[k]) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// CommitOne pops the oldest entry in key's queue and applies it to ref's
// committed value via apply. Reports false if the queue was empty.
func (wb *WriteBuffer) CommitOne(key memmodel.BufferKey, refs *IORefStore) bool {
	q := wb.queues[key]
	if len(q) == 0 {
		return false
	}
	head := q[0]
	wb.queues[key] = q[1:]
	if ref := refs.Get(head.IORef); ref != nil {
		ref.apply(head.Value)
	}
	return true
}

// FlushThread drains every queue belonging to tid — under TSO its one
// combined queue, under PSO every per-ref queue it owns — applying
// writes oldest-first within each queue. Used by memory barriers
// (Context.Barrier, called at synchronising steps); thread exit does
// not call it.
func (wb *WriteBuffer) FlushThread(tid identifier.ThreadId, refs *IORefStore) {
	for _, key := range wb.order {
		if key.Thread != tid {
			continue
		}
		for wb.CommitOne(key, refs) {
		}
	}
}

// FlushAll drains every outstanding queue across every thread, in
// ascending thread order, then ascending insertion order within a
// thread — used by engine.Run for end-of-execution teardown once the
// root thread has finished.
func (wb *WriteBuffer) FlushAll(refs *IORefStore) {
	keys := append([]memmodel.BufferKey(nil), wb.order...)
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].Thread.Index < keys[j].Thread.Index })
	for _, key := range keys {
		for wb.CommitOne(key, refs) {
		}
	}
}

// TailFor returns the most recently buffered, not-yet-committed value
// tid would observe reading ref under memtype (store-to-load
// forwarding), or ok=false if tid has no pending write to ref.
func (wb *WriteBuffer) TailFor(memtype memmodel.MemType, tid identifier.ThreadId, ref identifier.IORefId) (value.Value, bool) {
	if memtype == memmodel.SequentialConsistency {
		return value.None, false
	}
	key := memtype.Key(tid, ref)
	q := wb.queues[key]
	for i := len(q) - 1; i >= 0; i-- {
		if q[i].IORef == ref {
			return q[i].Value, true
		}
	}
	return value.None, false
}

func (wb *WriteBuffer) clone() *WriteBuffer {
	out := &WriteBuffer{
		queues: make(map[memmodel.BufferKey][]bufEntry, len(wb.queues)),
		order:  append([]memmodel.BufferKey(nil), wb.order...),
	}
	for k, q := range wb.queues {
		out.queues[k] = append([]bufEntry(nil), q...)
	}
	return out
}

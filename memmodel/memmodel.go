// Package memmodel enumerates the relaxed-memory models the engine can
// simulate and the write-buffer keying policy each implies.
package memmodel

import "github.com/gip/dejafu/identifier"

// MemType selects how the Write Buffer defers non-synchronised IORef
// writes before they become visible to other threads.
type MemType int

const (
	// SequentialConsistency performs every IORef write immediately; the
	// write buffer is always empty.
	SequentialConsistency MemType = iota
	// TotalStoreOrder buffers writes per-thread: a thread's own writes
	// commit in program order, but other threads don't see them until
	// a commit step or a barrier.
	TotalStoreOrder
	// PartialStoreOrder buffers writes per-(thread, IORef): even a
	// single thread's writes to different refs may commit out of order.
	PartialStoreOrder
)

func (m MemType) String() string {
	switch m {
	case SequentialConsistency:
		return "SequentialConsistency"
	case TotalStoreOrder:
		return "TotalStoreOrder"
	case PartialStoreOrder:
		return "PartialStoreOrder"
	default:
		return "UnknownMemType"
	}
}

// BufferKey identifies one write-buffer queue. Under TSO, IORef is the
// zero value and all writes from a thread share one queue; under PSO,
// IORef distinguishes queues within the same thread.
type BufferKey struct {
	Thread identifier.ThreadId
	IORef  identifier.IORefId
	// HasIORef is false under TSO, where the buffer is keyed by thread
	// alone (IORef is not part of the key).
	HasIORef bool
}

// Key builds the BufferKey for a write by tid to ref under this MemType.
// SequentialConsistency never buffers, so it has no meaningful key; the
// caller must not call Key for SequentialConsistency.
func (m MemType) Key(tid identifier.ThreadId, ref identifier.IORefId) BufferKey {
	switch m {
	case PartialStoreOrder:
		return BufferKey{Thread: tid, IORef: ref, HasIORef: true}
	default: // TotalStoreOrder
		return BufferKey{Thread: tid}
	}
}

package ctx_test

import (
	"testing"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/memmodel"
	"github.com/gip/dejafu/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTSOForwardingSeesOwnBufferedWrite(t *testing.T) {
	c := ctx.NewContext(memmodel.TotalStoreOrder)
	ref := identifier.IORefId{Index: 0}
	c.IORefs.New(ref, value.Of(0))
	tid := identifier.ThreadId{Index: 0}

	c.WriteIORef(tid, ref, value.Of(1))
	assert.Equal(t, 1, c.ReadIORef(tid, ref).Unwrap(), "writer sees its own buffered write")

	other := identifier.ThreadId{Index: 1}
	assert.Equal(t, 0, c.ReadIORef(other, ref).Unwrap(), "other threads still see the stale committed value")
}

func TestTSOSingleQueueOrdersWritesAcrossRefs(t *testing.T) {
	c := ctx.NewContext(memmodel.TotalStoreOrder)
	a := identifier.IORefId{Index: 0}
	b := identifier.IORefId{Index: 1}
	c.IORefs.New(a, value.Of(0))
	c.IORefs.New(b, value.Of(0))
	tid := identifier.ThreadId{Index: 0}

	c.WriteIORef(tid, a, value.Of(1))
	c.WriteIORef(tid, b, value.Of(2))

	key := memmodel.TotalStoreOrder.Key(tid, a)
	require.True(t, c.Buffer.CommitOne(key, c.IORefs))
	assert.Equal(t, 1, c.IORefs.Get(a).Committed.Unwrap(), "oldest write in program order commits first")
	assert.Equal(t, 0, c.IORefs.Get(b).Committed.Unwrap())

	require.True(t, c.Buffer.CommitOne(key, c.IORefs))
	assert.Equal(t, 2, c.IORefs.Get(b).Committed.Unwrap())
}

func TestPSOBuffersEachRefIndependently(t *testing.T) {
	c := ctx.NewContext(memmodel.PartialStoreOrder)
	a := identifier.IORefId{Index: 0}
	b := identifier.IORefId{Index: 1}
	c.IORefs.New(a, value.Of(0))
	c.IORefs.New(b, value.Of(0))
	tid := identifier.ThreadId{Index: 0}

	c.WriteIORef(tid, a, value.Of(1))
	c.WriteIORef(tid, b, value.Of(2))

	keyB := memmodel.PartialStoreOrder.Key(tid, b)
	require.True(t, c.Buffer.CommitOne(keyB, c.IORefs))
	assert.Equal(t, 2, c.IORefs.Get(b).Committed.Unwrap(), "PSO commits ref b's queue independently of ref a's")
	assert.Equal(t, 0, c.IORefs.Get(a).Committed.Unwrap())
}

func TestBarrierFlushesThreadsBufferedWrites(t *testing.T) {
	c := ctx.NewContext(memmodel.TotalStoreOrder)
	ref := identifier.IORefId{Index: 0}
	c.IORefs.New(ref, value.Of(0))
	tid := identifier.ThreadId{Index: 0}

	c.WriteIORef(tid, ref, value.Of(1))
	c.WriteIORef(tid, ref, value.Of(2))
	c.Barrier(tid)

	assert.Equal(t, 2, c.IORefs.Get(ref).Committed.Unwrap())
	assert.False(t, c.Buffer.Pending(memmodel.TotalStoreOrder.Key(tid, ref)))
}

func TestSequentialConsistencyNeverBuffers(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	ref := identifier.IORefId{Index: 0}
	c.IORefs.New(ref, value.Of(0))
	tid := identifier.ThreadId{Index: 0}

	c.WriteIORef(tid, ref, value.Of(1))
	assert.Equal(t, 1, c.IORefs.Get(ref).Committed.Unwrap())
	assert.Empty(t, c.RunnableChoices())
}

func TestRunnableChoicesIncludeSyntheticCommit(t *testing.T) {
	c := ctx.NewContext(memmodel.TotalStoreOrder)
	ref := identifier.IORefId{Index: 0}
	c.IORefs.New(ref, value.Of(0))
	tid := identifier.ThreadId{Index: 0}
	c.Threads.Launch(tid, action.Done(), action.Unmasked, false)

	c.WriteIORef(tid, ref, value.Of(1))
	choices := c.RunnableChoices()

	require.Len(t, choices, 2)
	assert.Equal(t, ctx.ChoiceThread, choices[0].Kind)
	assert.Equal(t, ctx.ChoiceCommit, choices[1].Kind)
}

package stepper_test

import (
	"testing"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/memmodel"
	"github.com/gip/dejafu/stepper"
	"github.com/gip/dejafu/stm"
	"github.com/gip/dejafu/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func launch(c *ctx.Context, cont action.Continuation) identifier.ThreadId {
	var id identifier.ThreadId
	id, c.Source = c.Source.NextThread("")
	c.Threads.Launch(id, cont, action.Unmasked, false)
	return id
}

func TestTakeMVarBlocksWhenEmpty(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	var mv identifier.MVarId
	mv, c.Source = c.Source.NextMVar("")
	c.MVars.New(mv, nil)

	tid := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.TakeMVar, MVar: mv},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})

	ta := stepper.Step(c, tid)
	assert.True(t, ta.IsBlock())
	assert.Equal(t, action.BlockedTakeMVar, ta.Kind)
	assert.False(t, c.Threads.Get(tid).Runnable())
}

func TestPutMVarWakesBlockedTaker(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	var mv identifier.MVarId
	mv, c.Source = c.Source.NextMVar("")
	c.MVars.New(mv, nil)

	var observed value.Value
	taker := launch(c, action.Continuation{
		Act: action.Action{Kind: action.TakeMVar, MVar: mv},
		Next: func(v value.Value) action.Continuation {
			observed = v
			return action.Done()
		},
	})
	stepper.Step(c, taker)
	require.False(t, c.Threads.Get(taker).Runnable())

	putter := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.PutMVar, MVar: mv, Val: value.Of(7)},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})
	ta := stepper.Step(c, putter)
	assert.Equal(t, action.PutMVar, ta.Kind)
	assert.Contains(t, ta.Woken, taker)
	require.True(t, c.Threads.Get(taker).Runnable())

	stepper.Step(c, taker)
	assert.Equal(t, 7, observed.Unwrap())
}

func TestForkLaunchesChildAndContinuesParent(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	parent := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.Fork, Fork: action.Done()},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})

	ta := stepper.Step(c, parent)
	require.Equal(t, action.Fork, ta.Kind)
	assert.NotEqual(t, parent, ta.Thread)
	assert.NotNil(t, c.Threads.Get(ta.Thread))
	assert.Equal(t, action.Stop, c.Threads.Get(parent).Cont.Act.Kind)
}

func TestWriteIORefBufferedUnderTSOThenBarrierFlushes(t *testing.T) {
	c := ctx.NewContext(memmodel.TotalStoreOrder)
	ref := identifier.IORefId{Index: 0}
	c.IORefs.New(ref, value.Of(0))

	tid := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.WriteIORef, IORef: ref, Val: value.Of(9)},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})
	stepper.Step(c, tid)
	assert.Equal(t, 0, c.IORefs.Get(ref).Committed.Unwrap(), "write stays buffered until a barrier")
	assert.Equal(t, 9, c.ReadIORef(tid, ref).Unwrap(), "writer forwards its own buffered write")

	c.Barrier(tid)
	assert.Equal(t, 9, c.IORefs.Get(ref).Committed.Unwrap())
}

func TestCasIORefFailsOnStaleTicket(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	ref := identifier.IORefId{Index: 0}
	c.IORefs.New(ref, value.Of(1))

	tid := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.ReadForCAS, IORef: ref},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})
	stepper.Step(c, tid)

	// Simulate a racing writer landing between the ticket read and the CAS.
	c.IORefs.Get(ref).Committed = value.Of(2)
	c.IORefs.Get(ref).Version++

	stale := ctx.Ticket{IORef: ref, Version: 0, Observed: value.Of(1)}
	tid2 := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.CasIORef, CAS: action.CASArgs{Ticket: stale, NewVal: value.Of(3)}},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})
	ta := stepper.Step(c, tid2)
	assert.False(t, ta.Success)
	assert.Equal(t, 2, c.IORefs.Get(ref).Committed.Unwrap())
}

func TestAtomicallyCommitsAndWakesRetriedReader(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	var tv identifier.TVarId
	tv, c.Source = c.Source.NextTVar("flag")
	c.TVars.New(tv, value.Of(false))

	reader := launch(c, action.Continuation{
		Act: action.Action{Kind: action.Atomically, Transaction: readRetryUntilTrue(tv)},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})
	ta := stepper.Step(c, reader)
	require.Equal(t, action.BlockedSTM, ta.Kind)
	require.False(t, c.Threads.Get(reader).Runnable())

	writer := launch(c, action.Continuation{
		Act: action.Action{Kind: action.Atomically, Transaction: writeTrue(tv)},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})
	ta = stepper.Step(c, writer)
	assert.Contains(t, ta.Woken, reader)
	assert.True(t, c.Threads.Get(reader).Runnable())
}

func TestSubconcurrencySucceedsWhenOnlyThreadLive(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	ref := identifier.IORefId{Index: 0}
	c.IORefs.New(ref, value.Of(0))

	body := action.Continuation{
		Act:  action.Action{Kind: action.WriteIORef, IORef: ref, Val: value.Of(5)},
		Next: func(value.Value) action.Continuation { return action.Done() },
	}
	tid := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.Subconcurrency, Body: body},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})

	ta := stepper.Step(c, tid)
	assert.Equal(t, action.StopSubconcurrency, ta.Kind)
	require.Len(t, ta.SubTrace, 1)
	assert.Equal(t, action.WriteIORef, ta.SubTrace[0].Kind)
	assert.Equal(t, action.Stop, c.Threads.Get(tid).Cont.Act.Kind)
}

func TestSubconcurrencyIllegalWhenOtherThreadsLive(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	launch(c, action.Done()) // a second live thread makes subconcurrency illegal

	tid := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.Subconcurrency, Body: action.Done()},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})

	ta := stepper.Step(c, tid)
	assert.Equal(t, action.FailedSubconcurrency, ta.Kind)
	assert.Equal(t, action.Stop, c.Threads.Get(tid).Cont.Act.Kind)
}

func TestDontCheckSucceedsAsFirstAction(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	tid := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.DontCheck, Body: action.Done()},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})

	ta := stepper.Step(c, tid)
	assert.Equal(t, action.DontCheck, ta.Kind)
	assert.Equal(t, action.Stop, c.Threads.Get(tid).Cont.Act.Kind)
}

func TestDontCheckIllegalWhenNotFirstAction(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	c.ActionsTaken++ // simulate a prior top-level action having already run

	tid := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.DontCheck, Body: action.Done()},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})

	ta := stepper.Step(c, tid)
	assert.Equal(t, action.FailedDontCheck, ta.Kind)
}

func TestSubconcurrencyIllegalWhenNestedInsideSubconcurrency(t *testing.T) {
	c := ctx.NewContext(memmodel.SequentialConsistency)
	nested := action.Continuation{
		Act:  action.Action{Kind: action.Subconcurrency, Body: action.Done()},
		Next: func(value.Value) action.Continuation { return action.Done() },
	}
	tid := launch(c, action.Continuation{
		Act:  action.Action{Kind: action.Subconcurrency, Body: nested},
		Next: func(value.Value) action.Continuation { return action.Done() },
	})

	ta := stepper.Step(c, tid)
	assert.Equal(t, action.FailedSubconcurrency, ta.Kind)
}

func readRetryUntilTrue(tv identifier.TVarId) *stm.Program {
	return stm.Read(tv, func(v value.Value) *stm.Program {
		if !v.Unwrap().(bool) {
			return stm.Retry()
		}
		return stm.Return(v)
	})
}

func writeTrue(tv identifier.TVarId) *stm.Program {
	return stm.Write(tv, value.Of(true), func() *stm.Program {
		return stm.Return(value.None)
	})
}

package stm_test

import (
	"testing"

	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/stm"
	"github.com/gip/dejafu/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeap struct {
	m map[identifier.TVarId]value.Value
}

func (h *fakeHeap) Get(id identifier.TVarId) (value.Value, bool) {
	v, ok := h.m[id]
	return v, ok
}

func newAlloc() (func(string) identifier.TVarId, *identifier.Source) {
	src := new(identifier.Source)
	return func(label string) identifier.TVarId {
		var id identifier.TVarId
		id, *src = src.NextTVar(label)
		return id
	}, src
}

type boomError string

func (b boomError) ExceptionKind() string { return "boom" }

func TestReadWriteReturn(t *testing.T) {
	tv := identifier.TVarId{Index: 0}
	heap := &fakeHeap{m: map[identifier.TVarId]value.Value{tv: value.Of(1)}}
	alloc, _ := newAlloc()

	prog := stm.Read(tv, func(v value.Value) *stm.Program {
		n := v.Unwrap().(int)
		return stm.Write(tv, value.Of(n+1), func() *stm.Program {
			return stm.Return(value.Of(n))
		})
	})

	out := stm.Run(prog, heap, alloc)
	require.Equal(t, stm.Success, out.Status)
	assert.Equal(t, 1, out.Value.Unwrap())
	assert.Equal(t, 2, out.Writes[tv].Unwrap())
	_, read := out.Reads[tv]
	assert.True(t, read)
}

func TestRetryRollsBackWrites(t *testing.T) {
	tv := identifier.TVarId{Index: 0}
	heap := &fakeHeap{m: map[identifier.TVarId]value.Value{tv: value.Of(false)}}
	alloc, _ := newAlloc()

	prog := stm.Read(tv, func(v value.Value) *stm.Program {
		return stm.Write(tv, value.Of(true), func() *stm.Program {
			if !v.Unwrap().(bool) {
				return stm.Retry()
			}
			return stm.Return(value.Of(true))
		})
	})

	out := stm.Run(prog, heap, alloc)
	require.Equal(t, stm.Retried, out.Status)
	assert.Nil(t, out.Writes, "rolled-back transaction reports no writes")
	_, read := out.Reads[tv]
	assert.True(t, read)
}

func TestOrElseFallsThroughOnRetry(t *testing.T) {
	tv1 := identifier.TVarId{Index: 0}
	tv2 := identifier.TVarId{Index: 1}
	heap := &fakeHeap{m: map[identifier.TVarId]value.Value{
		tv1: value.Of(false),
		tv2: value.Of(true),
	}}
	alloc, _ := newAlloc()

	branch := func(tv identifier.TVarId) *stm.Program {
		return stm.Read(tv, func(v value.Value) *stm.Program {
			if !v.Unwrap().(bool) {
				return stm.Retry()
			}
			return stm.Return(v)
		})
	}

	prog := stm.OrElse(branch(tv1), branch(tv2), func(v value.Value) *stm.Program {
		return stm.Return(v)
	})

	out := stm.Run(prog, heap, alloc)
	require.Equal(t, stm.Success, out.Status)
	assert.Equal(t, true, out.Value.Unwrap())
	_, r1 := out.Reads[tv1]
	_, r2 := out.Reads[tv2]
	assert.True(t, r1, "reads of the retried branch are still unioned in")
	assert.True(t, r2)
}

func TestCatchUndoesBodyAndRunsHandler(t *testing.T) {
	tv := identifier.TVarId{Index: 0}
	heap := &fakeHeap{m: map[identifier.TVarId]value.Value{tv: value.Of(0)}}
	alloc, _ := newAlloc()

	body := stm.Write(tv, value.Of(99), func() *stm.Program {
		return stm.Throw(value.Of(boomError("boom")))
	})

	prog := stm.Catch(body, stm.Handler{
		Kind: "boom",
		Run: func(exc value.Value) *stm.Program {
			return stm.Write(tv, value.Of(7), func() *stm.Program {
				return stm.Return(value.Of("handled"))
			})
		},
	}, func(v value.Value) *stm.Program {
		return stm.Return(v)
	})

	out := stm.Run(prog, heap, alloc)
	require.Equal(t, stm.Success, out.Status)
	assert.Equal(t, "handled", out.Value.Unwrap())
	assert.Equal(t, 7, out.Writes[tv].Unwrap(), "body's write to tv must be undone before the handler's write lands")
}

func TestUnmatchedExceptionPropagates(t *testing.T) {
	heap := &fakeHeap{m: map[identifier.TVarId]value.Value{}}
	alloc, _ := newAlloc()

	prog := stm.Catch(stm.Throw(value.Of(boomError("boom"))), stm.Handler{
		Kind: "other",
		Run:  func(exc value.Value) *stm.Program { return stm.Return(value.None) },
	}, func(v value.Value) *stm.Program { return stm.Return(v) })

	out := stm.Run(prog, heap, alloc)
	require.Equal(t, stm.Threw, out.Status)
}

func TestNewAllocatesAndTracksCreation(t *testing.T) {
	heap := &fakeHeap{m: map[identifier.TVarId]value.Value{}}
	alloc, _ := newAlloc()

	prog := stm.New("counter", value.Of(0), func(tv identifier.TVarId) *stm.Program {
		return stm.Return(value.Of(tv))
	})

	out := stm.Run(prog, heap, alloc)
	require.Equal(t, stm.Success, out.Status)
	tv := out.Value.Unwrap().(identifier.TVarId)
	assert.Equal(t, 0, out.Created[tv].Unwrap())
}

package ctx_test

import (
	"testing"

	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMVarStoreNewEmptyAndFull(t *testing.T) {
	store := ctx.NewMVarStore()
	id := identifier.MVarId{Index: 0}
	m := store.New(id, nil)
	assert.Nil(t, m.Contents)

	v := value.Of(42)
	id2 := identifier.MVarId{Index: 1}
	full := store.New(id2, &v)
	require.NotNil(t, full.Contents)
	assert.Equal(t, 42, full.Contents.Unwrap())
}

func TestIORefStoreCommittedValue(t *testing.T) {
	store := ctx.NewIORefStore()
	id := identifier.IORefId{Index: 0}
	store.New(id, value.Of(0))

	cell := store.Get(id)
	require.NotNil(t, cell)
	assert.Equal(t, 0, cell.Committed.Unwrap())
	assert.Equal(t, uint64(0), cell.Version)
}

func TestTVarStoreSetAndGet(t *testing.T) {
	store := ctx.NewTVarStore()
	id := identifier.TVarId{Index: 0}
	store.New(id, value.Of("a"))

	v, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "a", v.Unwrap())

	store.Set(id, value.Of("b"))
	v, ok = store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "b", v.Unwrap())
}

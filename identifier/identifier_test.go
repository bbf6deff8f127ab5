package identifier_test

import (
	"testing"

	"github.com/gip/dejafu/identifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceAllocatesPerKindMonotonically(t *testing.T) {
	var src identifier.Source

	t0, src := src.NextThread("main")
	t1, src := src.NextThread("worker")
	m0, src := src.NextMVar("box")

	require.Equal(t, uint64(0), t0.Index)
	require.Equal(t, uint64(1), t1.Index)
	require.Equal(t, uint64(0), m0.Index, "MVarId allocation is independent of ThreadId allocation")
	assert.Equal(t, "worker", t1.Label)
	_ = src
}

func TestSourceReplayIsDeterministic(t *testing.T) {
	var a, b identifier.Source

	var idsA, idsB []identifier.ThreadId
	for i := 0; i < 5; i++ {
		var id identifier.ThreadId
		id, a = a.NextThread("t")
		idsA = append(idsA, id)
		id, b = b.NextThread("t")
		idsB = append(idsB, id)
	}

	assert.Equal(t, idsA, idsB)
}

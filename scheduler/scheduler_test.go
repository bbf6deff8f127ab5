package scheduler_test

import (
	"testing"

	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threadChoice(idx uint64) ctx.RunnableChoice {
	return ctx.RunnableChoice{Kind: ctx.ChoiceThread, Thread: identifier.ThreadId{Index: idx}}
}

func TestPrefixSchedulerReplaysThenGoesCanonical(t *testing.T) {
	a, b := threadChoice(0), threadChoice(1)
	s := scheduler.NewPrefixScheduler([]ctx.RunnableChoice{b})

	pick, ok := s.Choose([]ctx.RunnableChoice{a, b})
	require.True(t, ok)
	assert.Equal(t, b, pick, "forced prefix entry is honoured even though a sorts first")
	assert.True(t, s.Exhausted())

	pick, ok = s.Choose([]ctx.RunnableChoice{a, b})
	require.True(t, ok)
	assert.Equal(t, a, pick, "past the prefix, falls back to the first (canonical) choice")
}

func TestPrefixSchedulerFallsBackWhenForcedChoiceGone(t *testing.T) {
	a, b := threadChoice(0), threadChoice(1)
	s := scheduler.NewPrefixScheduler([]ctx.RunnableChoice{b})

	pick, ok := s.Choose([]ctx.RunnableChoice{a})
	require.True(t, ok)
	assert.Equal(t, a, pick)
}

func TestPreemptionBoundedRefusesSwitchPastBound(t *testing.T) {
	a, b := threadChoice(0), threadChoice(1)
	inner := scheduler.NewPrefixScheduler([]ctx.RunnableChoice{a, b, b, a})
	bounded := scheduler.NewPreemptionBounded(inner, 1)

	pick, ok := bounded.Choose([]ctx.RunnableChoice{a, b})
	require.True(t, ok)
	assert.Equal(t, a, pick)

	pick, ok = bounded.Choose([]ctx.RunnableChoice{a, b})
	require.True(t, ok)
	assert.Equal(t, b, pick, "first switch is within budget")
	assert.Equal(t, 1, bounded.Preemptions())

	pick, ok = bounded.Choose([]ctx.RunnableChoice{a, b})
	require.True(t, ok)
	assert.Equal(t, b, pick, "continuing b never costs a preemption")

	pick, ok = bounded.Choose([]ctx.RunnableChoice{a, b})
	require.True(t, ok)
	assert.Equal(t, b, pick, "switching back to a while b is still runnable would be a second preemption, over budget")
}

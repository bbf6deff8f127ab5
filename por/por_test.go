package por_test

import (
	"testing"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/memmodel"
	"github.com/gip/dejafu/por"
	"github.com/gip/dejafu/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racingWrites models two children racing to write distinct values into
// one shared IORef; main waits for both via a pair of handshake MVars
// and returns whatever value the ref holds last.
func racingWrites() action.Continuation {
	return action.Continuation{
		Act: action.Action{Kind: action.NewIORef, Label: "shared", Val: value.Of(0)},
		Next: func(v value.Value) action.Continuation {
			ref := v.Unwrap().(identifier.IORefId)
			return action.Continuation{
				Act: action.Action{Kind: action.NewMVar, Label: "doneA"},
				Next: func(v value.Value) action.Continuation {
					doneA := v.Unwrap().(identifier.MVarId)
					return action.Continuation{
						Act: action.Action{Kind: action.NewMVar, Label: "doneB"},
						Next: func(v value.Value) action.Continuation {
							doneB := v.Unwrap().(identifier.MVarId)
							return forkBoth(ref, doneA, doneB)
						},
					}
				},
			}
		},
	}
}

func writeThenSignal(ref identifier.IORefId, done identifier.MVarId, v int) action.Continuation {
	return action.Continuation{
		Act: action.Action{Kind: action.WriteIORef, IORef: ref, Val: value.Of(v)},
		Next: func(value.Value) action.Continuation {
			return action.Continuation{
				Act:  action.Action{Kind: action.PutMVar, MVar: done, Val: value.Of(true)},
				Next: func(value.Value) action.Continuation { return action.Done() },
			}
		},
	}
}

func forkBoth(ref identifier.IORefId, doneA, doneB identifier.MVarId) action.Continuation {
	return action.Continuation{
		Act: action.Action{Kind: action.Fork, Fork: writeThenSignal(ref, doneA, 1)},
		Next: func(value.Value) action.Continuation {
			return action.Continuation{
				Act: action.Action{Kind: action.Fork, Fork: writeThenSignal(ref, doneB, 2)},
				Next: func(value.Value) action.Continuation {
					return action.Continuation{
						Act: action.Action{Kind: action.TakeMVar, MVar: doneA},
						Next: func(value.Value) action.Continuation {
							return action.Continuation{
								Act: action.Action{Kind: action.TakeMVar, MVar: doneB},
								Next: func(value.Value) action.Continuation {
									return action.Continuation{
										Act: action.Action{Kind: action.ReadIORef, IORef: ref},
										Next: func(v value.Value) action.Continuation {
											return action.Continuation{Act: action.Action{Kind: action.Stop, Val: v}}
										},
									}
								},
							}
						},
					}
				},
			}
		},
	}
}

func TestSearchExploresBothWriteOrderings(t *testing.T) {
	report := por.Search(racingWrites, memmodel.SequentialConsistency, por.Bound{PreemptionBound: 3})

	require.NotEmpty(t, report.Executions)
	seen := map[int]bool{}
	for _, ex := range report.Executions {
		require.Equal(t, action.NoFailure, ex.Result.Failure)
		seen[ex.Result.FinalValue.Unwrap().(int)] = true
	}
	assert.True(t, seen[1], "some interleaving must leave the ref holding 1")
	assert.True(t, seen[2], "some interleaving must leave the ref holding 2")
}

func TestParallelSearchMatchesSequentialOutcomes(t *testing.T) {
	report := por.ParallelSearch(racingWrites, memmodel.SequentialConsistency, por.Bound{PreemptionBound: 3}, 4)

	seen := map[int]bool{}
	for _, ex := range report.Executions {
		require.Equal(t, action.NoFailure, ex.Result.Failure)
		seen[ex.Result.FinalValue.Unwrap().(int)] = true
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])
}

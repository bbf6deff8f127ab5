package main

import (
	"fmt"
	"sort"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/value"
)

// program is a named, self-contained modeled concurrent program the CLI
// can run a search over. Real users of the dejafu library write their
// own programs against the action/stepper/engine/por packages directly;
// the registry here exists so `dejafu run`/`check` have something
// concrete to point a scenario file at without needing a Go compiler in
// the loop.
var programRegistry = map[string]func() action.Continuation{
	"racing-writes":     racingWritesProgram,
	"producer-consumer": producerConsumerProgram,
	"deadlocking-takes": deadlockingTakesProgram,
}

func lookupProgram(name string) (func() action.Continuation, error) {
	build, ok := programRegistry[name]
	if !ok {
		var names []string
		for n := range programRegistry {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown program %q, known programs: %v", name, names)
	}
	return build, nil
}

// racingWritesProgram forks two threads that write distinct values into
// one shared IORef with no synchronisation between the writes
// themselves, then returns whichever value landed last.
func racingWritesProgram() action.Continuation {
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
							return forkRace(ref, doneA, doneB)
						},
					}
				},
			}
		},
	}
}

func writerThenSignal(ref identifier.IORefId, done identifier.MVarId, val int) action.Continuation {
	return action.Continuation{
		Act: action.Action{Kind: action.WriteIORef, IORef: ref, Val: value.Of(val)},
		Next: func(value.Value) action.Continuation {
			return action.Continuation{
				Act:  action.Action{Kind: action.PutMVar, MVar: done, Val: value.Of(true)},
				Next: func(value.Value) action.Continuation { return action.Done() },
			}
		},
	}
}

func forkRace(ref identifier.IORefId, doneA, doneB identifier.MVarId) action.Continuation {
	return action.Continuation{
		Act: action.Action{Kind: action.Fork, Fork: writerThenSignal(ref, doneA, 1)},
		Next: func(value.Value) action.Continuation {
			return action.Continuation{
				Act: action.Action{Kind: action.Fork, Fork: writerThenSignal(ref, doneB, 2)},
				Next: func(value.Value) action.Continuation {
					return joinBoth(doneA, doneB, ref)
				},
			}
		},
	}
}

func joinBoth(doneA, doneB identifier.MVarId, ref identifier.IORefId) action.Continuation {
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
}

// producerConsumerProgram forks a producer that puts three values into
// an MVar and a consumer that takes and sums them, returning the total
// from main once both finish.
func producerConsumerProgram() action.Continuation {
	return action.Continuation{
		Act: action.Action{Kind: action.NewMVar, Label: "channel"},
		Next: func(v value.Value) action.Continuation {
			ch := v.Unwrap().(identifier.MVarId)
			return action.Continuation{
				Act: action.Action{Kind: action.NewMVar, Label: "result"},
				Next: func(v value.Value) action.Continuation {
					result := v.Unwrap().(identifier.MVarId)
					return action.Continuation{
						Act: action.Action{Kind: action.Fork, Fork: producer(ch)},
						Next: func(value.Value) action.Continuation {
							return action.Continuation{
								Act: action.Action{Kind: action.Fork, Fork: consumer(ch, result)},
								Next: func(value.Value) action.Continuation {
									return action.Continuation{
										Act: action.Action{Kind: action.TakeMVar, MVar: result},
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

func producer(ch identifier.MVarId) action.Continuation {
	var build func(remaining []int) action.Continuation
	build = func(remaining []int) action.Continuation {
		if len(remaining) == 0 {
			return action.Done()
		}
		return action.Continuation{
			Act:  action.Action{Kind: action.PutMVar, MVar: ch, Val: value.Of(remaining[0])},
			Next: func(value.Value) action.Continuation { return build(remaining[1:]) },
		}
	}
	return build([]int{1, 2, 3})
}

func consumer(ch, result identifier.MVarId) action.Continuation {
	var build func(sum, left int) action.Continuation
	build = func(sum, left int) action.Continuation {
		if left == 0 {
			return action.Continuation{
				Act:  action.Action{Kind: action.PutMVar, MVar: result, Val: value.Of(sum)},
				Next: func(value.Value) action.Continuation { return action.Done() },
			}
		}
		return action.Continuation{
			Act: action.Action{Kind: action.TakeMVar, MVar: ch},
			Next: func(v value.Value) action.Continuation {
				return build(sum+v.Unwrap().(int), left-1)
			},
		}
	}
	return build(0, 3)
}

// deadlockingTakesProgram always deadlocks: main takes from an MVar
// nothing ever fills. Used to exercise the Deadlock failure path.
func deadlockingTakesProgram() action.Continuation {
	return action.Continuation{
		Act: action.Action{Kind: action.NewMVar, Label: "never-filled"},
		Next: func(v value.Value) action.Continuation {
			mv := v.Unwrap().(identifier.MVarId)
			return action.Continuation{
				Act:  action.Action{Kind: action.TakeMVar, MVar: mv},
				Next: func(value.Value) action.Continuation { return action.Done() },
			}
		},
	}
}

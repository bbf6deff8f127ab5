// Package engine is the Execution Driver (§4.7): it drives a single
// execution of a modeled program to completion against a scheduler,
// producing the decision/action trace and the terminal outcome.
package engine

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/memmodel"
	"github.com/gip/dejafu/scheduler"
	"github.com/gip/dejafu/stepper"
	"github.com/gip/dejafu/value"
)

// Entry is one step of a completed run: the scheduler's decision and
// the primitive action that resulted.
type Entry struct {
	Decision action.Decision
	Action   action.ThreadAction
}

// Result is a single execution's outcome.
type Result struct {
	Failure    action.Failure
	FinalValue value.Value // meaningful when Failure == NoFailure
	Trace      []Entry
	// RunID identifies the execution this Result came from, for
	// correlating parallel/batched runs in external tooling.
	RunID uuid.UUID
}

// Run builds a fresh context, launches main as the root thread, and
// drives it to completion. The root thread finishing (by Stop or by an
// uncaught exception) ends the whole run; any threads it forked and
// left running are simply discarded, matching the host language's
// main-thread-exit semantics.
func Run(main action.Continuation, memtype memmodel.MemType, sched scheduler.Scheduler) Result {
	c := ctx.NewContext(memtype)
	var root identifier.ThreadId
	root, c.Source = c.Source.NextThread("main")
	c.Threads.Launch(root, main, action.Unmasked, false)

	var trace []Entry
	var lastThread *identifier.ThreadId

	for {
		th := c.Threads.Get(root)
		if th == nil {
			c.Buffer.FlushAll(c.IORefs)
			failure, final := rootOutcome(trace)
			log.Debug().Str("run_id", c.RunID.String()).Str("failure", failure.String()).Msg("execution finished")
			return Result{Failure: failure, FinalValue: final, Trace: trace, RunID: c.RunID}
		}

		choices := c.RunnableChoices()
		if len(choices) == 0 {
			// Classify by the initial thread's own block reason, not a
			// conjunction over every live thread: an orphaned forked thread
			// blocked on something else must not mask the root's STMDeadlock.
			if th.Block.Kind == ctx.OnTVar {
				log.Debug().Str("run_id", c.RunID.String()).Msg("execution finished: STMDeadlock")
				return Result{Failure: action.STMDeadlock, Trace: trace, RunID: c.RunID}
			}
			log.Debug().Str("run_id", c.RunID.String()).Msg("execution finished: Deadlock")
			return Result{Failure: action.Deadlock, Trace: trace, RunID: c.RunID}
		}

		pick, ok := sched.Choose(choices)
		if !ok {
			return Result{Failure: action.Abort, Trace: trace, RunID: c.RunID}
		}

		decision := decisionFor(lastThread, pick)

		var ta action.ThreadAction
		if pick.Kind == ctx.ChoiceThread {
			ta = stepper.Step(c, pick.Thread)
			t := pick.Thread
			lastThread = &t
		} else {
			c.CommitStep(pick.CommitKey)
			ta = action.ThreadAction{Kind: action.CommitIORef, IORef: pick.CommitKey.IORef}
		}
		c.ActionsTaken++

		trace = append(trace, Entry{Decision: decision, Action: ta})

		if ta.Kind == action.FailedSubconcurrency || ta.Kind == action.FailedDontCheck {
			return Result{Failure: toFailure(ta.Kind), Trace: trace, RunID: c.RunID}
		}
	}
}

func toFailure(k action.Kind) action.Failure {
	switch k {
	case action.FailedSubconcurrency:
		return action.IllegalSubconcurrency
	case action.FailedDontCheck:
		return action.IllegalDontCheck
	default:
		return action.InternalError
	}
}

// rootOutcome inspects the last entry touching the root thread to tell
// a clean finish from an uncaught exception.
func rootOutcome(trace []Entry) (action.Failure, value.Value) {
	for i := len(trace) - 1; i >= 0; i-- {
		ta := trace[i].Action
		switch ta.Kind {
		case action.Stop:
			return action.NoFailure, ta.Value
		case action.Throw, action.ThrowTo:
			return action.UncaughtException, value.None
		}
	}
	return action.InternalError, value.None
}

func decisionFor(last *identifier.ThreadId, pick ctx.RunnableChoice) action.Decision {
	if pick.Kind != ctx.ChoiceThread {
		return action.Decision{Kind: action.DecisionContinue}
	}
	if last == nil {
		return action.Decision{Kind: action.DecisionStart, Thread: pick.Thread}
	}
	if *last == pick.Thread {
		return action.Decision{Kind: action.DecisionContinue, Thread: pick.Thread}
	}
	return action.Decision{Kind: action.DecisionSwitchTo, Thread: pick.Thread}
}

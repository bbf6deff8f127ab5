package scheduler

import (
	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/identifier"
)

// PreemptionBounded wraps another Scheduler and refuses any choice that
// would preempt the previously running thread once Bound preemptions
// have already happened. Continuing the same thread, the execution's
// first step, or moving on from a thread that is no longer runnable
// (blocked or finished) never counts as a preemption. A commit-buffer
// choice is never attributed to a thread and so never preempts one.
type PreemptionBounded struct {
	Inner Scheduler
	Bound int

	preemptions int
	last        *identifier.ThreadId
}

func NewPreemptionBounded(inner Scheduler, bound int) *PreemptionBounded {
	return &PreemptionBounded{Inner: inner, Bound: bound}
}

func (s *PreemptionBounded) Choose(choices []ctx.RunnableChoice) (ctx.RunnableChoice, bool) {
	lastRunnable := s.last != nil && len(keepThread(choices, *s.last)) > 0
	if s.preemptions >= s.Bound && lastRunnable {
		choices = keepThread(choices, *s.last)
	}

	pick, ok := s.Inner.Choose(choices)
	if !ok {
		return pick, false
	}

	if lastRunnable && pick.Kind == ctx.ChoiceThread && pick.Thread != *s.last {
		s.preemptions++
	}
	if pick.Kind == ctx.ChoiceThread {
		t := pick.Thread
		s.last = &t
	}
	return pick, true
}

// Preemptions reports how many preempting switches have happened so far.
func (s *PreemptionBounded) Preemptions() int { return s.preemptions }

func keepThread(choices []ctx.RunnableChoice, tid identifier.ThreadId) []ctx.RunnableChoice {
	var out []ctx.RunnableChoice
	for _, c := range choices {
		if c.Kind == ctx.ChoiceThread && c.Thread == tid {
			out = append(out, c)
		}
	}
	return out
}

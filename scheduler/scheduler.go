// Package scheduler decides, at each step of an execution, which
// runnable choice runs next (§4.8): an ordinary thread, or a synthetic
// commit-buffer choice under TSO/PSO.
package scheduler

import "github.com/gip/dejafu/ctx"

// Scheduler picks the next step from the choices the context currently
// offers. It returns ok=false when it refuses every choice, which the
// engine reports as Abort. PrefixScheduler refuses only an empty choice
// set; PreemptionBounded enforces its budget by narrowing the choices
// rather than refusing them.
type Scheduler interface {
	Choose(choices []ctx.RunnableChoice) (ctx.RunnableChoice, bool)
}

// Equal reports whether two choices name the same step.
func Equal(a, b ctx.RunnableChoice) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == ctx.ChoiceThread {
		return a.Thread == b.Thread
	}
	return a.CommitKey == b.CommitKey
}

func contains(choices []ctx.RunnableChoice, want ctx.RunnableChoice) bool {
	for _, c := range choices {
		if Equal(c, want) {
			return true
		}
	}
	return false
}

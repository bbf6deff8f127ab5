package scheduler

import "github.com/gip/dejafu/ctx"

// PrefixScheduler forces a fixed sequence of choices (the path the POR
// search driver wants replayed), then falls back to always taking the
// first candidate in ctx.Context.RunnableChoices' canonical order —
// ascending ThreadId, commit choices last. Because that order is itself
// deterministic, two runs given the same prefix and the same program
// always take the same steps past the end of the prefix too, which is
// what lets the search driver treat "prefix + canonical continuation"
// as a single reproducible execution to analyse.
type PrefixScheduler struct {
	Prefix []ctx.RunnableChoice
	pos    int
	// Log records every choice actually taken, prefix and free steps
	// alike, so the caller can see exactly what ran.
	Log []ctx.RunnableChoice
	// Choices records the full candidate set offered at each step, in
	// lockstep with Log, so a caller analysing the finished run (the POR
	// search driver) can see what alternatives existed at any point.
	Choices [][]ctx.RunnableChoice
}

func NewPrefixScheduler(prefix []ctx.RunnableChoice) *PrefixScheduler {
	return &PrefixScheduler{Prefix: prefix}
}

func (s *PrefixScheduler) Choose(choices []ctx.RunnableChoice) (ctx.RunnableChoice, bool) {
	if len(choices) == 0 {
		return ctx.RunnableChoice{}, false
	}
	var pick ctx.RunnableChoice
	if s.pos < len(s.Prefix) && contains(choices, s.Prefix[s.pos]) {
		pick = s.Prefix[s.pos]
	} else {
		pick = choices[0]
	}
	s.pos++
	s.Log = append(s.Log, pick)
	s.Choices = append(s.Choices, append([]ctx.RunnableChoice(nil), choices...))
	return pick, true
}

// Exhausted reports whether every forced prefix entry has been consumed
// (steps beyond this point ran the canonical default, not a forced
// choice).
func (s *PrefixScheduler) Exhausted() bool { return s.pos >= len(s.Prefix) }

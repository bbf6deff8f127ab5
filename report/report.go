// Package report turns a finished search into a human-facing summary:
// how many executions ran, how many failed and of what kind, and one
// example trace per distinct failure.
package report

import (
	"fmt"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/engine"
)

// Summary aggregates a search's outcomes.
type Summary struct {
	Total       int
	Failures    map[action.Failure]int
	Examples    map[action.Failure]engine.Result
	Preemptions map[action.Failure]int // of the first example recorded for that failure
}

// Summarize folds a slice of per-execution results (typically
// por.Report.Executions, with Preemptions looked up by the caller) into
// a Summary.
func Summarize(results []engine.Result) Summary {
	s := Summary{
		Failures: make(map[action.Failure]int),
		Examples: make(map[action.Failure]engine.Result),
	}
	for _, r := range results {
		s.Total++
		if r.Failure == action.NoFailure {
			continue
		}
		s.Failures[r.Failure]++
		if _, ok := s.Examples[r.Failure]; !ok {
			s.Examples[r.Failure] = r
		}
	}
	return s
}

// Failing reports whether any execution in the summary failed.
func (s Summary) Failing() bool {
	for _, n := range s.Failures {
		if n > 0 {
			return true
		}
	}
	return false
}

// Reporter renders a finished Summary to the user.
type Reporter interface {
	Report(s Summary)
}

// SilentReporter discards everything, for batch/CI use where only the
// process exit code matters.
type SilentReporter struct{}

func (SilentReporter) Report(Summary) {}

// PlainReporter writes an uncoloured summary, one line per failure kind
// plus a totals line; the run command uses it when --plain is given.
type PlainReporter struct {
	Write func(string)
}

func (p PlainReporter) Report(s Summary) {
	write := p.Write
	if write == nil {
		write = func(line string) { fmt.Println(line) }
	}
	if !s.Failing() {
		write(fmt.Sprintf("ok: %d executions, no failures", s.Total))
		return
	}
	write(fmt.Sprintf("FAIL: %d executions", s.Total))
	for kind, n := range s.Failures {
		write(fmt.Sprintf("  %s: %d occurrence(s)", kind, n))
	}
}

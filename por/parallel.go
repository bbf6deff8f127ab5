package por

import (
	"sync"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/engine"
	"github.com/gip/dejafu/memmodel"
	"github.com/gip/dejafu/scheduler"
)

// ParallelSearch runs the same backtracking search as Search, but
// explores each round's queued prefixes with a bounded pool of
// goroutines. BPOR's backtracking tree is inherently sequential in how
// new candidates are discovered — they come from analysing one
// execution's own trace — so this processes the search one generation
// at a time: every prefix currently queued is independent of every
// other (each replays build() from scratch), so a whole generation runs
// concurrently, then the candidates it discovers become the next
// generation. workers caps how many prefixes replay at once; values <=
// 0 are treated as 1.
func ParallelSearch(build func() action.Continuation, memtype memmodel.MemType, bound Bound, workers int) Report {
	if workers <= 0 {
		workers = 1
	}

	seen := map[uint64]bool{prefixKey(nil): true}
	generation := [][]ctx.RunnableChoice{nil}

	var report Report
	var mu sync.Mutex // guards report and the next generation's candidate list
	sem := make(chan struct{}, workers)

	for len(generation) > 0 {
		var wg sync.WaitGroup
		var next [][]ctx.RunnableChoice

		for _, prefix := range generation {
			prefix := prefix
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				replay := scheduler.NewPrefixScheduler(prefix)
				var sched scheduler.Scheduler = replay
				var bounded *scheduler.PreemptionBounded
				if bound.PreemptionBound >= 0 {
					bounded = scheduler.NewPreemptionBounded(replay, bound.PreemptionBound)
					sched = bounded
				}
				res := engine.Run(build(), memtype, sched)
				preempt := 0
				if bounded != nil {
					preempt = bounded.Preemptions()
				}
				candidates := backtrackCandidates(replay, res)

				mu.Lock()
				report.Executions = append(report.Executions, Execution{Result: res, Preemptions: preempt})
				next = append(next, candidates...)
				mu.Unlock()
			}()
		}
		wg.Wait()

		generation = generation[:0]
		for _, candidate := range next {
			k := prefixKey(candidate)
			if seen[k] {
				report.Pruned++
				continue
			}
			seen[k] = true
			generation = append(generation, candidate)
		}
	}

	return report
}

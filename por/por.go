// Package por is the BPOR Search Driver (§4.8): it explores the
// distinct interleavings of a modeled program up to a preemption bound,
// pruning away interleavings that provably can't reveal behaviour the
// ones already explored didn't, by backtracking only at points where
// two later steps on different threads touch the same cell.
package por

import (
	"encoding/binary"

	"github.com/dgryski/go-farm"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/engine"
	"github.com/gip/dejafu/memmodel"
	"github.com/gip/dejafu/scheduler"
)

// Execution is one explored interleaving.
type Execution struct {
	Result engine.Result
	// Preemptions is how many times the scheduler switched away from a
	// still-runnable thread to reach this execution.
	Preemptions int
}

// Report summarises a bounded search.
type Report struct {
	Executions  []Execution
	Pruned      int // backtrack candidates generated but never explored because an identical prefix (by prefixKey) was already seen; candidates are not checked against the bound, which is only enforced while a prefix replays
}

// Bound caps how deep the search goes: PreemptionBound limits how many
// times a single execution may switch away from a runnable thread
// (negative means unbounded).
type Bound struct {
	PreemptionBound int
}

// Search explores every interleaving of program up to bound, starting
// from the canonical (always-lowest-ThreadId) schedule and growing a
// backtracking tree from the dependences each execution's own trace
// reveals. build must return a fresh Continuation each call: Search
// replays the program from scratch for every execution.
func Search(build func() action.Continuation, memtype memmodel.MemType, bound Bound) Report {
	seen := map[uint64]bool{}
	queue := [][]ctx.RunnableChoice{nil}
	var report Report

	for len(queue) > 0 {
		prefix := queue[0]
		queue = queue[1:]

		key := prefixKey(prefix)
		if seen[key] {
			report.Pruned++
			continue
		}
		seen[key] = true

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
		report.Executions = append(report.Executions, Execution{Result: res, Preemptions: preempt})

		for _, candidate := range backtrackCandidates(replay, res) {
			if seen[prefixKey(candidate)] {
				report.Pruned++
				continue
			}
			queue = append(queue, candidate)
		}
	}

	return report
}

// backtrackCandidates finds, for the run just explored, every point at
// which forcing a different enabled thread could reach a new
// interleaving: a step i by thread T whose action touches the same
// cell as a later step j by a different thread U. At such a point,
// revisiting with U forced at position i (same prefix through i-1)
// explores the other race order.
func backtrackCandidates(replay *scheduler.PrefixScheduler, res engine.Result) [][]ctx.RunnableChoice {
	var out [][]ctx.RunnableChoice
	n := len(res.Trace)
	for i := 0; i < n && i < len(replay.Log); i++ {
		pickI := replay.Log[i]
		if pickI.Kind != ctx.ChoiceThread {
			continue
		}
		resI := resourceOf(res.Trace[i].Action)
		if resI.kind == resNone {
			continue
		}
		for j := i + 1; j < n && j < len(replay.Log); j++ {
			pickJ := replay.Log[j]
			if pickJ.Kind != ctx.ChoiceThread || pickJ.Thread == pickI.Thread {
				continue
			}
			resJ := resourceOf(res.Trace[j].Action)
			if !dependent(resI, resJ) {
				continue
			}
			for _, alt := range replay.Choices[i] {
				if alt.Kind == ctx.ChoiceThread && alt.Thread != pickI.Thread {
					candidate := append(append([]ctx.RunnableChoice(nil), replay.Log[:i]...), alt)
					out = append(out, candidate)
				}
			}
			break
		}
	}
	return out
}

type resourceKind int

const (
	resNone resourceKind = iota
	resMVar
	resIORef
	resTVar
	resThread
)

type resource struct {
	kind  resourceKind
	mvar  string
	ioref string
	tvars map[string]struct{}
	tid   string
}

func resourceOf(ta action.ThreadAction) resource {
	switch ta.Kind {
	case action.PutMVar, action.BlockedPutMVar, action.TryPutMVar,
		action.TakeMVar, action.BlockedTakeMVar, action.TryTakeMVar,
		action.ReadMVar, action.BlockedReadMVar, action.TryReadMVar:
		return resource{kind: resMVar, mvar: ta.MVar.String()}

	case action.ReadIORef, action.ReadForCAS, action.WriteIORef, action.ModifyIORef, action.CasIORef, action.CommitIORef:
		return resource{kind: resIORef, ioref: ta.IORef.String()}

	case action.Atomically, action.BlockedSTM:
		tvars := make(map[string]struct{}, len(ta.STMTrace))
		for _, e := range ta.STMTrace {
			tvars[e.TVar.String()] = struct{}{}
		}
		return resource{kind: resTVar, tvars: tvars}

	case action.ThrowTo, action.BlockedThrowTo:
		return resource{kind: resThread, tid: ta.Target.String()}

	default:
		return resource{kind: resNone}
	}
}

func dependent(a, b resource) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case resMVar:
		return a.mvar == b.mvar
	case resIORef:
		return a.ioref == b.ioref
	case resThread:
		return a.tid == b.tid
	case resTVar:
		for tv := range a.tvars {
			if _, ok := b.tvars[tv]; ok {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// prefixKey fingerprints a scheduling prefix for the visited-prefix
// dedup cache with a fast non-cryptographic hash: prefixes are compared
// by the millions across a search's backtracking tree. Two distinct
// prefixes that collide are treated as the same, so the later one is
// skipped unexplored.
func prefixKey(prefix []ctx.RunnableChoice) uint64 {
	buf := make([]byte, 0, len(prefix)*10)
	for _, c := range prefix {
		if c.Kind == ctx.ChoiceThread {
			buf = append(buf, 'T')
			buf = binary.LittleEndian.AppendUint64(buf, c.Thread.Index)
		} else {
			buf = append(buf, 'C')
			buf = binary.LittleEndian.AppendUint64(buf, c.CommitKey.Thread.Index)
			buf = binary.LittleEndian.AppendUint64(buf, c.CommitKey.IORef.Index)
		}
	}
	return farm.Hash64(buf)
}

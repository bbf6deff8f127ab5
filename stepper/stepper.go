// Package stepper implements the Thread Stepper (§4.6): given an
// execution context and a runnable thread, it performs exactly one
// primitive action and reports what happened as an action.ThreadAction.
package stepper

import (
	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/ctx"
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/stm"
	"github.com/gip/dejafu/value"
)

// Step advances tid by one primitive action. The caller must have
// already checked tid is runnable. Step mutates c in place and returns
// the trace entry describing what happened; if the step blocked tid,
// ThreadAction.IsBlock() reports true and tid's continuation is left
// unchanged so a later wake retries the same action.
func Step(c *ctx.Context, tid identifier.ThreadId) action.ThreadAction {
	th := c.Threads.Get(tid)

	if ta, delivered := deliverPendingThrow(c, th); delivered {
		return ta
	}

	act := th.Cont.Act
	next := th.Cont.Next

	switch act.Kind {
	case action.Fork, action.ForkOS:
		var child identifier.ThreadId
		child, c.Source = c.Source.NextThread(act.Label)
		bound := act.Kind == action.ForkOS
		c.Threads.Launch(child, act.Fork, th.Masking, bound)
		c.Threads.Goto(tid, next(value.Of(child)))
		return action.ThreadAction{Kind: act.Kind, Thread: child}

	case action.MyThreadId:
		c.Threads.Goto(tid, next(value.Of(tid)))
		return action.ThreadAction{Kind: action.MyThreadId}

	case action.IsCurrentThreadBound:
		c.Threads.Goto(tid, next(value.Of(th.Bound)))
		return action.ThreadAction{Kind: action.IsCurrentThreadBound, Bound: th.Bound}

	case action.GetNumCapabilities:
		c.Threads.Goto(tid, next(value.Of(c.Caps)))
		return action.ThreadAction{Kind: action.GetNumCapabilities, NumCaps: c.Caps}

	case action.SetNumCapabilities:
		c.Caps = act.NumCaps
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.SetNumCapabilities, NumCaps: act.NumCaps}

	case action.Yield:
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.Yield}

	case action.ThreadDelay:
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.ThreadDelay, Delay: act.Delay}

	case action.NewMVar:
		var id identifier.MVarId
		id, c.Source = c.Source.NextMVar(act.Label)
		var initial *value.Value
		if !act.Val.IsNone() {
			v := act.Val
			initial = &v
		}
		c.MVars.New(id, initial)
		c.Threads.Goto(tid, next(value.Of(id)))
		return action.ThreadAction{Kind: action.NewMVar, MVar: id}

	case action.PutMVar, action.TryPutMVar:
		return stepPut(c, tid, th, act, next)

	case action.TakeMVar, action.TryTakeMVar:
		return stepTake(c, tid, th, act, next)

	case action.ReadMVar, action.TryReadMVar:
		return stepReadMVar(c, tid, th, act, next)

	case action.NewIORef:
		var id identifier.IORefId
		id, c.Source = c.Source.NextIORef(act.Label)
		c.IORefs.New(id, act.Val)
		c.Threads.Goto(tid, next(value.Of(id)))
		return action.ThreadAction{Kind: action.NewIORef, IORef: id}

	case action.ReadIORef:
		v := c.ReadIORef(tid, act.IORef)
		c.Threads.Goto(tid, next(v))
		return action.ThreadAction{Kind: action.ReadIORef, IORef: act.IORef}

	case action.ReadForCAS:
		c.Barrier(tid)
		cell := c.IORefs.Get(act.IORef)
		ticket := ctx.Ticket{IORef: act.IORef, Version: cell.Version, Observed: cell.Committed}
		c.Threads.Goto(tid, next(value.Of(ticket)))
		return action.ThreadAction{Kind: action.ReadForCAS, IORef: act.IORef}

	case action.WriteIORef:
		c.WriteIORef(tid, act.IORef, act.Val)
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.WriteIORef, IORef: act.IORef}

	case action.ModifyIORef:
		c.Barrier(tid)
		old := c.ReadIORef(tid, act.IORef)
		c.WriteIORef(tid, act.IORef, act.Modify(old))
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.ModifyIORef, IORef: act.IORef}

	case action.CasIORef:
		c.Barrier(tid)
		ticket := act.CAS.Ticket.(ctx.Ticket)
		cell := c.IORefs.Get(ticket.IORef)
		ok := cell.Version == ticket.Version
		if ok {
			cell.apply(act.CAS.NewVal)
		}
		c.Threads.Goto(tid, next(value.Of(ok)))
		return action.ThreadAction{Kind: action.CasIORef, IORef: ticket.IORef, Success: ok}

	case action.Atomically:
		return stepAtomically(c, tid, th, act, next)

	case action.Catching:
		th.Handlers = append(th.Handlers, act.Handler)
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.Catching}

	case action.PopCatching:
		if n := len(th.Handlers); n > 0 {
			th.Handlers = th.Handlers[:n-1]
		}
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.PopCatching}

	case action.Masking:
		prev := th.Masking
		th.Masking = act.Mask
		c.Threads.Goto(tid, wrapRestoreMask(act.Body, prev))
		return action.ThreadAction{Kind: action.Masking, PrevMask: prev, NewMask: act.Mask}

	case action.ResetMasking:
		prev := th.Masking
		th.Masking = act.Mask
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.ResetMasking, PrevMask: prev, NewMask: act.Mask}

	case action.Throw:
		return stepThrow(c, tid, th, act.Val)

	case action.ThrowTo:
		return stepThrowTo(c, tid, th, act, next)

	case action.LiftIO:
		v, err := act.Native()
		if err != nil {
			return stepThrow(c, tid, th, value.Of(err))
		}
		c.Threads.Goto(tid, next(v))
		return action.ThreadAction{Kind: action.LiftIO}

	case action.Subconcurrency, action.DontCheck:
		return stepIsolated(c, tid, th, act, next)

	case action.Return:
		c.Threads.Goto(tid, next(act.Val))
		return action.ThreadAction{Kind: action.Return, Value: act.Val}

	case action.Stop:
		c.Threads.Kill(tid)
		return action.ThreadAction{Kind: action.Stop, Value: act.Val}

	default:
		panic("stepper: unhandled action kind")
	}
}

func wrapRestoreMask(body action.Continuation, restore action.MaskKind) action.Continuation {
	if body.Act.Kind == action.Stop {
		return body
	}
	return action.Continuation{
		Act: body.Act,
		Next: func(v value.Value) action.Continuation {
			inner := body.Next(v)
			return action.Continuation{
				Act: action.Action{Kind: action.ResetMasking, Mask: restore},
				Next: func(value.Value) action.Continuation { return inner },
			}
		},
	}
}

func stepPut(c *ctx.Context, tid identifier.ThreadId, th *ctx.Thread, act action.Action, next func(value.Value) action.Continuation) action.ThreadAction {
	if act.Kind == action.PutMVar {
		c.Barrier(tid)
	}
	m := c.MVars.Get(act.MVar)
	if m.Contents != nil {
		if act.Kind == action.TryPutMVar {
			c.Threads.Goto(tid, next(value.Of(false)))
			return action.ThreadAction{Kind: action.TryPutMVar, MVar: act.MVar, Success: false}
		}
		c.Threads.Block(tid, ctx.BlockReason{Kind: ctx.OnMVarFull, MVar: act.MVar})
		return action.ThreadAction{Kind: action.BlockedPutMVar, MVar: act.MVar}
	}
	v := act.Val
	m.Contents = &v
	woken := c.Threads.WakeWhere(func(r ctx.BlockReason) bool {
		return r.Kind == ctx.OnMVarEmpty && r.MVar == act.MVar
	})
	if act.Kind == action.TryPutMVar {
		c.Threads.Goto(tid, next(value.Of(true)))
		return action.ThreadAction{Kind: action.TryPutMVar, MVar: act.MVar, Success: true, Woken: woken}
	}
	c.Threads.Goto(tid, next(value.None))
	return action.ThreadAction{Kind: action.PutMVar, MVar: act.MVar, Woken: woken}
}

func stepTake(c *ctx.Context, tid identifier.ThreadId, th *ctx.Thread, act action.Action, next func(value.Value) action.Continuation) action.ThreadAction {
	if act.Kind == action.TakeMVar {
		c.Barrier(tid)
	}
	m := c.MVars.Get(act.MVar)
	if m.Contents == nil {
		if act.Kind == action.TryTakeMVar {
			c.Threads.Goto(tid, next(value.None))
			return action.ThreadAction{Kind: action.TryTakeMVar, MVar: act.MVar, Success: false}
		}
		c.Threads.Block(tid, ctx.BlockReason{Kind: ctx.OnMVarEmpty, MVar: act.MVar})
		return action.ThreadAction{Kind: action.BlockedTakeMVar, MVar: act.MVar}
	}
	v := *m.Contents
	m.Contents = nil
	woken := c.Threads.WakeWhere(func(r ctx.BlockReason) bool {
		return r.Kind == ctx.OnMVarFull && r.MVar == act.MVar
	})
	if act.Kind == action.TryTakeMVar {
		c.Threads.Goto(tid, next(v))
		return action.ThreadAction{Kind: action.TryTakeMVar, MVar: act.MVar, Success: true, Woken: woken}
	}
	c.Threads.Goto(tid, next(v))
	return action.ThreadAction{Kind: action.TakeMVar, MVar: act.MVar, Woken: woken}
}

func stepReadMVar(c *ctx.Context, tid identifier.ThreadId, th *ctx.Thread, act action.Action, next func(value.Value) action.Continuation) action.ThreadAction {
	if act.Kind == action.ReadMVar {
		c.Barrier(tid)
	}
	m := c.MVars.Get(act.MVar)
	if m.Contents == nil {
		if act.Kind == action.TryReadMVar {
			c.Threads.Goto(tid, next(value.None))
			return action.ThreadAction{Kind: action.TryReadMVar, MVar: act.MVar, Success: false}
		}
		c.Threads.Block(tid, ctx.BlockReason{Kind: ctx.OnMVarEmpty, MVar: act.MVar})
		return action.ThreadAction{Kind: action.BlockedReadMVar, MVar: act.MVar}
	}
	v := *m.Contents
	c.Threads.Goto(tid, next(v))
	kind := action.ReadMVar
	if act.Kind == action.TryReadMVar {
		kind = action.TryReadMVar
	}
	return action.ThreadAction{Kind: kind, MVar: act.MVar, Success: true}
}

func stepAtomically(c *ctx.Context, tid identifier.ThreadId, th *ctx.Thread, act action.Action, next func(value.Value) action.Continuation) action.ThreadAction {
	// atomically always emits a full barrier before entering the
	// transaction, regardless of outcome: a thread that keeps retrying
	// must still publish its own pending buffered writes.
	c.Barrier(tid)

	out := stm.Run(act.Transaction, c.TVars, func(label string) identifier.TVarId {
		var id identifier.TVarId
		id, c.Source = c.Source.NextTVar(label)
		return id
	})

	switch out.Status {
	case stm.Success:
		for id, v := range out.Created {
			c.TVars.New(id, v)
		}
		for id, v := range out.Writes {
			c.TVars.Set(id, v)
		}
		woken := c.Threads.WakeWhere(func(r ctx.BlockReason) bool {
			if r.Kind != ctx.OnTVar {
				return false
			}
			for _, tv := range r.TVars {
				if _, written := out.Writes[tv]; written {
					return true
				}
			}
			return false
		})
		c.Threads.Goto(tid, next(out.Value))
		return action.ThreadAction{Kind: action.Atomically, STMTrace: out.Trace, Woken: woken}

	case stm.Retried:
		var tvars []identifier.TVarId
		for id := range out.Reads {
			tvars = append(tvars, id)
		}
		c.Threads.Block(tid, ctx.BlockReason{Kind: ctx.OnTVar, TVars: tvars})
		return action.ThreadAction{Kind: action.BlockedSTM, STMTrace: out.Trace}

	default: // Threw
		return stepThrow(c, tid, th, out.Exception)
	}
}

func stepThrow(c *ctx.Context, tid identifier.ThreadId, th *ctx.Thread, exc value.Value) action.ThreadAction {
	if delivered := tryDeliver(th, exc); delivered != nil {
		c.Threads.Goto(tid, *delivered)
		return action.ThreadAction{Kind: action.Throw}
	}
	c.Threads.Kill(tid)
	return action.ThreadAction{Kind: action.Throw}
}

// tryDeliver searches th's handler stack innermost-first for one matching
// exc's dynamic kind, popping every handler above (and including) the
// match, and returns the continuation to run. Returns nil if nothing
// matches, meaning exc is uncaught.
func tryDeliver(th *ctx.Thread, exc value.Value) *action.Continuation {
	k, ok := exc.Unwrap().(interface{ ExceptionKind() string })
	if !ok {
		return nil
	}
	for i := len(th.Handlers) - 1; i >= 0; i-- {
		h := th.Handlers[i]
		if h.Kind == k.ExceptionKind() {
			th.Handlers = th.Handlers[:i]
			cont := h.Run(exc)
			return &cont
		}
	}
	return nil
}

func stepThrowTo(c *ctx.Context, tid identifier.ThreadId, th *ctx.Thread, act action.Action, next func(value.Value) action.Continuation) action.ThreadAction {
	target := c.Threads.Get(act.Target)
	if target == nil {
		c.Threads.Goto(tid, next(value.None))
		return action.ThreadAction{Kind: action.ThrowTo, Target: act.Target, Delivered: false}
	}
	if target.Masking != action.Unmasked {
		target.Pending = &ctx.PendingThrow{Sender: tid, Exception: act.Val}
		c.Threads.Block(tid, ctx.BlockReason{Kind: ctx.OnMask, Target: act.Target})
		return action.ThreadAction{Kind: action.BlockedThrowTo, Target: act.Target}
	}
	if delivered := tryDeliver(target, act.Val); delivered != nil {
		c.Threads.Goto(act.Target, *delivered)
	} else {
		c.Threads.Kill(act.Target)
	}
	c.Threads.Goto(tid, next(value.None))
	return action.ThreadAction{Kind: action.ThrowTo, Target: act.Target, Delivered: true}
}

// deliverPendingThrow checks whether th has an asynchronous exception
// waiting for it to become interruptible, delivering it in place of
// th's next scheduled action if so. It also wakes the throwTo sender,
// who was blocked on OnMask waiting for exactly this delivery.
func deliverPendingThrow(c *ctx.Context, th *ctx.Thread) (action.ThreadAction, bool) {
	if th.Pending == nil || th.Masking != action.Unmasked {
		return action.ThreadAction{}, false
	}
	pending := th.Pending
	th.Pending = nil
	if delivered := tryDeliver(th, pending.Exception); delivered != nil {
		c.Threads.Goto(th.ID, *delivered)
	} else {
		c.Threads.Kill(th.ID)
	}
	c.Threads.WakeWhere(func(r ctx.BlockReason) bool {
		return r.Kind == ctx.OnMask && r.Target == th.ID
	})
	return action.ThreadAction{Kind: action.ThrowTo, Target: th.ID, Delivered: true}, true
}

// stepIsolated runs a Subconcurrency or DontCheck body to completion
// in one atomic outer step, splicing its own ThreadAction trace into
// SubTrace. A nested Subconcurrency/DontCheck inside the body is
// illegal (§9 Open Questions): it aborts the whole run rather than
// silently nesting.
func stepIsolated(c *ctx.Context, tid identifier.ThreadId, th *ctx.Thread, act action.Action, next func(value.Value) action.Continuation) action.ThreadAction {
	// Subconcurrency is only permitted when tid is the only live thread:
	// it runs its body as one atomic step with no other thread able to
	// run concurrently, so any other live thread would be silently
	// frozen for the duration.
	if act.Kind == action.Subconcurrency && c.Threads.Len() > 1 {
		return abortIsolated(c, tid, action.FailedSubconcurrency, nil)
	}
	// DontCheck is only permitted as the very first action of the whole
	// program: it disables checking for its body, which only makes sense
	// before any other interleaving has been observed.
	if act.Kind == action.DontCheck && c.ActionsTaken != 0 {
		return abortIsolated(c, tid, action.FailedDontCheck, nil)
	}

	var sub []action.ThreadAction
	cont := act.Body
	for cont.Act.Kind != action.Stop {
		if cont.Act.Kind == action.Subconcurrency || cont.Act.Kind == action.DontCheck {
			failKind := action.FailedSubconcurrency
			if act.Kind == action.DontCheck {
				failKind = action.FailedDontCheck
			}
			return abortIsolated(c, tid, failKind, sub)
		}
		c.Threads.Goto(tid, cont)
		ta := Step(c, tid)
		sub = append(sub, ta)
		if ta.IsBlock() {
			// A subconcurrency/dontCheck body runs as a single atomic outer
			// step with no other thread able to run concurrently, so a
			// block inside it can never be woken: treat it as a deadlock of
			// the isolated region rather than hanging the whole search.
			c.Threads.Goto(tid, action.Continuation{Act: action.Action{Kind: action.Stop}})
			return action.ThreadAction{Kind: action.Stop, SubTrace: sub}
		}
		cont = c.Threads.Get(tid).Cont
	}
	doneKind := action.StopSubconcurrency
	if act.Kind == action.DontCheck {
		doneKind = action.DontCheck
	}
	c.Threads.Goto(tid, next(value.None))
	return action.ThreadAction{Kind: doneKind, SubTrace: sub}
}

// abortIsolated kills the isolated step's thread continuation and
// reports kind (FailedSubconcurrency/FailedDontCheck) at the top-level
// ThreadAction.Kind, where the engine's failure check looks for it and
// maps it to the corresponding Failure.
func abortIsolated(c *ctx.Context, tid identifier.ThreadId, kind action.Kind, sub []action.ThreadAction) action.ThreadAction {
	c.Threads.Goto(tid, action.Continuation{Act: action.Action{Kind: action.Stop}})
	return action.ThreadAction{Kind: kind, SubTrace: sub}
}

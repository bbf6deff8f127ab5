// Package stm interprets software-transactional-memory programs with
// all-or-nothing semantics: every read and write is tracked, and any
// outcome other than Success rolls the transaction's effects back before
// the caller observes anything.
package stm

import (
	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/value"
)

// Op tags the primitive step a Program node performs.
type Op int

const (
	OpNew Op = iota
	OpRead
	OpWrite
	OpRetry
	OpOrElse
	OpCatch
	OpThrow
	OpReturn
)

// Handler matches a thrown exception by a dynamic "kind" tag and builds
// the replacement Program to run if it matches. Kind is compared against
// a thrown value's ExceptionKind() if the value implements Kinded;
// values that don't implement Kinded never match any handler.
type Handler struct {
	Kind string
	Run  func(exception value.Value) *Program
}

// Kinded lets an exception payload declare the dynamic kind used for
// catch-handler matching.
type Kinded interface {
	ExceptionKind() string
}

// Program is one node of a transaction, expressed as a tagged variant
// with a "next" continuation rather than relying on first-class
// continuations. New/Read/Write/OrElse/Catch carry Next; Retry/Throw/
// Return are terminal and ignore it.
type Program struct {
	Op Op

	// OpNew
	Label string
	Init  value.Value

	// OpRead / OpWrite
	TVar identifier.TVarId
	Val  value.Value // OpWrite value, OpThrow exception, OpReturn value

	// OpOrElse
	A, B *Program

	// OpCatch
	Handler Handler

	// Continuation: called with this node's result value to build what
	// runs next. nil for terminal ops.
	Next func(result value.Value) *Program
}

// New builds a newTVar step.
func New(label string, init value.Value, next func(identifier.TVarId) *Program) *Program {
	return &Program{Op: OpNew, Label: label, Init: init, Next: func(v value.Value) *Program {
		return next(v.Unwrap().(identifier.TVarId))
	}}
}

// Read builds a readTVar step.
func Read(tv identifier.TVarId, next func(value.Value) *Program) *Program {
	return &Program{Op: OpRead, TVar: tv, Next: next}
}

// Write builds a writeTVar step.
func Write(tv identifier.TVarId, v value.Value, next func() *Program) *Program {
	return &Program{Op: OpWrite, TVar: tv, Val: v, Next: func(value.Value) *Program { return next() }}
}

// Retry aborts the transaction and asks to be re-run once any TVar read
// along this path changes.
func Retry() *Program {
	return &Program{Op: OpRetry}
}

// OrElse runs a; if a retries, a's effects are undone and b runs instead.
// a's and b's reads are unioned into the enclosing read set either way.
func OrElse(a, b *Program, next func(value.Value) *Program) *Program {
	return &Program{Op: OpOrElse, A: a, B: b, Next: next}
}

// Catch runs body; if it throws an exception matching handler.Kind, the
// body's effects are undone and the handler runs in its place.
func Catch(body *Program, handler Handler, next func(value.Value) *Program) *Program {
	return &Program{Op: OpCatch, A: body, Handler: handler, Next: next}
}

// Throw aborts the transaction with an exception.
func Throw(exc value.Value) *Program {
	return &Program{Op: OpThrow, Val: exc}
}

// Return completes the transaction successfully with v.
func Return(v value.Value) *Program {
	return &Program{Op: OpReturn, Val: v}
}

// Status classifies how a transaction (or transaction fragment)
// concluded.
type Status int

const (
	Success Status = iota
	Retried
	Threw
)

// TraceKind tags one entry of the nested transactional trace the outer
// engine embeds in the enclosing STM thread action.
type TraceKind int

const (
	TNew TraceKind = iota
	TRead
	TWrite
	TCatch
	TOrElse
	TRetry
	TThrow
	TStop
)

// TraceEntry is one step of the nested transactional trace.
type TraceEntry struct {
	Kind  TraceKind
	TVar  identifier.TVarId
	Value value.Value
}

// Outcome is the result of running a Program (or transaction fragment)
// to completion.
type Outcome struct {
	Status    Status
	Value     value.Value // meaningful when Status == Success
	Exception value.Value // meaningful when Status == Threw

	// Reads is the deduplicated set of TVars read along the path that
	// produced this outcome.
	Reads map[identifier.TVarId]struct{}
	// Writes is the final tentative value of every TVar written along
	// the path that produced a Success outcome (nil otherwise).
	Writes map[identifier.TVarId]value.Value
	// Created maps newly allocated TVars (via New) to their initial
	// value, for a Success outcome (nil otherwise).
	Created map[identifier.TVarId]value.Value

	Trace []TraceEntry
}

// Heap reads the committed value of a TVar, outside of any transaction.
type Heap interface {
	Get(id identifier.TVarId) (value.Value, bool)
}

type undoKind int

const (
	undoWrite undoKind = iota
	undoCreate
)

type undoEntry struct {
	kind     undoKind
	tvar     identifier.TVarId
	hadPrior bool
	prior    value.Value
}

type transaction struct {
	heap  Heap
	alloc func(label string) identifier.TVarId

	reads   map[identifier.TVarId]struct{}
	overlay map[identifier.TVarId]value.Value
	created map[identifier.TVarId]value.Value
	undo    []undoEntry
	trace   []TraceEntry
}

// Run interprets prog to completion against heap, allocating any TVars
// created via New through alloc. On any outcome other than Success, every
// write and creation performed by the transaction is rolled back before
// Run returns, so the caller never observes partial effects.
func Run(prog *Program, heap Heap, alloc func(label string) identifier.TVarId) Outcome {
	tx := &transaction{
		heap:    heap,
		alloc:   alloc,
		reads:   make(map[identifier.TVarId]struct{}),
		overlay: make(map[identifier.TVarId]value.Value),
		created: make(map[identifier.TVarId]value.Value),
	}
	out := tx.eval(prog)
	if out.Status != Success {
		tx.rollbackTo(0)
	}
	return out
}

func (tx *transaction) mark() int { return len(tx.undo) }

func (tx *transaction) rollbackTo(mark int) {
	for i := len(tx.undo) - 1; i >= mark; i-- {
		e := tx.undo[i]
		switch e.kind {
		case undoWrite:
			if e.hadPrior {
				tx.overlay[e.tvar] = e.prior
			} else {
				delete(tx.overlay, e.tvar)
			}
		case undoCreate:
			delete(tx.created, e.tvar)
			delete(tx.overlay, e.tvar)
		}
	}
	tx.undo = tx.undo[:mark]
}

func (tx *transaction) currentValue(tv identifier.TVarId) value.Value {
	if v, ok := tx.overlay[tv]; ok {
		return v
	}
	if v, ok := tx.heap.Get(tv); ok {
		return v
	}
	return value.None
}

// snapshot finalizes an Outcome at the current tx state.
func (tx *transaction) snapshot(status Status, v value.Value, exc value.Value) Outcome {
	reads := make(map[identifier.TVarId]struct{}, len(tx.reads))
	for k := range tx.reads {
		reads[k] = struct{}{}
	}
	out := Outcome{Status: status, Value: v, Exception: exc, Reads: reads, Trace: append([]TraceEntry(nil), tx.trace...)}
	if status == Success {
		writes := make(map[identifier.TVarId]value.Value, len(tx.overlay))
		for k, v := range tx.overlay {
			writes[k] = v
		}
		created := make(map[identifier.TVarId]value.Value, len(tx.created))
		for k, v := range tx.created {
			created[k] = v
		}
		out.Writes = writes
		out.Created = created
	}
	return out
}

func (tx *transaction) eval(p *Program) Outcome {
	switch p.Op {
	case OpNew:
		id := tx.alloc(p.Label)
		tx.created[id] = p.Init
		tx.overlay[id] = p.Init
		tx.undo = append(tx.undo, undoEntry{kind: undoCreate, tvar: id})
		tx.trace = append(tx.trace, TraceEntry{Kind: TNew, TVar: id, Value: p.Init})
		return tx.eval(p.Next(value.Of(id)))

	case OpRead:
		tx.reads[p.TVar] = struct{}{}
		v := tx.currentValue(p.TVar)
		tx.trace = append(tx.trace, TraceEntry{Kind: TRead, TVar: p.TVar, Value: v})
		return tx.eval(p.Next(v))

	case OpWrite:
		prior, had := tx.overlay[p.TVar]
		if !had {
			prior, had = tx.heap.Get(p.TVar)
		}
		tx.undo = append(tx.undo, undoEntry{kind: undoWrite, tvar: p.TVar, hadPrior: had, prior: prior})
		tx.overlay[p.TVar] = p.Val
		tx.trace = append(tx.trace, TraceEntry{Kind: TWrite, TVar: p.TVar, Value: p.Val})
		return tx.eval(p.Next(value.None))

	case OpRetry:
		tx.trace = append(tx.trace, TraceEntry{Kind: TRetry})
		return tx.snapshot(Retried, value.None, value.None)

	case OpThrow:
		tx.trace = append(tx.trace, TraceEntry{Kind: TThrow, Value: p.Val})
		return tx.snapshot(Threw, value.None, p.Val)

	case OpReturn:
		tx.trace = append(tx.trace, TraceEntry{Kind: TStop, Value: p.Val})
		return tx.snapshot(Success, p.Val, value.None)

	case OpOrElse:
		tx.trace = append(tx.trace, TraceEntry{Kind: TOrElse})
		markA := tx.mark()
		outA := tx.eval(p.A)
		switch outA.Status {
		case Success:
			return tx.eval(p.Next(outA.Value))
		case Threw:
			tx.rollbackTo(markA)
			return outA
		default: // Retried
			tx.rollbackTo(markA)
			outB := tx.eval(p.B)
			switch outB.Status {
			case Success:
				return tx.eval(p.Next(outB.Value))
			default:
				return outB
			}
		}

	case OpCatch:
		tx.trace = append(tx.trace, TraceEntry{Kind: TCatch})
		mark := tx.mark()
		out := tx.eval(p.A)
		if out.Status != Threw || !matches(p.Handler.Kind, out.Exception) {
			return out
		}
		tx.rollbackTo(mark)
		hOut := tx.eval(p.Handler.Run(out.Exception))
		if hOut.Status == Success {
			return tx.eval(p.Next(hOut.Value))
		}
		return hOut

	default:
		panic("stm: unknown Op")
	}
}

func matches(kind string, exc value.Value) bool {
	k, ok := exc.Unwrap().(Kinded)
	return ok && k.ExceptionKind() == kind
}

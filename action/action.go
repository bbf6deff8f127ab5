// Package action defines the primitive effects a modeled thread can
// perform (Design Notes §9: "a tagged variant of Action with a next
// field"), plus the vocabulary the outer engine uses to describe what
// happened: ThreadAction (trace entries), Lookahead (cheap dependence
// summaries), MaskKind and Failure.
package action

import (
	"fmt"
	"time"

	"github.com/gip/dejafu/identifier"
	"github.com/gip/dejafu/stm"
	"github.com/gip/dejafu/value"
)

// Kind tags which primitive effect an Action performs.
type Kind int

const (
	Fork Kind = iota
	ForkOS
	MyThreadId
	IsCurrentThreadBound
	GetNumCapabilities
	SetNumCapabilities
	Yield
	ThreadDelay

	NewMVar
	PutMVar
	BlockedPutMVar
	TryPutMVar
	ReadMVar
	BlockedReadMVar
	TryReadMVar
	TakeMVar
	BlockedTakeMVar
	TryTakeMVar

	NewIORef
	ReadIORef
	ReadForCAS
	WriteIORef
	ModifyIORef
	CasIORef
	CommitIORef // synthetic, never issued by a user program

	Atomically
	BlockedSTM

	Catching
	PopCatching
	Masking
	ResetMasking

	Throw
	ThrowTo
	BlockedThrowTo

	LiftIO

	Subconcurrency
	StopSubconcurrency
	DontCheck
	FailedSubconcurrency // Subconcurrency attempted with other threads live
	FailedDontCheck      // DontCheck attempted after the program's first action

	Return
	Stop
)

// MaskKind is the masking state of a thread, controlling whether
// throwTo delivers asynchronous exceptions immediately.
type MaskKind int

const (
	Unmasked MaskKind = iota
	MaskedInterruptible
	MaskedUninterruptible
)

func (m MaskKind) String() string {
	switch m {
	case Unmasked:
		return "Unmasked"
	case MaskedInterruptible:
		return "MaskedInterruptible"
	case MaskedUninterruptible:
		return "MaskedUninterruptible"
	default:
		return "UnknownMask"
	}
}

// ExceptionHandler matches a thrown exception by dynamic kind, the way
// stm.Handler does for transactions.
type ExceptionHandler struct {
	Kind string
	Run  func(exception value.Value) Continuation
}

// Continuation is a single step of a modeled thread: the Action to
// perform, plus the function that builds the next step from the
// Action's result. Next is nil for Stop, which has no successor.
type Continuation struct {
	Act  Action
	Next func(result value.Value) Continuation
}

// Done is the terminal continuation: the thread has nothing left to do.
func Done() Continuation {
	return Continuation{Act: Action{Kind: Stop}}
}

// Action is the uniform, type-erased payload of one primitive effect.
// Only the fields relevant to Kind are populated.
type Action struct {
	Kind Kind

	Label string // creation label for NewMVar/NewIORef/fork

	MVar  identifier.MVarId
	IORef identifier.IORefId
	Val   value.Value // value being put/written/thrown/returned

	Fork Continuation // child continuation for Fork / ForkOS

	Transaction *stm.Program // for Atomically

	Handler ExceptionHandler // for Catching
	Mask    MaskKind         // for Masking
	Body    Continuation     // inner body for Masking / Subconcurrency / DontCheck

	NumCaps int
	Delay   time.Duration

	Target identifier.ThreadId // throwTo recipient

	Bound int // dontCheck step bound

	Native func() (value.Value, error) // LiftIO
	Modify func(value.Value) value.Value // ModifyIORef
	CAS    CASArgs                        // CasIORef
}

// CASArgs carries a compare-and-swap attempt: the ticket obtained from a
// prior ReadForCAS, and the value to install if the cell's version still
// matches.
type CASArgs struct {
	Ticket  interface{} // ctx.Ticket (a value, not a pointer), type-erased to avoid an import cycle
	NewVal  value.Value
}

// ThreadAction enumerates, by Kind, every primitive step that can appear
// in a trace — including internal bookkeeping entries (CommitIORef,
// Subconcurrency markers) that never correspond to a user-issued Action.
type ThreadAction struct {
	Kind Kind

	Thread    identifier.ThreadId // Fork / ForkOS: the newly created child
	MVar      identifier.MVarId
	IORef     identifier.IORefId
	Target    identifier.ThreadId
	Woken     []identifier.ThreadId
	Success   bool // TryPutMVar / TryTakeMVar / CasIORef
	STMTrace  []stm.TraceEntry
	Delivered bool // ThrowTo
	Delay     time.Duration
	NumCaps   int
	Bound     bool // IsCurrentThreadBound result
	PrevMask  MaskKind
	NewMask   MaskKind
	Value     value.Value // Return's passed-through value, or Stop's final result

	SubTrace []ThreadAction // Subconcurrency / DontCheck nested trace
}

// IsBlock reports whether this ThreadAction kind represents the thread
// becoming blocked rather than making progress, one of the explicit
// Blocked* trace kinds the stepper emits instead of its unblocked
// counterpart.
func (a ThreadAction) IsBlock() bool {
	switch a.Kind {
	case BlockedPutMVar, BlockedReadMVar, BlockedTakeMVar, BlockedSTM, BlockedThrowTo:
		return true
	default:
		return false
	}
}

func (a ThreadAction) String() string {
	return kindName(a.Kind)
}

func kindName(k Kind) string {
	switch k {
	case Fork:
		return "Fork"
	case ForkOS:
		return "ForkOS"
	case MyThreadId:
		return "MyThreadId"
	case IsCurrentThreadBound:
		return "IsCurrentThreadBound"
	case GetNumCapabilities:
		return "GetNumCapabilities"
	case SetNumCapabilities:
		return "SetNumCapabilities"
	case Yield:
		return "Yield"
	case ThreadDelay:
		return "ThreadDelay"
	case NewMVar:
		return "NewMVar"
	case PutMVar:
		return "PutMVar"
	case BlockedPutMVar:
		return "BlockedPutMVar"
	case TryPutMVar:
		return "TryPutMVar"
	case ReadMVar:
		return "ReadMVar"
	case BlockedReadMVar:
		return "BlockedReadMVar"
	case TryReadMVar:
		return "TryReadMVar"
	case TakeMVar:
		return "TakeMVar"
	case BlockedTakeMVar:
		return "BlockedTakeMVar"
	case TryTakeMVar:
		return "TryTakeMVar"
	case NewIORef:
		return "NewIORef"
	case ReadIORef:
		return "ReadIORef"
	case ReadForCAS:
		return "ReadForCAS"
	case WriteIORef:
		return "WriteIORef"
	case ModifyIORef:
		return "ModIORef"
	case CasIORef:
		return "CasIORef"
	case CommitIORef:
		return "CommitIORef"
	case Atomically:
		return "STM"
	case BlockedSTM:
		return "BlockedSTM"
	case Catching:
		return "Catching"
	case PopCatching:
		return "PopCatching"
	case Masking:
		return "SetMasking"
	case ResetMasking:
		return "ResetMasking"
	case Throw:
		return "Throw"
	case ThrowTo:
		return "ThrowTo"
	case BlockedThrowTo:
		return "BlockedThrowTo"
	case LiftIO:
		return "LiftIO"
	case Subconcurrency:
		return "Subconcurrency"
	case StopSubconcurrency:
		return "StopSubconcurrency"
	case DontCheck:
		return "DontCheck"
	case FailedSubconcurrency:
		return "FailedSubconcurrency"
	case FailedDontCheck:
		return "FailedDontCheck"
	case Return:
		return "Return"
	case Stop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// Lookahead is a cheap summary of a thread's next action, sufficient for
// the search driver to judge dependence without executing it.
type Lookahead struct {
	Kind  Kind
	MVar  identifier.MVarId
	IORef identifier.IORefId
	TVars []identifier.TVarId // tvar ids the upcoming atomically may touch; no code in this module builds a Lookahead
}

func (l Lookahead) String() string {
	return fmt.Sprintf("Will%s", kindName(l.Kind))
}

// Decision classifies how the scheduler's choice at one step relates to
// the prior step.
type Decision struct {
	Kind DecisionKind
	Thread identifier.ThreadId
}

type DecisionKind int

const (
	DecisionStart DecisionKind = iota
	DecisionContinue
	DecisionSwitchTo
)

// Failure enumerates engine-level outcomes that terminate an execution
// without the initial thread returning a result.
type Failure int

const (
	NoFailure Failure = iota
	InternalError
	Deadlock
	STMDeadlock
	Abort
	UncaughtException
	IllegalSubconcurrency
	IllegalDontCheck
)

func (f Failure) String() string {
	switch f {
	case NoFailure:
		return "NoFailure"
	case InternalError:
		return "InternalError"
	case Deadlock:
		return "Deadlock"
	case STMDeadlock:
		return "STMDeadlock"
	case Abort:
		return "Abort"
	case UncaughtException:
		return "UncaughtException"
	case IllegalSubconcurrency:
		return "IllegalSubconcurrency"
	case IllegalDontCheck:
		return "IllegalDontCheck"
	default:
		return "UnknownFailure"
	}
}

func (f Failure) Error() string { return f.String() }

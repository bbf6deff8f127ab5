// Package value provides the uniform, type-erased Value carried through
// the engine. User programs read and write arbitrary Go types through
// MVars, IORefs and TVars; the engine itself never inspects the payload,
// so a single opaque wrapper replaces the existential-typed primitives a
// non-erased design would need.
package value

import "fmt"

// Cloner lets a payload control its own copy when the engine clones a
// cell or a whole execution context. Payloads that don't implement it are
// treated as immutable and returned as-is.
type Cloner interface {
	Clone() interface{}
}

// Value is an opaque, type-erased box. The zero Value holds nil.
type Value struct {
	boxed interface{}
}

// None is the canonical empty value, returned by actions with no
// meaningful result (Stop, SetNumCapabilities, ...).
var None = Value{}

// Of boxes an arbitrary payload.
func Of(v interface{}) Value {
	return Value{boxed: v}
}

// Unwrap returns the boxed payload.
func (v Value) Unwrap() interface{} {
	return v.boxed
}

// IsNone reports whether the value holds no payload.
func (v Value) IsNone() bool {
	return v.boxed == nil
}

// Clone deep-copies the payload if it opts in via Cloner; otherwise it is
// returned unchanged, which is correct for immutable payloads (numbers,
// strings, other Values) and wrong only for a mutable payload that forgot
// to implement Cloner — that is a bug in the lifted program, not here.
func (v Value) Clone() Value {
	if c, ok := v.boxed.(Cloner); ok {
		return Value{boxed: c.Clone()}
	}
	return v
}

func (v Value) String() string {
	if v.boxed == nil {
		return "<none>"
	}
	if s, ok := v.boxed.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v.boxed)
}

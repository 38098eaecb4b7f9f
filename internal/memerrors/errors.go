// Package memerrors provides the error taxonomy shared by the allocator,
// buffer, and chunk-list packages.
package memerrors

import (
	"fmt"
	"runtime"
)

// Kind identifies which domain category a Error belongs to.
type Kind string

const (
	BadParam       Kind = "bad_param"
	InvalidPointer Kind = "invalid_pointer"
	OutOfBounds    Kind = "out_of_bounds"
	NoMemory       Kind = "no_memory"
	BufferTooSmall Kind = "buffer_too_small"
	UnexpectedCall Kind = "unexpected_call"
	HeapCorrupted  Kind = "heap_corrupted"
	Internal       Kind = "internal"
)

// Error is the concrete error type returned by every public operation in
// this module. It carries enough context to diagnose a failure without
// requiring the caller to inspect process-global state.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Context map[string]interface{}
	Caller  string
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("[%s] %s: %s (at %s)", e.Kind, e.Op, e.Message, e.Caller)
	}
	return fmt.Sprintf("[%s] %s: %s %v (at %s)", e.Kind, e.Op, e.Message, e.Context, e.Caller)
}

// Is reports a match for any *Error target of the same Kind, which allows
// errors.Is(err, memerrors.Sentinel(memerrors.NoMemory)) style comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error, capturing the immediate caller for diagnostics.
func New(kind Kind, op, message string, context map[string]interface{}) *Error {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Context: context,
		Caller:  caller,
	}
}

// Sentinel constructs an Error of the given kind with no extra context,
// suitable for errors.Is comparisons (e.g. `errors.Is(err, memerrors.Sentinel(memerrors.NoMemory))`).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Convenience constructors mirroring the spec's domain taxonomy.

func BadParamf(op, format string, args ...interface{}) *Error {
	return New(BadParam, op, fmt.Sprintf(format, args...), nil)
}

func InvalidPointerf(op, format string, args ...interface{}) *Error {
	return New(InvalidPointer, op, fmt.Sprintf(format, args...), nil)
}

func OutOfBoundsf(op string, index, length uintptr) *Error {
	return New(OutOfBounds, op, fmt.Sprintf("index %d out of bounds for length %d", index, length),
		map[string]interface{}{"index": index, "length": length})
}

func NoMemoryf(op string, requested uintptr) *Error {
	return New(NoMemory, op, fmt.Sprintf("no block satisfies request of %d bytes", requested),
		map[string]interface{}{"requested": requested})
}

func BufferTooSmallf(op string, have, want uintptr) *Error {
	return New(BufferTooSmall, op, fmt.Sprintf("have %d bytes, need %d", have, want),
		map[string]interface{}{"have": have, "want": want})
}

func UnexpectedCallf(op, format string, args ...interface{}) *Error {
	return New(UnexpectedCall, op, fmt.Sprintf(format, args...), nil)
}

func HeapCorruptedf(op, format string, args ...interface{}) *Error {
	return New(HeapCorrupted, op, fmt.Sprintf(format, args...), nil)
}

func Internalf(op, format string, args ...interface{}) *Error {
	return New(Internal, op, fmt.Sprintf(format, args...), nil)
}

// Package rverr defines the error taxonomy surfaced by the execution-segment
// pipeline: pre-decoding, block discovery, emission, and translation
// activation all report failures through a single Kind enum wrapped in an
// Error that satisfies errors.Is / errors.As.
package rverr

import "fmt"

// Kind classifies a pipeline failure the way the interpreter's own
// exception codes do, so callers can branch on the category without
// string matching.
type Kind int

const (
	// InvalidProgram covers malformed segments: empty input, a zero
	// translation hash, a mapping address outside the segment, or a
	// bogus pagedata base.
	InvalidProgram Kind = iota + 1
	// IllegalOperation covers operations attempted on a segment already
	// in the wrong state, such as re-translating an already-translated
	// segment, or an invalid memory access size reaching a callback.
	IllegalOperation
	// MaxInstructionsReached means the process-wide (or per-segment)
	// handler table ran out of free slots.
	MaxInstructionsReached
	// MisalignedInstruction means a branch or jump target violates the
	// instruction alignment mask for the active extension set.
	MisalignedInstruction
	// IllegalOpcode means a decoder slot resolved to the all-zero
	// sentinel handler.
	IllegalOpcode
)

func (k Kind) String() string {
	switch k {
	case InvalidProgram:
		return "INVALID_PROGRAM"
	case IllegalOperation:
		return "ILLEGAL_OPERATION"
	case MaxInstructionsReached:
		return "MAX_INSTRUCTIONS_REACHED"
	case MisalignedInstruction:
		return "MISALIGNED_INSTRUCTION"
	case IllegalOpcode:
		return "ILLEGAL_OPCODE"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a Kind with the operation that produced it and, optionally,
// an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, letting
// callers write errors.Is(err, rverr.New(rverr.InvalidProgram, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error. Err may be nil.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel returns a comparable sentinel error of the given Kind, useful
// with errors.Is(err, rverr.Sentinel(rverr.InvalidProgram)).
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}

// Package decoder implements the DecoderEntry table: a flat, fixed-stride
// lookup table covering a whole execute segment, the pre-decoder that
// fills it, and the fast-sim realizer that precomputes straight-line run
// lengths. Handler interning here is per-segment (see DESIGN.md "Open
// Questions"), not process-wide, so segments never couple through a
// shared table.
package decoder

import "github.com/imbev/rvtrjit/rverr"

// Entry is one slot of the decoder table, one per addressable instruction
// start (every STRIDE bytes across the segment).
type Entry struct {
	RawInstr     uint32 // instruction word, or FASTSIMBlockEnd sentinel
	HandlerIndex uint8  // index into the segment's HandlerTable; 0 = unset
	Bytecode     uint8  // index into the threaded-dispatch jump table
	IdxEnd       uint8  // distance to block end, in units of Stride
	ICount       uint8  // compressed-mode instruction-count packing helper
}

// IsSet reports whether a handler has been assigned to this entry.
func (e *Entry) IsSet() bool { return e.HandlerIndex != 0 }

// BlockBytes returns the byte distance from this entry to the end of its
// straight-line run, using stride to convert IdxEnd units to bytes.
func (e *Entry) BlockBytes(stride int) int { return int(e.IdxEnd) * stride }

// InstructionCount returns the number of guest instructions remaining in
// the block starting at this entry. Without compressed, this is simply
// IdxEnd+1; with compressed, ICount corrects for halfword/instruction
// mismatch per spec.
func (e *Entry) InstructionCount(compressed bool) int {
	if compressed {
		return int(e.IdxEnd) + 1 - int(e.ICount)
	}
	return int(e.IdxEnd) + 1
}

// Handler is a placeholder function-pointer type for the interpreter
// dispatch handler a decoder entry resolves to. The pipeline only needs
// to intern and compare these; actual execution is out of scope (spec.md
// §1) and supplied by the embedding machine.
type Handler func(cpu any, instr uint32) error

// HandlerTable interns Handler values to stable small indices, scoped to
// one segment so segments never share mutable global state (the Design
// Note in spec.md §9 flags process-wide interning as an unwanted
// coupling between machines; here it's per-segment instead).
type HandlerTable struct {
	handlers []Handler // index 0 is the "unset/illegal" sentinel, left nil
	index    map[*Handler]int
}

// MaxHandlers bounds the handler table the way libriscv bounds its
// process-wide vector to a build-time maximum.
const MaxHandlers = 255

// Bytecode sentinels reserved at the top of the threaded-dispatch space:
// BytecodeTranslated marks an entry whose block runs through the
// segment's translated-function map instead of bytecode dispatch,
// BytecodeLivepatch marks one mid-patch (spec.md §5), between the
// atomic table-pointer flip and the old table's last reader draining.
const (
	BytecodeTranslated uint8 = 0xFF
	BytecodeLivepatch  uint8 = 0xFE
)

// NewHandlerTable returns a HandlerTable with slot 0 reserved as the
// illegal/unset sentinel.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{
		handlers: make([]Handler, 1, 16),
		index:    make(map[*Handler]int),
	}
}

// Intern returns the stable index for h, assigning the next free slot on
// first sight. Handler equality is by identity of the function value's
// address is not possible in Go, so callers pass a stable *Handler (e.g.
// a package-level variable or a pointer into an opcode table) as the
// identity key.
func (t *HandlerTable) Intern(key *Handler, h Handler) (uint8, error) {
	if idx, ok := t.index[key]; ok {
		return uint8(idx), nil
	}
	if len(t.handlers) >= MaxHandlers {
		return 0, rverr.New(rverr.MaxInstructionsReached, "decoder.HandlerTable.Intern", nil)
	}
	idx := len(t.handlers)
	t.handlers = append(t.handlers, h)
	t.index[key] = idx
	return uint8(idx), nil
}

// At returns the handler registered at idx, or nil for the sentinel slot.
func (t *HandlerTable) At(idx uint8) Handler {
	if int(idx) >= len(t.handlers) {
		return nil
	}
	return t.handlers[idx]
}

// Len reports how many handlers (including the sentinel) are interned.
func (t *HandlerTable) Len() int { return len(t.handlers) }

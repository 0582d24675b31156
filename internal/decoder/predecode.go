package decoder

import (
	"encoding/binary"

	"github.com/imbev/rvtrjit/internal/rv"
)

// Rewriter may substitute an instruction word with an equivalent,
// faster-to-dispatch form before it is stored in the decoder entry (spec.md
// §4.2 step 2). It is disabled by the caller whenever a translation is
// already attached to the segment, because the translator's emitted code
// encodes the original semantics and a silent rewrite would desync it.
type Rewriter func(pc uint64, instr uint32) uint32

// DecodeFunc resolves the interpreter handler and threaded-dispatch
// bytecode for a raw instruction word. It stands in for "the decode
// tables" of spec.md §4.1: the embedding machine supplies its own;
// internal/callback.Reference supplies a minimal one for tests.
type DecodeFunc func(instr uint32) (key *Handler, h Handler, bytecode uint8)

// PredecodeOptions configures one pass of Predecode.
type PredecodeOptions struct {
	ExecBegin          uint64
	ExecEnd             uint64
	Compressed          bool
	Rewriter            Rewriter // nil disables rewriting
	Decode              DecodeFunc
	AlreadyTranslated   bool          // disables the rewriter per spec.md §4.2
	IsMapped            func(uint64) bool // reports whether addr has a translation mapping, used when AlreadyTranslated
}

// readInstruction loads the instruction word at pc the way
// decoder_cache.cpp's read_instruction does: an unaligned 4-byte read
// when 4 bytes remain before execEnd, else an aligned 2-byte read so the
// final compressed halfword of a segment still decodes.
func readInstruction(data []byte, pc, execBegin, execEnd uint64) uint32 {
	off := pc - execBegin
	if pc+4 <= execEnd {
		return binary.LittleEndian.Uint32(data[off : off+4])
	}
	lo := binary.LittleEndian.Uint16(data[off : off+2])
	return uint32(lo)
}

// Predecode walks [ExecBegin, ExecEnd) filling table with handler,
// bytecode, and raw-instruction data for every valid instruction start,
// exactly following spec.md §4.2. data is the segment's instruction
// bytes, addressed the same way as table (data[0] corresponds to
// ExecBegin).
func Predecode(table *Table, data []byte, opt PredecodeOptions) error {
	wasFullInstruction := true

	for pc := opt.ExecBegin; pc < opt.ExecEnd; {
		entry := table.EntryAt(pc)
		if entry == nil {
			break
		}
		entry.RawInstr = 0
		entry.IdxEnd = 0

		if opt.Compressed && !wasFullInstruction {
			// Second half of a 4-byte instruction: left at its zero default.
			wasFullInstruction = true
			pc += 2
			continue
		}

		word :=readInstruction(data, pc, opt.ExecBegin, opt.ExecEnd)

		if opt.AlreadyTranslated && opt.IsMapped != nil && opt.IsMapped(pc) {
			// The translator already encodes this slot's semantics in
			// host code; never let the interpreter fall through into it.
			entry.RawInstr = rv.FASTSIMBlockEnd
			pc += 4
			continue
		}

		rewritten := word
		if !opt.AlreadyTranslated && opt.Rewriter != nil {
			rewritten = opt.Rewriter(pc, word)
		}

		if opt.Decode != nil {
			key, h, bytecode := opt.Decode(rewritten)
			if key != nil {
				idx, err := table.handlers.Intern(key, h)
				if err != nil {
					return err
				}
				entry.HandlerIndex = idx
			}
			entry.Bytecode = bytecode
		}

		entry.RawInstr = rewritten

		if opt.Compressed {
			pc += 2
			wasFullInstruction = rv.InstrLength(word) == 2
		} else {
			pc += 4
		}
	}
	return nil
}

package decoder

import "github.com/imbev/rvtrjit/internal/rv"

// saturateCount caps an instruction count at 255 the way
// overflow_checked_instr_count does in the original: a single block
// with more than 255 halfwords loses exactness in ICount, which is a
// known, accepted tradeoff (see DESIGN.md Open Question #2).
func saturateCount(count int) uint8 {
	if count > 255 {
		return 255
	}
	return uint8(count)
}

// RealizeFastsimOptions selects the pass and supplies the raw bytes
// needed to re-read instruction lengths during the compressed grouping
// pass.
type RealizeFastsimOptions struct {
	BasePC    uint64
	LastPC    uint64 // exclusive
	Data      []byte // segment bytes, addressed from BasePC
	Compressed bool
	XLen       int // 32 or 64; selects C.JAL vs C.ADDIW during the compressed grouping pass
}

// RealizeFastsim fills IdxEnd (and, with compressed enabled, ICount) for
// every entry in [BasePC, LastPC), implementing both passes of spec.md
// §4.3 exactly.
func RealizeFastsim(table *Table, opt RealizeFastsimOptions) {
	if opt.Compressed {
		realizeFastsimCompressed(table, opt)
	} else {
		realizeFastsimPlain(table, opt)
	}
}

// realizeFastsimPlain implements the backward single pass used when the
// compressed extension is disabled: walk from the last 4-byte slot that
// starts before LastPC down to BasePC, resetting idxend to 0 at every
// block-ending opcode or FASTSIMBlockEnd sentinel, otherwise incrementing.
func realizeFastsimPlain(table *Table, opt RealizeFastsimOptions) {
	idxend := 0
	if opt.LastPC <= opt.BasePC {
		return
	}
	for pc := opt.BasePC + (opt.LastPC-opt.BasePC-1)/4*4; ; pc -= 4 {
		entry := table.EntryAt(pc)
		if entry == nil {
			break
		}
		instr := rv.Instr(readWord(opt.Data, pc, opt.BasePC))
		if rv.IsStoppingOpcode(instr.Opcode()) || entry.RawInstr == rv.FASTSIMBlockEnd {
			idxend = 0
		}
		entry.IdxEnd = uint8(clampIdxEnd(idxend))
		idxend++

		if pc == opt.BasePC {
			break
		}
	}
}

func clampIdxEnd(v int) int {
	if v > 255 {
		return 255
	}
	return v
}

// readWord re-reads the 4-byte word at pc from opt.Data (used only to
// inspect the opcode during fastsim realization; the decoder entry
// itself was already filled by Predecode).
func readWord(data []byte, pc, basePC uint64) uint32 {
	off := pc - basePC
	if int(off)+4 > len(data) {
		if int(off)+2 <= len(data) {
			return uint32(data[off]) | uint32(data[off+1])<<8
		}
		return 0
	}
	return uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24
}

// realizeFastsimCompressed implements the forward grouping pass used
// when the compressed extension is enabled: group slots into blocks
// ended by a 4-byte BRANCH/SYSTEM/JAL/JALR/AUIPC, a FASTSIMBlockEnd
// entry, or an irregular 2-byte compressed instruction; then assign
// IdxEnd/ICount per entry in the group.
func realizeFastsimCompressed(table *Table, opt RealizeFastsimOptions) {
	xlen64 := opt.XLen != 32
	pc := opt.BasePC
	for pc < opt.LastPC {
		var group []*Entry
		datalength := 0
		blockPC := pc

		for pc < opt.LastPC {
			entry := table.EntryAt(pc)
			if entry == nil {
				break
			}
			group = append(group, entry)

			word := readWord(opt.Data, pc, opt.BasePC)
			length := rv.InstrLength(word)
			pc += uint64(length)
			datalength += length / 2

			if length == 2 {
				if !rv.IsRegularCompressed(rv.C16(uint16(word)), xlen64) {
					break
				}
			} else {
				instr := rv.Instr(word)
				if rv.IsStoppingOpcode(instr.Opcode()) || entry.RawInstr == rv.FASTSIMBlockEnd {
					break
				}
			}
		}

		walkPC := blockPC
		for i := 0; i < len(group); i++ {
			word := readWord(opt.Data, walkPC, opt.BasePC)
			length := rv.InstrLength(word)
			walkPC += uint64(length)

			entry := group[i]
			entry.IdxEnd = uint8(clampIdxEnd(datalength))
			entry.ICount = saturateCount(datalength - (len(group) - i))
			datalength -= length / 2
		}
	}
}

// Package blockscan implements the block discoverer (spec.md §4.4):
// partitioning a guest code range into TransInfo blocks at stopping
// instructions, and collecting intra- and inter-block jump targets for
// the emitter.
package blockscan

import (
	"sort"

	"github.com/imbev/rvtrjit/internal/rv"
)

// ItsTimeToSplit is the minimum instruction count a block must reach
// before a stopping instruction is allowed to end it (spec.md §4.4 step
// 2), named after the original's ITS_TIME_TO_SPLIT constant.
const ItsTimeToSplit = 1250

// Instruction is one decoded instruction recorded in a block, carrying
// enough of the raw word and PC for the emitter to re-derive opcode and
// operands without re-reading the byte stream.
type Instruction struct {
	PC   uint64
	Word uint32 // low 16 bits valid alone when Length == 2
}

func (i Instruction) Length() int { return rv.InstrLength(i.Word) }

// Info is the per-block input to the emitter: the RISC-V TransInfo
// record of spec.md §3.
type Info struct {
	Instructions []Instruction
	BasePC       uint64
	EndPC        uint64 // exclusive

	SegmentBasePC uint64
	SegmentEndPC  uint64

	GP uint64

	JumpLocations       map[uint64]struct{} // intra-block jump/branch targets
	GlobalJumpLocations map[uint64]struct{} // shared across all blocks: JAL targets anywhere + entry point

	Blocks []*Info // the full sibling block list, for direct-tail-call detection

	Trace                    bool
	IgnoreInstructionLimit   bool
	UseSharedExecuteSegments bool
	ArenaPtr                 uintptr
}

// Options configures one call to Discover.
type Options struct {
	Data       []byte // segment instruction bytes, addressed from SegmentBasePC
	BasePC     uint64 // start of the range to scan (may be < SegmentEndPC)
	EndPC      uint64 // exclusive end of the range to scan
	SegmentBasePC uint64
	SegmentEndPC  uint64
	EntryPoint uint64 // program entry point; included in GlobalJumpLocations if within range
	Compressed bool

	TranslateInstrMax  int // 0 means unbounded
	TranslateBlocksMax int // 0 means unbounded

	Trace                    bool
	IgnoreInstructionLimit   bool
	UseSharedExecuteSegments bool
	ArenaPtr                 uintptr
}

// Discover partitions [opt.BasePC, opt.EndPC) into blocks per spec.md
// §4.4, returning one *Info per block in address order.
func Discover(opt Options) []*Info {
	gpData := opt.Data
	if off := opt.BasePC - opt.SegmentBasePC; opt.BasePC >= opt.SegmentBasePC && off <= uint64(len(gpData)) {
		gpData = gpData[off:]
	}
	gp := RecoverGP(gpData, opt.BasePC, opt.EndPC, opt.Compressed)

	globalJumps := make(map[uint64]struct{})
	if opt.EntryPoint >= opt.BasePC && opt.EntryPoint < opt.EndPC {
		globalJumps[opt.EntryPoint] = struct{}{}
	}

	var blocks []*Info
	icounter := 0
	instrMax := opt.TranslateInstrMax
	if instrMax == 0 {
		instrMax = 1 << 62
	}
	blocksMax := opt.TranslateBlocksMax
	if blocksMax == 0 {
		blocksMax = 1 << 30
	}

	pc := opt.BasePC
	for pc < opt.EndPC && icounter < instrMax {
		blockStart := pc
		blockInsns := 0

		for pc < opt.EndPC {
			word := readWord(opt.Data, pc, opt.SegmentBasePC)
			length := rv.InstrLength(word)
			pc += uint64(length)
			blockInsns++

			stop := false
			if length == 2 {
				stop = rv.IsStoppingCompressed(rv.C16(uint16(word)))
			} else {
				stop = rv.IsStoppingInstruction(rv.Instr(word))
			}
			if blockInsns >= ItsTimeToSplit && stop {
				break
			}
		}
		blockEnd := pc

		jumpLocations := make(map[uint64]struct{})
		var instrs []Instruction

		for p := blockStart; p < blockEnd; {
			word := readWord(opt.Data, p, opt.SegmentBasePC)
			length := rv.InstrLength(word)
			instr := rv.Instr(word)

			isJAL, isBranch := false, false
			var location uint64

			switch {
			case length == 4 && instr.Opcode() == rv.OpJal:
				isJAL = true
				location = p + uint64(int64(instr.JtypeImm()))
			case length == 4 && instr.Opcode() == rv.OpBranch:
				isBranch = true
				location = p + uint64(int64(instr.BtypeImm()))
			case length == 2:
				c := rv.C16(uint16(word))
				switch c.Opcode() {
				case (0b001 << 13) | 0b01: // C.JAL (32-bit only; harmless no-op target math on 64-bit)
					isJAL = true
					location = p + uint64(int64(c.CJSignedImm()))
				case (0b101 << 13) | 0b01: // C.J
					isJAL = true
					location = p + uint64(int64(c.CJSignedImm()))
				case (0b110 << 13) | 0b01: // C.BEQZ
					isBranch = true
					location = p + uint64(int64(c.CBSignedImm()))
				case (0b111 << 13) | 0b01: // C.BNEZ
					isBranch = true
					location = p + uint64(int64(c.CBSignedImm()))
				}
			}

			if isJAL {
				globalJumps[location] = struct{}{}
				if location >= blockStart && location < blockEnd {
					jumpLocations[location] = struct{}{}
				}
			} else if isBranch {
				if location >= blockStart && location < blockEnd {
					jumpLocations[location] = struct{}{}
				}
			}

			instrs = append(instrs, Instruction{PC: p, Word: word})
			p += uint64(length)
		}

		length := len(instrs)
		if length > 0 && icounter+length < instrMax {
			blocks = append(blocks, &Info{
				Instructions:             instrs,
				BasePC:                   blockStart,
				EndPC:                    blockEnd,
				SegmentBasePC:            opt.SegmentBasePC,
				SegmentEndPC:             opt.SegmentEndPC,
				GP:                       gp,
				JumpLocations:            jumpLocations,
				GlobalJumpLocations:      globalJumps,
				Trace:                    opt.Trace,
				IgnoreInstructionLimit:   opt.IgnoreInstructionLimit,
				UseSharedExecuteSegments: opt.UseSharedExecuteSegments,
				ArenaPtr:                 opt.ArenaPtr,
			})
			icounter += length
			if len(blocks) >= blocksMax {
				break
			}
		}

		pc = blockEnd
	}

	for _, b := range blocks {
		b.Blocks = blocks
	}
	return blocks
}



// SortedJumpLocations returns the intra-block jump target set as a
// sorted slice, for deterministic emission order.
func SortedJumpLocations(m map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

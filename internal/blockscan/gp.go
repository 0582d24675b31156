package blockscan

import "github.com/imbev/rvtrjit/internal/rv"

const gpRegister = 3 // x3, the global-pointer register

// RecoverGP implements the "SCAN_FOR_GP" heuristic from
// tr_translate.cpp verbatim: scan forward from basePC for the first
// AUIPC targeting gp; if immediately followed by a matching
// ADDI gp, gp, imm, fold both into the computed gp value, otherwise use
// the AUIPC alone. Returns 0 if no such pair is found before endPC.
func RecoverGP(data []byte, basePC, endPC uint64, compressed bool) uint64 {
	for pc := basePC; pc < endPC; {
		word := readWord(data, pc, basePC)
		instr := rv.Instr(word)
		if instr.Opcode() == rv.OpAuipc && instr.Rd() == gpRegister {
			nextWord := readWord(data, pc+4, basePC)
			addi := rv.Instr(nextWord)
			if addi.Opcode() == rv.OpOpImm && addi.Funct3() == 0 {
				if addi.Rd() == gpRegister && addi.Rs1() == gpRegister {
					return pc + uint64(int64(instr.UtypeUpperImm())) + uint64(int64(addi.ItypeImm()))
				}
				return pc + uint64(int64(instr.UtypeUpperImm()))
			}
			return pc + uint64(int64(instr.UtypeUpperImm()))
		}
		if compressed {
			pc += uint64(rv.InstrLength(word))
		} else {
			pc += 4
		}
	}
	return 0
}

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

// Package rv holds the RISC-V instruction-word helpers shared by the
// decoder, block discoverer, and emitter: opcode/field extraction,
// immediate decoding, and compressed-instruction classification. None of
// this verifies full RISC-V semantics; it extracts exactly the fields the
// pipeline needs to classify block boundaries and lower arithmetic.
package rv

// Base opcode values (instr[6:0]) for the fields this pipeline inspects.
const (
	OpLoad    = 0x03
	OpLoadFP  = 0x07
	OpStoreFP = 0x27
	OpMiscMem = 0x0F
	OpOpImm   = 0x13
	OpAuipc   = 0x17
	OpOpImm32 = 0x1B
	OpStore   = 0x23
	OpAmo     = 0x2F
	OpOp      = 0x33
	OpLui     = 0x37
	OpOp32    = 0x3B
	OpMAdd    = 0x43
	OpOpFP    = 0x53
	OpBranch  = 0x63
	OpJalr    = 0x67
	OpJal     = 0x6F
	OpSystem  = 0x73
	OpVector  = 0x57
)

// FASTSIMBlockEnd is the reserved raw_instr sentinel marking a decoder
// slot whose first instruction has been replaced by a translated block.
const FASTSIMBlockEnd = 0xFFFF

// StopWFIImm is the funct12 value (SYSTEM, funct3=0) identifying WFI.
const StopWFIImm = 0x105

// Instr wraps a 32-bit instruction word (or a 16-bit compressed word in
// its low half) with field accessors.
type Instr uint32

func (i Instr) Opcode() uint32  { return uint32(i) & 0x7F }
func (i Instr) Funct3() uint32  { return (uint32(i) >> 12) & 0x7 }
func (i Instr) Funct7() uint32  { return (uint32(i) >> 25) & 0x7F }
func (i Instr) Rd() uint32      { return (uint32(i) >> 7) & 0x1F }
func (i Instr) Rs1() uint32     { return (uint32(i) >> 15) & 0x1F }
func (i Instr) Rs2() uint32     { return (uint32(i) >> 20) & 0x1F }
func (i Instr) ItypeImm() int32 { return int32(i) >> 20 }

// UtypeUpperImm returns the sign-extended upper-immediate field used by
// LUI/AUIPC, already shifted into its final position (bits [31:12]).
func (i Instr) UtypeUpperImm() int32 { return int32(uint32(i) & 0xFFFFF000) }

// JtypeImm decodes the J-immediate (JAL) per the RISC-V spec bit layout.
func (i Instr) JtypeImm() int32 {
	u := uint32(i)
	imm20 := (u >> 31) & 0x1
	imm10_1 := (u >> 21) & 0x3FF
	imm11 := (u >> 20) & 0x1
	imm19_12 := (u >> 12) & 0xFF
	v := (imm20 << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
	// sign extend from bit 20
	if imm20 != 0 {
		v |= 0xFFE00000
	}
	return int32(v)
}

// BtypeImm decodes the B-immediate (BRANCH).
func (i Instr) BtypeImm() int32 {
	u := uint32(i)
	imm12 := (u >> 31) & 0x1
	imm10_5 := (u >> 25) & 0x3F
	imm4_1 := (u >> 8) & 0xF
	imm11 := (u >> 7) & 0x1
	v := (imm12 << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
	if imm12 != 0 {
		v |= 0xFFFFE000
	}
	return int32(v)
}

// StypeImm decodes the S-immediate (STORE).
func (i Instr) StypeImm() int32 {
	u := uint32(i)
	imm11_5 := (u >> 25) & 0x7F
	imm4_0 := (u >> 7) & 0x1F
	v := (imm11_5 << 5) | imm4_0
	if imm11_5&0x40 != 0 {
		v |= 0xFFFFF000
	}
	return int32(v)
}

// IsCompressed reports whether the low two bits indicate a 16-bit
// compressed encoding (anything other than 0b11).
func IsCompressed(halfword uint16) bool { return halfword&0x3 != 0x3 }

// InstrLength returns 2 or 4 depending on whether the instruction at this
// position is compressed, inspecting only the low 16 bits.
func InstrLength(word uint32) int {
	if IsCompressed(uint16(word)) {
		return 2
	}
	return 4
}

// IsStoppingOpcode reports whether opcode is one of the fastsim
// block-ending base opcodes (BRANCH, SYSTEM, JAL, JALR, AUIPC).
func IsStoppingOpcode(opcode uint32) bool {
	switch opcode {
	case OpBranch, OpSystem, OpJal, OpJalr, OpAuipc:
		return true
	default:
		return false
	}
}

// IsStoppingInstruction reports whether instr is a block-discovery
// stopping instruction: JALR, or WFI (SYSTEM, funct3 0, immediate
// StopWFIImm). No other SYSTEM encoding is treated as stopping here.
// Compressed C.JR/C.JALR are handled separately by the compressed
// classifier since they require the 16-bit view.
func IsStoppingInstruction(instr Instr) bool {
	if instr.Opcode() == OpJalr {
		return true
	}
	if instr.Opcode() == OpSystem && instr.Funct3() == 0 && uint32(instr.ItypeImm())&0xFFF == StopWFIImm {
		return true
	}
	return false
}

// C16 wraps a 16-bit compressed instruction word with the field
// accessors needed to classify it as "regular" or "irregular" for
// fastsim block splitting and for jump-target extraction.
type C16 uint16

// Opcode returns the funct3 (bits [15:13]) and quadrant (bits [1:0])
// fields left in their original bit positions, matching ciCode's
// encoding domain directly so switch cases built from literals or from
// ciCode compare equal against it.
func (c C16) Opcode() uint32 { return (uint32(c) & (0x7 << 13)) | (uint32(c) & 0x3) }

// ciCode packs (funct3, quadrant) the way the original CI_CODE macro does,
// so opcode-table switches read the same as the C source they are
// grounded on.
func ciCode(funct3, quadrant uint32) uint32 { return (funct3 << 13) | quadrant }

const (
	cQuad0 = 0b00
	cQuad1 = 0b01
	cQuad2 = 0b10
)

// CRrd / CRrs2 decode the CR-format register fields used by C.JR/C.JALR
// classification (bits [11:7] and [6:2]).
func (c C16) CRrd() uint32  { return (uint32(c) >> 7) & 0x1F }
func (c C16) CRrs2() uint32 { return (uint32(c) >> 2) & 0x1F }

// CJSignedImm decodes the CJ-format signed immediate used by C.JAL/C.J.
func (c C16) CJSignedImm() int32 {
	u := uint32(c)
	bit := func(n uint32) uint32 { return (u >> n) & 1 }
	imm := bit(12)<<11 | bit(11)<<4 | bit(10)<<9 | bit(9)<<8 | bit(8)<<10 |
		bit(7)<<6 | bit(6)<<7 | bit(5)<<1 | bit(4)<<2 | bit(3)<<3 | bit(2)<<5
	v := imm << 1
	if bit(12) != 0 {
		v |= 0xFFFFF000
	}
	return int32(v)
}

// CBSignedImm decodes the CB-format signed immediate used by
// C.BEQZ/C.BNEZ.
func (c C16) CBSignedImm() int32 {
	u := uint32(c)
	bit := func(n uint32) uint32 { return (u >> n) & 1 }
	imm := bit(12)<<8 | bit(11)<<4 | bit(10)<<3 | bit(6)<<7 | bit(5)<<6 |
		bit(4)<<2 | bit(3)<<1 | bit(2)<<5
	v := imm << 1
	if bit(12) != 0 {
		v |= 0xFFFFFE00
	}
	return int32(v)
}

// IsRegularCompressed reports whether a compressed instruction is
// "regular" (straight-line, never modifies control flow out of sequence)
// for the purposes of the fast-sim block splitter. xlen64 selects
// whether C.ADDIW (xlen>=8 bytes) or C.JAL (32-bit only) applies to
// opcode 0b001/quadrant 1.
func IsRegularCompressed(instr C16, xlen64 bool) bool {
	switch instr.Opcode() {
	case ciCode(0b001, cQuad1):
		return xlen64 // C.ADDIW on 64-bit is regular; C.JAL on 32-bit is not.
	case ciCode(0b101, cQuad1): // C.JMP (C.J)
		return false
	case ciCode(0b110, cQuad1): // C.BEQZ
		return false
	case ciCode(0b111, cQuad1): // C.BNEZ
		return false
	case ciCode(0b100, cQuad2): // VARIOUS: C.JR / C.JALR / C.MV / C.ADD
		topbit := uint32(instr)&(1<<12) != 0
		if !topbit && instr.CRrd() != 0 && instr.CRrs2() == 0 {
			return false // C.JR rd
		}
		if topbit && instr.CRrd() != 0 && instr.CRrs2() == 0 {
			return false // C.JALR ra, rd+0 (aka RET/C.JALR)
		}
		return true
	default:
		return true
	}
}

// IsStoppingCompressed reports whether a compressed instruction is a
// block-discovery stopping instruction: C.JR or C.JALR (rd != 0, rs2 == 0
// in the VARIOUS quadrant-2 group).
func IsStoppingCompressed(instr C16) bool {
	if instr.Opcode() == ciCode(0b100, cQuad2) {
		return instr.CRrd() != 0 && instr.CRrs2() == 0
	}
	return false
}

package emit

import (
	"fmt"

	"github.com/imbev/rvtrjit/internal/rv"
)

// wrapW wraps expr to 32 bits and sign-extends to 64 when w32 is set,
// implementing the "W" instruction variants (ADDIW, SLLW, ...) that
// operate on the low 32 bits of a 64-bit register.
func wrapW(expr string, w32 bool) string {
	if w32 {
		return fmt.Sprintf("(int64_t)(int32_t)(%s)", expr)
	}
	return expr
}

// emitOpImm covers the full RV32I OP-IMM opcode (ADDI/SLTI/SLTIU/XORI/
// ORI/ANDI/SLLI/SRLI/SRAI) plus the Zbb/Zbs immediate forms (CLZ, CTZ,
// CPOP, SEXT.B, SEXT.H, RORI, BSET/BCLR/BINV/BEXT immediate forms,
// ORC.B, REV8) and, when w32 is set, the OP-IMM-32 "W" variants.
func (e *emitter) emitOpImm(instr rv.Instr, w32 bool) {
	rd, rs1 := instr.Rd(), instr.Rs1()
	imm := int64(instr.ItypeImm())
	shamtMask := uint32(0x3F)
	if w32 {
		shamtMask = 0x1F
	}
	shamt := uint32(imm) & shamtMask
	funct7 := instr.Funct7()

	switch instr.Funct3() {
	case 0x0: // ADDI / ADDIW
		e.setReg(rd, wrapW(fmt.Sprintf("%s + (int64_t)%d", reg(rs1), imm), w32))
	case 0x1: // SLLI / SLLIW, or Zbb bit-counting ops encoded with funct7=0x30/0x60
		switch {
		case funct7 == 0x30 && rs1 != 0 && (instr.Rs2() == 0 || instr.Rs2() == 1 || instr.Rs2() == 2 || instr.Rs2() == 4 || instr.Rs2() == 5):
			e.emitZbbCounting(rd, rs1, instr.Rs2(), w32)
		case funct7&^1 == 0x14 || funct7&^1 == 0x24 || funct7&^1 == 0x34: // BSETI / BCLRI / BINVI
			op := map[uint32]string{0x14: "%s | (1ULL << %d)", 0x24: "%s & ~(1ULL << %d)", 0x34: "%s ^ (1ULL << %d)"}[funct7&^1]
			e.setReg(rd, fmt.Sprintf(op, reg(rs1), shamt))
		default:
			e.setReg(rd, wrapW(fmt.Sprintf("%s << %d", reg(rs1), shamt), w32))
		}
	case 0x2: // SLTI
		e.setReg(rd, fmt.Sprintf("((int64_t)%s < (int64_t)%d) ? 1 : 0", reg(rs1), imm))
	case 0x3: // SLTIU
		e.setReg(rd, fmt.Sprintf("(%s < %dULL) ? 1 : 0", reg(rs1), uint64(imm)))
	case 0x4: // XORI
		e.setReg(rd, wrapW(fmt.Sprintf("%s ^ (int64_t)%d", reg(rs1), imm), w32))
	case 0x5: // SRLI / SRAI / SRLIW / SRAIW, RORI, BEXTI, ORC.B, REV8
		if uint32(imm)&0xFFF == 0x287 { // ORC.B
			e.setReg(rd, fmt.Sprintf("(((((%[1]s & 0x7F7F7F7F7F7F7F7FULL) + 0x7F7F7F7F7F7F7F7FULL) | %[1]s) & 0x8080808080808080ULL) >> 7) * 0xFFULL", reg(rs1)))
		} else if uint32(imm)&0xFFF == 0x6B8 { // REV8 (RV64 encoding)
			e.setReg(rd, fmt.Sprintf("__builtin_bswap64(%s)", reg(rs1)))
		} else if funct7&^1 == 0x24 { // BEXTI
			e.setReg(rd, fmt.Sprintf("(%s >> %d) & 1ULL", reg(rs1), shamt))
		} else if funct7&^1 == 0x30 { // RORI: funct7 0b011000x (bit 0 is shamt[5])
			bits := 64
			if w32 {
				bits = 32
			}
			e.setReg(rd, fmt.Sprintf("(%s >> %d) | (%s << %d)", reg(rs1), shamt, reg(rs1), (bits-int(shamt))%bits))
		} else if instr.Funct7()&0x20 != 0 { // SRAI
			e.setReg(rd, wrapW(fmt.Sprintf("(int64_t)%s >> %d", reg(rs1), shamt), w32))
		} else {
			e.setReg(rd, wrapW(fmt.Sprintf("(uint64_t)%s >> %d", reg(rs1), shamt), w32))
		}
	case 0x6: // ORI
		e.setReg(rd, wrapW(fmt.Sprintf("%s | (int64_t)%d", reg(rs1), imm), w32))
	case 0x7: // ANDI
		e.setReg(rd, wrapW(fmt.Sprintf("%s & (int64_t)%d", reg(rs1), imm), w32))
	}
}

// emitZbbCounting lowers CLZ/CTZ/CPOP (funct12-selected via rs2 field in
// the OP-IMM encoding) to the matching CallbackTable math helper, and
// SEXT.B/SEXT.H (rs2 field 4/5) to an inline sign extension.
func (e *emitter) emitZbbCounting(rd, rs1, sel uint32, w32 bool) {
	fn := map[uint32]string{0: "clz", 1: "ctz", 2: "cpop"}[sel]
	if fn == "" {
		ext := map[uint32]string{4: "int8_t", 5: "int16_t"}[sel]
		e.setReg(rd, fmt.Sprintf("(int64_t)(%s)%s", ext, reg(rs1)))
		return
	}
	if w32 {
		e.setReg(rd, fmt.Sprintf("api.%s((uint32_t)%s)", fn, reg(rs1)))
	} else {
		e.setReg(rd, fmt.Sprintf("api.%sl((uint64_t)%s)", fn, reg(rs1)))
	}
}

// emitOp covers the full RV32I OP opcode plus the M extension
// (MUL/MULH/MULHSU/MULHU/DIV/DIVU/REM/REMU) and a representative
// Zba/Zbb/Zbs register-register set (SH1/2/3ADD, ANDN/ORN/XNOR,
// MIN/MAX/MINU/MAXU, ROL/ROR, BSET/BCLR/BINV/BEXT), plus the OP-32 "W"
// variants when w32 is set.
func (e *emitter) emitOp(instr rv.Instr, w32 bool) {
	rd, rs1, rs2 := instr.Rd(), instr.Rs1(), instr.Rs2()
	a, b := reg(rs1), reg(rs2)
	funct7 := instr.Funct7()

	switch {
	case funct7 == 0x01: // M extension
		e.emitMExt(instr, w32)
		return
	case funct7 == 0x20 && instr.Funct3() == 0x0: // SUB/SUBW
		e.setReg(rd, wrapW(a+" - "+b, w32))
		return
	case funct7 == 0x20 && instr.Funct3() == 0x5: // SRA/SRAW
		bits := "63"
		if w32 {
			bits = "31"
		}
		e.setReg(rd, wrapW(fmt.Sprintf("(int64_t)%s >> (%s & %s)", a, b, bits), w32))
		return
	case funct7 == 0x20 && instr.Funct3() == 0x7: // ANDN
		e.setReg(rd, fmt.Sprintf("%s & ~%s", a, b))
		return
	case funct7 == 0x20 && instr.Funct3() == 0x6: // ORN
		e.setReg(rd, fmt.Sprintf("%s | ~%s", a, b))
		return
	case funct7 == 0x20 && instr.Funct3() == 0x4: // XNOR
		e.setReg(rd, fmt.Sprintf("~(%s ^ %s)", a, b))
		return
	case funct7 == 0x10 && instr.Funct3() == 0x2: // SH1ADD
		e.setReg(rd, fmt.Sprintf("(%s << 1) + %s", a, b))
		return
	case funct7 == 0x10 && instr.Funct3() == 0x4: // SH2ADD
		e.setReg(rd, fmt.Sprintf("(%s << 2) + %s", a, b))
		return
	case funct7 == 0x10 && instr.Funct3() == 0x6: // SH3ADD
		e.setReg(rd, fmt.Sprintf("(%s << 3) + %s", a, b))
		return
	case funct7 == 0x05 && instr.Funct3() == 0x4: // MIN
		e.setReg(rd, fmt.Sprintf("((int64_t)%s < (int64_t)%s) ? %s : %s", a, b, a, b))
		return
	case funct7 == 0x05 && instr.Funct3() == 0x6: // MAX
		e.setReg(rd, fmt.Sprintf("((int64_t)%s > (int64_t)%s) ? %s : %s", a, b, a, b))
		return
	case funct7 == 0x05 && instr.Funct3() == 0x5: // MINU
		e.setReg(rd, fmt.Sprintf("(%s < %s) ? %s : %s", a, b, a, b))
		return
	case funct7 == 0x05 && instr.Funct3() == 0x7: // MAXU
		e.setReg(rd, fmt.Sprintf("(%s > %s) ? %s : %s", a, b, a, b))
		return
	case funct7 == 0x30 && instr.Funct3() == 0x1: // ROL
		bits := 64
		if w32 {
			bits = 32
		}
		e.setReg(rd, fmt.Sprintf("(%s << (%s %% %d)) | (%s >> ((%d - (%s %% %d)) %% %d))", a, b, bits, a, bits, b, bits, bits))
		return
	case funct7 == 0x30 && instr.Funct3() == 0x5: // ROR
		bits := 64
		if w32 {
			bits = 32
		}
		e.setReg(rd, fmt.Sprintf("(%s >> (%s %% %d)) | (%s << ((%d - (%s %% %d)) %% %d))", a, b, bits, a, bits, b, bits, bits))
		return
	case funct7 == 0x14 && instr.Funct3() == 0x1: // BSET
		e.setReg(rd, fmt.Sprintf("%s | (1ULL << (%s & 63))", a, b))
		return
	case funct7 == 0x24 && instr.Funct3() == 0x1: // BCLR
		e.setReg(rd, fmt.Sprintf("%s & ~(1ULL << (%s & 63))", a, b))
		return
	case funct7 == 0x34 && instr.Funct3() == 0x1: // BINV
		e.setReg(rd, fmt.Sprintf("%s ^ (1ULL << (%s & 63))", a, b))
		return
	case funct7 == 0x24 && instr.Funct3() == 0x5: // BEXT
		e.setReg(rd, fmt.Sprintf("(%s >> (%s & 63)) & 1ULL", a, b))
		return
	case funct7 == 0x05 && instr.Funct3() == 0x1: // CLMUL
		e.setReg(rd, fmt.Sprintf("__rvtrjit_clmul(%s, %s)", a, b))
		return
	case funct7 == 0x05 && instr.Funct3() == 0x3: // CLMULH
		e.setReg(rd, fmt.Sprintf("__rvtrjit_clmulh(%s, %s)", a, b))
		return
	}

	switch instr.Funct3() {
	case 0x0: // ADD/ADDW
		e.setReg(rd, wrapW(a+" + "+b, w32))
	case 0x1: // SLL/SLLW
		bits := "63"
		if w32 {
			bits = "31"
		}
		e.setReg(rd, wrapW(fmt.Sprintf("%s << (%s & %s)", a, b, bits), w32))
	case 0x2: // SLT
		e.setReg(rd, fmt.Sprintf("((int64_t)%s < (int64_t)%s) ? 1 : 0", a, b))
	case 0x3: // SLTU
		e.setReg(rd, fmt.Sprintf("(%s < %s) ? 1 : 0", a, b))
	case 0x4: // XOR
		e.setReg(rd, wrapW(a+" ^ "+b, w32))
	case 0x5: // SRL/SRLW
		bits := "63"
		if w32 {
			bits = "31"
		}
		e.setReg(rd, wrapW(fmt.Sprintf("(uint64_t)%s >> (%s & %s)", a, b, bits), w32))
	case 0x6: // OR
		e.setReg(rd, wrapW(a+" | "+b, w32))
	case 0x7: // AND
		e.setReg(rd, wrapW(a+" & "+b, w32))
	}
}

// emitMExt covers MUL/MULH/MULHSU/MULHU/DIV/DIVU/REM/REMU (and their
// "W" forms), RISC-V M extension.
func (e *emitter) emitMExt(instr rv.Instr, w32 bool) {
	rd, rs1, rs2 := instr.Rd(), instr.Rs1(), instr.Rs2()
	a, b := reg(rs1), reg(rs2)

	switch instr.Funct3() {
	case 0x0: // MUL/MULW
		e.setReg(rd, wrapW(fmt.Sprintf("(int64_t)%s * (int64_t)%s", a, b), w32))
	case 0x1: // MULH
		e.setReg(rd, fmt.Sprintf("(int64_t)(((__int128)(int64_t)%s * (__int128)(int64_t)%s) >> 64)", a, b))
	case 0x2: // MULHSU
		e.setReg(rd, fmt.Sprintf("(int64_t)(((__int128)(int64_t)%s * (unsigned __int128)%s) >> 64)", a, b))
	case 0x3: // MULHU
		e.setReg(rd, fmt.Sprintf("(uint64_t)(((unsigned __int128)%s * (unsigned __int128)%s) >> 64)", a, b))
	case 0x4: // DIV/DIVW
		e.setReg(rd, wrapW(fmt.Sprintf("(%s == 0) ? (int64_t)-1 : ((int64_t)%s / (int64_t)%s)", b, a, b), w32))
	case 0x5: // DIVU/DIVUW
		e.setReg(rd, wrapW(fmt.Sprintf("(%s == 0) ? (int64_t)-1LL : (int64_t)(%s / %s)", b, a, b), w32))
	case 0x6: // REM/REMW
		e.setReg(rd, wrapW(fmt.Sprintf("(%s == 0) ? (int64_t)%s : ((int64_t)%s %% (int64_t)%s)", b, a, a, b), w32))
	case 0x7: // REMU/REMUW
		e.setReg(rd, wrapW(fmt.Sprintf("(%s == 0) ? (int64_t)%s : (int64_t)(%s %% %s)", b, a, a, b), w32))
	}
}

// floatReg renders the f32/f64 lane of float register r depending on
// whether the instruction operates single- or double-precision.
func floatReg(r uint32, double bool) string {
	if double {
		return fmt.Sprintf("cpu->fr[%d].f64", r)
	}
	return fmt.Sprintf("cpu->fr[%d].f32[0]", r)
}

// emitFloat covers the F/D add, subtract, multiply, divide, sqrt and
// compare instructions (OP-FP) plus float loads/stores (LOAD-FP/STORE-FP,
// through mem_ld/mem_st except under ArenaEncompassing). C's native float/double
// arithmetic covers everything except sqrt, which routes through the
// callback table's sqrtf32/sqrtf64 helper per spec.md §6. Every other
// OP-FP instruction (conversions, sign injection, min/max, moves,
// classification) goes through emitUnknown's execute callback.
func (e *emitter) emitFloat(pc uint64, instr rv.Instr) {
	double := instr.Funct7()&0x1 != 0 // fmt field: 00=single, 01=double (bit0 of funct7's low 2 bits)
	rd, rs1, rs2 := instr.Rd(), instr.Rs1(), instr.Rs2()

	switch instr.Opcode() {
	case rv.OpLoadFP:
		ctype := "float"
		if instr.Funct3() == 0x3 {
			ctype = "double"
			double = true
		}
		addrExpr := fmt.Sprintf("(%s + (int64_t)%d)", reg(rs1), int64(instr.ItypeImm()))
		if e.opt.ArenaMode != ArenaEncompassing {
			fmt.Fprintf(&e.code, "{ uint64_t __fb = api.mem_ld(cpu, %s, sizeof(%s)); memcpy(&%s, &__fb, sizeof(%s)); }\n", addrExpr, ctype, floatReg(rd, double), ctype)
			return
		}
		fmt.Fprintf(&e.code, "%s = *(%s*)%s;\n", floatReg(rd, double), ctype, e.arenaAt(addrExpr))
		return
	case rv.OpStoreFP:
		ctype := "float"
		if instr.Funct3() == 0x3 {
			ctype = "double"
			double = true
		}
		addrExpr := fmt.Sprintf("(%s + (int64_t)%d)", reg(rs1), int64(instr.StypeImm()))
		if e.opt.ArenaMode != ArenaEncompassing {
			fmt.Fprintf(&e.code, "{ uint64_t __fb = 0; memcpy(&__fb, &%s, sizeof(%s)); api.mem_st(cpu, %s, __fb, sizeof(%s)); }\n", floatReg(rs2, double), ctype, addrExpr, ctype)
			return
		}
		fmt.Fprintf(&e.code, "*(%s*)%s = %s;\n", ctype, e.arenaAt(addrExpr), floatReg(rs2, double))
		return
	}

	funct5 := instr.Funct7() >> 2
	a, b := floatReg(rs1, double), floatReg(rs2, double)
	dst := floatReg(rd, double)

	switch funct5 {
	case 0x00: // FADD
		fmt.Fprintf(&e.code, "%s = %s + %s;\n", dst, a, b)
	case 0x01: // FSUB
		fmt.Fprintf(&e.code, "%s = %s - %s;\n", dst, a, b)
	case 0x02: // FMUL
		fmt.Fprintf(&e.code, "%s = %s * %s;\n", dst, a, b)
	case 0x03: // FDIV
		fmt.Fprintf(&e.code, "%s = %s / %s;\n", dst, a, b)
	case 0x0B: // FSQRT
		fn := "sqrtf32"
		if double {
			fn = "sqrtf64"
		}
		fmt.Fprintf(&e.code, "%s = api.%s(%s);\n", dst, fn, a)
	case 0x14: // FLE/FLT/FEQ compares, funct3 selects
		var op string
		switch instr.Funct3() {
		case 0x0:
			op = "<="
		case 0x1:
			op = "<"
		case 0x2:
			op = "=="
		}
		if op != "" {
			e.setReg(rd, fmt.Sprintf("(%s %s %s) ? 1 : 0", a, op, b))
		} else {
			e.emitUnknown(pc, uint32(instr))
		}
	default:
		e.emitUnknown(pc, uint32(instr))
	}
}
